package masking

// builtinPatterns are applied to every MCP tool result regardless of
// per-server configuration: common credential shapes that should never
// reach a checkpoint file or an LLM prompt even if the operator forgot to
// declare a custom pattern for the server that leaked them.
var builtinPatterns = []namedPattern{
	{
		name:        "aws_access_key",
		pattern:     `\b(AKIA|ASIA)[0-9A-Z]{16}\b`,
		replacement: "[REDACTED_AWS_ACCESS_KEY]",
	},
	{
		name:        "generic_api_key_assignment",
		pattern:     `(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*["']?[A-Za-z0-9_\-./+]{12,}["']?`,
		replacement: "$1=[REDACTED]",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)\bBearer\s+[A-Za-z0-9_\-.]{10,}\b`,
		replacement: "Bearer [REDACTED]",
	},
	{
		name:        "private_key_block",
		pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[REDACTED_PRIVATE_KEY]",
	},
}
