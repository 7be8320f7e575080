package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpandEnvSubstitution(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	t.Setenv("EDITOR_HOST", "editor.internal")
	t.Setenv("EDITOR_PORT", "8791")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "provider api key",
			input: "api_key: {{.ANTHROPIC_API_KEY}}",
			want:  "api_key: sk-test-123",
		},
		{
			name:  "several variables on one line",
			input: "editor_url: http://{{.EDITOR_HOST}}:{{.EDITOR_PORT}}",
			want:  "editor_url: http://editor.internal:8791",
		},
		{
			name:  "missing variable expands to empty",
			input: "api_key: {{.NOT_SET_ANYWHERE}}",
			want:  "api_key: ",
		},
		{
			name:  "adjacent variables",
			input: "{{.EDITOR_HOST}}{{.EDITOR_PORT}}",
			want:  "editor.internal8791",
		},
		{
			name:  "variables inside a YAML list",
			input: "args:\n  - --editor-url\n  - http://{{.EDITOR_HOST}}:{{.EDITOR_PORT}}",
			want:  "args:\n  - --editor-url\n  - http://editor.internal:8791",
		},
		{
			name:  "no template syntax passes through",
			input: "log_directory: /var/log/codetree",
			want:  "log_directory: /var/log/codetree",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

// Masking rules and search regexes in the same YAML carry literal dollar
// signs. Shell-style expansion would rewrite them; template expansion must
// leave them alone.
func TestExpandEnvLeavesDollarSyntaxAlone(t *testing.T) {
	t.Setenv("USER_ID", "123")
	t.Setenv("HOME", "/root")

	inputs := []string{
		`pattern: "^sk-ant-[A-Za-z0-9]+$"`,
		`pattern: "user_${USER_ID}_.*"`,
		"cwd: $HOME/repos",
		`replacement: "$1-masked"`,
	}
	for _, in := range inputs {
		assert.Equal(t, in, string(ExpandEnv([]byte(in))), "input %q must survive unchanged", in)
	}
}

func TestExpandEnvMalformedTemplateReturnsInputUnchanged(t *testing.T) {
	t.Setenv("API_KEY", "leaked")

	inputs := []string{
		"api_key: {{.API_KEY",
		"api_key: {{",
		"api_key: {{API_KEY}}",
		"api_key: {{.API_KEY | upper}}",
		"api_key: {{}}",
		"a: {{.API_KEY\nb: {{.OTHER}",
	}
	for _, in := range inputs {
		got := ExpandEnv([]byte(in))
		assert.Equal(t, in, string(got))
		assert.NotContains(t, string(got), "leaked")
	}
}

// A malformed template falls back to the raw bytes, which the YAML loader
// then judges on its own terms: quoted template fragments are ordinary
// strings, broken indentation is still a YAML error.
func TestExpandEnvFallbackStillLoadsAsYAML(t *testing.T) {
	expanded := ExpandEnv([]byte("editor_url: \"{{.EDITOR_URL\"\nmax_depth: 30\n"))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(expanded, &out))
	assert.Equal(t, "{{.EDITOR_URL", out["editor_url"])

	broken := ExpandEnv([]byte("a: {{.X\n  b: bad indent\n"))
	assert.Error(t, yaml.Unmarshal(broken, &out))
}

func TestExpandEnvEmptyValueAndEmptyInput(t *testing.T) {
	t.Setenv("EMPTY", "")
	assert.Equal(t, "key: ", string(ExpandEnv([]byte("key: {{.EMPTY}}"))))
	assert.Empty(t, ExpandEnv(nil))
}

func TestExpandEnvConcurrent(t *testing.T) {
	t.Setenv("MODEL", "claude-sonnet-4")
	in := []byte("model: {{.MODEL}}")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "model: claude-sonnet-4", string(ExpandEnv(in)))
		}()
	}
	wg.Wait()
}
