// Package masking scrubs secrets out of MCP tool results before they reach
// a trajectory's observation text, a model's context window, or a
// checkpoint file. Built-in regex patterns always apply, per-server custom
// patterns layer on top from that server's
// config.MCPServerConfig.DataMasking, and a masking failure fails closed
// (the content is redacted, never leaked unmasked) rather than open.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/opencodetree/codetree/pkg/config"
)

// CompiledPattern is a masking rule with its regex pre-compiled.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Service applies the resolved set of masking patterns to MCP tool output.
// Created once per session (it is cheap: a handful of regexes) and safe
// for concurrent use since nothing past construction mutates it.
type Service struct {
	builtin        []*CompiledPattern
	serverPatterns map[string][]*CompiledPattern
}

// NewService compiles the built-in pattern set plus every enabled custom
// pattern declared on registry's MCP servers. Invalid regexes are logged
// and skipped rather than failing startup.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		builtin:        compilePatterns(builtinPatterns),
		serverPatterns: make(map[string][]*CompiledPattern),
	}
	if registry == nil {
		return s
	}
	for serverID, serverCfg := range registry.GetAll() {
		if serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
			continue
		}
		var named []namedPattern
		for i, p := range serverCfg.DataMasking.CustomPatterns {
			named = append(named, namedPattern{name: serverID, pattern: p.Pattern, replacement: p.Replacement})
			_ = i
		}
		if compiled := compileNamed(named); len(compiled) > 0 {
			s.serverPatterns[serverID] = compiled
		}
	}
	return s
}

// Mask applies the built-in patterns plus serverID's custom patterns (if
// any) to content. A masking failure (a pattern panicking on malformed
// input, which regexp.Regexp does not do in practice but a future
// code-based masker might) falls back to a redaction notice rather than
// the original text — fail closed, since this text may end up in an LLM
// prompt or a persisted checkpoint.
func (s *Service) Mask(serverID, content string) (masked string) {
	if content == "" {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("masking panicked, redacting content", "server", serverID, "panic", r)
			masked = "[REDACTED: data masking failure]"
		}
	}()

	masked = content
	for _, p := range s.builtin {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	for _, p := range s.serverPatterns[serverID] {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

type namedPattern struct {
	name        string
	pattern     string
	replacement string
}

func compileNamed(patterns []namedPattern) []*CompiledPattern {
	out := make([]*CompiledPattern, 0, len(patterns))
	for i, np := range patterns {
		re, err := regexp.Compile(np.pattern)
		if err != nil {
			slog.Error("failed to compile custom masking pattern, skipping", "server", np.name, "index", i, "error", err)
			continue
		}
		out = append(out, &CompiledPattern{Name: np.name, Regex: re, Replacement: np.replacement})
	}
	return out
}

func compilePatterns(patterns []namedPattern) []*CompiledPattern {
	return compileNamed(patterns)
}
