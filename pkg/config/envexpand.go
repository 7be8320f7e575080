package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables referenced as {{.VAR}} in YAML
// content. Template syntax is used instead of shell-style $VAR/${VAR} on
// purpose: masking rules and regex patterns in the same YAML routinely
// contain literal dollar signs (anchors, ${} capture references), and those
// must never be rewritten by config loading.
//
// Missing variables expand to the empty string; validation catches required
// fields left empty. Malformed template syntax returns the input unchanged
// so the YAML parser can either accept it as a literal or fail with its own
// clearer error. Each call builds a fresh template and reads the
// environment, so concurrent use is safe.
func ExpandEnv(data []byte) []byte {
	if !bytes.Contains(data, []byte("{{")) {
		return data
	}

	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
