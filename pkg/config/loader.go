package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// CodetreeYAMLConfig represents the complete codetree.yaml file structure.
type CodetreeYAMLConfig struct {
	Scheduler  *SchedulerConfig           `yaml:"scheduler"`
	Selector   *SelectorConfig            `yaml:"selector"`
	Editor     *EditorConfig              `yaml:"editor"`
	Queue      *QueueConfig               `yaml:"queue"`
	Retention  *RetentionConfig           `yaml:"retention"`
	Server     *ServerConfig              `yaml:"server"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply MCP server defaults (e.g. size_threshold_tokens)
//  6. Build in-memory registries
//  7. Apply default values
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load codetree.yaml (scheduler, selector, editor, queue, retention, server, mcp_servers)
	codetreeConfig, err := loader.loadCodetreeYAML()
	if err != nil {
		return nil, NewLoadError("codetree.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	mcpServers := mergeMCPServers(builtin.MCPServers, codetreeConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Build registries
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 6. Resolve scheduler/selector/editor/queue/retention/server config
	// (YAML overrides built-in defaults field-by-field via mergo)
	schedulerCfg := DefaultSchedulerConfig()
	if codetreeConfig.Scheduler != nil {
		if err := mergo.Merge(schedulerCfg, codetreeConfig.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	selectorCfg := DefaultSelectorConfig()
	if codetreeConfig.Selector != nil {
		if err := mergo.Merge(selectorCfg, codetreeConfig.Selector, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge selector config: %w", err)
		}
	}

	editorCfg := DefaultEditorConfig()
	if codetreeConfig.Editor != nil {
		if err := mergo.Merge(editorCfg, codetreeConfig.Editor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge editor config: %w", err)
		}
	}

	queueCfg := DefaultQueueConfig()
	if codetreeConfig.Queue != nil {
		if err := mergo.Merge(queueCfg, codetreeConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retentionCfg := DefaultRetentionConfig()
	if codetreeConfig.Retention != nil {
		if err := mergo.Merge(retentionCfg, codetreeConfig.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	serverCfg := DefaultServerConfig()
	if codetreeConfig.Server != nil {
		if err := mergo.Merge(serverCfg, codetreeConfig.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	return &Config{
		configDir:           configDir,
		Scheduler:           schedulerCfg,
		Selector:            selectorCfg,
		Editor:              editorCfg,
		Queue:               queueCfg,
		Retention:           retentionCfg,
		Server:              serverCfg,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to handle the content (or fail with a
	// clearer error message).
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadCodetreeYAML() (*CodetreeYAMLConfig, error) {
	var config CodetreeYAMLConfig

	config.MCPServers = make(map[string]MCPServerConfig)

	if err := l.loadYAML("codetree.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}
