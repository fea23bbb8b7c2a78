// Package config loads the TeamLeader configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then DEVTEAM_* environment variables. A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Agent types with built-in registry defaults.
var AgentTypes = []string{"research", "codebase_analyzer", "frontend", "backend"}

// Config is the root configuration.
type Config struct {
	DataDir          string                 `mapstructure:"data_dir"`
	PromptsDirectory string                 `mapstructure:"prompts_directory"`
	Rules            RulesConfig            `mapstructure:"rules"`
	Orchestrator     OrchestratorConfig     `mapstructure:"task_orchestrator"`
	AgentRegistry    map[string]AgentConfig `mapstructure:"agent_registry"`
	LLM              LLMConfig              `mapstructure:"llm"`
	WebSocket        WebSocketConfig        `mapstructure:"websocket"`
	MCP              MCPConfig              `mapstructure:"mcp"`
	Security         SecurityConfig         `mapstructure:"security"`
	Log              LogConfig              `mapstructure:"log"`
}

// RulesConfig configures the phase rules engine.
type RulesConfig struct {
	ComplexityBudget   int                      `mapstructure:"complexity_budget"`
	PhaseTimeout       int                      `mapstructure:"phase_timeout"`
	MaxConcurrentTasks int                      `mapstructure:"max_concurrent_tasks"`
	StrictGates        bool                     `mapstructure:"strict_gates"`
	Phases             map[string]PhaseOverride `mapstructure:"phases"`
}

// PhaseOverride replaces the built-in definition of one phase.
type PhaseOverride struct {
	Name               string   `mapstructure:"name"`
	AllowedTasks       []string `mapstructure:"allowed_tasks"`
	CompletionCriteria []string `mapstructure:"completion_criteria"`
	MaxComplexity      int      `mapstructure:"max_complexity"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
}

// OrchestratorConfig configures task execution.
type OrchestratorConfig struct {
	MaxConcurrentTasks   int `mapstructure:"max_concurrent_tasks"`
	DefaultTimeout       int `mapstructure:"default_timeout"`
	TimeoutCheckInterval int `mapstructure:"timeout_check_interval"`
	QueueSize            int `mapstructure:"queue_size"`
}

// AgentConfig configures one agent type. Zero values fall back to the
// agent's own defaults; an unset Temperature falls back to the LLM one.
type AgentConfig struct {
	Instances          int      `mapstructure:"instances"`
	MaxConcurrentTasks int      `mapstructure:"max_concurrent_tasks"`
	Timeout            int      `mapstructure:"timeout"`
	Model              string   `mapstructure:"model"`
	MaxTokens          int      `mapstructure:"max_tokens"`
	Temperature        *float64 `mapstructure:"temperature"`
	MaxSources         int      `mapstructure:"max_sources"`
	Framework          string   `mapstructure:"framework"`
	ComponentLibrary   string   `mapstructure:"component_library"`
	Database           string   `mapstructure:"database"`
}

// LLMConfig configures the Anthropic Messages API client.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Timeout     int     `mapstructure:"timeout"`
}

// WebSocketConfig configures the event hub.
type WebSocketConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxConnections int    `mapstructure:"max_connections"`
	AuthToken      string `mapstructure:"auth_token"`
}

// MCPConfig configures outbound MCP server connections.
type MCPConfig struct {
	Timeout       int                        `mapstructure:"timeout"`
	RetryAttempts int                        `mapstructure:"retry_attempts"`
	Servers       map[string]MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig launches one stdio MCP server.
type MCPServerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

// SecurityConfig maps roles (agent types) to permissions. With no roles
// configured, agents run without a permission check.
type SecurityConfig struct {
	Roles map[string][]string `mapstructure:"roles"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level       string         `mapstructure:"level"`
	Format      string         `mapstructure:"format"`
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:          filepath.Join(home, ".devteam"),
		PromptsDirectory: "system_prompts",
		Rules: RulesConfig{
			ComplexityBudget:   25,
			PhaseTimeout:       3600,
			MaxConcurrentTasks: 10,
			StrictGates:        true,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks:   10,
			DefaultTimeout:       300,
			TimeoutCheckInterval: 30,
			QueueSize:            100,
		},
		AgentRegistry: map[string]AgentConfig{
			"research":          {Instances: 1, MaxConcurrentTasks: 3, Timeout: 300},
			"codebase_analyzer": {Instances: 1, MaxConcurrentTasks: 2, Timeout: 600},
			"frontend":          {Instances: 1, MaxConcurrentTasks: 2, Timeout: 900},
			"backend":           {Instances: 1, MaxConcurrentTasks: 2, Timeout: 1200},
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.anthropic.com",
			Model:       "claude-3-sonnet-20241022",
			MaxTokens:   4096,
			Temperature: 0.3,
			Timeout:     120,
		},
		WebSocket: WebSocketConfig{
			Host:           "localhost",
			Port:           8080,
			MaxConnections: 100,
		},
		MCP: MCPConfig{
			Timeout:       5,
			RetryAttempts: 3,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/devteam.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// DEVTEAM_CONFIG, otherwise from team_leader.yaml in ./config or the
// working directory. Environment variables use the prefix DEVTEAM with
// `.` replaced by `_`, e.g. DEVTEAM_RULES_COMPLEXITY_BUDGET=40.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DEVTEAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("DEVTEAM_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("team_leader")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every leaf default with viper so env-only
// overrides work and file values merge per key instead of replacing
// whole sections.
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("prompts_directory", cfg.PromptsDirectory)

	v.SetDefault("rules.complexity_budget", cfg.Rules.ComplexityBudget)
	v.SetDefault("rules.phase_timeout", cfg.Rules.PhaseTimeout)
	v.SetDefault("rules.max_concurrent_tasks", cfg.Rules.MaxConcurrentTasks)
	v.SetDefault("rules.strict_gates", cfg.Rules.StrictGates)

	v.SetDefault("task_orchestrator.max_concurrent_tasks", cfg.Orchestrator.MaxConcurrentTasks)
	v.SetDefault("task_orchestrator.default_timeout", cfg.Orchestrator.DefaultTimeout)
	v.SetDefault("task_orchestrator.timeout_check_interval", cfg.Orchestrator.TimeoutCheckInterval)
	v.SetDefault("task_orchestrator.queue_size", cfg.Orchestrator.QueueSize)

	for name, a := range cfg.AgentRegistry {
		prefix := "agent_registry." + name + "."
		v.SetDefault(prefix+"instances", a.Instances)
		v.SetDefault(prefix+"max_concurrent_tasks", a.MaxConcurrentTasks)
		v.SetDefault(prefix+"timeout", a.Timeout)
	}

	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)
	v.SetDefault("llm.api_key", "")

	v.SetDefault("websocket.host", cfg.WebSocket.Host)
	v.SetDefault("websocket.port", cfg.WebSocket.Port)
	v.SetDefault("websocket.max_connections", cfg.WebSocket.MaxConnections)
	v.SetDefault("websocket.auth_token", "")

	v.SetDefault("mcp.timeout", cfg.MCP.Timeout)
	v.SetDefault("mcp.retry_attempts", cfg.MCP.RetryAttempts)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Validate normalizes the configuration and rejects values no component
// can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Rules.ComplexityBudget <= 0 {
		return fmt.Errorf("rules.complexity_budget must be positive, got %d", c.Rules.ComplexityBudget)
	}
	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("task_orchestrator.max_concurrent_tasks must be positive, got %d", c.Orchestrator.MaxConcurrentTasks)
	}
	if c.Orchestrator.DefaultTimeout <= 0 {
		c.Orchestrator.DefaultTimeout = 300
	}
	if c.Orchestrator.TimeoutCheckInterval <= 0 {
		c.Orchestrator.TimeoutCheckInterval = 30
	}
	if c.Orchestrator.QueueSize <= 0 {
		c.Orchestrator.QueueSize = 100
	}
	if c.WebSocket.Port < 0 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port out of range: %d", c.WebSocket.Port)
	}
	if c.MCP.Timeout <= 0 {
		c.MCP.Timeout = 5
	}
	if c.MCP.RetryAttempts <= 0 {
		c.MCP.RetryAttempts = 1
	}
	if strings.TrimSpace(c.PromptsDirectory) == "" {
		c.PromptsDirectory = "system_prompts"
	}

	for name, a := range c.AgentRegistry {
		if a.Instances < 0 || a.MaxConcurrentTasks < 0 || a.Timeout < 0 {
			return fmt.Errorf("agent_registry.%s: negative values are not allowed", name)
		}
	}
	return nil
}

// Agent returns the registry entry for agentType merged over the LLM
// defaults.
func (c *Config) Agent(agentType string) AgentConfig {
	a := c.AgentRegistry[agentType]
	if a.Model == "" {
		a.Model = c.LLM.Model
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = c.LLM.MaxTokens
	}
	if a.Temperature == nil {
		temp := c.LLM.Temperature
		a.Temperature = &temp
	}
	return a
}

// APIKey returns the configured key, falling back to ANTHROPIC_API_KEY.
func (c *Config) APIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// HubAddr returns host:port for the WebSocket hub.
func (c *Config) HubAddr() string {
	return fmt.Sprintf("%s:%d", c.WebSocket.Host, c.WebSocket.Port)
}

// DBPath returns the audit database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "devteam.db")
}
