package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// AgentMode selects the code-generation backend.
type AgentMode string

const (
	AgentModeLocal AgentMode = "local"
	AgentModeMock  AgentMode = "mock"
)

// Config is the full configuration surface for one run. Credentials are
// opaque strings and are never persisted to artifacts.
type Config struct {
	WorkspaceRoot  string
	ProjectDirName string
	PreviewHost    string
	PreviewPort    int

	AgenticEval     bool
	AgenticMaxSteps int
	MaxIterations   int

	TemplateRepoURL string
	TemplateRef     string
	RunTemplateInit bool
	PublishToSite   bool

	AgentMode    AgentMode
	AgentCommand string

	// MCPCommand launches the browser automation subprocess the
	// evaluator drives over stdio.
	MCPCommand string

	PlannerModel   string
	EvaluatorModel string
	RubricID       string

	LLMProvider string

	// Optional repository publishing. Disabled when RemoteURL or Token
	// is empty.
	GitRemoteURL     string
	GitToken         string
	GitBaseBranch    string
	PublishSnapshots bool

	LogFile   string
	LogLevel  string
	LogFormat string

	DatabasePath string
}

// ConfigError indicates missing or contradictory configuration. It is
// fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// SetDefaults registers the default configuration values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace_root", "")
	v.SetDefault("project_dir_name", "project")
	v.SetDefault("preview_host", "127.0.0.1")
	v.SetDefault("preview_port", 8000)
	v.SetDefault("agentic_eval", true)
	v.SetDefault("agentic_max_steps", 30)
	v.SetDefault("max_iterations", 10)
	v.SetDefault("template_ref", "main")
	v.SetDefault("run_template_init", false)
	v.SetDefault("publish_to_site", true)
	v.SetDefault("agent_mode", string(AgentModeMock))
	v.SetDefault("mcp_command", "npx -y @playwright/mcp@latest")
	v.SetDefault("planner_model", "gpt-4.1")
	v.SetDefault("evaluator_model", "gpt-4.1")
	v.SetDefault("rubric_id", "web-quality-v1")
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("git_base_branch", "main")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("database_path", "webloop.db")
}

// Load reads configuration from viper (flags, env, config file) and
// validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		WorkspaceRoot:    v.GetString("workspace_root"),
		ProjectDirName:   v.GetString("project_dir_name"),
		PreviewHost:      v.GetString("preview_host"),
		PreviewPort:      v.GetInt("preview_port"),
		AgenticEval:      v.GetBool("agentic_eval"),
		AgenticMaxSteps:  v.GetInt("agentic_max_steps"),
		MaxIterations:    v.GetInt("max_iterations"),
		TemplateRepoURL:  v.GetString("template_repo_url"),
		TemplateRef:      v.GetString("template_ref"),
		RunTemplateInit:  v.GetBool("run_template_init"),
		PublishToSite:    v.GetBool("publish_to_site"),
		AgentMode:        AgentMode(strings.ToLower(v.GetString("agent_mode"))),
		AgentCommand:     v.GetString("agent_command"),
		MCPCommand:       v.GetString("mcp_command"),
		PlannerModel:     v.GetString("planner_model"),
		EvaluatorModel:   v.GetString("evaluator_model"),
		RubricID:         v.GetString("rubric_id"),
		LLMProvider:      v.GetString("llm_provider"),
		GitRemoteURL:     v.GetString("git_remote_url"),
		GitToken:         v.GetString("git_token"),
		GitBaseBranch:    v.GetString("git_base_branch"),
		PublishSnapshots: v.GetBool("publish_snapshots"),
		LogFile:          v.GetString("log_file"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		DatabasePath:     v.GetString("database_path"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for missing or contradictory settings.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return &ConfigError{Field: "workspace_root", Reason: "must be set"}
	}
	if c.ProjectDirName == "" {
		return &ConfigError{Field: "project_dir_name", Reason: "must not be empty"}
	}
	if strings.Contains(c.ProjectDirName, "/") || strings.Contains(c.ProjectDirName, "..") {
		return &ConfigError{Field: "project_dir_name", Reason: "must be a single path segment"}
	}
	if c.MaxIterations < 1 {
		return &ConfigError{Field: "max_iterations", Reason: "must be >= 1"}
	}
	if c.AgenticMaxSteps < 1 {
		return &ConfigError{Field: "agentic_max_steps", Reason: "must be >= 1"}
	}
	if c.PreviewPort < 1 || c.PreviewPort > 65535 {
		return &ConfigError{Field: "preview_port", Reason: "must be a valid TCP port"}
	}
	switch c.AgentMode {
	case AgentModeLocal:
		// CLI mode requires an explicit command; it is never auto-detected
		// from the environment.
		if c.AgentCommand == "" {
			return &ConfigError{Field: "agent_command", Reason: "required when agent_mode is local"}
		}
	case AgentModeMock:
	default:
		return &ConfigError{Field: "agent_mode", Reason: fmt.Sprintf("unknown mode %q", c.AgentMode)}
	}
	if c.RunTemplateInit && c.TemplateRepoURL == "" {
		return &ConfigError{Field: "run_template_init", Reason: "requires template_repo_url"}
	}
	if c.PublishSnapshots && c.GitRemoteURL == "" {
		// Absence of credentials disables publishing without affecting
		// other behavior.
		c.PublishSnapshots = false
	}
	return nil
}

// PreviewURL returns the HTTP preview base URL. It is always an http://
// URL, never a file:// path.
func (c *Config) PreviewURL() string {
	return fmt.Sprintf("http://%s:%d/", c.PreviewHost, c.PreviewPort)
}
