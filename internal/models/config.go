package models

import "time"

// SuiteConfig represents the parsed suite.yaml configuration. All fields are
// consumed once at orchestrator construction time.
type SuiteConfig struct {
	Name        *string `yaml:"name,omitempty" json:"name,omitempty"`
	ResultDir   string  `yaml:"result_dir" json:"result_dir"`
	CatalogPath string  `yaml:"catalog_path" json:"catalog_path"`

	// CatalogGitURL optionally fetches the catalog from a git repository
	// instead of CatalogPath.
	CatalogGitURL string `yaml:"catalog_git_url,omitempty" json:"catalog_git_url,omitempty"`

	// Domain filters the catalog to one domain when non-empty.
	Domain   string `yaml:"domain,omitempty" json:"domain,omitempty"`
	MaxTasks int    `yaml:"max_tasks,omitempty" json:"max_tasks,omitempty"`

	NumEnvs      int    `yaml:"num_envs" json:"num_envs"`
	Backend      string `yaml:"backend" json:"backend"`
	ProfilesPath string `yaml:"profiles_path" json:"profiles_path"`
	Profile      string `yaml:"profile,omitempty" json:"profile,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	// MetricsAddr serves Prometheus metrics when non-empty, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`

	MaxSteps            int     `yaml:"max_steps" json:"max_steps"`
	TaskTimeoutSec      float64 `yaml:"task_timeout_sec" json:"task_timeout_sec"`
	StepPauseSec        float64 `yaml:"step_pause_sec,omitempty" json:"step_pause_sec,omitempty"`
	ProvisionRetries    int     `yaml:"provision_retries" json:"provision_retries"`
	ProvisionTimeoutSec float64 `yaml:"provision_timeout_sec" json:"provision_timeout_sec"`

	Agent AgentConfig `yaml:"agent" json:"agent"`
}

// AgentConfig selects and parameterizes the agent driving the environments.
type AgentConfig struct {
	// Kind is "scripted" (test/dry-run) or "model".
	Kind string `yaml:"kind" json:"kind"`

	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// ScreenshotWidth downscales observations before they are sent to the
	// model. 0 keeps the native resolution.
	ScreenshotWidth int `yaml:"screenshot_width,omitempty" json:"screenshot_width,omitempty"`
}

// TaskTimeout returns the wall-clock budget as a duration.
func (c SuiteConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSec * float64(time.Second))
}

// ProvisionTimeout returns the per-acquire boot deadline as a duration.
func (c SuiteConfig) ProvisionTimeout() time.Duration {
	return time.Duration(c.ProvisionTimeoutSec * float64(time.Second))
}

// StepPause returns the post-action settle delay as a duration.
func (c SuiteConfig) StepPause() time.Duration {
	return time.Duration(c.StepPauseSec * float64(time.Second))
}
