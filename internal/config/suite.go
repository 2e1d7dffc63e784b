package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spachava753/deskbench/internal/models"
)

// DefaultSuiteConfig returns a SuiteConfig with default values.
func DefaultSuiteConfig() models.SuiteConfig {
	return models.SuiteConfig{
		ResultDir:           "results",
		CatalogPath:         "catalog",
		NumEnvs:             1,
		Backend:             "docker",
		ProfilesPath:        "profiles.toml",
		MaxSteps:            15,
		TaskTimeoutSec:      900.0,
		StepPauseSec:        0.5,
		ProvisionRetries:    3,
		ProvisionTimeoutSec: 300.0,
		Agent: models.AgentConfig{
			Kind:        "scripted",
			Temperature: 0.2,
			MaxTokens:   1500,
		},
	}
}

// LoadSuiteConfig loads and parses a suite.yaml file.
func LoadSuiteConfig(path string) (models.SuiteConfig, error) {
	cfg := DefaultSuiteConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading suite config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing suite config: %w", err)
	}

	// Apply defaults for zeroed values
	if cfg.ResultDir == "" {
		cfg.ResultDir = "results"
	}
	if cfg.NumEnvs == 0 {
		cfg.NumEnvs = 1
	}
	if cfg.Backend == "" {
		cfg.Backend = "docker"
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 15
	}
	if cfg.TaskTimeoutSec == 0 {
		cfg.TaskTimeoutSec = 900.0
	}
	if cfg.ProvisionRetries == 0 {
		cfg.ProvisionRetries = 3
	}
	if cfg.ProvisionTimeoutSec == 0 {
		cfg.ProvisionTimeoutSec = 300.0
	}
	if cfg.Agent.Kind == "" {
		cfg.Agent.Kind = "scripted"
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg models.SuiteConfig) error {
	if cfg.NumEnvs < 1 {
		return fmt.Errorf("num_envs must be >= 1, got %d", cfg.NumEnvs)
	}
	if cfg.CatalogPath == "" && cfg.CatalogGitURL == "" {
		return fmt.Errorf("one of catalog_path or catalog_git_url is required")
	}
	switch cfg.Agent.Kind {
	case "scripted", "model":
	default:
		return fmt.Errorf("unknown agent kind: %s", cfg.Agent.Kind)
	}
	if cfg.Agent.Kind == "model" && cfg.Agent.Model == "" {
		return fmt.Errorf("agent.model is required for the model agent")
	}
	return nil
}
