// Package config resolves the linearsync configuration into a single value
// passed explicitly to the sync engine. Nothing else reads the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPushLabel is attached to issues created by push unless the config
// file clears it.
const DefaultPushLabel = "linearsync"

// Config is the resolved configuration for one engine invocation.
type Config struct {
	// Credential: bearer token preferred when both are set.
	APIKey      string
	BearerToken string

	TeamID    string
	ProjectID string

	// PushLabel filters reuse candidates during push and labels created
	// issues. Empty means push runs unlabeled.
	PushLabel string

	// PullCreate enables importing unmapped remote issues during pull.
	// It requires PullImportLabel.
	PullCreate      bool
	PullImportLabel string

	// PullCreateConflicts governs conflict-copy creation during pull.
	// Defaults on.
	PullCreateConflicts bool
}

// fileConfig is the YAML shape of the config file. Pointer fields
// distinguish "absent" from "explicitly empty/false".
type fileConfig struct {
	APIKey              string  `yaml:"api_key"`
	BearerToken         string  `yaml:"bearer_token"`
	TeamID              string  `yaml:"team_id"`
	ProjectID           string  `yaml:"project_id"`
	PushLabel           *string `yaml:"push_label"`
	PullCreate          bool    `yaml:"pull_create"`
	PullImportLabel     string  `yaml:"pull_import_label"`
	PullCreateConflicts *bool   `yaml:"pull_create_conflicts"`
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "linearsync", "config.yml"), nil
}

// Load reads the config file at path (missing file is fine) and applies
// environment overrides: LINEAR_API_KEY, LINEAR_BEARER_TOKEN,
// LINEAR_TEAM_ID, LINEAR_PROJECT_ID.
func Load(path string) (*Config, error) {
	cfg := &Config{
		PushLabel:           DefaultPushLabel,
		PullCreateConflicts: true,
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.APIKey = fc.APIKey
		cfg.BearerToken = fc.BearerToken
		cfg.TeamID = fc.TeamID
		cfg.ProjectID = fc.ProjectID
		if fc.PushLabel != nil {
			cfg.PushLabel = *fc.PushLabel
		}
		cfg.PullCreate = fc.PullCreate
		cfg.PullImportLabel = fc.PullImportLabel
		if fc.PullCreateConflicts != nil {
			cfg.PullCreateConflicts = *fc.PullCreateConflicts
		}
	}

	if v := os.Getenv("LINEAR_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LINEAR_BEARER_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	if v := os.Getenv("LINEAR_TEAM_ID"); v != "" {
		cfg.TeamID = v
	}
	if v := os.Getenv("LINEAR_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}

	return cfg, nil
}

// Validate checks the configuration for remote operations.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.BearerToken == "" {
		return fmt.Errorf("no credential configured: set api_key or bearer_token (or LINEAR_API_KEY / LINEAR_BEARER_TOKEN)")
	}
	if c.TeamID == "" {
		return fmt.Errorf("no team configured: set team_id (or LINEAR_TEAM_ID)")
	}
	return nil
}
