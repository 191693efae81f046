package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models evalline.yml.
type Config struct {
	Workspace struct {
		DefaultTenant string `yaml:"default_tenant"`
	} `yaml:"workspace"`
	Admin AdminPolicy `yaml:"admin"`
	Simulation struct {
		// DiagnosticLimit caps the complement list a diagnostic simulation
		// may return.
		DiagnosticLimit int `yaml:"diagnostic_limit"`
	} `yaml:"simulation"`
}

// AdminPolicy controls the governance gates of the control plane.
type AdminPolicy struct {
	// RequireFourEyesApproval forbids approving one's own publish request.
	RequireFourEyesApproval bool `yaml:"require_four_eyes_approval"`
	// PublishLockEnabled promotes rules to PUBLISHED on approval and makes
	// PUBLISHED a hard precondition for publishing assignments.
	PublishLockEnabled bool `yaml:"publish_lock_enabled"`
}

// Load reads and validates config from the workspace, seeding defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "evalline.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Simulation.DiagnosticLimit < 0 {
		return fmt.Errorf("config.simulation.diagnostic_limit must not be negative")
	}
	if c.Simulation.DiagnosticLimit == 0 {
		c.Simulation.DiagnosticLimit = defaultDiagnosticLimit
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the file keep their defaults, so a partial file cannot silently
// disable a governance gate.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultDiagnosticLimit = 500

// Default returns the default Config. Both governance gates start enabled;
// operators relax them explicitly.
func Default() *Config {
	var cfg Config
	cfg.Admin.RequireFourEyesApproval = true
	cfg.Admin.PublishLockEnabled = true
	cfg.Simulation.DiagnosticLimit = defaultDiagnosticLimit
	return &cfg
}

// GenerateDefault returns the default config as YAML, for `el config init`.
func GenerateDefault() string {
	return `workspace:
  default_tenant: ""

admin:
  require_four_eyes_approval: true
  publish_lock_enabled: true

simulation:
  diagnostic_limit: 500
`
}
