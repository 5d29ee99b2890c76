package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"reviewflow/internal/domain"
	"reviewflow/internal/strategy"
)

// Config models reviewflow.yml.
type Config struct {
	AutoAssignment domain.AutoAssignmentSettings `yaml:"auto_assignment"`
	Routing        struct {
		Departments map[domain.ModuleType][]string `yaml:"departments"`
		Expertise   map[domain.ModuleType][]string `yaml:"expertise"`
	} `yaml:"routing"`
	Reviewers     []ReviewerConfig    `yaml:"reviewers"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Auth          struct {
		AdminRoles []string `yaml:"admin_roles"`
	} `yaml:"auth"`
	Retry RetryConfig `yaml:"retry"`
}

type ReviewerConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
	Department  string `yaml:"department"`
}

type NotificationsConfig struct {
	PollIntervalMillis int             `yaml:"poll_interval_ms"`
	BatchSize          int             `yaml:"batch_size"`
	Log                bool            `yaml:"log"`
	Webhooks           []WebhookConfig `yaml:"webhooks"`
	NATS               NATSConfig      `yaml:"nats"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AnalysisConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RetryConfig bounds the backoff used at adapter boundaries.
type RetryConfig struct {
	InitialIntervalMillis int `yaml:"initial_interval_ms"`
	MaxElapsedMillis      int `yaml:"max_elapsed_ms"`
}

func (r RetryConfig) InitialInterval() time.Duration {
	if r.InitialIntervalMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(r.InitialIntervalMillis) * time.Millisecond
}

func (r RetryConfig) MaxElapsed() time.Duration {
	if r.MaxElapsedMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.MaxElapsedMillis) * time.Millisecond
}

func (n NotificationsConfig) PollInterval() time.Duration {
	if n.PollIntervalMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.PollIntervalMillis) * time.Millisecond
}

// StrategyRouting converts the routing section for the strategy set.
func (c *Config) StrategyRouting() strategy.Routing {
	return strategy.Routing{
		Departments: c.Routing.Departments,
		Expertise:   c.Routing.Expertise,
	}
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with reviewflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	aa := c.AutoAssignment
	if !aa.StrategyType.Valid() {
		return fmt.Errorf("config.auto_assignment.strategy %q is not a recognized strategy", aa.StrategyType)
	}
	if aa.Enabled && len(aa.EligibleRoles) == 0 {
		return fmt.Errorf("config.auto_assignment.eligible_roles is required when enabled")
	}
	if aa.Enabled && len(aa.EligibleDepartments) == 0 {
		return fmt.Errorf("config.auto_assignment.eligible_departments is required when enabled")
	}
	for _, section := range []struct {
		name string
		m    map[domain.ModuleType][]string
	}{
		{"routing.departments", c.Routing.Departments},
		{"routing.expertise", c.Routing.Expertise},
	} {
		for mt, values := range section.m {
			if !mt.Valid() {
				return fmt.Errorf("config.%s has unknown module type %s", section.name, mt)
			}
			for _, v := range values {
				if v == "" {
					return fmt.Errorf("config.%s.%s has an empty entry", section.name, mt)
				}
			}
		}
	}
	seen := map[string]bool{}
	for i, r := range c.Reviewers {
		if r.ID == "" {
			return fmt.Errorf("config.reviewers[%d].id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("config.reviewers has duplicate id %s", r.ID)
		}
		seen[r.ID] = true
		if r.Role == "" || r.Department == "" {
			return fmt.Errorf("reviewer %s needs role and department", r.ID)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reviewflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the parsed default config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// Sections missing from the file keep their defaults; lists are replaced.
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

const defaultTemplate = `auto_assignment:
  enabled: false
  strategy: workload_balanced
  eligible_roles: [compliance_officer, legal_expert, risk_manager]
  eligible_departments: [compliance, legal, risk]

routing:
  departments:
    risk_assessment: [risk]
    system_registration: [compliance]
    document: [compliance]
    training: [compliance]
    expert_legal_review: [legal]
  expertise:
    risk_assessment: [risk_manager]
    system_registration: [compliance_officer]
    document: [compliance_officer]
    training: [compliance_officer]
    expert_legal_review: [legal_expert]

reviewers: []

notifications:
  poll_interval_ms: 2000
  batch_size: 100
  log: true
  webhooks: []
  nats:
    url: ""
    subject_prefix: reviewflow

analysis:
  url: ""
  timeout_seconds: 20

auth:
  admin_roles: [admin, compliance_manager]

retry:
  initial_interval_ms: 50
  max_elapsed_ms: 2000
`
