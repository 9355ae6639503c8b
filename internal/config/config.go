package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the incident engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Tools         ToolsConfig         `yaml:"tools"`
	Reasoner      ReasonerConfig      `yaml:"reasoner"`
	Triage        TriageConfig        `yaml:"triage"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Approval      ApprovalConfig      `yaml:"approval"`
	Remediation   RemediationConfig   `yaml:"remediation"`
	Verification  VerificationConfig  `yaml:"verification"`
	Notify        NotifyConfig        `yaml:"notify"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// StorageConfig selects the incident and approval store.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig controls Redis-backed caching of tool results.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	TLS           bool          `yaml:"tls"`
	ToolResultTTL time.Duration `yaml:"toolResultTTL"`
}

// BreakerSettings is the per-dependency circuit breaker tuning.
type BreakerSettings struct {
	Threshold    int           `yaml:"threshold"`
	OpenDuration time.Duration `yaml:"openDuration"`
}

// BreakerConfig controls circuit breaker state storage and thresholds.
type BreakerConfig struct {
	// Backend is "memory" or "redis". The redis backend shares state across replicas and reuses the cache connection settings.
	Backend      string                     `yaml:"backend"`
	KeyPrefix    string                     `yaml:"keyPrefix"`
	Defaults     BreakerSettings            `yaml:"defaults"`
	Dependencies map[string]BreakerSettings `yaml:"dependencies"`
}

// ToolsConfig configures the observability provider behind the tool gateway.
type ToolsConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	MetricsPath   string        `yaml:"metricsPath"`
	LogsPath      string        `yaml:"logsPath"`
	Timeout       time.Duration `yaml:"timeout"`
	DefaultWindow time.Duration `yaml:"defaultWindow"`
}

// ReasonerConfig configures the chat-completions endpoint used for reasoning.
type ReasonerConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
}

// TriageConfig controls severity and routing assignment.
type TriageConfig struct {
	EscalateCritical bool `yaml:"escalateCritical"`
}

// InvestigationConfig bounds the ReAct loop.
type InvestigationConfig struct {
	MaxIterations int           `yaml:"maxIterations"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
}

// ApprovalConfig controls the approval gate.
type ApprovalConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	RequestedBy string        `yaml:"requestedBy"`
}

// DockerRunnerConfig enables container restarts through the Docker Engine API.
type DockerRunnerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

// WebhookRunnerConfig enables delegating actions to an automation webhook.
type WebhookRunnerConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// RemediationConfig controls planning and execution.
type RemediationConfig struct {
	DryRun        bool                `yaml:"dryRun"`
	RunbookPath   string              `yaml:"runbookPath"`
	WatchRunbooks bool                `yaml:"watchRunbooks"`
	Docker        DockerRunnerConfig  `yaml:"docker"`
	Webhook       WebhookRunnerConfig `yaml:"webhook"`
}

// VerificationConfig controls post-remediation checks.
type VerificationConfig struct {
	Window                time.Duration `yaml:"window"`
	ErrorReductionPercent float64       `yaml:"errorReductionPercent"`
}

// NotifyConfig controls escalation notifications.
type NotifyConfig struct {
	// Backend is "log" or "nats".
	Backend       string `yaml:"backend"`
	NATSURL       string `yaml:"natsURL"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// WorkflowConfig controls how pipeline runs are dispatched.
type WorkflowConfig struct {
	// Backend is "local" or "nats".
	Backend   string `yaml:"backend"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queueSize"`
	NATSURL   string `yaml:"natsURL"`
	Subject   string `yaml:"subject"`
	Queue     string `yaml:"queue"`
}

// OrchestratorConfig controls lifecycle housekeeping.
type OrchestratorConfig struct {
	MonitorWindow time.Duration `yaml:"monitorWindow"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_INCIDENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading files or environment.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:incidents.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		Cache: CacheConfig{
			Enabled:       false,
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			MaxRetries:    2,
			ToolResultTTL: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			Backend:   "memory",
			KeyPrefix: "mirador-incident:breaker:",
			Defaults:  BreakerSettings{Threshold: 5, OpenDuration: 60 * time.Second},
		},
		Tools: ToolsConfig{
			MetricsPath:   "/api/v1/metrics/query",
			LogsPath:      "/api/v1/logs/query",
			Timeout:       5 * time.Second,
			DefaultWindow: time.Hour,
		},
		Reasoner: ReasonerConfig{
			Timeout:     30 * time.Second,
			MaxTokens:   1000,
			Temperature: 0.3,
		},
		Triage:        TriageConfig{EscalateCritical: true},
		Investigation: InvestigationConfig{MaxIterations: 5, MaxDuration: 2 * time.Minute},
		Approval:      ApprovalConfig{TTL: 24 * time.Hour, RequestedBy: "remediation-agent"},
		Remediation: RemediationConfig{
			DryRun:      true,
			RunbookPath: "configs/runbooks/default.yaml",
			Docker:      DockerRunnerConfig{StopTimeout: 10 * time.Second},
			Webhook:     WebhookRunnerConfig{Timeout: 10 * time.Second},
		},
		Verification: VerificationConfig{Window: 15 * time.Minute, ErrorReductionPercent: 80},
		Notify:       NotifyConfig{Backend: "log", SubjectPrefix: "incidents.notify"},
		Workflow: WorkflowConfig{
			Backend:   "local",
			Workers:   4,
			QueueSize: 128,
			Subject:   "incidents.workflow",
			Queue:     "incident-engine",
		},
		Orchestrator: OrchestratorConfig{
			MonitorWindow: 30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}
	switch c.Breaker.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("breaker.backend %q not supported", c.Breaker.Backend)
	}
	if c.Breaker.Backend == "redis" && c.Cache.Addr == "" {
		return fmt.Errorf("breaker.backend redis requires cache.addr")
	}
	switch c.Notify.Backend {
	case "log", "nats":
	default:
		return fmt.Errorf("notify.backend %q not supported", c.Notify.Backend)
	}
	switch c.Workflow.Backend {
	case "local", "nats":
	default:
		return fmt.Errorf("workflow.backend %q not supported", c.Workflow.Backend)
	}
	if c.Investigation.MaxIterations <= 0 {
		return fmt.Errorf("investigation.maxIterations must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_INCIDENT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_TLS"); v != "" {
		cfg.Cache.TLS = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_BREAKER_BACKEND"); v != "" {
		cfg.Breaker.Backend = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.Defaults.Threshold = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_BREAKER_OPEN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.Defaults.OpenDuration = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_TOOLS_BASE_URL"); v != "" {
		cfg.Tools.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_TOOLS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tools.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_REASONER_ENDPOINT"); v != "" {
		cfg.Reasoner.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_REASONER_API_KEY"); v != "" {
		cfg.Reasoner.APIKey = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_REASONER_MODEL"); v != "" {
		cfg.Reasoner.Model = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Investigation.MaxIterations = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_INVESTIGATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Investigation.MaxDuration = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_APPROVAL_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Approval.TTL = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_DRY_RUN"); v != "" {
		cfg.Remediation.DryRun = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_RUNBOOK_PATH"); v != "" {
		cfg.Remediation.RunbookPath = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_DOCKER_ENABLED"); v != "" {
		cfg.Remediation.Docker.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_WEBHOOK_URL"); v != "" {
		cfg.Remediation.Webhook.URL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_WEBHOOK_TOKEN"); v != "" {
		cfg.Remediation.Webhook.Token = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_NOTIFY_BACKEND"); v != "" {
		cfg.Notify.Backend = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_NATS_URL"); v != "" {
		cfg.Notify.NATSURL = v
		cfg.Workflow.NATSURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_WORKFLOW_BACKEND"); v != "" {
		cfg.Workflow.Backend = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_WORKFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workflow.Workers = n
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
}
