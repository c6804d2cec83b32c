package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cinder-ai/cinder/internal/infra"
	"github.com/cinder-ai/cinder/internal/providers"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Config is the full cinder configuration. Timeouts are expressed in
// seconds in the file; accessors convert to durations.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Tools      ToolsConfig      `yaml:"tools"`
	Breaker    BreakerConfig    `yaml:"circuit_breaker"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Router     RouterConfig     `yaml:"router"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Governance GovernanceConfig `yaml:"governance"`
	Safety     SafetyConfig     `yaml:"safety"`
	Backups    BackupConfig     `yaml:"backups"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LLMConfig struct {
	// Provider is "anthropic", "openai", or "sse".
	Provider  string `yaml:"provider"`
	ModelName string `yaml:"model_name"`

	// APIKeyEnv names the environment variable holding the key.
	// LLM_API_KEY is always consulted as a fallback.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`

	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`

	InitTimeoutS  int `yaml:"init_timeout_s"`
	ChunkTimeoutS int `yaml:"chunk_timeout_s"`
	MaxRetries    int `yaml:"max_retries"`
}

type ToolsConfig struct {
	DefaultTimeoutS int `yaml:"default_timeout_s"`
	LongTimeoutS    int `yaml:"long_timeout_s"`
	MaxParallel     int `yaml:"max_parallel"`
	MaxIterations   int `yaml:"max_iterations"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	OpenTimeoutS     int `yaml:"open_timeout_s"`
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

type SandboxConfig struct {
	MaxOutputBytes int `yaml:"max_output_bytes"`
	MaxMemoryMB    int `yaml:"max_memory_mb"`
	MaxOpenFiles   int `yaml:"max_open_files"`
	MaxCPUPercent  int `yaml:"max_cpu_percent"`
}

type RouterConfig struct {
	Disabled           bool    `yaml:"disabled"`
	MinConfidence      float64 `yaml:"min_confidence"`
	AmbiguityThreshold float64 `yaml:"ambiguity_threshold"`
}

type ApprovalConfig struct {
	SideEffectingAutoDeny bool `yaml:"side_effecting_auto_deny"`
	PersistAllowAlways    bool `yaml:"persist_allow_always"`
}

type GovernanceConfig struct {
	SurfaceHighOrCritical bool `yaml:"surface_high_or_critical"`
}

type SafetyConfig struct {
	// Audit disables strict command allow-listing for one session.
	Audit                bool `yaml:"audit"`
	WarnRequiresApproval bool `yaml:"warn_requires_approval"`
}

type BackupConfig struct {
	// Enabled turns on .backups/<basename>.<timestamp>.bak copies before
	// file overwrites.
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:        "anthropic",
			Temperature:     1.0,
			MaxOutputTokens: 4096,
			InitTimeoutS:    10,
			ChunkTimeoutS:   30,
			MaxRetries:      3,
		},
		Tools: ToolsConfig{
			DefaultTimeoutS: 30,
			LongTimeoutS:    60,
			MaxParallel:     4,
			MaxIterations:   10,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			OpenTimeoutS:     20,
			HalfOpenMaxCalls: 2,
		},
		Sandbox: SandboxConfig{
			MaxOutputBytes: 1 << 20,
			MaxMemoryMB:    512,
			MaxOpenFiles:   100,
			MaxCPUPercent:  80,
		},
		Router: RouterConfig{
			MinConfidence:      0.70,
			AmbiguityThreshold: 0.60,
		},
		Governance: GovernanceConfig{SurfaceHighOrCritical: true},
		Backups:    BackupConfig{Dir: ".backups"},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults. An empty path returns
// the defaults. Environment overlays are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := loadRaw(path, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if err := decodeInto(raw, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the environment variables scanned at startup.
// ALLOWED_CMD_* extensions are handled by the safety validator itself.
func (c *Config) applyEnv() {
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.ModelName = model
	}
}

// Normalize clamps out-of-range values and fills zero fields from the
// defaults. It is idempotent.
func (c *Config) Normalize() error {
	def := Default()

	switch c.LLM.Provider {
	case "", "anthropic", "openai", "sse":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Provider == "sse" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required for the sse provider")
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = def.LLM.Temperature
	}
	if c.LLM.MaxOutputTokens <= 0 {
		c.LLM.MaxOutputTokens = def.LLM.MaxOutputTokens
	}
	if c.LLM.InitTimeoutS <= 0 {
		c.LLM.InitTimeoutS = def.LLM.InitTimeoutS
	}
	if c.LLM.ChunkTimeoutS <= 0 {
		c.LLM.ChunkTimeoutS = def.LLM.ChunkTimeoutS
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = def.LLM.MaxRetries
	}

	if c.Tools.DefaultTimeoutS <= 0 {
		c.Tools.DefaultTimeoutS = def.Tools.DefaultTimeoutS
	}
	if c.Tools.LongTimeoutS < c.Tools.DefaultTimeoutS {
		c.Tools.LongTimeoutS = c.Tools.DefaultTimeoutS
	}
	if c.Tools.MaxParallel <= 0 {
		c.Tools.MaxParallel = def.Tools.MaxParallel
	}
	if c.Tools.MaxIterations <= 0 {
		c.Tools.MaxIterations = def.Tools.MaxIterations
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if c.Breaker.SuccessThreshold <= 0 {
		c.Breaker.SuccessThreshold = def.Breaker.SuccessThreshold
	}
	if c.Breaker.OpenTimeoutS <= 0 {
		c.Breaker.OpenTimeoutS = def.Breaker.OpenTimeoutS
	}
	if c.Breaker.HalfOpenMaxCalls <= 0 {
		c.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}

	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = def.Sandbox.MaxOutputBytes
	}
	if c.Sandbox.MaxMemoryMB <= 0 {
		c.Sandbox.MaxMemoryMB = def.Sandbox.MaxMemoryMB
	}
	if c.Sandbox.MaxOpenFiles <= 0 {
		c.Sandbox.MaxOpenFiles = def.Sandbox.MaxOpenFiles
	}
	if c.Sandbox.MaxCPUPercent <= 0 || c.Sandbox.MaxCPUPercent > 100 {
		c.Sandbox.MaxCPUPercent = def.Sandbox.MaxCPUPercent
	}

	if c.Router.MinConfidence <= 0 || c.Router.MinConfidence > 1 {
		c.Router.MinConfidence = def.Router.MinConfidence
	}
	if c.Router.AmbiguityThreshold <= 0 || c.Router.AmbiguityThreshold > c.Router.MinConfidence {
		c.Router.AmbiguityThreshold = def.Router.AmbiguityThreshold
	}

	if c.Backups.Dir == "" {
		c.Backups.Dir = def.Backups.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	return nil
}

// APIKey resolves the provider key: the configured env var first, then
// LLM_API_KEY, then the provider's conventional variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv != "" {
		if key := os.Getenv(c.LLM.APIKeyEnv); key != "" {
			return key
		}
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key
	}
	switch c.LLM.Provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// ProviderOptions maps the LLM section onto the provider factory.
func (c *Config) ProviderOptions() providers.Options {
	return providers.Options{
		Kind:         c.LLM.Provider,
		APIKey:       c.APIKey(),
		BaseURL:      c.LLM.BaseURL,
		Model:        c.LLM.ModelName,
		MaxRetries:   c.LLM.MaxRetries,
		InitTimeout:  time.Duration(c.LLM.InitTimeoutS) * time.Second,
		StallTimeout: time.Duration(c.LLM.ChunkTimeoutS) * time.Second,
	}
}

// ExecutionLimits maps the sandbox section onto subprocess limits.
func (c *Config) ExecutionLimits() models.ExecutionLimits {
	return models.ExecutionLimits{
		Timeout:        time.Duration(c.Tools.DefaultTimeoutS) * time.Second,
		MaxOutputBytes: c.Sandbox.MaxOutputBytes,
		MaxMemoryMB:    c.Sandbox.MaxMemoryMB,
		MaxCPUPercent:  c.Sandbox.MaxCPUPercent,
		MaxOpenFiles:   c.Sandbox.MaxOpenFiles,
	}
}

// BreakerSettings maps the circuit_breaker section onto the runtime
// breaker configuration.
func (c *Config) BreakerSettings() infra.CircuitBreakerConfig {
	return infra.CircuitBreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		OpenTimeout:      time.Duration(c.Breaker.OpenTimeoutS) * time.Second,
		HalfOpenMaxCalls: c.Breaker.HalfOpenMaxCalls,
	}
}

// DefaultToolTimeout and LongToolTimeout are the invoker budgets.
func (c *Config) DefaultToolTimeout() time.Duration {
	return time.Duration(c.Tools.DefaultTimeoutS) * time.Second
}

func (c *Config) LongToolTimeout() time.Duration {
	return time.Duration(c.Tools.LongTimeoutS) * time.Second
}
