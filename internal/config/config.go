package config

import (
	"fmt"
	"strings"
	"time"

	orchcontext "github.com/othala/orchd/internal/context"
	"github.com/othala/orchd/internal/daemon"
	"github.com/othala/orchd/internal/dispatch"
	"github.com/spf13/viper"
)

// RoutingConfig controls C2's per-repo role overrides in YAML/env config.
// Keys are repo IDs; values are Role.Name() strings ("implementation",
// "deep_reasoning", "doc_review", "fast_exploration", "architecture",
// "multimodal").
type RoutingConfig struct {
	RepoOverrides map[string]string `mapstructure:"repo_overrides"`
}

// ContextConfig bounds C3's graph load and prompt assembly.
type ContextConfig struct {
	MaxDepth      int `mapstructure:"max_depth"`
	MaxTotalChars int `mapstructure:"max_total_chars"`
	SourceBudget  int `mapstructure:"source_budget"`
}

// PipelineConfig holds C5's verify command and per-stage retry settings.
// ToDaemonConfig passes on only VerifyCommand; the retry fields are loaded
// and defaulted but are not read by the pipeline.
type PipelineConfig struct {
	VerifyCommand   string `mapstructure:"verify_command"`
	MaxRestackRetry int    `mapstructure:"max_restack_retries"`
	MaxSubmitRetry  int    `mapstructure:"max_submit_retries"`
}

// AdapterConfig holds per-adapter subprocess timeout settings. They are
// loaded and defaulted but are not passed to the supervisor or the adapters.
type AdapterConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
}

// GCPConfig configures the optional cloud logging/secret-manager fan-out.
type GCPConfig struct {
	Project string `mapstructure:"project"`
	// CredentialsSecret is a Secret Manager path
	// ("projects/P/secrets/S/versions/V") holding a service-account JSON
	// key. Used only as a fallback when GOOGLE_APPLICATION_CREDENTIALS is
	// unset in the environment.
	CredentialsSecret string `mapstructure:"credentials_secret"`
}

// APIConfig controls the read-only operator HTTP surface.
type APIConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DaemonConfig controls the tick loop and the repository it drives.
type DaemonConfig struct {
	RepoRoot      string        `mapstructure:"repo_root"`
	RepoID        string        `mapstructure:"repo_id"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	RegenCooldown time.Duration `mapstructure:"context_regen_cooldown"`
}

// StoreConfig controls C8's durable store location.
type StoreConfig struct {
	DBPath   string `mapstructure:"db_path"`
	EventDir string `mapstructure:"event_dir"`
}

// Config is the full othalad/othalactl configuration.
type Config struct {
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Store    StoreConfig    `mapstructure:"store"`
	Context  ContextConfig  `mapstructure:"context"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	GCP      GCPConfig      `mapstructure:"gcp"`
	API      APIConfig      `mapstructure:"api"`
}

// Load loads configuration from file and environment via viper, then
// backfills zero-value defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeRepoOverrideKeys(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// normalizeRepoOverrideKeys lowercases the role-name values of the repo
// overrides so they match Role.Name() strings. The repo-ID keys are kept
// as written, because repo IDs in this config are case-sensitive (GitHub
// org/repo slugs).
func normalizeRepoOverrideKeys(cfg *Config) {
	if len(cfg.Routing.RepoOverrides) == 0 {
		return
	}
	normalized := make(map[string]string, len(cfg.Routing.RepoOverrides))
	for key, val := range cfg.Routing.RepoOverrides {
		normalized[key] = strings.ToLower(val)
	}
	cfg.Routing.RepoOverrides = normalized
}

func applyDefaults(cfg *Config) {
	if cfg.Daemon.TickInterval == 0 {
		cfg.Daemon.TickInterval = 5 * time.Second
	}

	if cfg.Daemon.RegenCooldown == 0 {
		cfg.Daemon.RegenCooldown = 10 * time.Minute
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = ".othala/orchd.db"
	}

	if cfg.Store.EventDir == "" {
		cfg.Store.EventDir = ".othala/events"
	}

	if cfg.Context.MaxDepth == 0 {
		cfg.Context.MaxDepth = 10
	}

	if cfg.Context.MaxTotalChars == 0 {
		cfg.Context.MaxTotalChars = 80_000
	}

	if cfg.Context.SourceBudget == 0 {
		cfg.Context.SourceBudget = 64_000
	}

	if cfg.Pipeline.MaxRestackRetry == 0 {
		cfg.Pipeline.MaxRestackRetry = 3
	}

	if cfg.Pipeline.MaxSubmitRetry == 0 {
		cfg.Pipeline.MaxSubmitRetry = 3
	}

	if cfg.Adapter.DefaultTimeout == 0 {
		cfg.Adapter.DefaultTimeout = 30 * time.Minute
	}

	if cfg.Adapter.GracePeriod == 0 {
		cfg.Adapter.GracePeriod = 30 * time.Second
	}

	if cfg.API.Addr == "" {
		cfg.API.Addr = "127.0.0.1:8787"
	}
}

// Validate validates the configuration needed to run the daemon.
func (c *Config) Validate() error {
	if c.Daemon.RepoRoot == "" {
		return fmt.Errorf("daemon.repo_root is required")
	}

	if c.Daemon.RepoID == "" {
		return fmt.Errorf("daemon.repo_id is required")
	}

	if c.Daemon.TickInterval <= 0 {
		return fmt.Errorf("daemon.tick_interval must be positive")
	}

	for repoID, role := range c.Routing.RepoOverrides {
		if role == "" {
			return fmt.Errorf("routing.repo_overrides[%s] must not be empty", repoID)
		}
	}

	return nil
}

// DispatchRepoOverrides converts the YAML-shaped routing overrides into the
// map[string]dispatch.Role the dispatcher's Config expects.
func (c *Config) DispatchRepoOverrides() map[string]dispatch.Role {
	if len(c.Routing.RepoOverrides) == 0 {
		return nil
	}
	out := make(map[string]dispatch.Role, len(c.Routing.RepoOverrides))
	for repoID, name := range c.Routing.RepoOverrides {
		out[repoID] = dispatch.ParseRole(name)
	}
	return out
}

// ToDaemonConfig builds the daemon.Config a Tick needs from this config,
// threading the context/pipeline/routing tunables through to their
// respective subsystems.
func (c *Config) ToDaemonConfig() daemon.Config {
	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.RepoOverrides = c.DispatchRepoOverrides()

	return daemon.Config{
		RepoRoot:      c.Daemon.RepoRoot,
		RepoID:        c.Daemon.RepoID,
		EnabledModels: []dispatch.ModelKind{dispatch.ModelClaude, dispatch.ModelCodex, dispatch.ModelGemini},
		VerifyCommand: c.Pipeline.VerifyCommand,
		PromptConfig: orchcontext.PromptConfig{
			Load: orchcontext.LoadConfig{
				MaxDepth:      c.Context.MaxDepth,
				MaxTotalChars: c.Context.MaxTotalChars,
			},
			SourceBudget: c.Context.SourceBudget,
		},
		RegenCooldown:  c.Daemon.RegenCooldown,
		DispatchConfig: dispatchCfg,
	}
}
