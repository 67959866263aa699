// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/agent"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/aggregate"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/api"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/catalog"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/cost"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/dispatcher"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/logging"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/models"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/network"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/policy/ratelimit"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/publisher/pubsub"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/session/chromedp"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/foundry"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/gcs"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/local"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/telemetry"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/warehouse/postgres"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/worker"
)

// EnvPrefix namespaces environment overrides, e.g. PRICECRAWL_DISPATCHER_MAX_CONCURRENT.
const EnvPrefix = "PRICECRAWL"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    logging.Config     `mapstructure:"logging"`
	Catalog    CatalogConfig      `mapstructure:"catalog"`
	Checkpoint checkpoint.Config  `mapstructure:"checkpoint"`
	Agent      agent.Config       `mapstructure:"agent"`
	Prompts    agent.PromptConfig `mapstructure:"prompts"`
	Worker     worker.Config      `mapstructure:"worker"`
	Retry      worker.RetryConfig `mapstructure:"retry"`
	Dispatcher dispatcher.Config  `mapstructure:"dispatcher"`
	Pacer      ratelimit.Config   `mapstructure:"pacer"`
	Session    chromedp.Config    `mapstructure:"session"`
	Network    network.Config     `mapstructure:"network"`
	Pricing    []cost.Price       `mapstructure:"pricing"`

	Report    aggregate.ReportConfig `mapstructure:"report"`
	Foundry   foundry.Config         `mapstructure:"foundry"`
	GCS       gcs.Config             `mapstructure:"gcs"`
	Archive   local.Config           `mapstructure:"archive"`
	Warehouse postgres.Config        `mapstructure:"warehouse"`
	PubSub    pubsub.Config          `mapstructure:"pubsub"`

	Server    api.Config       `mapstructure:"server"`
	Models    models.Config    `mapstructure:"models"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// CatalogConfig lists what to scrape and how sessions are shared.
type CatalogConfig struct {
	Stores   []StoreConfig   `mapstructure:"stores"`
	Products []ProductConfig `mapstructure:"products"`
	// Granularity is "store" (one session per store) or "job".
	Granularity string `mapstructure:"granularity"`
}

// StoreConfig is one supermarket website.
type StoreConfig struct {
	Country string `mapstructure:"country"`
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
}

// ProductConfig is one product and the varieties worth reporting.
type ProductConfig struct {
	Name     string   `mapstructure:"name"`
	Subtypes []string `mapstructure:"subtypes"`
}

// legacyEnv maps config keys to the bare environment names deployments
// already export.
var legacyEnv = map[string]string{
	"network.proxy_pool_json": "PROXY_POOL_JSON",
	"network.proxy_server":    "PROXY_SERVER",
	"network.user_agent":      "BROWSER_USER_AGENT",
	"network.lang":            "BROWSER_LANG",
	"network.extra_args":      "BROWSER_EXTRA_ARGS",
	"foundry.host":            "FOUNDRY_HOST",
	"foundry.dataset_rid":     "FOUNDRY_DATASET_RID",
	"foundry.token":           "FOUNDRY_TOKEN",
	"foundry.folder_prefix":   "FOUNDRY_FOLDER_PREFIX",
	"report.filename":         "CSV_FILENAME",
	"models.api_key":          "ANTHROPIC_API_KEY",
	"models.base_url":         "ANTHROPIC_BASE_URL",
}

// Load builds a Config from .env, an optional file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.deriveDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, name := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("catalog.granularity", string(catalog.PerStore))
	v.SetDefault("checkpoint.base_dir", "output")

	v.SetDefault("agent.command", "python")
	v.SetDefault("agent.args", []string{"-m", "browser_agent"})
	v.SetDefault("agent.model", "claude-sonnet-4-5")
	v.SetDefault("agent.max_steps", 40)
	v.SetDefault("agent.timeout", 15*time.Minute)

	v.SetDefault("worker.profile_root", "profiles")
	v.SetDefault("worker.artifact_root", "")
	v.SetDefault("worker.headless", true)
	v.SetDefault("worker.inter_job_pause", 2*time.Second)
	v.SetDefault("worker.topic", "")

	v.SetDefault("retry.max_retries", 1)
	v.SetDefault("retry.rate_limit_cooldown", 180*time.Second)
	v.SetDefault("retry.provider_error_cooldown", 20*time.Second)

	v.SetDefault("dispatcher.max_concurrent", 2)
	v.SetDefault("pacer.launch_interval", 5*time.Second)

	v.SetDefault("session.start_timeout", 60*time.Second)
	v.SetDefault("session.navigation_timeout", 45*time.Second)
	v.SetDefault("session.stop_timeout", 10*time.Second)

	v.SetDefault("report.local_path", "")
	v.SetDefault("report.format", string(aggregate.FormatCSV))

	v.SetDefault("foundry.folder_prefix", "scrapes")
	v.SetDefault("foundry.timeout", 120*time.Second)
	v.SetDefault("gcs.prefix", "scrapes")

	v.SetDefault("warehouse.table", "price_observations")
	v.SetDefault("warehouse.max_conns", 4)
	v.SetDefault("warehouse.create_table", true)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("telemetry.service_name", "pricecrawl")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// deriveDefaults fills values that depend on other settings. The local
// report lands next to the artifacts with the extension of its format.
func (c *Config) deriveDefaults() {
	if strings.TrimSpace(c.Report.LocalPath) == "" {
		if format, err := aggregate.ParseFormat(c.Report.Format); err == nil {
			c.Report.LocalPath = filepath.Join(c.Checkpoint.BaseDir, "last_run"+format.Extension())
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := catalog.ParseGranularity(c.Catalog.Granularity); err != nil {
		return fmt.Errorf("catalog.granularity: %w", err)
	}
	for i, s := range c.Catalog.Stores {
		if strings.TrimSpace(s.Country) == "" || strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("catalog.stores[%d]: country and name are required", i)
		}
	}
	if strings.TrimSpace(c.Checkpoint.BaseDir) == "" {
		return fmt.Errorf("checkpoint.base_dir must be set")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1")
	}
	if c.Retry.RateLimitCooldown < 0 || c.Retry.ProviderErrorCooldown < 0 {
		return fmt.Errorf("retry cooldowns must be >= 0")
	}
	if c.Dispatcher.MaxConcurrent <= 0 {
		return fmt.Errorf("dispatcher.max_concurrent must be > 0")
	}
	if c.Pacer.Interval < 0 {
		return fmt.Errorf("pacer.launch_interval must be >= 0")
	}
	if c.Worker.InterJobPause < 0 {
		return fmt.Errorf("worker.inter_job_pause must be >= 0")
	}
	if _, err := aggregate.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}
	if c.Foundry.Host != "" || c.Foundry.DatasetRID != "" || c.Foundry.Token != "" {
		if !c.Foundry.Enabled() {
			return fmt.Errorf("foundry: host, dataset_rid and token must be set together")
		}
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	if c.Worker.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when worker.topic is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RequireCatalog fails when no stores or products are configured. Commands
// that only aggregate existing artifacts do not need a catalog.
func (c Config) RequireCatalog() error {
	if len(c.Catalog.Stores) == 0 {
		return fmt.Errorf("catalog.stores must not be empty")
	}
	if len(c.Catalog.Products) == 0 {
		return fmt.Errorf("catalog.products must not be empty")
	}
	return nil
}

// BuildCatalog converts the configured lists into a validated Catalog.
func (c CatalogConfig) BuildCatalog() (*catalog.Catalog, error) {
	stores := make(map[string]map[string]string)
	for _, s := range c.Stores {
		country := strings.TrimSpace(s.Country)
		if stores[country] == nil {
			stores[country] = make(map[string]string)
		}
		name := strings.TrimSpace(s.Name)
		if _, dup := stores[country][name]; dup {
			return nil, fmt.Errorf("catalog: duplicate store %s/%s", country, name)
		}
		stores[country][name] = s.URL
	}
	products := make(map[string][]string, len(c.Products))
	for _, p := range c.Products {
		name := strings.TrimSpace(p.Name)
		if _, dup := products[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", name)
		}
		products[name] = p.Subtypes
	}
	return catalog.New(stores, products)
}
