// Package config loads and validates run configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is the identity declared when a source does not ask for
// another one.
const DefaultUserAgent = "polla-alt-scraper/3.0 (+https://github.com/your-org/polla-transparency)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Sources SourcesConfig `mapstructure:"sources"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig is the configuration surface of one pipeline run.
type RunConfig struct {
	Sources           []string          `mapstructure:"sources"`
	SourceOverrides   map[string]string `mapstructure:"source_overrides"`
	Retries           int               `mapstructure:"retries"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Deadline          time.Duration     `mapstructure:"deadline"`
	FailFast          bool              `mapstructure:"fail_fast"`
	MismatchThreshold float64           `mapstructure:"mismatch_threshold"`
	IncludePozos      bool              `mapstructure:"include_pozos"`
	ForcePublish      bool              `mapstructure:"force_publish"`
	Concurrency       int               `mapstructure:"concurrency"`
	DiscoveryLimit    int               `mapstructure:"discovery_limit"`
	BackoffUnit       time.Duration     `mapstructure:"backoff_unit"`
}

// FetchConfig controls politeness.
type FetchConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	AcceptLanguage  string        `mapstructure:"accept_language"`
	ThrottleBackoff time.Duration `mapstructure:"throttle_backoff"`
	DomainQPS       float64       `mapstructure:"domain_qps"`
	DomainBurst     int           `mapstructure:"domain_burst"`
}

// SourcesConfig holds publisher URLs and declared identities.
type SourcesConfig struct {
	T13URLs           []string `mapstructure:"t13_urls"`
	H24IndexURL       string   `mapstructure:"h24_index_url"`
	OpenLotoURL       string   `mapstructure:"openloto_url"`
	ResultadosLotoURL string   `mapstructure:"resultadosloto_url"`
	H24Identity       string   `mapstructure:"h24_identity"`
	T13Identity       string   `mapstructure:"t13_identity"`
}

// OutputConfig names every artifact a run writes.
type OutputConfig struct {
	RawDir               string `mapstructure:"raw_dir"`
	NormalizedPath       string `mapstructure:"normalized_path"`
	ComparisonReportPath string `mapstructure:"comparison_report_path"`
	SummaryPath          string `mapstructure:"summary_path"`
	StatePath            string `mapstructure:"state_path"`
	LogPath              string `mapstructure:"log_path"`
}

// StorageConfig selects where raw outputs go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional run history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-ready notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.sources", []string{"all"})
	v.SetDefault("run.source_overrides", map[string]string{})
	v.SetDefault("run.retries", 3)
	v.SetDefault("run.timeout", 20*time.Second)
	v.SetDefault("run.deadline", time.Duration(0))
	v.SetDefault("run.fail_fast", false)
	v.SetDefault("run.mismatch_threshold", 0.2)
	v.SetDefault("run.include_pozos", false)
	v.SetDefault("run.force_publish", false)
	v.SetDefault("run.concurrency", 2)
	v.SetDefault("run.discovery_limit", 5)
	v.SetDefault("run.backoff_unit", time.Second)

	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.accept_language", "es-CL,es;q=0.9")
	v.SetDefault("fetch.throttle_backoff", 60*time.Second)
	v.SetDefault("fetch.domain_qps", 0.5)
	v.SetDefault("fetch.domain_burst", 1)

	v.SetDefault("sources.t13_urls", []string{})
	v.SetDefault("sources.h24_index_url", "https://www.24horas.cl/24horas/site/tag/port/all/tagport_2312_1.html")
	v.SetDefault("sources.openloto_url", "https://www.openloto.cl/pozo-del-loto.html")
	v.SetDefault("sources.resultadosloto_url", "https://resultadoslotochile.com/pozo-para-el-proximo-sorteo/")
	v.SetDefault("sources.h24_identity", "PollaAltSourcesBot/1.0 (+contact@example.com)")
	v.SetDefault("sources.t13_identity", DefaultUserAgent)

	v.SetDefault("output.raw_dir", "artifacts/raw")
	v.SetDefault("output.normalized_path", "artifacts/normalized.jsonl")
	v.SetDefault("output.comparison_report_path", "artifacts/comparison_report.json")
	v.SetDefault("output.summary_path", "artifacts/run_summary.json")
	v.SetDefault("output.state_path", "state/last_run.jsonl")
	v.SetDefault("output.log_path", "logs/run.jsonl")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.table", "polla_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Run.Sources) == 0 {
		return fmt.Errorf("run.sources must list at least one source")
	}
	if c.Run.Retries < 1 {
		return fmt.Errorf("run.retries must be >= 1")
	}
	if c.Run.Timeout <= 0 {
		return fmt.Errorf("run.timeout must be > 0")
	}
	if c.Run.Deadline < 0 {
		return fmt.Errorf("run.deadline must be >= 0")
	}
	if c.Run.MismatchThreshold < 0 || c.Run.MismatchThreshold > 1 {
		return fmt.Errorf("run.mismatch_threshold must be within [0, 1]")
	}
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be > 0")
	}
	if c.Fetch.DomainQPS <= 0 {
		return fmt.Errorf("fetch.domain_qps must be > 0")
	}
	if c.Output.NormalizedPath == "" || c.Output.ComparisonReportPath == "" ||
		c.Output.SummaryPath == "" || c.Output.StatePath == "" {
		return fmt.Errorf("output paths must be set")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Output.RawDir == "" {
			return fmt.Errorf("output.raw_dir is required for the local storage backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs storage backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
