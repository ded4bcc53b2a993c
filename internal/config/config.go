package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrMissingStore is returned when a store endpoint has no connection URI.
var ErrMissingStore = eris.New("config: store uri not configured")

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultWriteDB is the only database the pipeline may write to.
const DefaultWriteDB = "vet_analytics"

// mongoURIEnv are the shared connection variables of the legacy
// deployment, checked in order.
var mongoURIEnv = []string{"MONGODB_URI", "MONGO_URI", "MONGO_URL"}

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the source and destination databases.
type StoreConfig struct {
	Read            EndpointConfig `yaml:"read" mapstructure:"read"`
	Write           EndpointConfig `yaml:"write" mapstructure:"write"`
	RequiredWriteDB string         `yaml:"required_write_db" mapstructure:"required_write_db"`
	// WriteRPS throttles write batches. 0 disables throttling.
	WriteRPS float64 `yaml:"write_rps" mapstructure:"write_rps"`
	// ConnectAttempts bounds dial retries for networked drivers.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// EndpointConfig is one database connection.
type EndpointConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	URI      string `yaml:"uri" mapstructure:"uri"`
	Database string `yaml:"database" mapstructure:"database"`
}

// NeedsURI reports whether the driver requires a connection URI.
func (e EndpointConfig) NeedsURI() bool { return e.Driver != DriverMemory }

// PipelineConfig configures stage behavior. Run flags override the run
// option defaults taken from here.
type PipelineConfig struct {
	SamplePerCollection int      `yaml:"sample_per_collection" mapstructure:"sample_per_collection"`
	ChunkSizeChars      int      `yaml:"chunk_size_chars" mapstructure:"chunk_size_chars"`
	OverlapChars        int      `yaml:"overlap_chars" mapstructure:"overlap_chars"`
	KClusters           int      `yaml:"k_clusters" mapstructure:"k_clusters"`
	Workers             int      `yaml:"workers" mapstructure:"workers"`
	NearDupThreshold    float64  `yaml:"near_dup_threshold" mapstructure:"near_dup_threshold"`
	MaxSources          int      `yaml:"max_sources" mapstructure:"max_sources"`
	SentenceCap         int      `yaml:"sentence_cap" mapstructure:"sentence_cap"`
	IncludeLocales      []string `yaml:"include_locales" mapstructure:"include_locales"`
}

// PathsConfig locates files the pipeline reads and writes.
type PathsConfig struct {
	ReportsDir   string `yaml:"reports_dir" mapstructure:"reports_dir"`
	CuesFile     string `yaml:"cues_file" mapstructure:"cues_file"`
	StopwordsDir string `yaml:"stopwords_dir" mapstructure:"stopwords_dir"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VETKB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.read.driver", DriverMongo)
	v.SetDefault("store.read.uri", "")
	v.SetDefault("store.read.database", "vet_database")
	v.SetDefault("store.write.driver", DriverMongo)
	v.SetDefault("store.write.uri", "")
	v.SetDefault("store.write.database", DefaultWriteDB)
	v.SetDefault("store.required_write_db", DefaultWriteDB)
	v.SetDefault("store.write_rps", 0)
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("pipeline.sample_per_collection", 200)
	v.SetDefault("pipeline.chunk_size_chars", 1500)
	v.SetDefault("pipeline.overlap_chars", 250)
	v.SetDefault("pipeline.k_clusters", 50)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.near_dup_threshold", 0.9)
	v.SetDefault("pipeline.max_sources", 3)
	v.SetDefault("pipeline.sentence_cap", 30)
	v.SetDefault("pipeline.include_locales", []string{})
	v.SetDefault("paths.reports_dir", "reports")
	v.SetDefault("paths.cues_file", "")
	v.SetDefault("paths.stopwords_dir", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.applyMongoFallback()

	return &cfg, nil
}

// applyMongoFallback fills empty mongo URIs from the shared environment
// variables.
func (c *Config) applyMongoFallback() {
	var shared string
	for _, k := range mongoURIEnv {
		if shared = os.Getenv(k); shared != "" {
			break
		}
	}
	if shared == "" {
		return
	}
	for _, e := range []*EndpointConfig{&c.Store.Read, &c.Store.Write} {
		if e.Driver == DriverMongo && e.URI == "" {
			e.URI = shared
		}
	}
}

// Validate checks that both store endpoints can be opened.
func (c *Config) Validate() error {
	for name, e := range map[string]EndpointConfig{"read": c.Store.Read, "write": c.Store.Write} {
		switch e.Driver {
		case DriverMemory, DriverSQLite, DriverPostgres, DriverMongo:
		default:
			return eris.Errorf("config: unknown %s store driver %q", name, e.Driver)
		}
		if e.NeedsURI() && e.URI == "" {
			return eris.Wrapf(ErrMissingStore, "config: %s store (%s)", name, e.Driver)
		}
	}
	return nil
}

// Sanitized returns the configuration as a map with connection URIs masked,
// suitable for reports.
func (c *Config) Sanitized() map[string]any {
	mask := func(uri string) string {
		if uri == "" {
			return ""
		}
		return "***"
	}
	endpoint := func(e EndpointConfig) map[string]any {
		return map[string]any{"driver": e.Driver, "uri": mask(e.URI), "database": e.Database}
	}
	return map[string]any{
		"store": map[string]any{
			"read":              endpoint(c.Store.Read),
			"write":             endpoint(c.Store.Write),
			"required_write_db": c.Store.RequiredWriteDB,
			"write_rps":         c.Store.WriteRPS,
		},
		"pipeline": map[string]any{
			"sample_per_collection": c.Pipeline.SamplePerCollection,
			"chunk_size_chars":      c.Pipeline.ChunkSizeChars,
			"overlap_chars":         c.Pipeline.OverlapChars,
			"k_clusters":            c.Pipeline.KClusters,
			"workers":               c.Pipeline.Workers,
			"near_dup_threshold":    c.Pipeline.NearDupThreshold,
			"max_sources":           c.Pipeline.MaxSources,
			"sentence_cap":          c.Pipeline.SentenceCap,
			"include_locales":       c.Pipeline.IncludeLocales,
		},
		"paths": map[string]any{
			"reports_dir":   c.Paths.ReportsDir,
			"cues_file":     c.Paths.CuesFile,
			"stopwords_dir": c.Paths.StopwordsDir,
		},
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
