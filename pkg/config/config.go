package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultEndpoint points at a locally running ingestion service.
	DefaultEndpoint = "http://localhost:1984"

	DefaultProject = "default"

	// BoundaryPrefix tags the random multipart boundary so it cannot collide
	// with user payload bytes.
	BoundaryPrefix = "seetrace-boundary-"
)

// for root
var (
	Debug = false
)

// for pkg client
var (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultQueueCap      = 1024
	DefaultBlockTimeout  = 100 * time.Millisecond
	DefaultMaxRetries    = 3
)

// for pkg cache
var (
	DefaultCacheMaxSize       = 100
	DefaultCacheTTL           = 5 * time.Minute
	DefaultCacheSweepInterval = time.Minute
)

// Config carries the construction-time settings for a tracing client.
type Config struct {
	APIKey   string
	Endpoint string
	Project  string

	// TracingDisabled turns the client into a sink that drops every event.
	// The zero value keeps tracing on; the tracing-enabled config key and
	// SEETRACE_TRACING_ENABLED env var map onto it inverted.
	TracingDisabled bool

	BatchSize     int
	FlushInterval time.Duration
	QueueCap      int
	BlockTimeout  time.Duration
	MaxRetries    int
}

// NewViper creates a new viper instance configured.
func NewViper() *viper.Viper {
	vp := viper.New()

	// read config from a file
	vp.SetConfigName("config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")

	// read config from environment variables
	vp.SetEnvPrefix("seetrace") // env var must start with SEETRACE_
	// replace - by _ for environment variable names
	// (eg: the env var for api-key is API_KEY)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp
}

// Load resolves a Config from the given viper instance, falling back to
// package defaults for anything unset.
func Load(vp *viper.Viper) *Config {
	vp.SetDefault("endpoint", DefaultEndpoint)
	vp.SetDefault("project", DefaultProject)
	vp.SetDefault("tracing-enabled", true)
	vp.SetDefault("batch-size", DefaultBatchSize)
	vp.SetDefault("flush-interval", DefaultFlushInterval)
	vp.SetDefault("queue-cap", DefaultQueueCap)
	vp.SetDefault("block-timeout", DefaultBlockTimeout)
	vp.SetDefault("max-retries", DefaultMaxRetries)

	return &Config{
		APIKey:          vp.GetString("api-key"),
		Endpoint:        vp.GetString("endpoint"),
		Project:         vp.GetString("project"),
		TracingDisabled: !vp.GetBool("tracing-enabled"),
		BatchSize:       vp.GetInt("batch-size"),
		FlushInterval:   vp.GetDuration("flush-interval"),
		QueueCap:        vp.GetInt("queue-cap"),
		BlockTimeout:    vp.GetDuration("block-timeout"),
		MaxRetries:      vp.GetInt("max-retries"),
	}
}
