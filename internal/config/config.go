package config

import (
	"strconv"
	"time"

	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/jonboulle/clockwork"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	defaultMaxDownloadThreads      = 10
	defaultMaxChunkDownloadRetries = 3
	defaultMinTimeToExpiry         = 60 * time.Second
	defaultRetryMax                = 4
	defaultRetryWaitMin            = 1 * time.Second
	defaultRetryWaitMax            = 30 * time.Second
	defaultSpeedThresholdMbps      = 0.1

	// EnvPrefix is the prefix of the environment variables read by ApplyEnv,
	// e.g. DBSQL_CLOUDFETCH_MAX_DOWNLOAD_THREADS.
	EnvPrefix = "dbsql_cloudfetch"
)

// Config holds everything the result engine needs. Change with care.
type Config struct {
	CloudFetchConfig
	ArrowConfig

	// retry policy of the HTTP client used to download chunks
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// if > 0 and a pinger is supplied the server operation is kept alive
	// while chunks are downloading
	HeartbeatInterval time.Duration

	// Clock used to evaluate link expiry
	Clock clockwork.Clock
}

// CloudFetchConfig controls the chunk downloader.
type CloudFetchConfig struct {
	// size of the worker pool and of the prefetch window
	MaxDownloadThreads int

	// download attempts per chunk before the stream is aborted
	MaxChunkDownloadRetries int

	// a link is refreshed if it expires within this buffer
	MinTimeToExpiry time.Duration

	// per attempt timeout of a chunk download, 0 means no timeout
	DownloadTimeout time.Duration

	// downloads slower than this are logged as a warning, 0 disables the check
	CloudFetchSpeedThresholdMbps float64
}

func (cfg CloudFetchConfig) WithDefaults() CloudFetchConfig {
	cfg.MaxDownloadThreads = defaultMaxDownloadThreads
	cfg.MaxChunkDownloadRetries = defaultMaxChunkDownloadRetries
	cfg.MinTimeToExpiry = defaultMinTimeToExpiry
	cfg.CloudFetchSpeedThresholdMbps = defaultSpeedThresholdMbps
	return cfg
}

func (cfg CloudFetchConfig) DeepCopy() CloudFetchConfig {
	return CloudFetchConfig{
		MaxDownloadThreads:           cfg.MaxDownloadThreads,
		MaxChunkDownloadRetries:      cfg.MaxChunkDownloadRetries,
		MinTimeToExpiry:              cfg.MinTimeToExpiry,
		DownloadTimeout:              cfg.DownloadTimeout,
		CloudFetchSpeedThresholdMbps: cfg.CloudFetchSpeedThresholdMbps,
	}
}

// ArrowConfig controls arrow decoding.
type ArrowConfig struct {
	// client setting overrides the compression flag from the result manifest
	UseLz4Compression ConfigValue[bool]

	// allocator for decoded record batches, nil means the default go allocator
	Allocator memory.Allocator
}

func (ucfg ArrowConfig) WithDefaults() ArrowConfig {
	ucfg.Allocator = memory.DefaultAllocator
	return ucfg
}

func (ucfg ArrowConfig) DeepCopy() ArrowConfig {
	return ArrowConfig{
		UseLz4Compression: ucfg.UseLz4Compression,
		Allocator:         ucfg.Allocator,
	}
}

func WithDefaults() *Config {
	return &Config{
		CloudFetchConfig: CloudFetchConfig{}.WithDefaults(),
		ArrowConfig:      ArrowConfig{}.WithDefaults(),
		RetryMax:         defaultRetryMax,
		RetryWaitMin:     defaultRetryWaitMin,
		RetryWaitMax:     defaultRetryWaitMax,
		Clock:            clockwork.NewRealClock(),
	}
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	return &Config{
		CloudFetchConfig:  c.CloudFetchConfig.DeepCopy(),
		ArrowConfig:       c.ArrowConfig.DeepCopy(),
		RetryMax:          c.RetryMax,
		RetryWaitMin:      c.RetryWaitMin,
		RetryWaitMax:      c.RetryWaitMax,
		HeartbeatInterval: c.HeartbeatInterval,
		Clock:             c.Clock,
	}
}

// Now returns the current time of the configured clock.
func (c *Config) Now() time.Time {
	if c == nil || c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// envSettings are the values that can be overridden from the environment.
type envSettings struct {
	MaxDownloadThreads      int           `envconfig:"MAX_DOWNLOAD_THREADS"`
	MaxChunkDownloadRetries int           `envconfig:"MAX_CHUNK_DOWNLOAD_RETRIES"`
	MinTimeToExpiry         time.Duration `envconfig:"MIN_TIME_TO_EXPIRY"`
	DownloadTimeout         time.Duration `envconfig:"DOWNLOAD_TIMEOUT"`
	SpeedThresholdMbps      float64       `envconfig:"SPEED_THRESHOLD_MBPS"`
	RetryMax                int           `envconfig:"RETRY_MAX"`
	RetryWaitMin            time.Duration `envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax            time.Duration `envconfig:"RETRY_WAIT_MAX"`
	HeartbeatInterval       time.Duration `envconfig:"HEARTBEAT_INTERVAL"`
	UseLz4Compression       string        `envconfig:"USE_LZ4_COMPRESSION"`
}

// ApplyEnv overlays environment variables named <PREFIX>_<SETTING> onto the
// config. Unset variables leave the current value alone.
func (c *Config) ApplyEnv(prefix string) error {
	s := envSettings{
		MaxDownloadThreads:      c.MaxDownloadThreads,
		MaxChunkDownloadRetries: c.MaxChunkDownloadRetries,
		MinTimeToExpiry:         c.MinTimeToExpiry,
		DownloadTimeout:         c.DownloadTimeout,
		SpeedThresholdMbps:      c.CloudFetchSpeedThresholdMbps,
		RetryMax:                c.RetryMax,
		RetryWaitMin:            c.RetryWaitMin,
		RetryWaitMax:            c.RetryWaitMax,
		HeartbeatInterval:       c.HeartbeatInterval,
	}

	if err := envconfig.Process(prefix, &s); err != nil {
		return errors.Wrap(err, "invalid cloud fetch environment settings")
	}

	c.MaxDownloadThreads = s.MaxDownloadThreads
	c.MaxChunkDownloadRetries = s.MaxChunkDownloadRetries
	c.MinTimeToExpiry = s.MinTimeToExpiry
	c.DownloadTimeout = s.DownloadTimeout
	c.CloudFetchSpeedThresholdMbps = s.SpeedThresholdMbps
	c.RetryMax = s.RetryMax
	c.RetryWaitMin = s.RetryWaitMin
	c.RetryWaitMax = s.RetryWaitMax
	c.HeartbeatInterval = s.HeartbeatInterval

	if s.UseLz4Compression != "" {
		useLz4, err := strconv.ParseBool(s.UseLz4Compression)
		if err != nil {
			return errors.Wrap(err, "invalid cloud fetch environment settings")
		}
		c.UseLz4Compression = NewConfigValue(useLz4)
	}

	return c.Validate()
}

// ApplyParams overlays DSN style parameters, e.g. maxDownloadThreads=15.
// Unknown keys are ignored.
func (c *Config) ApplyParams(params map[string]string) error {
	if v, ok := ParseIntConfigValue(params, "maxDownloadThreads").Get(); ok {
		c.MaxDownloadThreads = v
	}
	if v, ok := ParseIntConfigValue(params, "maxChunkDownloadRetries").Get(); ok {
		c.MaxChunkDownloadRetries = v
	}
	if v, ok := ParseIntConfigValue(params, "minTimeToExpirySeconds").Get(); ok {
		c.MinTimeToExpiry = time.Duration(v) * time.Second
	}
	if v, ok := ParseIntConfigValue(params, "retryMax").Get(); ok {
		c.RetryMax = v
	}
	if cv := ParseBoolConfigValue(params, "useLz4Compression"); cv.IsSet() {
		c.UseLz4Compression = cv
	}

	return c.Validate()
}

// Validate rejects settings the downloader can not run with.
func (c *Config) Validate() error {
	if c.MaxDownloadThreads < 1 {
		return errors.Errorf("maxDownloadThreads must be at least 1, got %d", c.MaxDownloadThreads)
	}
	if c.MaxChunkDownloadRetries < 1 {
		return errors.Errorf("maxChunkDownloadRetries must be at least 1, got %d", c.MaxChunkDownloadRetries)
	}
	if c.MinTimeToExpiry < 0 {
		return errors.Errorf("minTimeToExpiry must not be negative, got %v", c.MinTimeToExpiry)
	}
	if c.RetryMax < 0 {
		return errors.Errorf("retryMax must not be negative, got %d", c.RetryMax)
	}
	return nil
}
