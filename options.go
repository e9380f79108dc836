package cloudfetch

import (
	"database/sql/driver"
	"net/http"
	"time"

	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	"github.com/jonboulle/clockwork"
)

type options struct {
	cfg        *config.Config
	httpClient *http.Client
	pinger     driver.Pinger
	err        error
}

func newOptions(opts []Option) *options {
	o := &options{cfg: config.WithDefaults()}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Option configures a result stream
type Option func(*options)

// WithMaxDownloadThreads sets the number of chunks downloaded in parallel,
// which is also the number of chunks prefetched ahead of the reader.
// Default is 10.
func WithMaxDownloadThreads(n int) Option {
	return func(o *options) {
		o.cfg.MaxDownloadThreads = n
	}
}

// WithMaxChunkDownloadRetries sets the download attempts per chunk before
// the stream fails. Default is 3.
func WithMaxChunkDownloadRetries(n int) Option {
	return func(o *options) {
		o.cfg.MaxChunkDownloadRetries = n
	}
}

// WithMinTimeToExpiry sets how long before its expiry a chunk link is
// considered stale and refreshed. Default is 60 seconds.
func WithMinTimeToExpiry(d time.Duration) Option {
	return func(o *options) {
		o.cfg.MinTimeToExpiry = d
	}
}

// WithLz4Compression overrides the compression flag of the result.
func WithLz4Compression(useLz4 bool) Option {
	return func(o *options) {
		o.cfg.UseLz4Compression = config.NewConfigValue(useLz4)
	}
}

// WithRetries sets the retry policy of the HTTP client downloading chunks.
// Ignored if WithHTTPClient is used.
func WithRetries(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.cfg.RetryMax = retryMax
		o.cfg.RetryWaitMin = waitMin
		o.cfg.RetryWaitMax = waitMax
	}
}

// WithDownloadTimeout bounds a single chunk download attempt.
func WithDownloadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.DownloadTimeout = d
	}
}

// WithSpeedThreshold logs a warning for chunk downloads slower than mbps
// megabytes per second. 0 disables the check.
func WithSpeedThreshold(mbps float64) Option {
	return func(o *options) {
		o.cfg.CloudFetchSpeedThresholdMbps = mbps
	}
}

// WithHTTPClient sets the client used to download chunks.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithAllocator sets the arrow allocator for decoded records.
func WithAllocator(alloc memory.Allocator) Option {
	return func(o *options) {
		if alloc != nil {
			o.cfg.Allocator = alloc
		}
	}
}

// WithClock sets the clock used to check link expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.cfg.Clock = clock
		}
	}
}

// WithHeartbeat pings the server operation every interval while the
// stream is open.
func WithHeartbeat(interval time.Duration, pinger driver.Pinger) Option {
	return func(o *options) {
		o.cfg.HeartbeatInterval = interval
		o.pinger = pinger
	}
}

// WithEnv overlays the DBSQL_CLOUDFETCH_* environment variables onto the
// options applied so far.
func WithEnv() Option {
	return func(o *options) {
		if err := o.cfg.ApplyEnv(config.EnvPrefix); err != nil && o.err == nil {
			o.err = err
		}
	}
}

// WithParams overlays DSN style parameters, e.g. maxDownloadThreads=15,
// onto the options applied so far.
func WithParams(params map[string]string) Option {
	return func(o *options) {
		if err := o.cfg.ApplyParams(params); err != nil && o.err == nil {
			o.err = err
		}
	}
}
