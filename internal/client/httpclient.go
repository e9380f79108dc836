package client

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/url"
	"regexp"

	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	dbsqllog "github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

var (
	// A regular expression to match the error returned by net/http when the
	// configured number of redirects is exhausted. This error isn't typed
	// specifically so we resort to matching on the error string.
	redirectsErrorRe = regexp.MustCompile(`stopped after \d+ redirects\z`)

	// A regular expression to match the error returned by net/http when the
	// scheme specified in the URL is invalid. This error isn't typed
	// specifically so we resort to matching on the error string.
	schemeErrorRe = regexp.MustCompile(`unsupported protocol scheme`)

	// A regular expression to match the error returned by net/http when the
	// TLS certificate is not trusted. This error isn't typed
	// specifically so we resort to matching on the error string.
	notTrustedErrorRe = regexp.MustCompile(`certificate is not trusted`)
)

// NewDownloadClient returns an *http.Client that retries chunk GET requests
// with exponential backoff as configured. Once the retries are used up the
// last response is returned as is so the caller can inspect its status.
func NewDownloadClient(cfg *config.Config, logger *dbsqllog.DBSQLLogger) *http.Client {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if logger == nil {
		logger = dbsqllog.Logger
	}

	retryableClient := retryablehttp.NewClient()
	retryableClient.RetryMax = cfg.RetryMax
	retryableClient.RetryWaitMin = cfg.RetryWaitMin
	retryableClient.RetryWaitMax = cfg.RetryWaitMax
	retryableClient.CheckRetry = RetryPolicy
	retryableClient.Backoff = retryablehttp.DefaultBackoff
	retryableClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryableClient.Logger = &leveledLogger{logger: logger}

	return retryableClient.StandardClient()
}

// RetryPolicy decides whether a chunk GET should be retried. Pre-signed URL
// downloads are idempotent so the decision only depends on the outcome.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	// do not retry on context.Canceled or context.DeadlineExceeded
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		if v, ok := err.(*url.Error); ok {
			// Don't retry if the error was due to too many redirects.
			if redirectsErrorRe.MatchString(v.Error()) {
				return false, v
			}

			// Don't retry if the error was due to an invalid protocol scheme.
			if schemeErrorRe.MatchString(v.Error()) {
				return false, v
			}

			// Don't retry if the error was due to TLS cert verification failure.
			if notTrustedErrorRe.MatchString(v.Error()) {
				return false, v
			}
			var certErr x509.UnknownAuthorityError
			if errors.As(v.Err, &certErr) {
				return false, v
			}
		}

		// The error is likely recoverable so retry.
		return true, nil
	}

	if resp == nil {
		return false, nil
	}

	// 429 Too Many Requests or 503 service unavailable is recoverable.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return true, nil
	}

	// Check the response code. We retry on 500-range responses to allow
	// the server time to recover, as 500's are typically not permanent
	// errors and may relate to outages on the server side. This will catch
	// invalid response codes as well, like 0 and 999.
	if resp.StatusCode == 0 || (resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented) {
		return true, nil
	}

	// 403 from a pre-signed URL means the link expired; a retry with the
	// same link can not succeed
	return false, nil
}

// leveledLogger routes retryablehttp log output to zerolog. Pre-signed URLs
// carry credentials in their query so only scheme, host and path are logged.
type leveledLogger struct {
	logger *dbsqllog.DBSQLLogger
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(redact(keysAndValues)).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(redact(keysAndValues)).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(redact(keysAndValues)).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(redact(keysAndValues)).Msg(msg)
}

func redact(keysAndValues []interface{}) []interface{} {
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		if k, ok := out[i].(string); ok && k == "url" {
			out[i+1] = RedactURL(out[i+1])
		}
	}
	return out
}

// RedactURL drops the query and user info of a URL.
func RedactURL(v interface{}) string {
	var u *url.URL
	switch t := v.(type) {
	case *url.URL:
		if t == nil {
			return ""
		}
		c := *t
		u = &c
	case string:
		parsed, err := url.Parse(t)
		if err != nil {
			return "<unparseable url>"
		}
		u = parsed
	default:
		return "<redacted>"
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
