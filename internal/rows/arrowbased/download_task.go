package arrowbased

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/fetcher"
	"github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/pkg/errors"
)

// linkSource resolves links for a chunk and applies them to every chunk
// they belong to.
type linkSource interface {
	refreshLinks(ctx context.Context, chunkIndex int) error
}

// chunkDownloadTask is a single attempt at downloading and decoding one
// chunk. It always reports back through onDone, whatever the outcome.
type chunkDownloadTask struct {
	compressibleBatch
	chunk      *ResultChunk
	links      linkSource
	httpClient *http.Client
	cfg        *config.Config
	logger     *logger.DBSQLLogger
	onDone     func(ctx context.Context, chunk *ResultChunk)
}

var _ fetcher.Task = (*chunkDownloadTask)(nil)

func (t *chunkDownloadTask) Run(ctx context.Context) {
	defer t.onDone(ctx, t.chunk)

	if err := t.run(ctx); err != nil {
		t.logger.Debug().Msgf("chunk %d: attempt %d ended with %s: %v", t.chunk.ChunkIndex(), t.chunk.Attempts(), t.chunk.Status(), err)
	}
}

func (t *chunkDownloadTask) run(ctx context.Context) error {
	chunk := t.chunk

	if ctx.Err() != nil {
		chunk.cancel(ctx, ctx.Err())
		return ctx.Err()
	}

	if !chunk.IsLinkValid(t.cfg.Now(), t.cfg.MinTimeToExpiry) {
		if err := t.links.refreshLinks(ctx, chunk.ChunkIndex()); err != nil {
			if ctx.Err() != nil {
				chunk.cancel(ctx, ctx.Err())
				return ctx.Err()
			}
			chunk.beginAttempt()
			_ = chunk.fail(ctx, dbsqlerrint.DownloadFailure(err))
			return err
		}

		// the resolver may have returned a link that is already too close
		// to expiry
		if !chunk.IsLinkValid(t.cfg.Now(), t.cfg.MinTimeToExpiry) {
			chunk.beginAttempt()
			_ = chunk.fail(ctx, dbsqlerrint.DownloadFailure(dbsqlerr.LinkExpired))
			return dbsqlerr.LinkExpired
		}
	}

	if err := chunk.startDownload(ctx); err != nil {
		// only possible if the chunk was cancelled meanwhile
		return err
	}

	body, err := t.download(ctx)
	if err != nil {
		if ctx.Err() != nil {
			chunk.cancel(ctx, ctx.Err())
			return ctx.Err()
		}
		_ = chunk.fail(ctx, dbsqlerrint.DownloadFailure(err))
		return err
	}

	records, err := t.decode(body)
	if err != nil {
		_ = chunk.abort(ctx, dbsqlerr.ErrChunkParse, dbsqlerrint.ParseFailure(err))
		return err
	}

	if rows := countRecordRows(records); rows != chunk.Count() {
		releaseRecords(records)
		err := errors.Errorf(dbsqlerr.ErrChunkRowCountMismatch, rows, chunk.Count())
		_ = chunk.abort(ctx, dbsqlerr.ErrChunkParse, dbsqlerrint.ParseFailure(err))
		return err
	}

	// records are released by succeed if the chunk was cancelled meanwhile
	if err := chunk.succeed(ctx, records); err != nil {
		return err
	}

	t.logger.Debug().Msgf("chunk %d: downloaded %d rows", chunk.ChunkIndex(), chunk.Count())
	return nil
}

func (t *chunkDownloadTask) download(ctx context.Context) ([]byte, error) {
	if t.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.DownloadTimeout)
		defer cancel()
	}

	link, headers := t.chunk.Link()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	res, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		switch res.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			// pre-signed link expired or was revoked, fetch a new one on retry
			t.chunk.invalidateLink()
		}
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, errors.Errorf(dbsqlerr.ErrChunkDownloadHTTPStatus, res.StatusCode)
	}

	var buf bytes.Buffer
	if res.ContentLength > 0 {
		buf.Grow(int(res.ContentLength))
	}
	if _, err := io.Copy(&buf, res.Body); err != nil {
		return nil, err
	}

	t.logSpeed(buf.Len(), time.Since(start))

	return buf.Bytes(), nil
}

func (t *chunkDownloadTask) decode(body []byte) ([]arrow.Record, error) {
	raw, err := t.decompress(body)
	if err != nil {
		return nil, err
	}
	return getArrowRecords(bytes.NewReader(raw), t.cfg.Allocator)
}

// smaller downloads are dominated by request latency, their speed says
// nothing about the link
const minSpeedCheckBytes = 1024 * 1024

// logSpeed warns about downloads slower than the configured threshold.
func (t *chunkDownloadTask) logSpeed(n int, elapsed time.Duration) {
	threshold := t.cfg.CloudFetchSpeedThresholdMbps
	if threshold <= 0 || elapsed <= 0 || n < minSpeedCheckBytes {
		return
	}

	mbps := float64(n) / (1024 * 1024) / elapsed.Seconds()
	if mbps < threshold {
		t.logger.Warn().Msgf("chunk %d: download speed %.4f MB/s is below the threshold of %.4f MB/s", t.chunk.ChunkIndex(), mbps, threshold)
	}
}
