package arrowbased

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow/memory"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	"github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskFixture struct {
	server   *chunkServer
	manifest *client.ResultManifest
	resolver *fakeResolver
	clock    clockwork.FakeClock
	cfg      *config.Config
	mem      *memory.CheckedAllocator
	chunk    *ResultChunk
	done     int
}

func newTaskFixture(t *testing.T, rowCount int64) *taskFixture {
	f := &taskFixture{
		server: newChunkServer(t),
		clock:  clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		mem:    memory.NewCheckedAllocator(memory.NewGoAllocator()),
	}
	f.manifest = newTestManifest(t, f.server, rowCount)
	f.resolver = newFakeResolver(f.server, f.clock, f.manifest)

	f.cfg = config.WithDefaults()
	f.cfg.Clock = f.clock
	f.cfg.Allocator = f.mem

	f.chunk = newResultChunk(f.manifest.Chunks[0])
	return f
}

// refreshLinks applies the resolver links to the single chunk of the fixture.
func (f *taskFixture) refreshLinks(ctx context.Context, chunkIndex int) error {
	links, err := f.resolver.GetChunkLinks(ctx, f.manifest.StatementId, chunkIndex)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.ChunkIndex == f.chunk.ChunkIndex() {
			f.chunk.setLink(ctx, l)
		}
	}
	return nil
}

func (f *taskFixture) task(lz4 bool) *chunkDownloadTask {
	return &chunkDownloadTask{
		compressibleBatch: compressibleBatch{useLz4Compression: lz4},
		chunk:             f.chunk,
		links:             f,
		httpClient:        f.server.Client(),
		cfg:               f.cfg,
		logger:            logger.Logger,
		onDone:            func(ctx context.Context, chunk *ResultChunk) { f.done++ },
	}
}

func TestChunkDownloadTask(t *testing.T) {
	ctx := context.Background()

	t.Run("downloads and decodes a chunk", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		defer f.mem.AssertSize(t, 0)

		f.task(false).Run(ctx)

		assert.Equal(t, 1, f.done)
		assert.Equal(t, ChunkDownloadSucceeded, f.chunk.Status())
		assert.Equal(t, 1, f.resolver.callCount())
		assert.Equal(t, 1, f.chunk.Attempts())
		assert.Equal(t, int64(5), countRecordRows(f.chunk.Records()))

		// link headers are sent with the request
		headers := f.server.seenHeaders()
		require.Len(t, headers, 1)
		assert.Equal(t, "0", headers[0].Get("x-test-chunk"))

		assert.True(t, f.chunk.Release())
	})

	t.Run("valid link is not refreshed", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		defer f.mem.AssertSize(t, 0)

		f.chunk.setLink(ctx, &client.ChunkLink{URL: f.server.chunkURL(0, "manifest"), ExpiryTime: f.clock.Now().Add(10 * time.Minute)})
		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadSucceeded, f.chunk.Status())
		assert.Equal(t, 0, f.resolver.callCount())
		assert.Equal(t, []string{"manifest"}, f.server.seenTokens())
		f.chunk.Release()
	})

	t.Run("link close to expiry is refreshed before the download", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		defer f.mem.AssertSize(t, 0)

		f.chunk.setLink(ctx, &client.ChunkLink{URL: f.server.chunkURL(0, "stale"), ExpiryTime: f.clock.Now().Add(30 * time.Second)})
		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadSucceeded, f.chunk.Status())
		assert.Equal(t, 1, f.resolver.callCount())
		assert.Equal(t, []string{"fresh"}, f.server.seenTokens())
		f.chunk.Release()
	})

	t.Run("lz4 compressed chunk", func(t *testing.T) {
		f := newTaskFixture(t, 7)
		defer f.mem.AssertSize(t, 0)

		f.server.setBody(0, lz4Compress(t, generateArrowBytes(t, 0, 3, 4)))
		f.task(true).Run(ctx)

		require.Equal(t, ChunkDownloadSucceeded, f.chunk.Status())
		records := f.chunk.Records()
		assert.Len(t, records, 2)
		assert.Equal(t, int64(7), countRecordRows(records))
		f.chunk.Release()
	})

	t.Run("http error is a failed attempt", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.server.setStatus(0, http.StatusInternalServerError)

		f.task(false).Run(ctx)

		assert.Equal(t, 1, f.done)
		assert.Equal(t, ChunkDownloadFailed, f.chunk.Status())
		assert.True(t, errors.Is(f.chunk.Err(), dbsqlerr.ChunkDownloadFailure))
		assert.Contains(t, f.chunk.Err().Error(), "HTTP status 500")

		// the link stays usable for the retry
		assert.True(t, f.chunk.IsLinkValid(f.clock.Now(), f.cfg.MinTimeToExpiry))
	})

	t.Run("forbidden invalidates the link", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.server.setStatus(0, http.StatusForbidden)

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailed, f.chunk.Status())
		assert.False(t, f.chunk.IsLinkValid(f.clock.Now(), f.cfg.MinTimeToExpiry))

		f.server.setStatus(0, 0)
		f.task(false).Run(ctx)
		assert.Equal(t, ChunkDownloadSucceeded, f.chunk.Status())
		assert.Equal(t, 2, f.resolver.callCount())
		assert.Equal(t, 2, f.chunk.Attempts())
		f.chunk.Release()
		f.mem.AssertSize(t, 0)
	})

	t.Run("link resolution failure is a failed attempt", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.resolver.err = errors.New("PERMISSION_DENIED")

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailed, f.chunk.Status())
		assert.Equal(t, 1, f.chunk.Attempts())
		assert.Equal(t, 0, f.server.requestCount(0))
		assert.Contains(t, f.chunk.Err().Error(), "PERMISSION_DENIED")
	})

	t.Run("resolver returning an expiring link", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.resolver.validFor = 10 * time.Second

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailed, f.chunk.Status())
		assert.True(t, errors.Is(f.chunk.Err(), dbsqlerr.LinkExpired))
		assert.Equal(t, 0, f.server.requestCount(0))
	})

	t.Run("corrupt chunk is aborted without retry", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.server.setBody(0, corruptArrowBytes(t, 5))

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailedAborted, f.chunk.Status())
		err := f.chunk.Err()
		assert.True(t, errors.Is(err, dbsqlerr.ChunkParseFailure))
		var ce dbsqlerr.DBChunkError
		require.True(t, errors.As(err, &ce))
		assert.True(t, ce.IsParseFailure())
		assert.Equal(t, 0, ce.ChunkIndex())
	})

	t.Run("row count mismatch is a parse failure", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		defer f.mem.AssertSize(t, 0)
		f.server.setBody(0, generateArrowBytes(t, 0, 4))

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailedAborted, f.chunk.Status())
		assert.True(t, errors.Is(f.chunk.Err(), dbsqlerr.ChunkParseFailure))
		assert.Contains(t, f.chunk.Err().Error(), "4 rows, manifest declares 5")
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		f.task(false).Run(cctx)

		assert.Equal(t, 1, f.done)
		assert.Equal(t, ChunkCancelled, f.chunk.Status())
		assert.True(t, errors.Is(f.chunk.Err(), dbsqlerr.Cancelled))
		assert.Equal(t, 0, f.resolver.callCount())
	})

	t.Run("cancelled during download", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		started, release := f.server.blockRequests()
		defer release()

		cctx, cancel := context.WithCancel(ctx)
		finished := make(chan struct{})
		go func() {
			f.task(false).Run(cctx)
			close(finished)
		}()

		<-started
		cancel()
		<-finished

		assert.Equal(t, ChunkCancelled, f.chunk.Status())
	})

	t.Run("download timeout is a failed attempt", func(t *testing.T) {
		f := newTaskFixture(t, 5)
		f.cfg.DownloadTimeout = 20 * time.Millisecond
		_, release := f.server.blockRequests()
		defer release()

		f.task(false).Run(ctx)

		assert.Equal(t, ChunkDownloadFailed, f.chunk.Status())
		assert.True(t, errors.Is(f.chunk.Err(), dbsqlerr.ChunkDownloadFailure))
	})
}

func TestChunkDownloadTaskLogSpeed(t *testing.T) {
	newTask := func(buf *bytes.Buffer) *chunkDownloadTask {
		cfg := config.WithDefaults()
		cfg.CloudFetchSpeedThresholdMbps = 0.1
		return &chunkDownloadTask{
			chunk:  newResultChunk(&client.ChunkInfo{ChunkIndex: 4}),
			cfg:    cfg,
			logger: &logger.DBSQLLogger{Logger: zerolog.New(buf)},
		}
	}

	t.Run("small downloads are not checked", func(t *testing.T) {
		var buf bytes.Buffer
		newTask(&buf).logSpeed(2*1024, time.Second)
		assert.Empty(t, buf.String())
	})

	t.Run("slow large downloads are logged", func(t *testing.T) {
		var buf bytes.Buffer
		newTask(&buf).logSpeed(minSpeedCheckBytes, 20*time.Second)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), "chunk 4: download speed")
	})

	t.Run("fast large downloads are not logged", func(t *testing.T) {
		var buf bytes.Buffer
		newTask(&buf).logSpeed(4*minSpeedCheckBytes, time.Second)
		assert.Empty(t, buf.String())
	})

	t.Run("disabled threshold", func(t *testing.T) {
		var buf bytes.Buffer
		task := newTask(&buf)
		task.cfg.CloudFetchSpeedThresholdMbps = 0
		task.logSpeed(minSpeedCheckBytes, time.Hour)
		assert.Empty(t, buf.String())
	})
}
