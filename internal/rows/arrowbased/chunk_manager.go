package arrowbased

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/http"
	"sync"

	"github.com/databricks/databricks-sql-go-cloudfetch/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/fetcher"
	dbsqllog "github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/pkg/errors"
)

// ChunkSource hands out the chunks of a result in order.
type ChunkSource interface {
	HasNext() bool
	Next(ctx context.Context) (*ResultChunk, error)
	Close()
}

// ChunkDownloadManager downloads the chunks of a cloud fetch result,
// keeping a window of chunks ahead of the consumer in flight.
type ChunkDownloadManager interface {
	ChunkSource
	GetChunk(ctx context.Context, chunkIndex int) (*ResultChunk, error)
	ChunkCount() int
	ReleaseAllChunks() int
}

type chunkDownloadManager struct {
	compressibleBatch
	ctx         context.Context
	statementId string
	cfg         *config.Config
	resolver    client.LinkResolver
	httpClient  *http.Client
	pool        fetcher.WorkerPool
	logger      *dbsqllog.DBSQLLogger

	mu         sync.RWMutex
	chunks     map[int]*ResultChunk
	chunkCount int

	// consumer side, only used by the goroutine iterating the result
	nextIndex int
	current   *ResultChunk

	closeOnce sync.Once
}

var _ ChunkDownloadManager = (*chunkDownloadManager)(nil)

// NewChunkDownloadManager indexes the chunks of manifest and starts the
// download workers. Nothing is downloaded before the first chunk is
// requested. If pinger is not nil and a heartbeat interval is configured
// the server operation is pinged while the manager is open.
func NewChunkDownloadManager(
	ctx context.Context,
	manifest *client.ResultManifest,
	resolver client.LinkResolver,
	httpClient *http.Client,
	cfg *config.Config,
	pinger driver.Pinger,
) (*chunkDownloadManager, error) {

	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if manifest == nil {
		return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerr.ErrUnsupportedResultManifest, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, "invalid cloud fetch configuration", err)
	}

	if driverctx.QueryIdFromContext(ctx) == "" && manifest.StatementId != "" {
		ctx = driverctx.NewContextWithQueryId(ctx, manifest.StatementId)
	}
	if httpClient == nil {
		httpClient = client.NewDownloadClient(cfg, nil)
	}

	logger := dbsqllog.WithContext(driverctx.ConnIdFromContext(ctx), driverctx.CorrelationIdFromContext(ctx), driverctx.QueryIdFromContext(ctx))

	m := &chunkDownloadManager{
		compressibleBatch: compressibleBatch{
			useLz4Compression: cfg.UseLz4Compression.Resolve(ctx, config.ServerValue(manifest.Lz4Compressed), false),
		},
		ctx:         ctx,
		statementId: manifest.StatementId,
		cfg:         cfg,
		httpClient:  httpClient,
		logger:      logger,
	}

	if resolver != nil {
		m.resolver = client.NewSharedLinkResolver(resolver)
	}

	if err := m.initialize(manifest); err != nil {
		return nil, err
	}

	var hb fetcher.Overwatch
	if pinger != nil && cfg.HeartbeatInterval > 0 {
		hb = newHeartBeat(pinger, cfg.HeartbeatInterval, cfg.Clock, logger)
	}

	// every chunk has at most one task queued at a time so retries
	// submitted from a worker never block
	pool, err := fetcher.NewWorkerPool(ctx, cfg.MaxDownloadThreads, m.chunkCount, hb, logger)
	if err != nil {
		m.ReleaseAllChunks()
		return nil, dbsqlerrint.NewDriverError(ctx, "unable to start chunk download workers", err)
	}
	m.pool = pool

	m.logger.Debug().Msgf("cloud fetch: %d chunks, %d rows, lz4 %t", m.chunkCount, manifest.TotalRowCount, m.useLz4Compression)

	return m, nil
}

// initialize builds the chunk index. Chunks the manifest already carries a
// link for start out as URL_FETCHED.
func (m *chunkDownloadManager) initialize(manifest *client.ResultManifest) error {
	count := manifest.TotalChunkCount
	if count < len(manifest.Chunks) {
		count = len(manifest.Chunks)
	}

	chunks := make(map[int]*ResultChunk, count)
	for _, info := range manifest.Chunks {
		if info == nil {
			continue
		}
		if info.ChunkIndex < 0 || info.ChunkIndex >= count {
			return dbsqlerrint.NewDriverError(m.ctx, fmt.Sprintf(dbsqlerr.ErrChunkIndexOutOfRange, info.ChunkIndex, count), nil)
		}
		chunks[info.ChunkIndex] = newResultChunk(info)
	}

	// chunks missing from the manifest are only described by their links
	for _, link := range manifest.Links {
		if link == nil {
			continue
		}
		if _, ok := chunks[link.ChunkIndex]; !ok && link.ChunkIndex >= 0 && link.ChunkIndex < count {
			chunks[link.ChunkIndex] = newResultChunk(&client.ChunkInfo{
				ChunkIndex: link.ChunkIndex,
				RowOffset:  link.RowOffset,
				RowCount:   link.RowCount,
				ByteCount:  link.ByteCount,
			})
		}
	}

	for i := 0; i < count; i++ {
		if _, ok := chunks[i]; !ok {
			return dbsqlerrint.NewDriverError(m.ctx, fmt.Sprintf("result manifest does not describe chunk %d", i), nil)
		}
	}

	m.mu.Lock()
	m.chunks = chunks
	m.chunkCount = count
	m.mu.Unlock()

	m.applyLinks(manifest.Links)

	return nil
}

func (m *chunkDownloadManager) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chunkCount
}

func (m *chunkDownloadManager) chunk(chunkIndex int) (*ResultChunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[chunkIndex]
	return c, ok
}

// GetChunk waits for chunk chunkIndex to be downloaded, scheduling it and
// the following chunks of the prefetch window as needed.
func (m *chunkDownloadManager) GetChunk(ctx context.Context, chunkIndex int) (*ResultChunk, error) {
	chunk, ok := m.chunk(chunkIndex)
	if !ok {
		return nil, dbsqlerrint.NewInvalidStateError(m.ctx, fmt.Sprintf(dbsqlerr.ErrChunkIndexOutOfRange, chunkIndex, m.ChunkCount()))
	}

	m.schedule(chunk)
	for i := chunkIndex + 1; i <= chunkIndex+m.cfg.MaxDownloadThreads; i++ {
		next, ok := m.chunk(i)
		if !ok {
			break
		}
		m.schedule(next)
	}

	select {
	case <-chunk.Ready():
	case <-ctx.Done():
		return nil, dbsqlerrint.NewChunkError(m.ctx, chunkIndex, dbsqlerr.ErrChunkCancelled, dbsqlerrint.Cancellation(ctx.Err()))
	case <-m.ctx.Done():
		return nil, dbsqlerrint.NewChunkError(m.ctx, chunkIndex, dbsqlerr.ErrChunkCancelled, dbsqlerrint.Cancellation(m.ctx.Err()))
	}

	switch chunk.Status() {
	case ChunkDownloadSucceeded:
		return chunk, nil
	case ChunkReleased:
		return nil, dbsqlerrint.NewInvalidStateError(m.ctx, dbsqlerr.ErrChunkReleased)
	default:
		return nil, chunk.Err()
	}
}

func (m *chunkDownloadManager) HasNext() bool {
	return m.nextIndex < m.ChunkCount()
}

// Next releases the chunk returned by the previous call and returns the
// following one.
func (m *chunkDownloadManager) Next(ctx context.Context) (*ResultChunk, error) {
	if m.current != nil {
		m.current.Release()
		m.current = nil
	}

	chunk, err := m.GetChunk(ctx, m.nextIndex)
	if err != nil {
		return nil, err
	}

	m.current = chunk
	m.nextIndex++
	return chunk, nil
}

// schedule submits the first download task of a chunk.
func (m *chunkDownloadManager) schedule(chunk *ResultChunk) {
	if !chunk.markScheduled() {
		return
	}
	m.submit(chunk)
}

func (m *chunkDownloadManager) submit(chunk *ResultChunk) {
	task := &chunkDownloadTask{
		compressibleBatch: m.compressibleBatch,
		chunk:             chunk,
		links:             m,
		httpClient:        m.httpClient,
		cfg:               m.cfg,
		logger:            m.logger,
		onDone:            m.onTaskDone,
	}

	if err := m.pool.Submit(task); err != nil {
		m.logger.Debug().Msgf("chunk %d: not scheduled: %v", chunk.ChunkIndex(), err)
		chunk.cancel(m.ctx, err)
	}
}

// onTaskDone retries failed chunks until the attempts are used up.
func (m *chunkDownloadManager) onTaskDone(ctx context.Context, chunk *ResultChunk) {
	if chunk.Status() != ChunkDownloadFailed {
		return
	}

	if ctx.Err() != nil {
		chunk.cancel(ctx, ctx.Err())
		return
	}

	attempts := chunk.Attempts()
	if attempts < m.cfg.MaxChunkDownloadRetries {
		m.logger.Debug().Msgf("chunk %d: retrying after attempt %d: %v", chunk.ChunkIndex(), attempts, chunk.Err())
		m.submit(chunk)
		return
	}

	m.logger.Error().Msgf("chunk %d: giving up after %d attempts: %v", chunk.ChunkIndex(), attempts, chunk.Err())
	_ = chunk.abort(ctx, dbsqlerr.ErrChunkDownloadFailed, nil)
}

// refreshLinks fetches fresh links starting at chunkIndex and applies all
// of them.
func (m *chunkDownloadManager) refreshLinks(ctx context.Context, chunkIndex int) error {
	if m.resolver == nil {
		return errors.New(dbsqlerr.ErrChunkNoLink)
	}

	links, err := m.resolver.GetChunkLinks(ctx, m.statementId, chunkIndex)
	if err != nil {
		return err
	}

	m.applyLinks(links)

	for _, link := range links {
		if link != nil && link.ChunkIndex == chunkIndex {
			return nil
		}
	}

	return errors.New(dbsqlerr.ErrChunkNoLink)
}

func (m *chunkDownloadManager) applyLinks(links []*client.ChunkLink) {
	for _, link := range links {
		if link == nil {
			continue
		}
		if chunk, ok := m.chunk(link.ChunkIndex); ok {
			if chunk.setLink(m.ctx, link) {
				m.logger.Trace().Msgf("chunk %d: link expires at %v", link.ChunkIndex, link.ExpiryTime)
			}
		}
	}
}

// ReleaseAllChunks frees every downloaded chunk and cancels the chunks that
// are not finished. Returns the number of chunks released.
func (m *chunkDownloadManager) ReleaseAllChunks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var released int
	for _, chunk := range m.chunks {
		if chunk.Release() {
			released++
		} else {
			chunk.cancel(m.ctx, dbsqlerr.Cancelled)
		}
	}
	m.current = nil

	return released
}

// Close stops the download workers and releases all chunks. Safe to call
// more than once.
func (m *chunkDownloadManager) Close() {
	m.closeOnce.Do(func() {
		if m.pool != nil {
			m.pool.Close()
		}
		released := m.ReleaseAllChunks()
		m.logger.Debug().Msgf("cloud fetch: closed, released %d chunks", released)
	})
}
