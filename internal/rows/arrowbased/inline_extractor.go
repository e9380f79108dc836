package arrowbased

import (
	"bytes"
	"context"
	"sync/atomic"

	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	"github.com/pkg/errors"
)

// InlineChunkExtractor turns the arrow batches embedded in a response into
// a single already downloaded chunk.
type InlineChunkExtractor struct {
	compressibleBatch
	chunk       *ResultChunk
	queue       Queue[ResultChunk]
	extractions int32
}

var _ ChunkSource = (*InlineChunkExtractor)(nil)

// NewInlineChunkExtractor decodes inline into chunk 0. There is no partial
// result, any failure is returned as a parse failure.
func NewInlineChunkExtractor(ctx context.Context, inline *client.InlineResult, cfg *config.Config) (*InlineChunkExtractor, error) {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if inline == nil {
		return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerr.ErrUnsupportedResultManifest, nil)
	}

	ice := &InlineChunkExtractor{
		compressibleBatch: compressibleBatch{
			useLz4Compression: cfg.UseLz4Compression.Resolve(ctx, config.ServerValue(inline.Lz4Compressed), false),
		},
		queue: NewQueue[ResultChunk](),
	}

	chunk, err := ice.extract(ctx, inline, cfg)
	if err != nil {
		return nil, err
	}

	ice.chunk = chunk
	ice.queue.Enqueue(chunk)

	return ice, nil
}

func (ice *InlineChunkExtractor) extract(ctx context.Context, inline *client.InlineResult, cfg *config.Config) (*ResultChunk, error) {
	atomic.AddInt32(&ice.extractions, 1)

	schemaBytes := inline.ArrowSchema
	if len(schemaBytes) == 0 {
		schema, err := columnDescsToArrowSchema(inline.Columns)
		if err != nil {
			return nil, dbsqlerrint.NewChunkError(ctx, 0, dbsqlerr.ErrInlineSchema, dbsqlerrint.ParseFailure(err))
		}

		schemaBytes, err = getArrowSchemaBytes(schema, cfg.Allocator)
		if err != nil {
			return nil, dbsqlerrint.NewChunkError(ctx, 0, dbsqlerr.ErrInlineSchema, dbsqlerrint.ParseFailure(err))
		}
	}

	var buf bytes.Buffer
	buf.Write(schemaBytes)

	var rowCount int64
	for _, b := range inline.Batches {
		if b == nil {
			continue
		}

		raw, err := ice.decompress(b.Batch)
		if err != nil {
			return nil, dbsqlerrint.NewChunkError(ctx, 0, dbsqlerr.ErrInlineBatch, dbsqlerrint.ParseFailure(err))
		}
		buf.Write(raw)
		rowCount += b.RowCount
	}

	byteCount := int64(buf.Len())
	records, err := getArrowRecords(&buf, cfg.Allocator)
	if err != nil {
		return nil, dbsqlerrint.NewChunkError(ctx, 0, dbsqlerr.ErrInlineBatch, dbsqlerrint.ParseFailure(err))
	}

	if n := countRecordRows(records); n != rowCount {
		releaseRecords(records)
		err := errors.Errorf(dbsqlerr.ErrChunkRowCountMismatch, n, rowCount)
		return nil, dbsqlerrint.NewChunkError(ctx, 0, dbsqlerr.ErrInlineBatch, dbsqlerrint.ParseFailure(err))
	}

	info := &client.ChunkInfo{
		ChunkIndex: 0,
		RowOffset:  0,
		RowCount:   rowCount,
		ByteCount:  byteCount,
	}

	return newDecodedChunk(info, records), nil
}

func (ice *InlineChunkExtractor) HasNext() bool {
	return ice.queue.Len() > 0
}

// Next returns the single chunk, only once.
func (ice *InlineChunkExtractor) Next(ctx context.Context) (*ResultChunk, error) {
	chunk := ice.queue.Dequeue()
	if chunk == nil {
		return nil, dbsqlerrint.NewInvalidStateError(ctx, dbsqlerr.ErrChunkReleased)
	}
	return chunk, nil
}

// ReleaseChunk frees the records of the chunk.
func (ice *InlineChunkExtractor) ReleaseChunk() bool {
	return ice.chunk.Release()
}

// Extractions is the number of times the inline batches were decoded.
func (ice *InlineChunkExtractor) Extractions() int {
	return int(atomic.LoadInt32(&ice.extractions))
}

func (ice *InlineChunkExtractor) Close() {
	ice.queue.Clear()
	ice.ReleaseChunk()
}
