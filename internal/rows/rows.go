package rows

import (
	"context"
	"fmt"

	"github.com/databricks/databricks-sql-go-cloudfetch/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/rows/arrowbased"
	dbsqllog "github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/databricks/databricks-sql-go-cloudfetch/rows"
)

type accessMode int

const (
	accessNone accessMode = iota
	accessRows
	accessBatches
)

// resultStream implements rows.ResultStream over a source of chunks, either
// the cloud fetch download manager or the inline extractor.
type resultStream struct {
	ctx context.Context

	// hands out the chunks in order
	source arrowbased.ChunkSource

	// true for results returned inline
	inline bool

	// chunk the cursor is reading and the cursor itself
	chunk  *arrowbased.ResultChunk
	cursor *arrowbased.RowCursor

	// absolute number of the current row, -1 before the first row
	currentRow int64

	// rows the server declared for the result, -1 if unknown
	totalRows int64

	mode   accessMode
	closed bool

	logger *dbsqllog.DBSQLLogger
}

var _ rows.ResultStream = (*resultStream)(nil)

// NewResultStream returns a stream reading the chunks of source. If
// totalRows is not negative, ending with fewer rows is an error.
func NewResultStream(ctx context.Context, source arrowbased.ChunkSource, inline bool, totalRows int64) *resultStream {
	logger := dbsqllog.WithContext(driverctx.ConnIdFromContext(ctx), driverctx.CorrelationIdFromContext(ctx), driverctx.QueryIdFromContext(ctx))

	return &resultStream{
		ctx:        ctx,
		source:     source,
		inline:     inline,
		currentRow: -1,
		totalRows:  totalRows,
		logger:     logger,
	}
}

func (rs *resultStream) HasNext() bool {
	if rs.closed {
		return false
	}
	if rs.cursor != nil && rs.cursor.HasNextRow() {
		return true
	}
	return rs.source.HasNext()
}

func (rs *resultStream) Next() (bool, error) {
	if rs.closed {
		return false, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamClosed)
	}
	if rs.mode == accessBatches {
		return false, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamMixedAccess)
	}
	rs.mode = accessRows

	for {
		if rs.cursor != nil && rs.cursor.NextRow() {
			rs.currentRow++
			return true, nil
		}

		// the rows of the current chunk are used up
		rs.releaseChunk()

		if !rs.source.HasNext() {
			return false, rs.checkRowCount()
		}

		chunk, err := rs.source.Next(rs.ctx)
		if err != nil {
			rs.logger.Err(err).Msg("result stream: unable to get next chunk")
			return false, err
		}

		rs.chunk = chunk
		rs.cursor = arrowbased.NewRowCursor(rs.ctx, chunk)
	}
}

func (rs *resultStream) GetObject(columnIndex int) (any, error) {
	if rs.closed {
		return nil, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamClosed)
	}
	if rs.cursor == nil || rs.currentRow < 0 {
		return nil, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamNoCurrentRow)
	}

	return rs.cursor.Value(columnIndex)
}

func (rs *resultStream) GetCurrentRow() int64 {
	return rs.currentRow
}

func (rs *resultStream) Close() error {
	if rs.closed {
		return nil
	}

	rs.closed = true
	rs.cursor = nil
	rs.chunk = nil
	rs.source.Close()

	rs.logger.Debug().Msgf("result stream: closed after %d rows, inline %t", rs.currentRow+1, rs.inline)
	return nil
}

func (rs *resultStream) GetArrowBatches(ctx context.Context) (rows.ArrowBatchIterator, error) {
	if rs.closed {
		return nil, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamClosed)
	}
	if rs.mode != accessNone {
		return nil, dbsqlerrint.NewInvalidStateError(rs.ctx, dbsqlerr.ErrResultStreamMixedAccess)
	}
	rs.mode = accessBatches

	if ctx == nil {
		ctx = rs.ctx
	}

	return &arrowRecordIterator{ctx: ctx, stream: rs}, nil
}

func (rs *resultStream) releaseChunk() {
	if rs.chunk != nil {
		rs.chunk.Release()
		rs.chunk = nil
	}
	rs.cursor = nil
}

func (rs *resultStream) checkRowCount() error {
	produced := rs.currentRow + 1
	if rs.totalRows >= 0 && produced < rs.totalRows {
		return dbsqlerrint.NewDriverError(rs.ctx, fmt.Sprintf(dbsqlerr.ErrResultStreamRowsMissing, produced, rs.totalRows), nil)
	}
	return nil
}
