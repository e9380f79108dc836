package errors

import (
	"context"
	"strings"
	"testing"

	"github.com/databricks/databricks-sql-go-cloudfetch/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestDbSqlErrors(t *testing.T) {

	t.Run("errors.Is/As works with driver error values", func(t *testing.T) {
		// Create a driver error and wrap it in a regular error
		cause := errors.New("cause")
		var driverError error = NewDriverError(context.TODO(), "driver error", cause)
		e := errors.Wrap(driverError, "is wrapped")

		m := e.Error()
		assert.NotNil(t, m)
		assert.Equal(t, "is wrapped: databricks: driver error: driver error: cause", m)

		// Should return true for its sentinel value
		assert.True(t, errors.Is(e, dbsqlerr.DriverError))

		// should return true for actual driver error
		assert.True(t, errors.Is(e, driverError))

		// should return true for cause if driver error is unwrapping correctly
		assert.True(t, errors.Is(e, cause))

		var ee dbsqlerr.DBDriverError
		assert.True(t, errors.As(e, &ee))
		assert.Equal(t, ee, driverError)
	})

	t.Run("errors.Is/As works with request error values", func(t *testing.T) {
		cause := errors.New("cause")
		var requestError error = NewRequestError(context.TODO(), "request error", cause)
		e := errors.Wrap(requestError, "is wrapped")

		assert.Equal(t, "is wrapped: databricks: request error: request error: cause", e.Error())
		assert.True(t, errors.Is(e, dbsqlerr.RequestError))
		assert.True(t, errors.Is(e, requestError))
		assert.True(t, errors.Is(e, cause))

		var ee dbsqlerr.DBRequestError
		assert.True(t, errors.As(e, &ee))
		assert.Equal(t, ee, requestError)
	})

	t.Run("invalid state errors match InvalidStateAccess", func(t *testing.T) {
		err := NewInvalidStateError(context.TODO(), dbsqlerr.ErrNextChunkIndexNotFetched)
		assert.True(t, errors.Is(err, dbsqlerr.InvalidStateAccess))
		assert.True(t, errors.Is(err, dbsqlerr.DriverError))
		assert.False(t, errors.Is(err, dbsqlerr.ChunkError))
	})

	t.Run("chunk errors carry chunk index and statement id", func(t *testing.T) {
		ctx := driverctx.NewContextWithQueryId(context.Background(), "stmt-1")
		ctx = driverctx.NewContextWithConnId(ctx, "conn-1")
		ctx = driverctx.NewContextWithCorrelationId(ctx, "corr-1")

		cause := ParseFailure(errors.New("arrow/ipc: invalid message"))
		var chunkErr error = NewChunkError(ctx, 3, dbsqlerr.ErrChunkParse, cause)
		e := errors.Wrap(chunkErr, "is wrapped")

		assert.Equal(t,
			"is wrapped: databricks: chunk error: chunk 3 of statement stmt-1: "+dbsqlerr.ErrChunkParse+": arrow/ipc: invalid message",
			e.Error())
		assert.True(t, errors.Is(e, dbsqlerr.ChunkError))
		assert.True(t, errors.Is(e, dbsqlerr.ChunkParseFailure))
		assert.False(t, errors.Is(e, dbsqlerr.ChunkDownloadFailure))

		var ce dbsqlerr.DBChunkError
		assert.True(t, errors.As(e, &ce))
		assert.Equal(t, 3, ce.ChunkIndex())
		assert.Equal(t, "stmt-1", ce.StatementId())
		assert.Equal(t, "conn-1", ce.ConnectionId())
		assert.Equal(t, "corr-1", ce.CorrelationId())
		assert.True(t, ce.IsParseFailure())
		assert.NotNil(t, ce.StackTrace())
	})

	t.Run("download failures are classified", func(t *testing.T) {
		err := NewChunkError(context.Background(), 0, dbsqlerr.ErrChunkDownloadFailed, DownloadFailure(errors.New("EOF")))
		assert.True(t, errors.Is(err, dbsqlerr.ChunkDownloadFailure))
		assert.False(t, err.IsParseFailure())
		assert.Equal(t, 1, strings.Count(err.Error(), dbsqlerr.ErrChunkDownloadFailed))
		assert.Contains(t, err.Error(), dbsqlerr.ErrChunkDownloadFailed+": EOF")
	})

	t.Run("cancelled chunk errors match Cancelled", func(t *testing.T) {
		err := NewChunkError(context.Background(), 1, dbsqlerr.ErrChunkCancelled, dbsqlerr.Cancelled)
		assert.True(t, errors.Is(err, dbsqlerr.Cancelled))
		assert.True(t, errors.Is(err, dbsqlerr.ChunkError))
	})

	t.Run("context errors marked as cancellation", func(t *testing.T) {
		err := NewChunkError(context.Background(), 2, dbsqlerr.ErrChunkCancelled, Cancellation(context.Canceled))
		assert.True(t, errors.Is(err, dbsqlerr.Cancelled))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, dbsqlerr.ChunkDownloadFailure))
		assert.Contains(t, err.Error(), "result chunk download cancelled: context canceled")

		assert.Equal(t, dbsqlerr.ErrChunkCancelled, Cancellation(nil).Error())
	})

	t.Run("WrapErr only adds a stack trace once", func(t *testing.T) {
		base := errors.New("base")
		wrapped := WrapErr(base, "outer")
		assert.Equal(t, "outer: base", wrapped.Error())

		var st stackTracer
		assert.True(t, errors.As(wrapped, &st))

		plain := WrapErrf(context.Canceled, "chunk %d", 2)
		assert.Equal(t, "chunk 2: context canceled", plain.Error())
		assert.True(t, errors.Is(plain, context.Canceled))
	})
}
