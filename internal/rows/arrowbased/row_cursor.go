package arrowbased

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v12/arrow"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
)

// RowCursor walks the rows of one downloaded chunk, batch by batch.
type RowCursor struct {
	ctx     context.Context
	records []arrow.Record

	// index of the current record batch, -1 before the first row
	batchIndex int

	// row within the current batch
	row int64

	// number of rows in the current batch
	batchRowCount int64

	columnValues []columnValues
}

// NewRowCursor creates a cursor over the records of chunk. The cursor must
// not be used after the chunk is released.
func NewRowCursor(ctx context.Context, chunk *ResultChunk) *RowCursor {
	return &RowCursor{
		ctx:        ctx,
		records:    chunk.Records(),
		batchIndex: -1,
	}
}

// NextRow moves to the next row, loading the next non empty batch when the
// current one is used up. It returns false if there are no more rows.
func (rc *RowCursor) NextRow() bool {
	if rc.batchIndex >= 0 && rc.batchIndex < len(rc.records) && rc.row+1 < rc.batchRowCount {
		rc.row++
		return true
	}

	for rc.batchIndex < len(rc.records) {
		rc.batchIndex++
		rc.columnValues = nil
		if rc.batchIndex >= len(rc.records) {
			return false
		}

		if n := batchRowCount(rc.records[rc.batchIndex]); n > 0 {
			rc.row = 0
			rc.batchRowCount = n
			rc.columnValues = makeColumnValues(rc.records[rc.batchIndex])
			return true
		}
	}

	return false
}

// HasNextRow is true if there are remaining rows in the current batch or in
// a following batch.
func (rc *RowCursor) HasNextRow() bool {
	if rc.batchIndex >= 0 && rc.batchIndex < len(rc.records) && rc.row+1 < rc.batchRowCount {
		return true
	}

	for i := rc.batchIndex + 1; i < len(rc.records); i++ {
		if batchRowCount(rc.records[i]) > 0 {
			return true
		}
	}

	return false
}

// Value returns the decoded value of column col at the current row, nil
// for nulls.
func (rc *RowCursor) Value(col int) (any, error) {
	if rc.columnValues == nil {
		return nil, dbsqlerrint.NewInvalidStateError(rc.ctx, dbsqlerr.ErrResultStreamNoCurrentRow)
	}

	if col < 0 || col >= len(rc.columnValues) {
		return nil, dbsqlerrint.NewDriverError(rc.ctx, fmt.Sprintf(dbsqlerr.ErrInvalidColumnIndex, col), nil)
	}

	cv := rc.columnValues[col]
	if cv.IsNull(int(rc.row)) {
		return nil, nil
	}

	return cv.Value(int(rc.row)), nil
}

// the row count of a batch is the length of its first column
func batchRowCount(r arrow.Record) int64 {
	if r.NumCols() == 0 {
		return r.NumRows()
	}
	return int64(r.Column(0).Len())
}
