package rows

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/rows/arrowbased"
	"github.com/databricks/databricks-sql-go-cloudfetch/rows"
)

// arrowRecordIterator hands out the records of a result stream chunk by
// chunk. A chunk is released once all of its records were returned.
type arrowRecordIterator struct {
	ctx        context.Context
	stream     *resultStream
	chunk      *arrowbased.ResultChunk
	records    []arrow.Record
	index      int
	isFinished bool
}

var _ rows.ArrowBatchIterator = (*arrowRecordIterator)(nil)

// Retrieve the next arrow record
func (ri *arrowRecordIterator) Next() (arrow.Record, error) {
	for {
		if ri.isFinished {
			// returning EOF indicates that there are no more records to iterate
			return nil, io.EOF
		}

		if ri.index < len(ri.records) {
			r := ri.records[ri.index]
			ri.index++

			// the caller releases its reference independently of the chunk
			r.Retain()
			return r, nil
		}

		if err := ri.getNextChunk(); err != nil {
			return nil, err
		}
	}
}

// Indicate whether there are any more records available
func (ri *arrowRecordIterator) HasNext() bool {
	if ri.isFinished {
		return false
	}
	return ri.index < len(ri.records) || ri.stream.source.HasNext()
}

// Free any resources associated with this iterator
func (ri *arrowRecordIterator) Close() {
	ri.isFinished = true
	ri.releaseChunk()
	_ = ri.stream.Close()
}

func (ri *arrowRecordIterator) getNextChunk() error {
	ri.releaseChunk()

	if !ri.stream.source.HasNext() {
		ri.isFinished = true
		return nil
	}

	chunk, err := ri.stream.source.Next(ri.ctx)
	if err != nil {
		return err
	}

	ri.chunk = chunk
	ri.records = chunk.Records()
	ri.index = 0
	return nil
}

func (ri *arrowRecordIterator) releaseChunk() {
	if ri.chunk != nil {
		ri.chunk.Release()
		ri.chunk = nil
	}
	ri.records = nil
	ri.index = 0
}
