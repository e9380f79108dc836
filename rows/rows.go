package rows

import (
	"context"

	"github.com/apache/arrow/go/v12/arrow"
)

// ResultStream is a forward only cursor over the rows of a result.
type ResultStream interface {
	// Return true if a following call to Next may produce a row.
	HasNext() bool

	// Move to the next row. Returns false, nil at the end of the result and
	// an error if a chunk of the result could not be downloaded or decoded.
	Next() (bool, error)

	// Value of column columnIndex (0 based) at the current row, nil for
	// SQL NULL. Values are returned as decoded from arrow, e.g.
	// arrow.Timestamp for timestamps.
	GetObject(columnIndex int) (any, error)

	// Row number of the current row in the result, -1 before the first call to Next.
	GetCurrentRow() int64

	// Release the chunks held by the stream. Safe to call more than once.
	Close() error

	// Iterate the result as arrow records instead of rows. Cannot be mixed
	// with Next on the same stream.
	GetArrowBatches(context.Context) (ArrowBatchIterator, error)
}

type ArrowBatchIterator interface {
	// Retrieve the next arrow.Record. The caller must Release it.
	// Will return io.EOF if there are no more records
	Next() (arrow.Record, error)

	// Return true if the iterator contains more batches, false otherwise.
	HasNext() bool

	// Release any resources in use by the iterator.
	Close()
}
