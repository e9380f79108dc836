package arrowbased

import (
	"bytes"
	"io"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pierrec/lz4/v4"
)

type compressibleBatch struct {
	useLz4Compression bool
}

// decompress returns the raw arrow bytes of a chunk body.
func (cb compressibleBatch) decompress(body []byte) ([]byte, error) {
	if !cb.useLz4Compression {
		return body, nil
	}

	var out bytes.Buffer
	if _, err := io.Copy(&out, lz4.NewReader(bytes.NewReader(body))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// getArrowRecords reads every record of an arrow IPC stream. Records are
// retained so they outlive the reader, which is released before returning.
func getArrowRecords(r io.Reader, allocator memory.Allocator) ([]arrow.Record, error) {
	if allocator == nil {
		allocator = memory.DefaultAllocator
	}

	ipcReader, err := ipc.NewReader(r, ipc.WithAllocator(allocator))
	if err != nil {
		return nil, err
	}

	defer ipcReader.Release()

	var records []arrow.Record
	for ipcReader.Next() {
		r := ipcReader.Record()
		r.Retain()

		records = append(records, r)
	}

	if ipcReader.Err() != nil {
		releaseRecords(records)
		return nil, ipcReader.Err()
	}

	return records, nil
}

func countRecordRows(records []arrow.Record) int64 {
	var n int64
	for i := range records {
		n += records[i].NumRows()
	}
	return n
}
