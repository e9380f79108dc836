package arrowbased

import (
	"bytes"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	"github.com/pkg/errors"
)

// column types without a native mapping are read as strings
var toArrowTypeMap map[client.ColumnType]arrow.DataType = map[client.ColumnType]arrow.DataType{
	client.TypeBoolean:   arrow.FixedWidthTypes.Boolean,
	client.TypeTinyInt:   arrow.PrimitiveTypes.Int8,
	client.TypeSmallInt:  arrow.PrimitiveTypes.Int16,
	client.TypeInt:       arrow.PrimitiveTypes.Int32,
	client.TypeBigInt:    arrow.PrimitiveTypes.Int64,
	client.TypeFloat:     arrow.PrimitiveTypes.Float32,
	client.TypeDouble:    arrow.PrimitiveTypes.Float64,
	client.TypeTimestamp: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"},
	client.TypeDate:      arrow.FixedWidthTypes.Date32,
	client.TypeBinary:    arrow.BinaryTypes.Binary,
}

func columnTypeToArrowDataType(ct client.ColumnType) arrow.DataType {
	if at, ok := toArrowTypeMap[ct]; ok {
		return at
	}
	return arrow.BinaryTypes.String
}

func columnDescsToArrowSchema(columns []*client.ColumnDesc) (*arrow.Schema, error) {
	if len(columns) == 0 {
		return nil, errors.New("no column descriptors")
	}

	fields := make([]arrow.Field, len(columns))
	for i := range columns {
		if columns[i] == nil {
			return nil, errors.Errorf("nil column descriptor at position %d", i)
		}

		fields[i] = arrow.Field{
			Name:     columns[i].Name,
			Type:     columnTypeToArrowDataType(columns[i].Type),
			Nullable: true,
		}
	}

	return arrow.NewSchema(fields, nil), nil
}

// getArrowSchemaBytes serializes schema as the header of an IPC stream,
// without the end of stream marker, so record batch bytes can follow it.
func getArrowSchemaBytes(schema *arrow.Schema, allocator memory.Allocator) ([]byte, error) {
	if schema == nil {
		return nil, errors.New("nil table schema")
	}
	if allocator == nil {
		allocator = memory.DefaultAllocator
	}

	var output bytes.Buffer
	w := ipc.NewWriter(&output, ipc.WithSchema(schema), ipc.WithAllocator(allocator))
	err := w.Close()
	if err != nil {
		return nil, err
	}

	arrowSchemaBytes := output.Bytes()
	arrowSchemaBytes = arrowSchemaBytes[:len(arrowSchemaBytes)-8]

	return arrowSchemaBytes, nil
}
