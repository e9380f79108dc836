package arrowbased

import (
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
)

// columnValues is the interface for accessing the values for a column
type columnValues interface {
	Value(int) any
	IsNull(int) bool
}

// a type constraint for the value types which we handle that are returned in the arrow records
type valueTypes interface {
	bool |
		int8 |
		int16 |
		int32 |
		int64 |
		uint8 |
		uint16 |
		uint32 |
		uint64 |
		float32 |
		float64 |
		string |
		arrow.Date32 |
		arrow.Date64 |
		[]byte |
		decimal128.Num |
		arrow.Timestamp
}

// a type constraint for the arrow array types which we handle that are returned in the arrow records
type arrowArrayTypes interface {
	*array.Boolean |
		*array.Int8 |
		*array.Int16 |
		*array.Int32 |
		*array.Int64 |
		*array.Uint8 |
		*array.Uint16 |
		*array.Uint32 |
		*array.Uint64 |
		*array.Float32 |
		*array.Float64 |
		*array.String |
		*array.Date32 |
		*array.Date64 |
		*array.Binary |
		*array.Decimal128 |
		*array.Timestamp
}

// type constraint for wrapping arrow arrays
type columnValuesHolder[T valueTypes] interface {
	arrowArrayTypes
	Value(int) T
	IsNull(int) bool
}

// a generic container for the arrow arrays/value types we handle
type columnValuesTyped[ValueHolderType columnValuesHolder[ValueType], ValueType valueTypes] struct {
	holder ValueHolderType
}

// return the value for the specified row
func (cv *columnValuesTyped[X, T]) Value(rowNum int) any {
	return cv.holder.Value(rowNum)
}

// return true if the value at rowNum is null
func (cv *columnValuesTyped[X, T]) IsNull(rowNum int) bool {
	return cv.holder.IsNull(rowNum)
}

var _ columnValues = (*columnValuesTyped[*array.Int16, int16])(nil)

// binary values point into the record buffers, the caller gets a copy that
// outlives the chunk
type binaryValues struct {
	holder *array.Binary
}

func (bv *binaryValues) Value(rowNum int) any {
	v := bv.holder.Value(rowNum)
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (bv *binaryValues) IsNull(rowNum int) bool {
	return bv.holder.IsNull(rowNum)
}

// nested and less common types are returned in their marshal form, e.g.
// []any for lists and map[string]any for structs
type marshalValues struct {
	holder arrow.Array
}

func (mv *marshalValues) Value(rowNum int) any {
	return mv.holder.GetOneForMarshal(rowNum)
}

func (mv *marshalValues) IsNull(rowNum int) bool {
	return mv.holder.IsNull(rowNum)
}

// makeColumnValues wraps the columns of a record.
func makeColumnValues(r arrow.Record) []columnValues {
	columns := make([]columnValues, r.NumCols())
	for i, col := range r.Columns() {
		switch c := col.(type) {

		case *array.Boolean:
			columns[i] = &columnValuesTyped[*array.Boolean, bool]{holder: c}

		case *array.Int8:
			columns[i] = &columnValuesTyped[*array.Int8, int8]{holder: c}

		case *array.Int16:
			columns[i] = &columnValuesTyped[*array.Int16, int16]{holder: c}

		case *array.Int32:
			columns[i] = &columnValuesTyped[*array.Int32, int32]{holder: c}

		case *array.Int64:
			columns[i] = &columnValuesTyped[*array.Int64, int64]{holder: c}

		case *array.Uint8:
			columns[i] = &columnValuesTyped[*array.Uint8, uint8]{holder: c}

		case *array.Uint16:
			columns[i] = &columnValuesTyped[*array.Uint16, uint16]{holder: c}

		case *array.Uint32:
			columns[i] = &columnValuesTyped[*array.Uint32, uint32]{holder: c}

		case *array.Uint64:
			columns[i] = &columnValuesTyped[*array.Uint64, uint64]{holder: c}

		case *array.Float32:
			columns[i] = &columnValuesTyped[*array.Float32, float32]{holder: c}

		case *array.Float64:
			columns[i] = &columnValuesTyped[*array.Float64, float64]{holder: c}

		case *array.String:
			columns[i] = &columnValuesTyped[*array.String, string]{holder: c}

		case *array.Decimal128:
			columns[i] = &columnValuesTyped[*array.Decimal128, decimal128.Num]{holder: c}

		case *array.Date32:
			columns[i] = &columnValuesTyped[*array.Date32, arrow.Date32]{holder: c}

		case *array.Date64:
			columns[i] = &columnValuesTyped[*array.Date64, arrow.Date64]{holder: c}

		case *array.Timestamp:
			columns[i] = &columnValuesTyped[*array.Timestamp, arrow.Timestamp]{holder: c}

		case *array.Binary:
			columns[i] = &binaryValues{holder: c}

		default:
			columns[i] = &marshalValues{holder: col}
		}
	}

	return columns
}
