package client

import (
	"context"
	"strings"
	"time"
)

// ChunkInfo is the manifest entry of one chunk. It is known up front,
// independent of the chunk's eventual download status.
type ChunkInfo struct {
	ChunkIndex int
	RowOffset  int64
	RowCount   int64
	ByteCount  int64
}

// ChunkLink is a pre-signed URL for the bytes of one chunk.
type ChunkLink struct {
	ChunkIndex int
	RowOffset  int64
	RowCount   int64
	ByteCount  int64

	URL        string
	ExpiryTime time.Time

	// headers the storage provider requires on the GET request
	HttpHeaders map[string]string

	// nil for the last chunk of the result
	NextChunkIndex *int
}

// ResultManifest describes the chunk layout of a cloud fetch result.
type ResultManifest struct {
	StatementId     string
	TotalChunkCount int
	TotalRowCount   int64

	// chunk bodies are lz4 frames
	Lz4Compressed bool

	// serialized arrow schema, may be nil
	ArrowSchema []byte

	Chunks []*ChunkInfo

	// links the server already returned with the manifest, may be empty
	Links []*ChunkLink
}

// InlineBatch is one raw arrow record batch embedded in the protocol response.
type InlineBatch struct {
	Batch    []byte
	RowCount int64
}

// InlineResult is a result small enough to be returned inline. Either
// ArrowSchema or Columns must be set.
type InlineResult struct {
	ArrowSchema   []byte
	Columns       []*ColumnDesc
	Batches       []*InlineBatch
	Lz4Compressed bool
}

// RowCount is the sum of the row counts of all batches.
func (ir *InlineResult) RowCount() int64 {
	if ir == nil {
		return 0
	}

	var n int64
	for _, b := range ir.Batches {
		if b != nil {
			n += b.RowCount
		}
	}
	return n
}

// ColumnDesc names a result column and its server side type.
type ColumnDesc struct {
	Name string
	Type ColumnType
}

// ColumnType is the server side primitive type id of a column.
type ColumnType int

const (
	TypeUnknown ColumnType = iota
	TypeBoolean
	TypeTinyInt
	TypeSmallInt
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeString
	TypeTimestamp
	TypeBinary
	TypeArray
	TypeMap
	TypeStruct
	TypeUnion
	TypeUserDefined
	TypeDecimal
	TypeNull
	TypeDate
	TypeVarchar
	TypeChar
	TypeIntervalYearMonth
	TypeIntervalDayTime
)

var columnTypeNames = []string{
	"UNKNOWN",
	"BOOLEAN",
	"TINYINT",
	"SMALLINT",
	"INT",
	"BIGINT",
	"FLOAT",
	"DOUBLE",
	"STRING",
	"TIMESTAMP",
	"BINARY",
	"ARRAY",
	"MAP",
	"STRUCT",
	"UNION",
	"USER_DEFINED",
	"DECIMAL",
	"NULL",
	"DATE",
	"VARCHAR",
	"CHAR",
	"INTERVAL_YEAR_MONTH",
	"INTERVAL_DAY_TIME",
}

func (ct ColumnType) String() string {
	if ct < 0 || int(ct) >= len(columnTypeNames) {
		return columnTypeNames[TypeUnknown]
	}
	return columnTypeNames[ct]
}

// aliases used by the statement execution API
var columnTypeAliases = map[string]ColumnType{
	"BYTE":              TypeTinyInt,
	"SHORT":             TypeSmallInt,
	"INTEGER":           TypeInt,
	"LONG":              TypeBigInt,
	"INTERVAL":          TypeIntervalDayTime,
	"USER_DEFINED_TYPE": TypeUserDefined,
}

// ParseColumnType maps a server type name to a ColumnType. Unknown names
// map to TypeUnknown.
func ParseColumnType(name string) ColumnType {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range columnTypeNames {
		if n == name {
			return ColumnType(i)
		}
	}
	if ct, ok := columnTypeAliases[name]; ok {
		return ct
	}
	return TypeUnknown
}

// LinkResolver obtains fresh pre-signed links for the chunks of a statement.
// The returned links start at chunkIndex and may cover following chunks too.
type LinkResolver interface {
	GetChunkLinks(ctx context.Context, statementId string, chunkIndex int) ([]*ChunkLink, error)
}
