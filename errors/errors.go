package errors

import "github.com/pkg/errors"

// Error messages
const (
	// Chunk download and decode
	ErrLinkExpired               = "chunk link expired"
	ErrChunkDownloadFailed       = "failed to download result chunk"
	ErrChunkDownloadHTTPStatus   = "result chunk download returned HTTP status %d"
	ErrChunkParse                = "failed to parse result chunk as arrow IPC stream"
	ErrChunkRowCountMismatch     = "result chunk contains %d rows, manifest declares %d"
	ErrChunkCancelled            = "result chunk download cancelled"
	ErrChunkReleased             = "result chunk already released"
	ErrChunkLinkFetch            = "failed to fetch result chunk link"
	ErrChunkNoLink               = "no link returned for result chunk"
	ErrInvalidChunkTransition    = "invalid chunk state transition %s -> %s"
	ErrNextChunkIndexNotFetched  = "next chunk index requested before the chunk link was fetched"
	ErrChunkIndexOutOfRange      = "chunk index %d out of range [0, %d)"
	ErrInlineSchema              = "unable to build arrow schema for inline results"
	ErrInlineBatch               = "unable to read inline arrow batch"
	ErrResultStreamClosed        = "result stream is closed"
	ErrResultStreamNoCurrentRow  = "no current row, Next must be called first"
	ErrResultStreamRowsMissing   = "result stream ended after %d rows, manifest declares %d"
	ErrResultStreamMixedAccess   = "rows and arrow batches cannot both be read from one result stream"
	ErrInvalidColumnIndex        = "invalid column index: %d"
	ErrUnsupportedResultManifest = "result manifest has neither chunks nor inline batches"
)

// value to be used with errors.Is() to determine if an error chain contains a request error
var RequestError error = errors.New("Request Error")

// value to be used with errors.Is() to determine if an error chain contains a driver error
var DriverError error = errors.New("Driver Error")

// value to be used with errors.Is() to determine if an error chain contains a chunk error
var ChunkError error = errors.New("Chunk Error")

// value to be used with errors.Is() to determine if a chunk link was expired or never fetched
var LinkExpired error = errors.New(ErrLinkExpired)

// value to be used with errors.Is() to determine if a chunk could not be downloaded
var ChunkDownloadFailure error = errors.New(ErrChunkDownloadFailed)

// value to be used with errors.Is() to determine if chunk bytes were not valid arrow
var ChunkParseFailure error = errors.New(ErrChunkParse)

// value to be used with errors.Is() to determine if a chunk was used in a state that does not allow it
var InvalidStateAccess error = errors.New("Invalid State Access")

// value to be used with errors.Is() to determine if the result stream was cancelled
var Cancelled error = errors.New(ErrChunkCancelled)

// Base interface for driver errors
type DBError interface {
	// Descriptive message describing the error
	Error() string

	// User specified id to track what happens under a request. Useful to track multiple connections in the same request.
	// Appears in log messages as field corrId.  See driverctx.NewContextWithCorrelationId()
	CorrelationId() string

	// Internal id to track what happens under a connection. Connections can be reused so this would track across queries.
	// Appears in log messages as field connId.
	ConnectionId() string

	// Stack trace associated with the error.  May be nil.
	StackTrace() errors.StackTrace

	// Underlying causative error. May be nil.
	Cause() error
}

// An error that is caused by an invalid request.
// Example: the link resolution call was rejected
type DBRequestError interface {
	DBError
}

// A fault that is caused by the driver itself, for example using a chunk
// before its link was fetched.
type DBDriverError interface {
	DBError
}

// A failure to download or decode one chunk of a result. A chunk error
// aborts the whole result stream.
type DBChunkError interface {
	DBError

	// Index of the failing chunk in the result.
	ChunkIndex() int

	// Statement whose result the chunk belongs to.
	StatementId() string

	// True if the failure was caused by corrupt chunk bytes. These are never retried.
	IsParseFailure() bool
}
