package errors

import (
	"context"
	"fmt"

	"github.com/databricks/databricks-sql-go-cloudfetch/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/pkg/errors"
)

type databricksError struct {
	err           error
	correlationId string
	connectionId  string
	errType       string
}

var _ error = (*databricksError)(nil)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newDatabricksError(ctx context.Context, msg string, err error) databricksError {
	// create an error with the new message
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.WithMessage(err, msg)
	}

	// if the source error does not have a stack trace in its
	// error chain add a stack trace
	var st stackTracer
	if ok := errors.As(err, &st); !ok {
		err = errors.WithStack(err)
	}

	return databricksError{
		err:           err,
		correlationId: driverctx.CorrelationIdFromContext(ctx),
		connectionId:  driverctx.ConnIdFromContext(ctx),
		errType:       "unknown",
	}
}

func (e databricksError) Error() string {
	return fmt.Sprintf("databricks: %s: %s", e.errType, e.err.Error())
}

func (e databricksError) Cause() error {
	return e.err
}

func (e databricksError) StackTrace() errors.StackTrace {
	var st stackTracer
	if ok := errors.As(e.err, &st); ok {
		return st.StackTrace()
	}

	return nil
}

func (e databricksError) CorrelationId() string {
	return e.correlationId
}

func (e databricksError) ConnectionId() string {
	return e.connectionId
}

// driverError are issues with the driver itself, e.g. a chunk used in a
// state that does not allow it
type driverError struct {
	databricksError
}

var _ dbsqlerr.DBDriverError = (*driverError)(nil)

func (e driverError) Is(err error) bool {
	return err == dbsqlerr.DriverError
}

func (e driverError) Unwrap() error {
	return e.err
}

func NewDriverError(ctx context.Context, msg string, err error) *driverError {
	dbErr := newDatabricksError(ctx, msg, err)
	dbErr.errType = "driver error"
	return &driverError{databricksError: dbErr}
}

// NewInvalidStateError is a driver error that also matches
// dbsqlerr.InvalidStateAccess.
func NewInvalidStateError(ctx context.Context, msg string) *driverError {
	return NewDriverError(ctx, msg, dbsqlerr.InvalidStateAccess)
}

// requestError are errors caused by invalid requests, e.g. permission denied
// when resolving a chunk link
type requestError struct {
	databricksError
}

var _ dbsqlerr.DBRequestError = (*requestError)(nil)

func (e requestError) Is(err error) bool {
	return err == dbsqlerr.RequestError
}

func (e requestError) Unwrap() error {
	return e.err
}

func NewRequestError(ctx context.Context, msg string, err error) *requestError {
	dbErr := newDatabricksError(ctx, msg, err)
	dbErr.errType = "request error"
	return &requestError{databricksError: dbErr}
}

// chunkError is a terminal failure of a single result chunk
type chunkError struct {
	databricksError
	chunkIndex   int
	statementId  string
	parseFailure bool
}

var _ dbsqlerr.DBChunkError = (*chunkError)(nil)

func (e chunkError) Is(err error) bool {
	return err == dbsqlerr.ChunkError
}

func (e chunkError) Unwrap() error {
	return e.err
}

func (e chunkError) ChunkIndex() int {
	return e.chunkIndex
}

func (e chunkError) StatementId() string {
	return e.statementId
}

func (e chunkError) IsParseFailure() bool {
	return e.parseFailure
}

// NewChunkError creates the error returned to the consumer when chunk
// chunkIndex can not be produced. cause should contain one of the chunk
// sentinels (ChunkDownloadFailure, ChunkParseFailure, Cancelled) so that
// callers can classify it with errors.Is.
func NewChunkError(ctx context.Context, chunkIndex int, msg string, cause error) *chunkError {
	statementId := driverctx.QueryIdFromContext(ctx)
	dbErr := newDatabricksError(ctx, fmt.Sprintf("chunk %d of statement %s: %s", chunkIndex, statementId, msg), cause)
	dbErr.errType = "chunk error"
	return &chunkError{
		databricksError: dbErr,
		chunkIndex:      chunkIndex,
		statementId:     statementId,
		parseFailure:    errors.Is(cause, dbsqlerr.ChunkParseFailure),
	}
}

// ParseFailure marks err as a parse failure while keeping it in the chain.
func ParseFailure(err error) error {
	return &causeWithSentinel{sentinel: dbsqlerr.ChunkParseFailure, err: err}
}

// DownloadFailure marks err as a download failure while keeping it in the chain.
func DownloadFailure(err error) error {
	return &causeWithSentinel{sentinel: dbsqlerr.ChunkDownloadFailure, err: err}
}

// Cancellation marks err, usually a context error, as a cancellation.
func Cancellation(err error) error {
	return &causeWithSentinel{sentinel: dbsqlerr.Cancelled, err: err}
}

type causeWithSentinel struct {
	sentinel error
	err      error
}

// the sentinel only classifies the cause, its text is already part of the
// message of the error wrapping it
func (c *causeWithSentinel) Error() string {
	if c.err == nil {
		return c.sentinel.Error()
	}
	return c.err.Error()
}

func (c *causeWithSentinel) Is(err error) bool {
	return err == c.sentinel
}

func (c *causeWithSentinel) Unwrap() error {
	return c.err
}

// wraps an error and adds trace if not already present
func WrapErr(err error, msg string) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		// wrap passed in error in a new error with the message
		return errors.WithMessage(err, msg)
	}

	// wrap passed in error in errors with the message and a stack trace
	return errors.Wrap(err, msg)
}

// adds a stack trace if not already present
func WrapErrf(err error, format string, args ...interface{}) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		// wrap passed in error in a new error with the formatted message
		return errors.WithMessagef(err, format, args...)
	}

	// wrap passed in error in errors with the formatted message and a stack trace
	return errors.Wrapf(err, format, args...)
}
