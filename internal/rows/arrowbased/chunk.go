package arrowbased

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/rows/rowscanner"
)

// ChunkStatus is the download status of a ResultChunk.
type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota
	ChunkURLFetched
	ChunkDownloadInProgress
	ChunkDownloadSucceeded
	ChunkDownloadFailed
	ChunkDownloadFailedAborted
	ChunkCancelled
	ChunkReleased
)

var chunkStatusNames = []string{
	"PENDING",
	"URL_FETCHED",
	"DOWNLOAD_IN_PROGRESS",
	"DOWNLOAD_SUCCEEDED",
	"DOWNLOAD_FAILED",
	"DOWNLOAD_FAILED_ABORTED",
	"CANCELLED",
	"CHUNK_RELEASED",
}

func (s ChunkStatus) String() string {
	if s < 0 || int(s) >= len(chunkStatusNames) {
		return fmt.Sprintf("ChunkStatus(%d)", int(s))
	}
	return chunkStatusNames[s]
}

// IsTerminal is true for statuses that allow no further transition.
func (s ChunkStatus) IsTerminal() bool {
	return len(chunkTransitions[s]) == 0
}

// every status change of a chunk goes through transition which only
// allows the moves listed here
var chunkTransitions = map[ChunkStatus][]ChunkStatus{
	// a failed link resolution is a failed attempt
	ChunkPending:               {ChunkURLFetched, ChunkDownloadFailed, ChunkCancelled},
	ChunkURLFetched:            {ChunkURLFetched, ChunkDownloadInProgress, ChunkDownloadFailed, ChunkCancelled},
	ChunkDownloadInProgress:    {ChunkDownloadSucceeded, ChunkDownloadFailed, ChunkDownloadFailedAborted, ChunkCancelled},
	ChunkDownloadFailed:        {ChunkURLFetched, ChunkDownloadInProgress, ChunkDownloadFailedAborted, ChunkCancelled},
	ChunkDownloadSucceeded:     {ChunkReleased},
	ChunkDownloadFailedAborted: nil,
	ChunkCancelled:             nil,
	ChunkReleased:              nil,
}

func canTransition(from, to ChunkStatus) bool {
	for _, s := range chunkTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResultChunk is one chunk of a result together with its download state
// and, once downloaded, the decoded arrow records.
type ResultChunk struct {
	rowscanner.Delimiter
	chunkIndex int
	byteCount  int64

	mu             sync.Mutex
	status         ChunkStatus
	link           string
	expiryTime     time.Time
	httpHeaders    map[string]string
	nextChunkIndex *int
	records        []arrow.Record
	err            error
	attempts       int
	scheduled      bool

	ready     chan struct{}
	readyDone bool
}

func newResultChunk(info *client.ChunkInfo) *ResultChunk {
	return &ResultChunk{
		Delimiter:  rowscanner.NewDelimiter(info.RowOffset, info.RowCount),
		chunkIndex: info.ChunkIndex,
		byteCount:  info.ByteCount,
		status:     ChunkPending,
		ready:      make(chan struct{}),
	}
}

// newDecodedChunk creates a chunk that is already downloaded, used for
// results returned inline.
func newDecodedChunk(info *client.ChunkInfo, records []arrow.Record) *ResultChunk {
	rc := newResultChunk(info)
	rc.status = ChunkDownloadSucceeded
	rc.records = records
	rc.closeReady()
	return rc
}

func (rc *ResultChunk) ChunkIndex() int {
	return rc.chunkIndex
}

func (rc *ResultChunk) ByteCount() int64 {
	return rc.byteCount
}

func (rc *ResultChunk) Status() ChunkStatus {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

// Err is the error the chunk failed with, nil unless the chunk is failed,
// aborted or cancelled.
func (rc *ResultChunk) Err() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.err
}

// Attempts is the number of download attempts started for the chunk.
func (rc *ResultChunk) Attempts() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.attempts
}

// Ready is closed once the chunk is downloaded, aborted or cancelled.
func (rc *ResultChunk) Ready() <-chan struct{} {
	return rc.ready
}

// NextChunkIndex is nil for the last chunk. It is only known after the
// chunk link has been fetched.
func (rc *ResultChunk) NextChunkIndex(ctx context.Context) (*int, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.status == ChunkPending {
		return nil, dbsqlerrint.NewInvalidStateError(ctx, dbsqlerr.ErrNextChunkIndexNotFetched)
	}
	return rc.nextChunkIndex, nil
}

// IsLinkValid is false if no link was fetched yet or the link expires
// within buffer of now.
func (rc *ResultChunk) IsLinkValid(now time.Time, buffer time.Duration) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.isLinkValidLocked(now, buffer)
}

func (rc *ResultChunk) isLinkValidLocked(now time.Time, buffer time.Duration) bool {
	if rc.status == ChunkPending || rc.link == "" {
		return false
	}
	return now.Add(buffer).Before(rc.expiryTime)
}

// Link returns the current download URL and the headers to send with it.
func (rc *ResultChunk) Link() (string, map[string]string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.link, rc.httpHeaders
}

// setLink applies a freshly resolved link. Links for chunks that are
// downloading, downloaded or finished are ignored.
func (rc *ResultChunk) setLink(ctx context.Context, link *client.ChunkLink) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !canTransition(rc.status, ChunkURLFetched) || link == nil || link.URL == "" {
		return false
	}

	rc.link = link.URL
	rc.expiryTime = link.ExpiryTime
	rc.httpHeaders = link.HttpHeaders
	rc.nextChunkIndex = link.NextChunkIndex

	return rc.transitionLocked(ctx, ChunkURLFetched) == nil
}

// invalidateLink forces the next attempt to refresh the link.
func (rc *ResultChunk) invalidateLink() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.link = ""
}

// markScheduled returns true the first time it is called.
func (rc *ResultChunk) markScheduled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.scheduled {
		return false
	}
	rc.scheduled = true
	return true
}

// startDownload counts an attempt and moves the chunk to DOWNLOAD_IN_PROGRESS.
func (rc *ResultChunk) startDownload(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if err := rc.transitionLocked(ctx, ChunkDownloadInProgress); err != nil {
		return err
	}
	rc.attempts++
	return nil
}

// beginAttempt counts an attempt that fails before a download is started,
// e.g. because the link could not be resolved.
func (rc *ResultChunk) beginAttempt() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.attempts++
}

// succeed hands the decoded records to the chunk. If the chunk can no
// longer take them, e.g. it was cancelled meanwhile, the records are
// released and an error is returned.
func (rc *ResultChunk) succeed(ctx context.Context, records []arrow.Record) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if err := rc.transitionLocked(ctx, ChunkDownloadSucceeded); err != nil {
		releaseRecords(records)
		return err
	}
	rc.records = records
	rc.err = nil
	return nil
}

// fail records a failed attempt. The chunk may be retried.
func (rc *ResultChunk) fail(ctx context.Context, cause error) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if err := rc.transitionLocked(ctx, ChunkDownloadFailed); err != nil {
		return err
	}
	rc.err = cause
	return nil
}

// abort fails the chunk for good. cause defaults to the error of the last
// failed attempt.
func (rc *ResultChunk) abort(ctx context.Context, msg string, cause error) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if cause == nil {
		cause = rc.err
	}
	if err := rc.transitionLocked(ctx, ChunkDownloadFailedAborted); err != nil {
		return err
	}
	rc.err = dbsqlerrint.NewChunkError(ctx, rc.chunkIndex, msg, cause)
	return nil
}

// cancel moves a chunk that is not finished to CANCELLED. It returns false
// if the chunk was already terminal or downloaded.
func (rc *ResultChunk) cancel(ctx context.Context, cause error) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !canTransition(rc.status, ChunkCancelled) {
		return false
	}
	_ = rc.transitionLocked(ctx, ChunkCancelled)
	rc.err = dbsqlerrint.NewChunkError(ctx, rc.chunkIndex, dbsqlerr.ErrChunkCancelled, dbsqlerrint.Cancellation(cause))
	return true
}

// Records returns the decoded records. They stay valid until the chunk is
// released.
func (rc *ResultChunk) Records() []arrow.Record {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	records := make([]arrow.Record, len(rc.records))
	copy(records, rc.records)
	return records
}

// Release frees the records of a downloaded chunk and moves it to
// CHUNK_RELEASED. Returns false if there was nothing to release.
func (rc *ResultChunk) Release() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.status != ChunkDownloadSucceeded {
		return false
	}

	_ = rc.transitionLocked(context.Background(), ChunkReleased)
	releaseRecords(rc.records)
	rc.records = nil
	return true
}

func (rc *ResultChunk) transitionLocked(ctx context.Context, to ChunkStatus) error {
	if !canTransition(rc.status, to) {
		return dbsqlerrint.NewInvalidStateError(ctx, fmt.Sprintf(dbsqlerr.ErrInvalidChunkTransition, rc.status, to))
	}

	rc.status = to
	switch to {
	case ChunkDownloadSucceeded, ChunkDownloadFailedAborted, ChunkCancelled:
		rc.closeReady()
	}
	return nil
}

func (rc *ResultChunk) closeReady() {
	if !rc.readyDone {
		rc.readyDone = true
		close(rc.ready)
	}
}

func releaseRecords(records []arrow.Record) {
	for i := range records {
		if records[i] != nil {
			records[i].Release()
		}
	}
}
