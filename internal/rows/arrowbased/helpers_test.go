package arrowbased

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	"github.com/jonboulle/clockwork"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// makeRecord builds a record with ids start..start+n-1.
func makeRecord(mem memory.Allocator, start, n int64) arrow.Record {
	builder := array.NewRecordBuilder(mem, testSchema)
	defer builder.Release()

	for i := start; i < start+n; i++ {
		builder.Field(0).(*array.Int64Builder).Append(i)
		builder.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("row-%d", i))
	}

	return builder.NewRecord()
}

// generateArrowBytes serializes records with the given row counts as one
// IPC stream.
func generateArrowBytes(t *testing.T, start int64, batchRows ...int64) []byte {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(testSchema), ipc.WithAllocator(mem))
	for _, n := range batchRows {
		r := makeRecord(mem, start, n)
		require.NoError(t, w.Write(r))
		r.Release()
		start += n
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// generateBatchBytes returns a record batch message without schema header
// or end of stream marker, the way inline results carry them.
func generateBatchBytes(t *testing.T, start, n int64) []byte {
	schemaBytes, err := getArrowSchemaBytes(testSchema, nil)
	require.NoError(t, err)

	full := generateArrowBytes(t, start, n)
	return full[len(schemaBytes) : len(full)-8]
}

// corruptArrowBytes is a stream whose record batch body is cut short.
func corruptArrowBytes(t *testing.T, n int64) []byte {
	full := generateArrowBytes(t, 0, n)
	return full[:len(full)-24]
}

func lz4Compress(t *testing.T, b []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// chunkServer serves chunk i at /chunk/i and records the requests it got.
type chunkServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[int][]byte
	requests map[int]int
	tokens   []string
	status   map[int]int
	failures map[int]int
	block    chan struct{}
	started  chan int
	headers  []http.Header
}

func newChunkServer(t *testing.T) *chunkServer {
	cs := &chunkServer{
		bodies:   map[int][]byte{},
		requests: map[int]int{},
		status:   map[int]int{},
		failures: map[int]int{},
	}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *chunkServer) handle(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/chunk/"))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	cs.mu.Lock()
	cs.requests[index]++
	cs.tokens = append(cs.tokens, r.URL.Query().Get("token"))
	cs.headers = append(cs.headers, r.Header.Clone())
	body, status, block, started := cs.bodies[index], cs.status[index], cs.block, cs.started
	if cs.failures[index] > 0 {
		cs.failures[index]--
		status = http.StatusInternalServerError
	}
	cs.mu.Unlock()

	if started != nil {
		started <- index
	}
	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	if r.URL.Query().Get("token") == "stale" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (cs *chunkServer) setBody(index int, b []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.bodies[index] = b
}

// failFirst answers the next n requests for chunk index with a server error.
func (cs *chunkServer) failFirst(index int, n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failures[index] = n
}

func (cs *chunkServer) setStatus(index int, status int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.status[index] = status
}

// blockRequests holds every request until the returned func is called.
// Each request start is reported on started.
func (cs *chunkServer) blockRequests() (started <-chan int, release func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.block = make(chan struct{})
	cs.started = make(chan int, 100)
	block := cs.block
	var once sync.Once
	return cs.started, func() { once.Do(func() { close(block) }) }
}

func (cs *chunkServer) seenHeaders() []http.Header {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]http.Header(nil), cs.headers...)
}

func (cs *chunkServer) requestCount(index int) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests[index]
}

func (cs *chunkServer) seenTokens() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.tokens...)
}

func (cs *chunkServer) chunkURL(index int, token string) string {
	return fmt.Sprintf("%s/chunk/%d?token=%s", cs.URL, index, token)
}

// fakeResolver returns fresh links for the requested chunk and up to
// batch-1 following chunks.
type fakeResolver struct {
	server   *chunkServer
	clock    clockwork.Clock
	manifest *client.ResultManifest
	batch    int
	validFor time.Duration
	err      error
	mu       sync.Mutex
	calls    []int
}

var _ client.LinkResolver = (*fakeResolver)(nil)

func newFakeResolver(server *chunkServer, clock clockwork.Clock, manifest *client.ResultManifest) *fakeResolver {
	return &fakeResolver{server: server, clock: clock, manifest: manifest, batch: 1, validFor: time.Hour}
}

func (fr *fakeResolver) GetChunkLinks(ctx context.Context, statementId string, chunkIndex int) ([]*client.ChunkLink, error) {
	fr.mu.Lock()
	fr.calls = append(fr.calls, chunkIndex)
	err := fr.err
	fr.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var links []*client.ChunkLink
	for i := chunkIndex; i < chunkIndex+fr.batch && i < len(fr.manifest.Chunks); i++ {
		info := fr.manifest.Chunks[i]
		link := &client.ChunkLink{
			ChunkIndex:  info.ChunkIndex,
			RowOffset:   info.RowOffset,
			RowCount:    info.RowCount,
			ByteCount:   info.ByteCount,
			URL:         fr.server.chunkURL(i, "fresh"),
			ExpiryTime:  fr.clock.Now().Add(fr.validFor),
			HttpHeaders: map[string]string{"x-test-chunk": strconv.Itoa(i)},
		}
		if i+1 < len(fr.manifest.Chunks) {
			next := i + 1
			link.NextChunkIndex = &next
		}
		links = append(links, link)
	}

	return links, nil
}

func (fr *fakeResolver) callCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.calls)
}

// newTestManifest describes chunks with the given row counts and serves
// their bytes from server.
func newTestManifest(t *testing.T, server *chunkServer, rowCounts ...int64) *client.ResultManifest {
	manifest := &client.ResultManifest{StatementId: "stmt-1", TotalChunkCount: len(rowCounts)}

	var offset int64
	for i, n := range rowCounts {
		body := generateArrowBytes(t, offset, n)
		server.setBody(i, body)
		manifest.Chunks = append(manifest.Chunks, &client.ChunkInfo{
			ChunkIndex: i,
			RowOffset:  offset,
			RowCount:   n,
			ByteCount:  int64(len(body)),
		})
		offset += n
	}
	manifest.TotalRowCount = offset

	return manifest
}
