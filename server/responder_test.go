package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exzos28/torrent-streamer/config"
	"github.com/exzos28/torrent-streamer/engine"
	"github.com/exzos28/torrent-streamer/piece"
)

// fakeEngine serves a fully downloaded in-memory file.
type fakeEngine struct {
	data        []byte
	pieceLength int64
	failReader  bool
}

func (f *fakeEngine) PieceLength() int64 {
	return f.pieceLength
}

func (f *fakeEngine) ContentLength() int64 {
	return int64(len(f.data))
}

func (f *fakeEngine) NumPieces() int {
	return int((int64(len(f.data)) + f.pieceLength - 1) / f.pieceLength)
}

func (f *fakeEngine) Piece(index int) (engine.PieceRecord, bool) {
	if index < 0 || index >= f.NumPieces() {
		return engine.PieceRecord{}, false
	}
	return engine.PieceRecord{Index: index, Length: f.pieceLength}, true
}

func (f *fakeEngine) Select(_, _ int, _ engine.Priority)   {}
func (f *fakeEngine) Deselect(_, _ int, _ engine.Priority) {}

func (f *fakeEngine) NewReader(start, end int64) (io.ReadCloser, error) {
	if f.failReader {
		return nil, errors.New("boom")
	}
	return io.NopCloser(bytes.NewReader(f.data[start : end+1])), nil
}

func (f *fakeEngine) Subscribe() *engine.Subscription {
	return &engine.Subscription{C: make(chan engine.Progress)}
}

func testBinding(fileIndex int, name string, eng *fakeEngine) *binding {
	return &binding{
		fileIndex:   fileIndex,
		fileLength:  eng.ContentLength(),
		name:        name,
		contentType: "video/mp4",
		eng:         eng,
		sched:       piece.NewScheduler(eng, 0),
	}
}

func newTestServer(t *testing.T, contentLength int64, chunkSize int64, failReader bool) (*Server, *fakeEngine) {
	t.Helper()
	data := make([]byte, contentLength)
	for i := range data {
		data[i] = byte(i % 251)
	}
	eng := &fakeEngine{data: data, pieceLength: 256, failReader: failReader}

	cfg := config.Default()
	cfg.ChunkSize = chunkSize
	manager := NewManager(cfg, nil)
	sess := &session{
		id:           "deadbeef",
		defaultIndex: 0,
		bindings:     map[int]*binding{0: testBinding(0, "movie.mp4", eng)},
	}
	manager.sessions[sess.id] = sess
	return New(cfg, manager), eng
}

func get(srv *Server, target, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStreamInitialChunk(t *testing.T) {
	srv, eng := newTestServer(t, 1000000, 1000, false)

	rec := get(srv, "/stream/deadbeef", "")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-999/1000000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, eng.data[:1000], rec.Body.Bytes())
}

func TestStreamOpenRange(t *testing.T) {
	srv, eng := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/deadbeef", "bytes=500-")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 500-1499/2000", rec.Header().Get("Content-Range"))
	assert.Equal(t, eng.data[500:1500], rec.Body.Bytes())
}

func TestStreamSuffixRange(t *testing.T) {
	srv, eng := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/deadbeef", "bytes=-100")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 1900-1999/2000", rec.Header().Get("Content-Range"))
	assert.Equal(t, eng.data[1900:], rec.Body.Bytes())
}

func TestStreamUnsatisfiableRange(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/deadbeef", "bytes=1800-100")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */2000", rec.Header().Get("Content-Range"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestStreamMalformedRange(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/deadbeef", "bytes=10-20,30-40")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestStreamUnknownTorrent(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/cafebabe", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamBadFileIndex(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/stream/deadbeef?file=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamPerFileBindings(t *testing.T) {
	srv, eng := newTestServer(t, 2000, 1000, false)

	other := make([]byte, 3000)
	for i := range other {
		other[i] = byte(i % 239)
	}
	otherEng := &fakeEngine{data: other, pieceLength: 256}
	sess, _ := srv.manager.Get("deadbeef")
	sess.mu.Lock()
	sess.bindings[1] = testBinding(1, "extras.mp4", otherEng)
	sess.mu.Unlock()

	// interleaved requests on different files each see their own file's
	// length, offsets and bytes
	rec := get(srv, "/stream/deadbeef?file=1", "bytes=0-499")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-499/3000", rec.Header().Get("Content-Range"))
	assert.Equal(t, other[:500], rec.Body.Bytes())

	rec = get(srv, "/stream/deadbeef", "bytes=0-499")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-499/2000", rec.Header().Get("Content-Range"))
	assert.Equal(t, eng.data[:500], rec.Body.Bytes())
}

func TestStreamReaderFailureIs500(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, true)

	rec := get(srv, "/stream/deadbeef", "bytes=0-99")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStreamHeadRequest(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	req := httptest.NewRequest(http.MethodHead, "/stream/deadbeef", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-999/2000", rec.Header().Get("Content-Range"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 2000, 1000, false)

	rec := get(srv, "/torrents/deadbeef", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadbeef")
	assert.Contains(t, rec.Body.String(), "movie.mp4")

	rec = get(srv, "/torrents/cafebabe", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
