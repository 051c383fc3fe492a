package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/exzos28/torrent-streamer/byterange"
	"github.com/exzos28/torrent-streamer/metrics"
)

// handleStream serves one partial-content request: parse and normalize the
// range, reprioritize the engine, wait (bounded) for the pieces, then
// stream. Responses are always 206, never 200, even without a Range
// header.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "torrent not found", http.StatusNotFound)
		return
	}

	fileIndex := -1
	if raw := r.URL.Query().Get("file"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "bad file index", http.StatusBadRequest)
			return
		}
		fileIndex = parsed
	}
	b, err := s.manager.Ready(r.Context(), sess, fileIndex)
	if err != nil {
		logrus.Warnf("stream %s: not ready: %v", sess.id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	normalized, err := byterange.Normalize(r.Header.Get("Range"), b.fileLength, s.cfg.ChunkSize)
	if err != nil {
		// both malformed and out-of-bounds ranges answer 416
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", b.fileLength))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	absolute := normalized.Shift(b.fileOffset)

	// prioritization and readiness never fail the request
	if err := b.sched.Schedule(absolute); err != nil {
		logrus.Warnf("stream %s: schedule %s: %v", sess.id, normalized, err)
	}
	if !b.sched.Wait(r.Context(), absolute, s.cfg.WaitTimeout.Std()) {
		logrus.Warnf("stream %s: range %s not ready after %s, serving degraded",
			sess.id, normalized, s.cfg.WaitTimeout.Std())
		metrics.WaitTimeouts.Inc()
	}
	if r.Context().Err() != nil {
		return
	}

	reader, err := b.eng.NewReader(absolute.Start, absolute.End)
	if err != nil {
		logrus.Errorf("stream %s: reader: %v", sess.id, err)
		http.Error(w, "cannot read stream", http.StatusInternalServerError)
		return
	}

	// single idempotent cleanup, fired on disconnect and on completion
	var cleanup sync.Once
	stop := func() {
		cleanup.Do(func() {
			reader.Close()
		})
	}
	defer stop()
	watchdone := make(chan struct{})
	defer close(watchdone)
	go func(ctx context.Context) {
		select {
		case <-ctx.Done():
			// stop the byte reader right away so an abandoned request
			// does not keep pulling pieces
			stop()
		case <-watchdone:
		}
	}(r.Context())

	w.Header().Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", normalized.Start, normalized.End, b.fileLength))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(normalized.Size(), 10))
	w.Header().Set("Content-Type", b.contentType)
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	written, err := io.Copy(w, reader)
	metrics.StreamedBytes.Add(float64(written))
	if err != nil && r.Context().Err() == nil {
		// headers are committed; nothing left to do but drop the
		// connection
		logrus.Warnf("stream %s: aborted after %d/%d bytes: %v",
			sess.id, written, normalized.Size(), err)
	}
}
