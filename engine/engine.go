// Package engine defines the contract this server expects from the
// underlying piece-exchange engine, plus an adapter binding it to
// anacrolix/torrent. Everything above this package talks to the engine
// exclusively through the Engine interface.
package engine

import (
	"errors"
	"io"
	"sync"
)

// ErrNoMetadata is returned while piece length and content length are still
// unknown (magnet metadata not fetched yet).
var ErrNoMetadata = errors.New("engine: torrent metadata not available")

// Priority of a selected piece range. Higher values win.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// PieceRecord is a read-only snapshot of one piece's download state. The
// engine may represent progress in several shapes internally; this is the
// single projection the rest of the code relies on.
type PieceRecord struct {
	Index   int
	Length  int64
	Missing int64
}

func (r PieceRecord) Downloaded() bool {
	return r.Missing == 0
}

// Progress is a download-progress notification.
type Progress struct {
	BytesCompleted int64
	Complete       bool
}

// Engine is the collaborator contract consumed by the scheduler and the
// stream responder. Byte offsets are torrent-absolute.
type Engine interface {
	// PieceLength returns 0 until metadata is available.
	PieceLength() int64
	// ContentLength is the absolute offset one past the last byte this
	// engine will schedule (the end of the target file).
	ContentLength() int64
	NumPieces() int
	// Piece reports the record for one piece; false means not yet started.
	Piece(index int) (PieceRecord, bool)
	Select(startPiece, endPiece int, prio Priority)
	Deselect(startPiece, endPiece int, prio Priority)
	// NewReader streams the inclusive byte span [start,end].
	NewReader(start, end int64) (io.ReadCloser, error)
	Subscribe() *Subscription
}

// Subscription delivers Progress events until closed. Close is idempotent
// and must be called by the subscriber to release the slot.
type Subscription struct {
	C      chan Progress
	once   sync.Once
	cancel func(*Subscription)
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel(s)
		}
	})
}

// notifier fans Progress events out to any number of subscribers. Slow
// subscribers drop events instead of blocking the broadcaster.
type notifier struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{})}
}

func (n *notifier) subscribe() *Subscription {
	sub := &Subscription{C: make(chan Progress, 8), cancel: n.unsubscribe}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

func (n *notifier) unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[sub]; ok {
		delete(n.subs, sub)
		close(sub.C)
	}
}

func (n *notifier) broadcast(p Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		select {
		case sub.C <- p:
		default:
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		delete(n.subs, sub)
		close(sub.C)
	}
}
