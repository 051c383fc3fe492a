package piece

import (
	"context"
	"sort"
	"sync"
	"time"

	bitmap "github.com/boljen/go-bitmap"

	"github.com/exzos28/torrent-streamer/byterange"
	"github.com/exzos28/torrent-streamer/engine"
)

// Scheduler translates byte ranges into piece prioritization instructions
// for the engine and offers a bounded wait for piece readiness. One
// scheduler serves one transfer; its tracked set is the scheduling hint
// layer, independent of the memory-residency bookkeeping in the cache.
type Scheduler interface {
	// Schedule clears every previously prioritized piece for this transfer
	// and selects the buffered range for r at critical priority.
	Schedule(r byterange.ByteRange) error
	Select(pr Range, prio engine.Priority)
	Deselect(pr Range, prio engine.Priority)
	// Wait blocks until every piece overlapping r (un-buffered) is fully
	// downloaded, the timeout elapses, or ctx is cancelled. It reports
	// whether the range is ready; it never fails the request.
	Wait(ctx context.Context, r byterange.ByteRange, timeout time.Duration) bool
	// Prioritized returns the currently tracked piece indices in order.
	Prioritized() []int
}

type tracked struct {
	priority   engine.Priority
	selectedAt time.Time
}

type scheduler struct {
	sync.Mutex
	eng       engine.Engine
	readahead int64
	selected  map[int]*tracked
}

func NewScheduler(eng engine.Engine, readahead int64) Scheduler {
	return &scheduler{
		eng:       eng,
		readahead: readahead,
		selected:  make(map[int]*tracked),
	}
}

func (s *scheduler) Schedule(r byterange.ByteRange) error {
	s.Lock()
	defer s.Unlock()

	pieceLength := s.eng.PieceLength()
	if pieceLength == 0 {
		// metadata not available yet, nothing to prioritize
		return nil
	}
	buffered, err := MapBuffered(r, pieceLength, s.readahead, s.eng.ContentLength())
	if err != nil {
		return err
	}

	// Clear-then-set: deselect everything tracked so a seek in either
	// direction reprioritizes the engine instead of accumulating stale
	// high-priority regions.
	for index, entry := range s.selected {
		s.eng.Deselect(index, index, entry.priority)
		delete(s.selected, index)
	}
	s.selectLocked(buffered, engine.PriorityCritical)
	return nil
}

func (s *scheduler) Select(pr Range, prio engine.Priority) {
	s.Lock()
	defer s.Unlock()
	s.selectLocked(pr, prio)
}

// selectLocked raises tracked priorities and instructs the engine for the
// pieces whose current priority is lower or absent. Contiguous runs are
// coalesced into single engine calls.
func (s *scheduler) selectLocked(pr Range, prio engine.Priority) {
	now := time.Now()
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 {
			s.eng.Select(runStart, end, prio)
			runStart = -1
		}
	}
	for index := pr.Start; index <= pr.End; index++ {
		if entry, ok := s.selected[index]; ok && entry.priority >= prio {
			flush(index - 1)
			continue
		}
		s.selected[index] = &tracked{priority: prio, selectedAt: now}
		if runStart < 0 {
			runStart = index
		}
	}
	flush(pr.End)
}

// Deselect removes tracked entries whose priority matches exactly. A
// high-priority selection is never wiped by a lower-priority deselect
// issued for another purpose.
func (s *scheduler) Deselect(pr Range, prio engine.Priority) {
	s.Lock()
	defer s.Unlock()
	for index := pr.Start; index <= pr.End; index++ {
		entry, ok := s.selected[index]
		if !ok || entry.priority != prio {
			continue
		}
		s.eng.Deselect(index, index, prio)
		delete(s.selected, index)
	}
}

func (s *scheduler) Prioritized() []int {
	s.Lock()
	defer s.Unlock()
	indices := make([]int, 0, len(s.selected))
	for index := range s.selected {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// sweep drops tracked entries whose piece has been fully downloaded.
func (s *scheduler) sweep() {
	s.Lock()
	defer s.Unlock()
	for index, entry := range s.selected {
		record, ok := s.eng.Piece(index)
		if ok && record.Downloaded() {
			s.eng.Deselect(index, index, entry.priority)
			delete(s.selected, index)
		}
	}
}

func (s *scheduler) Wait(ctx context.Context, r byterange.ByteRange, timeout time.Duration) bool {
	pieceLength := s.eng.PieceLength()
	if pieceLength == 0 {
		// no metadata means nothing to wait for; the caller streams as
		// soon as a reader becomes constructible
		return true
	}
	required, err := Map(r, pieceLength)
	if err != nil {
		return true
	}

	ready := newReadiness(required)
	if ready.update(s.eng) {
		return true
	}

	sub := s.eng.Subscribe()
	defer sub.Close()
	// pieces finished between the first check and the subscription produce
	// no further events; check again now that the subscription exists
	if ready.update(s.eng) {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case _, ok := <-sub.C:
			if !ok {
				return ready.update(s.eng)
			}
			s.sweep()
			if ready.update(s.eng) {
				return true
			}
		}
	}
}

// readiness tracks which required pieces have been seen fully downloaded,
// so every re-check only queries the pieces still outstanding.
type readiness struct {
	required Range
	done     bitmap.Bitmap
	left     int
}

func newReadiness(required Range) *readiness {
	return &readiness{
		required: required,
		done:     bitmap.New(required.Count()),
		left:     required.Count(),
	}
}

func (w *readiness) update(eng engine.Engine) bool {
	for index := w.required.Start; index <= w.required.End; index++ {
		if w.done.Get(index - w.required.Start) {
			continue
		}
		record, ok := eng.Piece(index)
		if ok && record.Downloaded() {
			w.done.Set(index-w.required.Start, true)
			w.left--
		}
	}
	return w.left == 0
}
