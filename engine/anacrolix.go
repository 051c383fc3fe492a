package engine

import (
	"io"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
)

// pollInterval bounds how often the monitor samples download progress to
// fan out notifications.
var pollInterval = 500 * time.Millisecond

// Anacrolix adapts one target file of an anacrolix/torrent transfer to the
// Engine contract. Select/Deselect map onto the client's piece download
// window; progress notifications come from a polling monitor goroutine.
type Anacrolix struct {
	t         *torrent.Torrent
	fileIndex int
	readahead int64

	notify *notifier
	quit   chan struct{}
	once   sync.Once
}

func NewAnacrolix(t *torrent.Torrent, fileIndex int, readahead int64) *Anacrolix {
	a := &Anacrolix{
		t:         t,
		fileIndex: fileIndex,
		readahead: readahead,
		notify:    newNotifier(),
		quit:      make(chan struct{}),
	}
	go a.monitor()
	return a
}

func (a *Anacrolix) ready() bool {
	select {
	case <-a.t.GotInfo():
		return true
	default:
		return false
	}
}

func (a *Anacrolix) file() *torrent.File {
	return a.t.Files()[a.fileIndex]
}

func (a *Anacrolix) PieceLength() int64 {
	if !a.ready() {
		return 0
	}
	return a.t.Info().PieceLength
}

// ContentLength is the absolute end bound of the target file inside the
// torrent's byte space.
func (a *Anacrolix) ContentLength() int64 {
	if !a.ready() {
		return 0
	}
	f := a.file()
	return f.Offset() + f.Length()
}

func (a *Anacrolix) NumPieces() int {
	if !a.ready() {
		return 0
	}
	return a.t.NumPieces()
}

func (a *Anacrolix) Piece(index int) (PieceRecord, bool) {
	if !a.ready() || index < 0 || index >= a.t.NumPieces() {
		return PieceRecord{}, false
	}
	length := a.t.Info().Piece(index).Length()
	record := PieceRecord{Index: index, Length: length}
	state := a.t.PieceState(index)
	if !state.Complete {
		record.Missing = length
	}
	return record, true
}

func (a *Anacrolix) Select(startPiece, endPiece int, prio Priority) {
	if !a.ready() || prio == PriorityNone {
		return
	}
	a.t.DownloadPieces(startPiece, endPiece+1)
}

func (a *Anacrolix) Deselect(startPiece, endPiece int, _ Priority) {
	if !a.ready() {
		return
	}
	a.t.CancelPieces(startPiece, endPiece+1)
}

// NewReader streams the inclusive absolute byte span [start,end] of the
// target file.
func (a *Anacrolix) NewReader(start, end int64) (io.ReadCloser, error) {
	if !a.ready() {
		return nil, ErrNoMetadata
	}
	f := a.file()
	r := f.NewReader()
	r.SetReadahead(a.readahead)
	if _, err := r.Seek(start-f.Offset(), io.SeekStart); err != nil {
		r.Close()
		return nil, err
	}
	return &spanReader{r: r, left: end - start + 1}, nil
}

func (a *Anacrolix) Subscribe() *Subscription {
	return a.notify.subscribe()
}

func (a *Anacrolix) Close() {
	a.once.Do(func() {
		close(a.quit)
		a.notify.closeAll()
	})
}

// monitor samples BytesCompleted and broadcasts whenever it moves. This
// keeps the adapter off the client's internal pubsub types.
func (a *Anacrolix) monitor() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last int64 = -1
	for {
		select {
		case <-a.quit:
			return
		case <-a.t.Closed():
			a.Close()
			return
		case <-ticker.C:
			if !a.ready() {
				continue
			}
			completed := a.t.BytesCompleted()
			if completed == last {
				continue
			}
			last = completed
			a.notify.broadcast(Progress{
				BytesCompleted: completed,
				Complete:       completed >= a.t.Length(),
			})
		}
	}
}

// spanReader limits a torrent reader to the requested span and closes it
// exactly once.
type spanReader struct {
	r    torrent.Reader
	left int64
	once sync.Once
}

func (s *spanReader) Read(p []byte) (int, error) {
	if s.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.left {
		p = p[:s.left]
	}
	n, err := s.r.Read(p)
	s.left -= int64(n)
	return n, err
}

func (s *spanReader) Close() error {
	s.once.Do(func() {
		s.r.Close()
	})
	return nil
}
