package engine

import (
	"io"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/exzos28/torrent-streamer/cache"
)

// NewCacheStorage plugs the memory-bounded piece cache in as the torrent
// client's storage backend. The client writes blocks and reads pieces
// through it without knowing about eviction; an evicted piece surfaces as
// incomplete and gets fetched again.
func NewCacheStorage(budget *cache.Budget) storage.ClientImpl {
	return &cacheClient{budget: budget}
}

type cacheClient struct {
	budget *cache.Budget
}

var _ storage.ClientImpl = (*cacheClient)(nil)

func (s *cacheClient) OpenTorrent(info *metainfo.Info, _ metainfo.Hash) (storage.TorrentImpl, error) {
	c := cache.NewCache(s.budget)
	return storage.TorrentImpl{
		Piece: func(p metainfo.Piece) storage.PieceImpl {
			return &cachePiece{c: c, index: p.Index(), length: p.Length()}
		},
		Close: func() error {
			c.Close()
			return nil
		},
	}, nil
}

type cachePiece struct {
	c      *cache.Cache
	index  int
	length int64
}

// ReadAt reports a short read for evicted or never-written pieces; the
// client treats that as missing data, never as zeroed bytes.
func (p *cachePiece) ReadAt(b []byte, off int64) (int, error) {
	data, ok := p.c.Get(p.index)
	if !ok || off >= int64(len(data)) {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(b, data[off:])
	if n < len(b) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// WriteAt assembles incoming blocks into a full-length piece buffer, the
// way a memory piece store allocates once per piece.
func (p *cachePiece) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(b)) > p.length {
		return 0, io.ErrShortWrite
	}
	buf, ok := p.c.Get(p.index)
	if ok && int64(len(buf)) == p.length {
		// buffer already resident and registered; fill in place
		return copy(buf[off:], b), nil
	}
	fresh := make([]byte, p.length)
	copy(fresh, buf)
	n := copy(fresh[off:], b)
	p.c.Put(p.index, fresh)
	return n, nil
}

func (p *cachePiece) MarkComplete() error {
	p.c.MarkComplete(p.index)
	return nil
}

func (p *cachePiece) MarkNotComplete() error {
	p.c.MarkNotComplete(p.index)
	return nil
}

func (p *cachePiece) Completion() storage.Completion {
	return storage.Completion{
		Complete: p.c.Complete(p.index),
		Ok:       true,
	}
}
