package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"

	"github.com/exzos28/torrent-streamer/config"
	"github.com/exzos28/torrent-streamer/engine"
	"github.com/exzos28/torrent-streamer/meta"
	"github.com/exzos28/torrent-streamer/piece"
)

// binding is one target file's immutable view of a transfer: its offsets,
// its engine adapter and its scheduler. Handlers work off a binding
// snapshot, never off live session fields, so concurrent streams of
// different files cannot race each other.
type binding struct {
	fileIndex   int
	fileOffset  int64
	fileLength  int64
	name        string
	contentType string
	adapter     *engine.Anacrolix
	eng         engine.Engine
	sched       piece.Scheduler
}

// session is one active transfer: a torrent and the per-file bindings
// created as streams request them.
type session struct {
	id string

	mu           sync.Mutex
	t            *torrent.Torrent
	defaultIndex int
	bindings     map[int]*binding
}

// binding returns the existing binding for fileIndex, or for the resolved
// default file when fileIndex < 0. nil means not bound yet.
func (s *session) binding(fileIndex int) *binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileIndex < 0 {
		fileIndex = s.defaultIndex
	}
	if fileIndex < 0 {
		return nil
	}
	return s.bindings[fileIndex]
}

// Manager tracks sessions by info hash and owns the torrent client.
type Manager struct {
	cfg    config.Config
	client *torrent.Client

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(cfg config.Config, client *torrent.Client) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		sessions: make(map[string]*session),
	}
}

func (m *Manager) AddMagnet(uri string) (*session, error) {
	t, err := m.client.AddMagnet(uri)
	if err != nil {
		return nil, err
	}
	return m.track(t), nil
}

// AddTorrent registers an uploaded .torrent file. The body is parsed once
// for validation and the playable lookup, then handed to the client.
func (m *Manager) AddTorrent(body io.Reader) (*session, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	parsed, err := meta.NewTorrent(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing torrent file: %w", err)
	}
	if _, err := meta.FindPlayable(parsed.Files(), m.cfg.MediaExtensions); err != nil {
		return nil, err
	}
	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	t, _, err := m.client.AddTorrentSpec(torrent.TorrentSpecFromMetaInfo(mi))
	if err != nil {
		return nil, err
	}
	logrus.Infof("added torrent %s (%d files, %d bytes)",
		parsed.Name(), len(parsed.Files()), parsed.TotalLength())
	return m.track(t), nil
}

func (m *Manager) track(t *torrent.Torrent) *session {
	id := t.InfoHash().HexString()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing
	}
	sess := &session{
		id:           id,
		t:            t,
		defaultIndex: -1,
		bindings:     make(map[int]*binding),
	}
	m.sessions[id] = sess
	return sess
}

func (m *Manager) Get(id string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *Manager) List() []*session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	for _, b := range sess.bindings {
		b.adapter.Close()
	}
	sess.bindings = make(map[int]*binding)
	t := sess.t
	sess.mu.Unlock()
	if t != nil {
		// dropping the torrent closes its storage, which releases every
		// cached chunk back to the budget
		t.Drop()
	}
	logrus.Infof("removed torrent %s", id)
	return true
}

func (m *Manager) Close() {
	for _, sess := range m.List() {
		m.Remove(sess.id)
	}
	if m.client != nil {
		m.client.Close()
	}
}

// Ready resolves the target file and returns its binding, creating one on
// first use and waiting for torrent metadata if necessary. fileIndex < 0
// means "pick the playable file by extension". Bindings are only ever
// added, never rebound, so a returned binding stays valid for the life of
// the session.
func (m *Manager) Ready(ctx context.Context, sess *session, fileIndex int) (*binding, error) {
	if b := sess.binding(fileIndex); b != nil {
		return b, nil
	}
	if sess.t == nil {
		return nil, engine.ErrNoMetadata
	}

	select {
	case <-sess.t.GotInfo():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.cfg.MetadataTimeout.Std()):
		return nil, engine.ErrNoMetadata
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	files := sess.t.Files()
	if fileIndex < 0 {
		if sess.defaultIndex >= 0 {
			fileIndex = sess.defaultIndex
		} else {
			infos := make([]meta.FileInfo, len(files))
			for i, f := range files {
				infos[i] = meta.FileInfo{Index: i, Path: f.DisplayPath(), Length: f.Length(), Offset: f.Offset()}
			}
			playable, err := meta.FindPlayable(infos, m.cfg.MediaExtensions)
			if err != nil {
				return nil, err
			}
			fileIndex = playable.Index
			sess.defaultIndex = fileIndex
		}
	}
	if b, ok := sess.bindings[fileIndex]; ok {
		return b, nil
	}
	if fileIndex >= len(files) {
		return nil, fmt.Errorf("server: file index %d out of range", fileIndex)
	}

	file := files[fileIndex]
	adapter := engine.NewAnacrolix(sess.t, fileIndex, m.cfg.ReadaheadBytes)
	b := &binding{
		fileIndex:   fileIndex,
		fileOffset:  file.Offset(),
		fileLength:  file.Length(),
		name:        file.DisplayPath(),
		contentType: meta.ContentType(file.DisplayPath()),
		adapter:     adapter,
		eng:         adapter,
		sched:       piece.NewScheduler(adapter, m.cfg.ReadaheadBytes),
	}
	sess.bindings[fileIndex] = b
	logrus.Infof("session %s bound to file %d (%s, %d bytes)",
		sess.id, fileIndex, b.name, b.fileLength)
	return b, nil
}
