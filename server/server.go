package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/exzos28/torrent-streamer/config"
)

// Server is the HTTP surface: torrent management plus the range streaming
// endpoint.
type Server struct {
	cfg     config.Config
	manager *Manager
	router  *mux.Router
}

func New(cfg config.Config, manager *Manager) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		router:  mux.NewRouter(),
	}
	s.router.HandleFunc("/torrents", s.handleAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{id}", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{id}", s.handleRemove).Methods(http.MethodDelete)
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods(http.MethodGet, http.MethodHead)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

type addRequest struct {
	Magnet string `json:"magnet"`
}

type torrentStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	File           string `json:"file,omitempty"`
	Length         int64  `json:"length,omitempty"`
	BytesCompleted int64  `json:"bytesCompleted"`
	Peers          int    `json:"peers"`
	Prioritized    int    `json:"prioritized"`
	Ready          bool   `json:"ready"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var sess *session
	var err error
	if r.Header.Get("Content-Type") == "application/json" {
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Magnet == "" {
			http.Error(w, "magnet URI required", http.StatusBadRequest)
			return
		}
		sess, err = s.manager.AddMagnet(req.Magnet)
	} else {
		sess, err = s.manager.AddTorrent(r.Body)
	}
	if err != nil {
		logrus.Warnf("add torrent failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status(sess))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]torrentStatus, 0)
	for _, sess := range s.manager.List() {
		statuses = append(statuses, s.status(sess))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "torrent not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status(sess))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Remove(mux.Vars(r)["id"]) {
		http.Error(w, "torrent not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status(sess *session) torrentStatus {
	st := torrentStatus{ID: sess.id}
	if b := sess.binding(-1); b != nil {
		st.File = b.name
		st.Length = b.fileLength
		st.Prioritized = len(b.sched.Prioritized())
	}
	sess.mu.Lock()
	t := sess.t
	sess.mu.Unlock()
	if t != nil {
		select {
		case <-t.GotInfo():
			st.Ready = true
			st.Name = t.Name()
			st.BytesCompleted = t.BytesCompleted()
		default:
		}
		st.Peers = t.Stats().ActivePeers
	}
	return st
}
