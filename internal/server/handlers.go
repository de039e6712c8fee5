package server

import (
	"log"
	"net/http"

	"gittyup-client/internal/session"
	"gittyup-client/internal/sse"
	"gittyup-client/internal/views"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := views.BuildPage(s.store.State(), s.provisioner.PreviewURL())
	s.renderHTML(w, "index", page)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.httpError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	repoRef := r.FormValue("repo")
	name := r.FormValue("name")
	if repoRef == "" || name == "" {
		s.httpError(w, "repo and name are required", http.StatusBadRequest)
		return
	}

	if err := s.controller.Connect(r.Context(), repoRef, name); err != nil {
		log.Printf("Connect failed: %v", err)
		if dispatchErr := s.store.Dispatch(session.Disconnect{Err: err.Error()}); dispatchErr != nil {
			log.Printf("Dispatch disconnect: %v", dispatchErr)
		}
		s.httpError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.controller.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.httpError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	if err := s.controller.SendChat(r.FormValue("message")); err != nil {
		s.httpError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.httpError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	path := r.FormValue("path")
	if path == "" {
		s.httpError(w, "path is required", http.StatusBadRequest)
		return
	}
	if err := s.controller.SelectFile(path); err != nil {
		s.httpError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.httpError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	name := r.FormValue("name")
	if name == "" {
		s.httpError(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := s.controller.Rename(name); err != nil {
		s.httpError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFile serves the selected file's content from the cache. Content is
// immutable per (repo, commit, path), so repeated selections are served
// without refetching.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.httpError(w, "path is required", http.StatusBadRequest)
		return
	}

	state := s.store.State()
	if state.Phase != session.PhaseReady {
		s.httpError(w, "Not connected", http.StatusConflict)
		return
	}

	content, err := s.cache.Fetch(r.Context(), state.RepoHash, state.Commit, path)
	if err != nil {
		s.httpError(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(content)); err != nil {
		log.Printf("Write file response: %v", err)
	}
}

// handleSSE streams re-rendered fragments. Each connection gets the full
// current state immediately, then updates as they are published.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.httpError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.broker.Subscribe()
	defer cancel()

	for _, ev := range s.snapshotEvents() {
		if err := sse.WriteEvent(w, ev); err != nil {
			return
		}
	}
	if url := s.provisioner.PreviewURL(); url != "" {
		if err := sse.WriteEvent(w, sse.Event{Name: "preview", Data: url}); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
