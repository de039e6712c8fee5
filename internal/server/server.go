// Package server exposes the session over a local web surface: a
// server-rendered index page, form endpoints for user intents, and an SSE
// stream pushing re-rendered fragments as the session evolves.
package server

import (
	"context"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"gittyup-client/internal/client"
	"gittyup-client/internal/preview"
	"gittyup-client/internal/repo"
	"gittyup-client/internal/session"
	"gittyup-client/internal/sse"
	"gittyup-client/internal/views"
)

// UpdateRateLimiter implements a token bucket rate limiter for SSE updates.
// It ensures an immediate first update, then enforces a minimum interval
// between subsequent updates. Streamed deltas dispatch many times per
// second; without this every token would force a full console re-render in
// every connected browser.
type UpdateRateLimiter struct {
	lastSent     time.Time
	pendingTimer *time.Timer
	mu           sync.Mutex
	minInterval  time.Duration
}

// NewUpdateRateLimiter creates a new rate limiter with the specified
// minimum interval.
func NewUpdateRateLimiter(interval time.Duration) *UpdateRateLimiter {
	return &UpdateRateLimiter{
		minInterval: interval,
	}
}

// TryUpdate attempts to execute the update function, respecting rate
// limits. The first update is immediate; later ones are deferred so that a
// trailing update always runs after the last call. The context cancels
// pending updates on shutdown.
func (u *UpdateRateLimiter) TryUpdate(ctx context.Context, doUpdate func()) {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(u.lastSent)

	if u.lastSent.IsZero() || elapsed >= u.minInterval {
		u.lastSent = now
		go func() {
			select {
			case <-ctx.Done():
				return
			default:
				doUpdate()
			}
		}()
		return
	}

	if u.pendingTimer != nil {
		u.pendingTimer.Stop()
		u.pendingTimer = nil
	}

	remainingWait := u.minInterval - elapsed
	u.pendingTimer = time.AfterFunc(remainingWait, func() {
		select {
		case <-ctx.Done():
			u.mu.Lock()
			u.pendingTimer = nil
			u.mu.Unlock()
			return
		default:
			u.mu.Lock()
			u.lastSent = time.Now()
			u.pendingTimer = nil
			u.mu.Unlock()
			doUpdate()
		}
	})
}

// Server is the web surface over one session.
type Server struct {
	store       *session.Store
	cache       *repo.Cache
	controller  *client.Controller
	provisioner *preview.Provisioner

	templates      *template.Template
	broker         *sse.Broker
	consoleLimiter *UpdateRateLimiter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server wired to the session store: every dispatch
// re-renders the affected fragments and pushes them to connected browsers.
func NewServer(store *session.Store, cache *repo.Cache, controller *client.Controller, provisioner *preview.Provisioner) (*Server, error) {
	tmpl, err := views.LoadTemplates()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:          store,
		cache:          cache,
		controller:     controller,
		provisioner:    provisioner,
		templates:      tmpl,
		broker:         sse.NewBroker(),
		consoleLimiter: NewUpdateRateLimiter(200 * time.Millisecond),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Subscribers run serialized under the dispatch lock, so prevPhase
	// needs no synchronization.
	prevPhase := store.State().Phase
	store.Subscribe(func(st session.State) {
		if st.Phase == session.PhaseDisconnected && prevPhase != session.PhaseDisconnected {
			cache.Reset()
		}
		prevPhase = st.Phase
		s.consoleLimiter.TryUpdate(s.ctx, s.publishSnapshot)
	})
	provisioner.OnPreview(func(url string) {
		s.broker.Publish(sse.Event{Name: "preview", Data: url})
	})

	return s, nil
}

// Close stops pushing updates; open SSE connections drain and end.
func (s *Server) Close() {
	s.cancel()
}

// snapshotEvents renders the current state into the full fragment set.
func (s *Server) snapshotEvents() []sse.Event {
	page := views.BuildPage(s.store.State(), s.provisioner.PreviewURL())

	events := make([]sse.Event, 0, 5)
	for _, frag := range []struct {
		event    string
		template string
		data     any
	}{
		{"console", "console", page.Lines},
		{"files", "file-list", page.Files},
		{"users", "users", page.Users},
		{"status", "status", page},
	} {
		html, err := views.RenderFragment(s.templates, frag.template, frag.data)
		if err != nil {
			log.Printf("Template error rendering %s: %v", frag.template, err)
			continue
		}
		events = append(events, sse.Event{Name: frag.event, Data: html})
	}

	connected := "false"
	if page.Connected {
		connected = "true"
	}
	return append(events, sse.Event{Name: "connected", Data: connected})
}

func (s *Server) publishSnapshot() {
	s.broker.Publish(s.snapshotEvents()...)
}

// renderHTML sets the HTML content type header and executes the template.
func (s *Server) renderHTML(w http.ResponseWriter, tmplName string, data any) {
	w.Header().Set("Content-Type", "text/html")
	if err := s.templates.ExecuteTemplate(w, tmplName, data); err != nil {
		http.Error(w, "Template error", http.StatusInternalServerError)
		log.Printf("Template error rendering %s: %v", tmplName, err)
	}
}

// httpError logs and sends an HTTP error response.
func (s *Server) httpError(w http.ResponseWriter, message string, code int) {
	log.Printf("HTTP %d: %s", code, message)
	http.Error(w, message, code)
}
