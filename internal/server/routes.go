package server

import (
	"net/http"

	"gittyup-client/internal/middleware"
	"gittyup-client/internal/templates"
)

// RegisterRoutes creates and configures the HTTP mux with Go 1.22+ method
// routing.
func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)

	// Session lifecycle
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)

	// User intents
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /select", s.handleSelect)
	mux.HandleFunc("POST /rename", s.handleRename)

	// Live updates and file content
	mux.HandleFunc("GET /events", s.handleSSE)
	mux.HandleFunc("GET /file", s.handleFile)

	// Static files
	mux.Handle("GET /static/", http.FileServer(http.FS(templates.StaticFS)))

	return mux
}

// WrapWithMiddleware applies standard middleware to the mux.
func (s *Server) WrapWithMiddleware(mux *http.ServeMux) http.Handler {
	return middleware.Chain(mux, middleware.Logging)
}
