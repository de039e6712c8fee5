package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gittyup-client/internal/client"
	"gittyup-client/internal/preview"
	"gittyup-client/internal/repo"
	"gittyup-client/internal/sandbox"
	"gittyup-client/internal/server"
	"gittyup-client/internal/session"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := flag.Int("port", 8080, "Port to serve HTTP")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}

	serverBase := envOr("GITTYUP_SERVER", "http://localhost:3000")
	sandboxImage := envOr("SANDBOX_IMAGE", "node:20-alpine")

	log.Printf("Starting Gittyup client on port %d (session server %s)", *port, serverBase)

	store := session.NewStore()
	cache := repo.NewCache(repo.NewHTTPFetcher(serverBase))
	controller := client.NewController(store, serverBase)
	provisioner := preview.NewProvisioner(store, cache, sandbox.DockerFactory(sandboxImage))
	defer provisioner.Stop()

	srv, err := server.NewServer(store, cache, controller, provisioner)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()
	log.Printf("Templates loaded successfully")

	mux := srv.RegisterRoutes()
	handler := srv.WrapWithMiddleware(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: handler,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on http://localhost:%d", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	controller.Disconnect()
	provisioner.Stop()

	log.Printf("Shutdown complete")
}
