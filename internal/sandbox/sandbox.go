// Package sandbox provides the ephemeral execution instances the preview
// pipeline provisions: an isolated runtime that can mount a virtual file
// tree and run processes against it. The Docker implementation backs real
// previews; the stub backs tests.
package sandbox

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"gittyup-client/internal/repo"
)

// Instance is one sandbox execution instance. Lifecycle: Boot, Mount, then
// any number of Run/Start calls, then Stop. Output carries raw output lines
// from the instance and its processes; Ready carries the preview URL once
// the instance serves one. Both channels close on Stop.
type Instance interface {
	// Boot brings the instance up. It must be called before any other
	// method.
	Boot(ctx context.Context) error

	// Mount materializes the tree into the instance's working directory.
	Mount(ctx context.Context, tree *repo.Tree) error

	// Run executes a command to completion and returns its exit code.
	Run(ctx context.Context, argv ...string) (int, error)

	// Start launches a long-running command without awaiting it. Its
	// output is piped to Output.
	Start(ctx context.Context, argv ...string) error

	// Output streams raw output lines.
	Output() <-chan string

	// Ready yields the instance's reachable preview URL once a server
	// inside it accepts connections.
	Ready() <-chan string

	// Stop releases the instance and its resources. Idempotent.
	Stop()
}

// Factory creates a fresh instance for one provisioning run.
type Factory func() Instance

// FindFreePort finds an available TCP port on the local machine.
func FindFreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("failed to get TCP address")
	}
	return addr.Port, nil
}

// lineWriter splits a byte stream into lines and hands them to sink.
// A trailing partial line is delivered by Flush.
type lineWriter struct {
	mu   sync.Mutex
	buf  strings.Builder
	sink func(string)
}

func newLineWriter(sink func(string)) *lineWriter {
	return &lineWriter{sink: sink}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.emit()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

// Flush delivers any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit()
	}
}

func (w *lineWriter) emit() {
	line := strings.TrimSuffix(w.buf.String(), "\r")
	w.buf.Reset()
	if line != "" {
		w.sink(line)
	}
}
