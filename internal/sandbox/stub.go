package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gittyup-client/internal/repo"
)

// Stub is an in-memory Instance for tests: it records the calls made
// against it, serves scripted exit codes, and lets tests feed output lines
// and the ready URL by hand.
type Stub struct {
	mu sync.Mutex

	BootErr  error
	MountErr error
	// ExitCodes maps a command (joined with spaces) to the exit code Run
	// reports for it. Unlisted commands exit 0.
	ExitCodes map[string]int

	booted  bool
	stopped bool
	mounted *repo.Tree
	ran     [][]string
	started [][]string

	output chan string
	ready  chan string
}

func NewStub() *Stub {
	return &Stub{
		ExitCodes: map[string]int{},
		output:    make(chan string, 64),
		ready:     make(chan string, 1),
	}
}

func (s *Stub) Boot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BootErr != nil {
		return s.BootErr
	}
	s.booted = true
	return nil
}

func (s *Stub) Mount(ctx context.Context, tree *repo.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MountErr != nil {
		return s.MountErr
	}
	if !s.booted {
		return fmt.Errorf("mount before boot")
	}
	s.mounted = tree
	return nil
}

func (s *Stub) Run(ctx context.Context, argv ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, argv)
	return s.ExitCodes[strings.Join(argv, " ")], nil
}

func (s *Stub) Start(ctx context.Context, argv ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, argv)
	return nil
}

func (s *Stub) Output() <-chan string { return s.output }
func (s *Stub) Ready() <-chan string  { return s.ready }

func (s *Stub) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.output)
	close(s.ready)
}

// EmitOutput feeds a raw output line as if a sandbox process printed it.
func (s *Stub) EmitOutput(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.output <- line
}

// EmitReady reports the preview URL as if a server came up inside.
func (s *Stub) EmitReady(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.ready <- url
}

// Booted reports whether Boot completed.
func (s *Stub) Booted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booted
}

// Stopped reports whether Stop was called.
func (s *Stub) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Mounted returns the tree Mount received, if any.
func (s *Stub) Mounted() *repo.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// RunCalls returns the awaited commands in order.
func (s *Stub) RunCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.ran...)
}

// StartCalls returns the long-running commands in order.
func (s *Stub) StartCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.started...)
}
