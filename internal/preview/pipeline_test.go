package preview

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gittyup-client/internal/models"
	"gittyup-client/internal/repo"
	"gittyup-client/internal/sandbox"
	"gittyup-client/internal/session"
)

type mapFetcher struct {
	files map[string]string
}

func (f *mapFetcher) FetchFile(ctx context.Context, repoHash, commit, path string) (string, error) {
	return f.files[path], nil
}

// stubFactory hands out fresh stubs and remembers them in creation order.
type stubFactory struct {
	mu    sync.Mutex
	stubs []*sandbox.Stub
	setup func(*sandbox.Stub)
}

func (f *stubFactory) factory() sandbox.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sandbox.NewStub()
	if f.setup != nil {
		f.setup(s)
	}
	f.stubs = append(f.stubs, s)
	return s
}

func (f *stubFactory) stub(i int) *sandbox.Stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.stubs) {
		return nil
	}
	return f.stubs[i]
}

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stubs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasLogLine(store *session.Store, class, substr string) bool {
	for _, entry := range store.State().Logs {
		for _, seg := range entry.Segments {
			if seg.Class == class && strings.Contains(seg.Text, substr) {
				return true
			}
		}
	}
	return false
}

func newTestEnv(files map[string]string, setup func(*sandbox.Stub)) (*session.Store, *stubFactory, *Provisioner) {
	store := session.NewStore()
	cache := repo.NewCache(&mapFetcher{files: files})
	factory := &stubFactory{setup: setup}
	p := NewProvisioner(store, cache, factory.factory)
	return store, factory, p
}

func initialize(t *testing.T, store *session.Store, commit string, files []string) {
	t.Helper()
	err := store.Dispatch(session.Initialize{
		CurrentUserID: 1,
		Users:         []models.UserRecord{{ID: 1, Name: "Bob"}},
		Files:         files,
		RepoHash:      "r1",
		Commit:        commit,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestProvisionFullRun(t *testing.T) {
	files := []string{"package.json", "vite.config.js", "src/main.js"}
	store, factory, p := newTestEnv(map[string]string{
		"package.json":   "{}",
		"vite.config.js": "export default {}",
		"src/main.js":    "console.log('hi')",
	}, nil)
	defer p.Stop()

	initialize(t, store, "c1", files)

	waitFor(t, "dev server start", func() bool {
		s := factory.stub(0)
		return s != nil && len(s.StartCalls()) > 0
	})
	stub := factory.stub(0)

	runs := stub.RunCalls()
	if len(runs) != 1 || strings.Join(runs[0], " ") != "npm install" {
		t.Fatalf("RunCalls = %v, want [npm install]", runs)
	}
	starts := stub.StartCalls()
	if strings.Join(starts[0], " ") != "npm run dev" {
		t.Fatalf("StartCalls = %v, want [npm run dev]", starts)
	}
	if tree := stub.Mounted(); tree == nil || tree.FileCount() != 3 {
		t.Fatalf("mounted tree = %v, want 3 files", tree)
	}

	for _, want := range []string{
		"Loading files and booting sandbox...",
		"Sandbox booted successfully",
		"Files loaded successfully",
		"Files mounted successfully",
		"Dependencies installed successfully",
		"Starting dev server...",
	} {
		waitFor(t, want, func() bool { return hasLogLine(store, models.ClassSandbox, want) })
	}

	stub.EmitReady("http://127.0.0.1:5173")
	waitFor(t, "preview url", func() bool { return p.PreviewURL() == "http://127.0.0.1:5173" })
	waitFor(t, "preview log", func() bool { return hasLogLine(store, models.ClassSandbox, "Preview ready at") })
}

func TestProvisionOutputBecomesSandboxLog(t *testing.T) {
	files := []string{"index.html"}
	store, factory, p := newTestEnv(map[string]string{"index.html": "<html>"}, nil)
	defer p.Stop()

	initialize(t, store, "c1", files)
	waitFor(t, "mount", func() bool {
		s := factory.stub(0)
		return s != nil && s.Mounted() != nil
	})

	stub := factory.stub(0)
	stub.EmitOutput("plain line")
	stub.EmitOutput("\x1b[32mgreen line\x1b[0m")

	waitFor(t, "plain output line", func() bool {
		return hasLogLine(store, models.ClassSandbox, "plain line")
	})
	waitFor(t, "styled output line", func() bool {
		return hasLogLine(store, "ansi-32", "green line")
	})

	// No package.json and no vite config, so nothing ran.
	if got := stub.RunCalls(); len(got) != 0 {
		t.Fatalf("RunCalls = %v, want none", got)
	}
	if got := stub.StartCalls(); len(got) != 0 {
		t.Fatalf("StartCalls = %v, want none", got)
	}
}

func TestProvisionInstallFailureAbortsRun(t *testing.T) {
	files := []string{"package.json", "vite.config.ts"}
	store, factory, p := newTestEnv(map[string]string{
		"package.json":   "{}",
		"vite.config.ts": "export default {}",
	}, func(s *sandbox.Stub) {
		s.ExitCodes["npm install"] = 1
	})
	defer p.Stop()

	initialize(t, store, "c1", files)

	waitFor(t, "install failure log", func() bool {
		return hasLogLine(store, models.ClassError, "npm install failed with exit code 1")
	})

	if got := factory.stub(0).StartCalls(); len(got) != 0 {
		t.Fatalf("dev server started after failed install: %v", got)
	}
	// The session itself survives a failed provisioning run.
	if phase := store.State().Phase; phase != session.PhaseReady {
		t.Fatalf("phase = %s, want %s", phase, session.PhaseReady)
	}
}

func TestProvisionBootFailureLogsError(t *testing.T) {
	store, factory, p := newTestEnv(map[string]string{"a.js": "x"}, func(s *sandbox.Stub) {
		s.BootErr = context.DeadlineExceeded
	})
	defer p.Stop()

	initialize(t, store, "c1", []string{"a.js"})

	waitFor(t, "boot error log", func() bool {
		return hasLogLine(store, models.ClassError, "Sandbox error")
	})
	waitFor(t, "instance stopped", func() bool { return factory.stub(0).Stopped() })
}

func TestDisconnectTearsDownRun(t *testing.T) {
	store, factory, p := newTestEnv(map[string]string{"a.js": "x"}, nil)
	defer p.Stop()

	initialize(t, store, "c1", []string{"a.js"})
	waitFor(t, "mount", func() bool {
		s := factory.stub(0)
		return s != nil && s.Mounted() != nil
	})

	stub := factory.stub(0)
	stub.EmitReady("http://127.0.0.1:5173")
	waitFor(t, "preview url", func() bool { return p.PreviewURL() != "" })

	if err := store.Dispatch(session.Disconnect{}); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	waitFor(t, "stop", func() bool { return stub.Stopped() })
	waitFor(t, "preview cleared", func() bool { return p.PreviewURL() == "" })
}

func TestCommitChangeRestartsRun(t *testing.T) {
	store, factory, p := newTestEnv(map[string]string{"a.js": "x"}, nil)
	defer p.Stop()

	initialize(t, store, "c1", []string{"a.js"})
	waitFor(t, "first mount", func() bool {
		s := factory.stub(0)
		return s != nil && s.Mounted() != nil
	})

	err := store.Dispatch(session.ReplaceFileList{
		Files:    []string{"a.js"},
		RepoHash: "r1",
		Commit:   "c2",
	})
	if err != nil {
		t.Fatalf("ReplaceFileList: %v", err)
	}

	waitFor(t, "first instance stopped", func() bool { return factory.stub(0).Stopped() })
	waitFor(t, "second instance mounted", func() bool {
		s := factory.stub(1)
		return s != nil && s.Mounted() != nil
	})
	if factory.count() != 2 {
		t.Fatalf("instances = %d, want 2", factory.count())
	}
}

func TestUnrelatedDispatchDoesNotRestart(t *testing.T) {
	store, factory, p := newTestEnv(map[string]string{"a.js": "x"}, nil)
	defer p.Stop()

	initialize(t, store, "c1", []string{"a.js"})
	waitFor(t, "mount", func() bool {
		s := factory.stub(0)
		return s != nil && s.Mounted() != nil
	})

	if err := store.Dispatch(session.SelectFile{Path: "a.js"}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := store.Dispatch(session.ChatReceived{UserID: 1, Content: "hi"}); err != nil {
		t.Fatalf("ChatReceived: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if factory.count() != 1 {
		t.Fatalf("instances = %d, want 1", factory.count())
	}
	if factory.stub(0).Stopped() {
		t.Fatal("run torn down by unrelated dispatch")
	}
}
