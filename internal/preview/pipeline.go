// Package preview provisions the live preview: when the session becomes
// ready it materializes the repository's files into a sandbox instance,
// installs dependencies, launches the project's dev server, and surfaces
// the resulting URL. Progress, timings, and failures are fed back into the
// session console; a failed run never takes the session down.
package preview

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"gittyup-client/internal/ansi"
	"gittyup-client/internal/models"
	"gittyup-client/internal/repo"
	"gittyup-client/internal/sandbox"
	"gittyup-client/internal/session"
)

// Markers in the file list that decide the install and dev-server steps.
var (
	installMarker    = "package.json"
	devServerMarkers = []string{"vite.config.js", "vite.config.ts"}
)

// Provisioner watches session snapshots and keeps at most one provisioning
// run alive. A run starts when the session is ready with a repository,
// commit, and non-empty file list; it restarts when any of those change and
// tears down when any goes away. Cancellation is epoch-based: every
// asynchronous continuation of a run compares its epoch against the
// provisioner's before touching shared state, so a superseded run's late
// completions are discarded silently.
type Provisioner struct {
	store   *session.Store
	cache   *repo.Cache
	factory sandbox.Factory

	mu         sync.Mutex
	epoch      int
	currentKey string
	instance   sandbox.Instance
	cancel     context.CancelFunc
	previewURL string
	onPreview  func(url string)
}

// NewProvisioner wires a provisioner to the store's snapshots. The cache is
// shared across runs so re-provisioning the same commit is cheap.
func NewProvisioner(store *session.Store, cache *repo.Cache, factory sandbox.Factory) *Provisioner {
	p := &Provisioner{
		store:   store,
		cache:   cache,
		factory: factory,
	}
	store.Subscribe(p.observe)
	return p
}

// OnPreview registers the callback invoked when a run surfaces its preview
// URL (and with "" when the preview goes away).
func (p *Provisioner) OnPreview(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPreview = fn
}

// PreviewURL returns the current preview URL, or "" when none is live.
func (p *Provisioner) PreviewURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previewURL
}

// Stop tears down any active run. The provisioner stays usable; a later
// satisfying snapshot starts a fresh run.
func (p *Provisioner) Stop() {
	p.mu.Lock()
	p.teardownLocked()
	p.mu.Unlock()
}

// observe is the store subscriber. It runs under the store's dispatch lock,
// so it only decides teardown/start and hands the actual work to a
// goroutine.
func (p *Provisioner) observe(s session.State) {
	satisfied := s.Phase == session.PhaseReady && s.RepoHash != "" && s.Commit != "" && len(s.Files) > 0
	key := s.RepoHash + "\x00" + s.Commit + "\x00" + strings.Join(s.Files, "\x00")

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !satisfied:
		p.teardownLocked()
	case p.currentKey != key:
		p.teardownLocked()
		p.startLocked(key, s)
	}
}

// teardownLocked invalidates the active run. In-flight operations are not
// forcibly aborted; they notice the epoch change on resumption and discard
// their results.
func (p *Provisioner) teardownLocked() {
	p.epoch++
	p.currentKey = ""
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.instance != nil {
		go p.instance.Stop()
		p.instance = nil
	}
	if p.previewURL != "" {
		p.previewURL = ""
		if p.onPreview != nil {
			go p.onPreview("")
		}
	}
}

func (p *Provisioner) startLocked(key string, s session.State) {
	p.epoch++
	p.currentKey = key

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	r := &run{
		provisioner: p,
		epoch:       p.epoch,
		ctx:         ctx,
		repoHash:    s.RepoHash,
		commit:      s.Commit,
		files:       append([]string(nil), s.Files...),
	}
	go r.execute()
}

// run is one provisioning attempt, valid while its epoch matches the
// provisioner's.
type run struct {
	provisioner *Provisioner
	epoch       int
	ctx         context.Context
	repoHash    string
	commit      string
	files       []string
}

func (r *run) stale() bool {
	r.provisioner.mu.Lock()
	defer r.provisioner.mu.Unlock()
	return r.epoch != r.provisioner.epoch
}

// log appends a console entry unless the run has been superseded; a stale
// run must leak nothing into the current session view.
func (r *run) log(entry models.LogEntry) {
	if r.stale() {
		return
	}
	if err := r.provisioner.store.Dispatch(session.AppendLog{Entry: entry}); err != nil {
		log.Printf("preview: dispatch log: %v", err)
	}
}

func (r *run) logf(class, format string, args ...any) {
	r.log(models.Segment(fmt.Sprintf(format, args...), class))
}

// adoptInstance records the booted instance for teardown, unless the run
// is already stale, in which case the instance is stopped immediately.
func (r *run) adoptInstance(inst sandbox.Instance) bool {
	r.provisioner.mu.Lock()
	if r.epoch != r.provisioner.epoch {
		r.provisioner.mu.Unlock()
		inst.Stop()
		return false
	}
	r.provisioner.instance = inst
	r.provisioner.mu.Unlock()
	return true
}

func (r *run) surfacePreview(url string) {
	r.provisioner.mu.Lock()
	if r.epoch != r.provisioner.epoch {
		r.provisioner.mu.Unlock()
		return
	}
	r.provisioner.previewURL = url
	notify := r.provisioner.onPreview
	r.provisioner.mu.Unlock()

	if notify != nil {
		notify(url)
	}
}

func (r *run) execute() {
	r.logf(models.ClassSandbox, "Loading files and booting sandbox...")

	// Tree build and sandbox boot proceed concurrently; neither depends
	// on the other until mount.
	treeCh := make(chan *repo.Tree, 1)
	go func() {
		start := time.Now()
		tree := repo.BuildTree(r.ctx, r.provisioner.cache, r.repoHash, r.commit, r.files)
		r.logf(models.ClassSandbox, "Files loaded successfully (%dms)", time.Since(start).Milliseconds())
		treeCh <- tree
	}()

	inst := r.provisioner.factory()
	bootStart := time.Now()
	if err := inst.Boot(r.ctx); err != nil {
		if !r.stale() {
			r.logf(models.ClassError, "Sandbox error: %v", err)
		}
		inst.Stop()
		return
	}
	if !r.adoptInstance(inst) {
		return
	}
	r.logf(models.ClassSandbox, "Sandbox booted successfully (%dms)", time.Since(bootStart).Milliseconds())

	go r.streamOutput(inst)
	go r.watchReady(inst)

	tree := <-treeCh
	if r.stale() {
		return
	}

	r.logf(models.ClassSandbox, "Mounting files...")
	mountStart := time.Now()
	if err := inst.Mount(r.ctx, tree); err != nil {
		if !r.stale() {
			r.logf(models.ClassError, "Sandbox error: mount failed: %v", err)
		}
		return
	}
	if r.stale() {
		return
	}
	r.logf(models.ClassSandbox, "Files mounted successfully (%dms)", time.Since(mountStart).Milliseconds())

	if slices.Contains(r.files, installMarker) {
		r.logf(models.ClassSandbox, "Installing dependencies...")
		code, err := inst.Run(r.ctx, "npm", "install")
		if r.stale() {
			return
		}
		if err != nil {
			r.logf(models.ClassError, "Sandbox error: npm install: %v", err)
			return
		}
		if code != 0 {
			r.logf(models.ClassError, "npm install failed with exit code %d", code)
			return
		}
		r.logf(models.ClassSandbox, "Dependencies installed successfully")
	}

	if r.hasDevServerConfig() {
		r.logf(models.ClassSandbox, "Starting dev server...")
		// Long-running; never awaited. Its output arrives through the
		// instance output stream.
		if err := inst.Start(r.ctx, "npm", "run", "dev"); err != nil && !r.stale() {
			r.logf(models.ClassError, "Sandbox error: dev server: %v", err)
		}
	}
}

func (r *run) hasDevServerConfig() bool {
	for _, marker := range devServerMarkers {
		if slices.Contains(r.files, marker) {
			return true
		}
	}
	return false
}

// streamOutput forwards sandbox output lines into the console, converting
// embedded escape sequences into styled segments. Unstyled spans get the
// sandbox class.
func (r *run) streamOutput(inst sandbox.Instance) {
	for line := range inst.Output() {
		segments := ansi.Parse(line)
		if len(segments) == 0 {
			continue
		}
		for i := range segments {
			if segments[i].Class == "" {
				segments[i].Class = models.ClassSandbox
			}
		}
		r.log(models.LogEntry{Segments: segments})
	}
}

// watchReady surfaces the preview URL when the sandbox reports one.
func (r *run) watchReady(inst sandbox.Instance) {
	url, ok := <-inst.Ready()
	if !ok || r.stale() {
		return
	}
	r.surfacePreview(url)
	r.log(models.LogEntry{Segments: []models.TextSegment{
		{Text: "Preview ready at ", Class: models.ClassSandbox},
		{Text: url, Class: models.ClassSandbox, Link: url},
	}})
}
