// Package preview turns snapshots into servable artifacts and tracks the
// lifecycle of the running preview.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/protobench/internal/snapshot"
	"github.com/petervdpas/protobench/internal/util"
)

type Status string

const (
	StatusStopped    Status = "stopped"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRefreshing Status = "refreshing"
	StatusError      Status = "error"
)

var (
	ErrNotRunning = errors.New("preview is not running")
	ErrClosed     = errors.New("preview process closed")
)

const DefaultRefreshDelay = 500 * time.Millisecond

// State is a point-in-time view of the process.
type State struct {
	Status   Status   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Handle   string   `json:"handle,omitempty"`
	URL      string   `json:"url,omitempty"`
	Digest   string   `json:"digest,omitempty"`
	Files    int      `json:"files"`
	Viewport Viewport `json:"viewport"`
	Frame    Frame    `json:"frame"`
}

type Options struct {
	Builder Builder
	Host    *Host
	// Source returns the latest snapshot for refreshes. It is never called
	// with the process lock held.
	Source       func() snapshot.Snapshot
	RefreshDelay time.Duration
	LogLimit     int
}

// Process is the preview lifecycle:
//
//	stopped -> starting -> running <-> refreshing
//	starting|refreshing -> error -> starting
//	any -> stopped
type Process struct {
	mu      sync.Mutex
	builder Builder
	host    *Host
	source  func() snapshot.Snapshot
	logs    *LogBuffer
	auto    *util.Debouncer

	status   Status
	errMsg   string
	snap     snapshot.Snapshot
	artifact *Artifact
	viewport Viewport

	ctx      context.Context
	cancel   context.CancelFunc
	gen      uint64
	inflight chan struct{}
	followUp bool

	watchers map[chan State]struct{}
	closed   bool
}

func NewProcess(opts Options) *Process {
	if opts.Builder == nil {
		opts.Builder = NewSiteBuilder(false)
	}
	if opts.Host == nil {
		opts.Host = NewHost()
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	p := &Process{
		builder:  opts.Builder,
		host:     opts.Host,
		source:   opts.Source,
		logs:     NewLogBuffer(opts.LogLimit),
		status:   StatusStopped,
		viewport: ViewportDesktop,
		watchers: make(map[chan State]struct{}),
	}
	p.auto = util.NewDebouncer(opts.RefreshDelay, p.autoRefresh)
	return p
}

func (p *Process) Logs() *LogBuffer { return p.logs }
func (p *Process) Host() *Host      { return p.host }

// Start builds snap and moves to running. It is a logged no-op unless the
// process is stopped or in error. The build runs in the background under a
// context derived from ctx.
func (p *Process) Start(ctx context.Context, snap snapshot.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.status != StatusStopped && p.status != StatusError {
		p.logf("start ignored: preview is %s", p.status)
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.errMsg = ""
	p.followUp = false
	p.snap = snap
	p.setStatusLocked(StatusStarting)
	p.logf("starting preview (%d files)", len(snap))
	p.launchLocked(snap)
	return nil
}

// Stop cancels any build in flight, waits for it and releases the artifact.
// Stopping a stopped process does nothing.
func (p *Process) Stop() {
	p.mu.Lock()
	if p.status == StatusStopped {
		p.mu.Unlock()
		return
	}
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	done := p.inflight
	p.inflight = nil
	p.followUp = false
	p.auto.Cancel()
	old := p.artifact
	p.artifact = nil
	p.snap = nil
	p.errMsg = ""
	p.setStatusLocked(StatusStopped)
	p.logf("preview stopped")
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	if old != nil && p.host.Revoke(old.Handle) {
		p.logf("released %s", old.URL())
	}
}

// Refresh rebuilds from the latest snapshot. While a refresh is in flight
// further requests collapse into a single follow-up refresh.
func (p *Process) Refresh() error {
	latest := p.latest()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case StatusRunning:
		p.beginRefreshLocked(latest)
		return nil
	case StatusRefreshing:
		if !p.followUp {
			p.followUp = true
			p.logf("refresh queued")
		}
		return nil
	default:
		return fmt.Errorf("refresh: %w (status %s)", ErrNotRunning, p.status)
	}
}

// ScheduleRefresh requests a debounced automatic refresh. It does nothing
// unless the process is running or refreshing.
func (p *Process) ScheduleRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning || p.status == StatusRefreshing {
		p.auto.Trigger()
	}
}

func (p *Process) autoRefresh() {
	p.mu.Lock()
	st := p.status
	p.mu.Unlock()
	if st != StatusRunning && st != StatusRefreshing {
		return
	}

	latest := p.latest()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case StatusRunning:
		if p.artifact != nil && p.artifact.Digest == latest.Digest() {
			p.logf("auto-refresh skipped: no changes")
			return
		}
		p.beginRefreshLocked(latest)
	case StatusRefreshing:
		p.followUp = true
	}
}

func (p *Process) latest() snapshot.Snapshot {
	if p.source != nil {
		return p.source()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Process) beginRefreshLocked(snap snapshot.Snapshot) {
	p.setStatusLocked(StatusRefreshing)
	p.logf("refreshing preview (%d files)", len(snap))
	p.launchLocked(snap)
}

func (p *Process) launchLocked(snap snapshot.Snapshot) {
	p.gen++
	gen := p.gen
	ctx := p.ctx
	done := make(chan struct{})
	p.inflight = done
	go func() {
		defer close(done)
		art, err := p.builder.Build(ctx, snap)
		p.finish(gen, snap, art, err)
	}()
}

func (p *Process) finish(gen uint64, snap snapshot.Snapshot, art *Artifact, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.inflight = nil

	if err == nil && art == nil {
		err = fmt.Errorf("%w: builder returned no artifact", ErrArtifactConstructionFailed)
	}
	if err != nil {
		p.releaseLocked()
		p.followUp = false
		p.errMsg = err.Error()
		p.setStatusLocked(StatusError)
		p.logf("build failed: %v", err)
		return
	}

	p.host.Register(art)
	p.releaseLocked()
	p.artifact = art
	p.snap = snap
	p.logf("preview ready at %s (%d files)", art.URL(), len(art.Files))

	if p.followUp {
		p.followUp = false
		p.broadcastLocked()
		p.followUpLocked()
		return
	}
	p.setStatusLocked(StatusRunning)
}

// followUpLocked runs the queued refresh. The status stays refreshing; the
// snapshot source is read without the lock held.
func (p *Process) followUpLocked() {
	gen := p.gen
	go func() {
		snap := p.latest()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen != gen || p.status != StatusRefreshing {
			return
		}
		p.logf("running queued refresh (%d files)", len(snap))
		p.launchLocked(snap)
	}()
}

func (p *Process) releaseLocked() {
	if p.artifact == nil {
		return
	}
	p.host.Revoke(p.artifact.Handle)
	p.logf("released %s", p.artifact.URL())
	p.artifact = nil
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Process) stateLocked() State {
	s := State{
		Status:   p.status,
		Error:    p.errMsg,
		Files:    len(p.snap),
		Viewport: p.viewport,
		Frame:    p.viewport.Frame(),
	}
	if p.artifact != nil {
		s.Handle = p.artifact.Handle
		s.URL = p.artifact.URL()
		s.Digest = p.artifact.Digest
	}
	return s
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Snapshot returns the snapshot of the active artifact, or nil when stopped.
func (p *Process) Snapshot() snapshot.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Process) Artifact() *Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}

// SetViewport changes the device frame. It does not touch the lifecycle.
func (p *Process) SetViewport(v Viewport) error {
	if _, err := ParseViewport(string(v)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.viewport == v {
		return nil
	}
	p.viewport = v
	p.logf("viewport set to %s", v)
	p.broadcastLocked()
	return nil
}

func (p *Process) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// Watch delivers the state after every change. Slow watchers miss updates.
func (p *Process) Watch() (<-chan State, func()) {
	ch := make(chan State, 16)
	p.mu.Lock()
	if p.closed {
		close(ch)
		p.mu.Unlock()
		return ch, func() {}
	}
	p.watchers[ch] = struct{}{}
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		if _, ok := p.watchers[ch]; ok {
			delete(p.watchers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
}

func (p *Process) setStatusLocked(s Status) {
	p.status = s
	p.broadcastLocked()
}

func (p *Process) broadcastLocked() {
	st := p.stateLocked()
	for ch := range p.watchers {
		select {
		case ch <- st:
		default:
		}
	}
}

func (p *Process) logf(format string, args ...any) {
	e := p.logs.Appendf(format, args...)
	log.Printf("PREVIEW: %s", e.Msg)
}

// Close stops the process, disposes the refresh timer and closes watchers.
func (p *Process) Close() {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.auto.Close()
	for ch := range p.watchers {
		delete(p.watchers, ch)
		close(ch)
	}
}
