package inspector

import (
	"net/http"
	"net/netip"
	"sync"

	"github.com/google/uuid"
)

// handle is one bound listener. It exists from a successful bind until
// shutdown completes, and a Server owns at most one at a time.
type handle struct {
	id       uuid.UUID
	addr     netip.AddrPort
	http     *http.Server
	serveErr chan error // receives Serve's result when the serve goroutine exits

	ready     chan struct{} // closed once Serve may begin accepting
	readyOnce sync.Once

	mu        sync.Mutex
	draining  bool
	abandoned bool           // the stop deadline passed; late connections are dropped
	active    sync.WaitGroup // connection handlers in flight
}

func newHandle(addr netip.AddrPort) *handle {
	return &handle{
		id:       uuid.New(),
		addr:     addr,
		serveErr: make(chan error, 1),
		ready:    make(chan struct{}),
	}
}

// release lets the serve goroutine call Serve. Safe to call more than once.
func (h *handle) release() {
	h.readyOnce.Do(func() { close(h.ready) })
}

// enter admits a connection handler unless shutdown has begun. Admission and
// the draining flag share a lock so Add never races with Wait.
func (h *handle) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *handle) leave() { h.active.Done() }

// closing reports whether shutdown has begun and whether its deadline has passed.
func (h *handle) closing() (draining, abandoned bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draining, h.abandoned
}

// abandon marks the stop deadline as passed.
func (h *handle) abandon() {
	h.mu.Lock()
	h.abandoned = true
	h.mu.Unlock()
}

// drain stops admitting handlers and returns a channel closed once every
// admitted handler has returned.
func (h *handle) drain() <-chan struct{} {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	return done
}

// lifecycle is the four-state machine guarding the handle. Transitions are
// made under mu; no I/O happens while it is held.
type lifecycle struct {
	mu     sync.RWMutex
	status Status
	h      *handle
}

// begin moves from Stopped to Starting.
func (l *lifecycle) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusStopped {
		return statusError(l.status)
	}
	l.status = StatusStarting
	return nil
}

// started moves from Starting to Started with h, or back to Stopped when h is nil.
func (l *lifecycle) started(h *handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h = h
	if h == nil {
		l.status = StatusStopped
		return
	}
	l.status = StatusStarted
}

// stopping moves from Started to Stopping and hands over the handle.
func (l *lifecycle) stopping() (*handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusStarted {
		return nil, statusError(l.status)
	}
	l.status = StatusStopping
	return l.h, nil
}

func (l *lifecycle) stopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h = nil
	l.status = StatusStopped
}

// running returns the handle while Started.
func (l *lifecycle) running() (*handle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.h == nil || l.status != StatusStarted {
		return nil, &StatusError{Status: l.status, Msg: "server is not running"}
	}
	return l.h, nil
}

func (l *lifecycle) snapshot() (Status, *handle) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status, l.h
}
