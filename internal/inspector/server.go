package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes connection handling. Zero values select the defaults.
type Options struct {
	OutboundBuffer int           // frames queued per connection before senders block
	MaxMessageSize int64         // largest inbound message accepted
	WriteTimeout   time.Duration // deadline for a single frame write
	CloseGrace     time.Duration // how long a peer has to answer our close frame
	Subprotocols   []string      // offered during the handshake, in preference order
}

const (
	defaultOutboundBuffer = 64
	defaultMaxMessageSize = 64 << 20
	defaultWriteTimeout   = 10 * time.Second
	defaultCloseGrace     = 2 * time.Second
)

func (o *Options) setDefaults() {
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = defaultOutboundBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = defaultCloseGrace
	}
}

// Server runs at most one WebSocket listener at a time and relays every
// connection event to its sink.
type Server struct {
	opts     Options
	sink     EventSink
	logger   *slog.Logger
	upgrader websocket.Upgrader

	reg  *registry
	life lifecycle
}

// lastID is shared by every Server so ids stay unique within the process.
var lastID atomic.Uint64

func NewServer(sink EventSink, logger *slog.Logger, opts Options) *Server {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()
	return &Server{
		opts:   opts,
		sink:   sink,
		logger: logger,
		upgrader: websocket.Upgrader{
			Subprotocols: opts.Subprotocols,
			// Clients under test connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		reg: newRegistry(),
	}
}

// CheckAddress validates an address exactly as Start does, without side effects.
func (s *Server) CheckAddress(raw string) (netip.AddrPort, error) {
	return ParseAddress(raw)
}

// Start binds the address and begins accepting connections. It returns the bound
// address, which resolves an ephemeral port. The state is Started by the time
// the Started event is emitted, so observers may issue commands from it.
func (s *Server) Start(raw string) (netip.AddrPort, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if err := s.life.begin(); err != nil {
		return netip.AddrPort{}, err
	}
	s.sink.Emit(StatusEvent{Status: StatusStarting})

	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		s.life.started(nil)
		s.logger.Error("failed to bind", "addr", addr.String(), "error", err)
		s.sink.Emit(StatusEvent{Status: StatusStopped})
		return netip.AddrPort{}, &BindError{Address: addr.String(), Err: err}
	}

	bound, ok := addrPortOf(ln.Addr())
	if !ok {
		bound = addr
	}
	h := newHandle(bound)
	h.http = &http.Server{
		Handler:           s.handler(h),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}
	// Connections wait in the backlog until Started has been emitted.
	go func() {
		<-h.ready
		h.serveErr <- h.http.Serve(ln)
	}()

	s.life.started(h)
	ServerUp.Set(1)
	s.logger.Info("server started", "addr", bound.String(), "run", h.id)
	s.sink.Emit(StatusEvent{Status: StatusStarted, Address: &bound, RunID: h.id.String()})
	h.release()
	return bound, nil
}

// Stop shuts the listener down and drains every connection: each one is sent
// a going-away close frame and Stop returns only after all of them have
// emitted their disconnect event and the serve goroutine has exited. When ctx
// ends first, remaining sockets are dropped without waiting for the handshake.
func (s *Server) Stop(ctx context.Context) error {
	h, err := s.life.stopping()
	if err != nil {
		return err
	}
	start := time.Now()
	s.logger.Info("shutting down", "run", h.id, "clients", s.reg.count())
	s.sink.Emit(StatusEvent{Status: StatusStopping, RunID: h.id.String()})

	drained := h.drain()
	// Close stops accepting; upgraded connections are hijacked and untouched by it.
	if err := h.http.Close(); err != nil {
		s.logger.Warn("closing listener", "error", err)
	}
	h.release()

	goingAway := CloseFrame(websocket.CloseGoingAway, "server stopping")
	s.reg.forEach(func(sess *session) { sess.shutdown(goingAway) })

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, dropping connections", "remaining", s.reg.count())
		h.abandon()
		s.reg.forEach((*session).kill)
		<-drained
	}

	if err := <-h.serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("serve loop exited", "error", err)
	}

	s.life.stopped()
	ServerUp.Set(0)
	ShutdownDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("shutdown complete", "run", h.id)
	s.sink.Emit(StatusEvent{Status: StatusStopped, RunID: h.id.String()})
	return nil
}

// Status reports the lifecycle state and, while a listener exists, its address.
func (s *Server) Status() (Status, netip.AddrPort) {
	st, h := s.life.snapshot()
	if h == nil {
		return st, netip.AddrPort{}
	}
	return st, h.addr
}

// Clients lists the registered connections ordered by id.
func (s *Server) Clients() []Client {
	snap := s.reg.snapshot()
	out := make([]Client, len(snap))
	for i, sess := range snap {
		out[i] = sess.client
	}
	return out
}

// SendText queues text for connection id. Success means queued, not delivered.
func (s *Server) SendText(id ConnectionID, text string) error {
	return s.send(id, TextFrame(text))
}

// SendBinary queues a binary frame for connection id.
func (s *Server) SendBinary(id ConnectionID, data []byte) error {
	return s.send(id, BinaryFrame(data))
}

func (s *Server) send(id ConnectionID, f Frame) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := sess.send(f, true); err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	return nil
}

// CloseClient queues a close frame for connection id. The connection emits its
// disconnect event once the close handshake completes.
func (s *Server) CloseClient(id ConnectionID, code uint16, reason string) error {
	if err := validateClose(code, reason); err != nil {
		return err
	}
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := sess.send(CloseFrame(code, reason), false); err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	return nil
}

func (s *Server) lookup(id ConnectionID) (*session, error) {
	if _, err := s.life.running(); err != nil {
		return nil, err
	}
	sess, ok := s.reg.get(id)
	if !ok {
		return nil, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return sess, nil
}

func (s *Server) handler(h *handle) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.enter() {
			http.Error(w, "server is stopping", http.StatusServiceUnavailable)
			return
		}
		defer h.leave()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered the request.
			s.logger.Debug("handshake failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s.serveConn(h, conn, r)
	})
}

func (s *Server) serveConn(h *handle, conn *websocket.Conn, r *http.Request) {
	conn.SetReadLimit(s.opts.MaxMessageSize)

	c := Client{ID: ConnectionID(lastID.Add(1))}
	if ap, ok := addrPortOf(conn.RemoteAddr()); ok {
		c.Addr = &ap
	}
	sess := newSession(c, conn, s.sink, s.logger, s.opts)

	// Connect is emitted before the id can be addressed by commands.
	s.sink.Emit(connectEvent(c, r))
	s.reg.insert(sess)
	ConnectionsTotal.Inc()
	// A connection registered after the shutdown sweep closes itself, or is
	// dropped outright once the stop deadline has passed.
	switch draining, abandoned := h.closing(); {
	case abandoned:
		sess.kill()
	case draining:
		sess.shutdown(CloseFrame(websocket.CloseGoingAway, "server stopping"))
	}

	sess.run()
	s.reg.remove(c.ID)
}
