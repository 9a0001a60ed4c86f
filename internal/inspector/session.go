package inspector

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// session owns one upgraded connection: a read loop relaying frames to the
// sink and a write loop that is the only writer to the socket.
type session struct {
	client Client
	conn   *websocket.Conn
	sink   EventSink
	logger *slog.Logger

	writeTimeout time.Duration
	closeGrace   time.Duration

	out        chan Frame    // outbound queue, drained by writeLoop
	readDone   chan struct{} // closed when readLoop returns
	writerDone chan struct{} // closed when writeLoop returns

	quit      chan struct{}
	quitOnce  sync.Once
	quitFrame Frame

	closeSent atomic.Bool

	mu       sync.Mutex
	closed   bool           // the disconnect event has been claimed
	inflight sync.WaitGroup // controller sends admitted before closed was set
}

func newSession(c Client, conn *websocket.Conn, sink EventSink, logger *slog.Logger, opts Options) *session {
	return &session{
		client:       c,
		conn:         conn,
		sink:         sink,
		logger:       logger.With("id", c.ID),
		writeTimeout: opts.WriteTimeout,
		closeGrace:   opts.CloseGrace,
		out:          make(chan Frame, opts.OutboundBuffer),
		readDone:     make(chan struct{}),
		writerDone:   make(chan struct{}),
		quit:         make(chan struct{}),
	}
}

// run blocks until both loops have exited. The caller deregisters the session
// afterwards; run guarantees the disconnect event has been emitted by then.
func (s *session) run() {
	var g errgroup.Group
	g.Go(s.readLoop)
	g.Go(s.writeLoop)
	err := g.Wait()
	_ = s.conn.Close()

	switch {
	case err == nil:
	case websocket.IsCloseError(err, websocket.CloseAbnormalClosure), errors.Is(err, net.ErrClosed), isTimeout(err):
		s.logger.Debug("connection ended", "error", err)
	default:
		s.logger.Warn("connection error", "error", err)
	}
	s.emitDisconnect(nil)
}

func (s *session) readLoop() error {
	defer close(s.readDone)

	s.conn.SetPingHandler(func(data string) error {
		s.relay(PingFrame([]byte(data)))
		s.queueReply(PongFrame([]byte(data)))
		return nil
	})
	s.conn.SetPongHandler(func(data string) error {
		s.relay(PongFrame([]byte(data)))
		return nil
	})
	// Close frames surface from ReadMessage as *websocket.CloseError; the echo
	// goes through the outbound queue instead of being written here.
	s.conn.SetCloseHandler(func(int, string) error { return nil })

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			// An abnormal closure (1006) is how the transport reports a dropped
			// socket; no close frame was received.
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				s.peerClosed(ce)
				return nil
			}
			if s.closeSent.Load() {
				// Peer did not answer our close within the grace period.
				return nil
			}
			return err
		}
		s.relay(frameFromMessage(messageType, data))
	}
}

func (s *session) peerClosed(ce *websocket.CloseError) {
	var info *CloseInfo
	if ce.Code != websocket.CloseNoStatusReceived {
		info = &CloseInfo{Code: uint16(ce.Code), Reason: ce.Text}
	}
	s.emitDisconnect(info)

	if !s.closeSent.Load() {
		s.queueReply(CloseFrame(uint16(ce.Code), ""))
	}
}

func (s *session) relay(f Frame) {
	countFrame(DirectionClient, f)
	s.sink.Emit(MessageEvent{Client: s.client, Direction: DirectionClient, Frame: f})
}

// queueReply queues a protocol reply from the read goroutine.
func (s *session) queueReply(f Frame) {
	select {
	case s.out <- f:
	case <-s.writerDone:
	}
}

// send queues a controller frame and, when report is set, emits it as a
// server message. Once the disconnect is claimed it fails with ErrNotFound,
// so no server message ever follows the disconnect event.
func (s *session) send(f Frame, report bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if err := s.enqueue(f); err != nil {
		return err
	}
	if report {
		s.sink.Emit(MessageEvent{Client: s.client, Direction: DirectionServer, Frame: f})
	}
	return nil
}

// enqueue queues a controller frame. It fails with ErrNotFound once the
// writer has stopped, since nothing would ever deliver the frame.
func (s *session) enqueue(f Frame) error {
	select {
	case <-s.writerDone:
		return ErrNotFound
	default:
	}
	select {
	case s.out <- f:
		return nil
	case <-s.writerDone:
		return ErrNotFound
	}
}

// shutdown asks the writer to flush its queue and close with f.
func (s *session) shutdown(f Frame) {
	s.quitOnce.Do(func() {
		s.quitFrame = f
		close(s.quit)
	})
}

// kill drops the socket without a close handshake.
func (s *session) kill() {
	_ = s.conn.NetConn().Close()
}

// emitDisconnect emits the disconnect event once, after every send admitted
// before it has reported its message.
func (s *session) emitDisconnect(info *CloseInfo) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.sink.Emit(DisconnectEvent{Client: s.client, Close: info})
}

func connectEvent(c Client, r *http.Request) ConnectEvent {
	return ConnectEvent{
		Client:   c,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Query:    r.URL.Query(),
		Header:   r.Header.Clone(),
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
