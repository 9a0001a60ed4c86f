package inspector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// recorder is an EventSink that keeps every event in emission order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, what string, cond func([]Event) bool) []Event {
	t.Helper()
	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if evs := r.all(); cond(evs) {
			return evs
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			t.Fatalf("timeout waiting for %s; got %d events", what, len(r.all()))
		}
	}
}

func (r *recorder) waitConnects(t *testing.T, n int) []ConnectEvent {
	t.Helper()
	evs := r.waitFor(t, "connect events", func(evs []Event) bool { return len(connectsOf(evs)) >= n })
	return connectsOf(evs)
}

func (r *recorder) waitDisconnect(t *testing.T, id ConnectionID) DisconnectEvent {
	t.Helper()
	evs := r.waitFor(t, "disconnect of "+id.String(), func(evs []Event) bool {
		return len(disconnectsOf(evs, id)) > 0
	})
	return disconnectsOf(evs, id)[0]
}

func (r *recorder) waitMessages(t *testing.T, id ConnectionID, d Direction, n int) []MessageEvent {
	t.Helper()
	evs := r.waitFor(t, d.String()+" messages", func(evs []Event) bool {
		return len(messagesOf(evs, id, d)) >= n
	})
	return messagesOf(evs, id, d)
}

func connectsOf(evs []Event) []ConnectEvent {
	var out []ConnectEvent
	for _, ev := range evs {
		if c, ok := ev.(ConnectEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func messagesOf(evs []Event, id ConnectionID, d Direction) []MessageEvent {
	var out []MessageEvent
	for _, ev := range evs {
		if m, ok := ev.(MessageEvent); ok && m.Client.ID == id && m.Direction == d {
			out = append(out, m)
		}
	}
	return out
}

func disconnectsOf(evs []Event, id ConnectionID) []DisconnectEvent {
	var out []DisconnectEvent
	for _, ev := range evs {
		if d, ok := ev.(DisconnectEvent); ok && d.Client.ID == id {
			out = append(out, d)
		}
	}
	return out
}

func indexOf(evs []Event, match func(Event) bool) int {
	for i, ev := range evs {
		if match(ev) {
			return i
		}
	}
	return -1
}

func newTestServer(t *testing.T, opts Options) (*Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(rec, logger, opts)
	t.Cleanup(func() {
		if st, _ := srv.Status(); st == StatusStarted {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}
	})
	return srv, rec
}

func startTestServer(t *testing.T, opts Options) (*Server, *recorder, netip.AddrPort) {
	t.Helper()
	srv, rec := newTestServer(t, opts)
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	return srv, rec, addr
}

func dial(t *testing.T, addr netip.AddrPort, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+path, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// drain keeps reading so the client side answers pings and close frames.
func drain(conn *websocket.Conn) <-chan error {
	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

func stopCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
