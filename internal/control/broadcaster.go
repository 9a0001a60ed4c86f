package control

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andy6609/ws-inspector/internal/inspector"
)

var (
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspector_events_dropped_total",
		Help: "Events not delivered to a slow event stream subscriber",
	})

	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspector_event_subscribers",
		Help: "Number of open event stream subscriptions",
	})
)

func init() {
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(Subscribers)
}

// Broadcaster is an EventSink that fans events out to stream subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan inspector.Event]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		subs:   make(map[chan inspector.Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan inspector.Event, func()) {
	ch := make(chan inspector.Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	Subscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			Subscribers.Dec()
		})
	}
}

func (b *Broadcaster) Emit(ev inspector.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		// A slow subscriber loses events instead of stalling connections.
		select {
		case ch <- ev:
		default:
			EventsDropped.Inc()
		}
	}
}
