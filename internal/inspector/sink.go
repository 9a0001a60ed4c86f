package inspector

import "log/slog"

// EventSink receives lifecycle and message events. Emit is called from
// connection goroutines and must not block for long; events are never retried.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink delivers each event to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// LogSink logs every event at info level, message payloads at debug.
func LogSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ev Event) {
		switch e := ev.(type) {
		case StatusEvent:
			attrs := []any{"status", e.Status.String()}
			if e.Address != nil {
				attrs = append(attrs, "addr", e.Address.String())
			}
			if e.RunID != "" {
				attrs = append(attrs, "run", e.RunID)
			}
			logger.Info("server status", attrs...)
		case ConnectEvent:
			logger.Info("client connected", "id", e.Client.ID, "addr", addrString(e.Client.Addr), "path", e.Path)
		case MessageEvent:
			logger.Debug("client message",
				"id", e.Client.ID,
				"direction", e.Direction.String(),
				"kind", e.Frame.Kind.String(),
				"size", len(e.Frame.Payload),
			)
		case DisconnectEvent:
			attrs := []any{"id", e.Client.ID}
			if e.Close != nil {
				attrs = append(attrs, "code", e.Close.Code, "reason", e.Close.Reason)
			}
			logger.Info("client disconnected", attrs...)
		}
	})
}
