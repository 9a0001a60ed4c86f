package inspector

import (
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
)

// ConnectionID names one accepted connection for the lifetime of the process.
type ConnectionID uint64

func (id ConnectionID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Client identifies a connection in every event that concerns it.
type Client struct {
	ID   ConnectionID    `json:"identifier"`
	Addr *netip.AddrPort `json:"address"`
}

type Direction int

const (
	DirectionClient Direction = iota
	DirectionServer
)

func (d Direction) String() string {
	if d == DirectionServer {
		return "SERVER"
	}
	return "CLIENT"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusStarted
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event is one of StatusEvent, ConnectEvent, MessageEvent or DisconnectEvent.
type Event interface {
	// Name is the event channel name seen by observers.
	Name() string
	event()
}

// StatusEvent reports a lifecycle transition. Address is set for StatusStarted.
type StatusEvent struct {
	Status  Status          `json:"name"`
	Address *netip.AddrPort `json:"address,omitempty"`
	RunID   string          `json:"run,omitempty"`
}

// ConnectEvent is emitted once a handshake has completed.
type ConnectEvent struct {
	Client   Client      `json:"client"`
	Path     string      `json:"tail"`
	RawQuery string      `json:"raw_query"`
	Query    url.Values  `json:"query"`
	Header   http.Header `json:"headers"`
}

// MessageEvent carries one frame read from, or queued to, a client.
type MessageEvent struct {
	Client    Client    `json:"client"`
	Direction Direction `json:"direction"`
	Frame     Frame     `json:"message"`
}

// CloseInfo is the payload of a received close frame.
type CloseInfo struct {
	Code   uint16 `json:"code"`
	Reason string `json:"reason"`
}

// DisconnectEvent is emitted exactly once per connection. Close is nil when the
// peer went away without a close frame or sent one without a status code.
type DisconnectEvent struct {
	Client Client     `json:"client"`
	Close  *CloseInfo `json:"message"`
}

func (StatusEvent) Name() string     { return "server_status" }
func (ConnectEvent) Name() string    { return "client_connect" }
func (MessageEvent) Name() string    { return "client_message" }
func (DisconnectEvent) Name() string { return "client_disconnect" }

func (StatusEvent) event()     {}
func (ConnectEvent) event()    {}
func (MessageEvent) event()    {}
func (DisconnectEvent) event() {}
