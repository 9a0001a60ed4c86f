package inspector

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FramePing
	FramePong
	FrameClose
	FrameOther
)

var frameKindNames = [...]string{"TEXT", "BINARY", "PING", "PONG", "CLOSE", "FRAME"}

func (k FrameKind) String() string {
	if k < 0 || int(k) >= len(frameKindNames) {
		return "FRAME"
	}
	return frameKindNames[k]
}

// Frame is one WebSocket frame with an opaque payload. Code and Reason are
// only meaningful for FrameClose.
type Frame struct {
	Kind    FrameKind
	Payload []byte
	Code    uint16
	Reason  string
}

func TextFrame(s string) Frame { return Frame{Kind: FrameText, Payload: []byte(s)} }
func BinaryFrame(b []byte) Frame { return Frame{Kind: FrameBinary, Payload: b} }
func PingFrame(b []byte) Frame { return Frame{Kind: FramePing, Payload: b} }
func PongFrame(b []byte) Frame { return Frame{Kind: FramePong, Payload: b} }
func OtherFrame(b []byte) Frame { return Frame{Kind: FrameOther, Payload: b} }
func CloseFrame(code uint16, reason string) Frame {
	return Frame{Kind: FrameClose, Code: code, Reason: reason}
}

func (f Frame) Text() string { return string(f.Payload) }

// MarshalJSON encodes the frame as {"TEXT":{"msg":...}}, the shape observers
// already consume. Byte payloads are arrays of numbers, never null. Close
// frames carry code and reason instead of msg.
func (f Frame) MarshalJSON() ([]byte, error) {
	var body any
	switch f.Kind {
	case FrameText:
		body = struct {
			Msg string `json:"msg"`
		}{f.Text()}
	case FrameClose:
		body = CloseInfo{Code: f.Code, Reason: f.Reason}
	default:
		// Widened so encoding/json emits numbers rather than base64.
		msg := make([]uint16, len(f.Payload))
		for i, b := range f.Payload {
			msg[i] = uint16(b)
		}
		body = struct {
			Msg []uint16 `json:"msg"`
		}{msg}
	}
	return json.Marshal(map[string]any{f.Kind.String(): body})
}

// frameFromMessage classifies a data message returned by the transport.
func frameFromMessage(messageType int, data []byte) Frame {
	switch messageType {
	case websocket.TextMessage:
		return Frame{Kind: FrameText, Payload: data}
	case websocket.BinaryMessage:
		return Frame{Kind: FrameBinary, Payload: data}
	case websocket.PingMessage:
		return Frame{Kind: FramePing, Payload: data}
	case websocket.PongMessage:
		return Frame{Kind: FramePong, Payload: data}
	default:
		return Frame{Kind: FrameOther, Payload: data}
	}
}

// maxCloseReason is the control frame payload limit minus the status code.
const maxCloseReason = 123

func validateClose(code uint16, reason string) error {
	if !sendableCloseCode(code) {
		return &CloseError{Code: code, Reason: reason, Msg: "status code may not be sent"}
	}
	if len(reason) > maxCloseReason {
		return &CloseError{Code: code, Reason: reason, Msg: "reason longer than 123 bytes"}
	}
	if !utf8.ValidString(reason) {
		return &CloseError{Code: code, Reason: reason, Msg: "reason is not valid UTF-8"}
	}
	return nil
}

// sendableCloseCode follows the RFC 6455 registry: 1004-1006 and 1015 are
// reserved for local use and never appear on the wire.
func sendableCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}
