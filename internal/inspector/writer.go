package inspector

import (
	"time"

	"github.com/gorilla/websocket"
)

// writeLoop is the only goroutine that writes to the socket. It drains the
// outbound queue in order and stops after a close frame has been written.
func (s *session) writeLoop() error {
	defer close(s.writerDone)

	for {
		select {
		case f := <-s.out:
			if done, err := s.write(f); done || err != nil {
				return err
			}
		case <-s.quit:
			if done, err := s.flush(); done || err != nil {
				return err
			}
			_, err := s.write(s.quitFrame)
			return err
		case <-s.readDone:
			// Deliver what the read side queued last, typically the close echo.
			_, err := s.flush()
			return err
		}
	}
}

// flush writes whatever is queued right now without waiting for more.
func (s *session) flush() (bool, error) {
	for {
		select {
		case f := <-s.out:
			if done, err := s.write(f); done || err != nil {
				return done, err
			}
		default:
			return false, nil
		}
	}
}

// write sends one frame. done reports that the writer must stop, either because
// a close frame went out or because the socket failed.
func (s *session) write(f Frame) (done bool, err error) {
	deadline := time.Now().Add(s.writeTimeout)

	switch f.Kind {
	case FrameText:
		_ = s.conn.SetWriteDeadline(deadline)
		err = s.conn.WriteMessage(websocket.TextMessage, f.Payload)
	case FrameBinary, FrameOther:
		_ = s.conn.SetWriteDeadline(deadline)
		err = s.conn.WriteMessage(websocket.BinaryMessage, f.Payload)
	case FramePing:
		err = s.conn.WriteControl(websocket.PingMessage, f.Payload, deadline)
	case FramePong:
		err = s.conn.WriteControl(websocket.PongMessage, f.Payload, deadline)
	case FrameClose:
		s.closeSent.Store(true)
		err = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(f.Code), f.Reason), deadline)
		if err == nil {
			// The peer gets closeGrace to answer before the read loop gives up.
			_ = s.conn.NetConn().SetReadDeadline(time.Now().Add(s.closeGrace))
			return true, nil
		}
	}

	if err != nil {
		s.kill()
		return true, err
	}
	if f.Kind != FramePong {
		countFrame(DirectionServer, f)
	}
	return false, nil
}
