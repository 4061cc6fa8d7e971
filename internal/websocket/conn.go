package websocket

import (
	"bufio"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/transport"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Conn is a websocket endpoint over a raw stream.
type Conn struct {
	s      transport.Stream
	r      *bufio.Reader
	client bool
	remote string
	out    []byte

	closeSent bool
}

// NewConn wraps s. Client endpoints mask the frames they send.
func NewConn(s transport.Stream, client bool) *Conn {
	return &Conn{
		s:      s,
		r:      bufio.NewReader(transport.Reader(s, transport.After(pongWait))),
		client: client,
		remote: transport.RemoteAddr(s),
	}
}

// ReadFrame reads the next frame.
func (c *Conn) ReadFrame() (*Frame, error) {
	f, err := ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	if f.RSV != 0 {
		return nil, c.fail(gorilla.CloseProtocolError, "reserved bits set")
	}
	if !c.client && !f.Masked {
		return nil, c.fail(gorilla.CloseProtocolError, "client frame not masked")
	}
	logging.LogWebSocketMessage(c.remote, "received", int(f.Opcode), f.Payload)
	return f, nil
}

// ReadMessage returns the next data message, reassembling fragments.
// Pings are answered and pongs skipped. A close frame is acknowledged and
// returned as a *gorilla.CloseError.
func (c *Conn) ReadMessage() (opcode byte, payload []byte, err error) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			if errors.Is(err, errFrameTooLarge) {
				return 0, nil, c.fail(gorilla.CloseMessageTooBig, "frame too large")
			}
			return 0, nil, err
		}
		switch f.Opcode {
		case OpPing:
			if err := c.WriteMessage(OpPong, f.Payload); err != nil {
				return 0, nil, err
			}
		case OpPong:
		case OpClose:
			return 0, nil, c.acknowledgeClose(f.Payload)
		case OpText, OpBinary:
			if opcode != 0 {
				return 0, nil, c.fail(gorilla.CloseProtocolError, "new message inside fragmented message")
			}
			opcode = f.Opcode
			payload = append(payload, f.Payload...)
		case OpContinuation:
			if opcode == 0 {
				return 0, nil, c.fail(gorilla.CloseProtocolError, "continuation without start")
			}
			payload = append(payload, f.Payload...)
		default:
			return 0, nil, c.fail(gorilla.CloseProtocolError, "unknown opcode")
		}
		if len(payload) > MaxPayload {
			return 0, nil, c.fail(gorilla.CloseMessageTooBig, "message too large")
		}
		if opcode != 0 && f.FIN && (f.Opcode == opcode || f.Opcode == OpContinuation) {
			if opcode == OpText && !utf8.Valid(payload) {
				return 0, nil, c.fail(gorilla.CloseInvalidFramePayloadData, "invalid utf-8")
			}
			return opcode, payload, nil
		}
	}
}

// WriteMessage sends payload as a single final frame.
func (c *Conn) WriteMessage(opcode byte, payload []byte) error {
	c.out = AppendFrame(c.out[:0], opcode, payload, c.client)
	deadline := time.Now().Add(writeWait)
	if err := c.s.Write(c.out, deadline); err != nil {
		return err
	}
	logging.LogWebSocketMessage(c.remote, "sent", int(opcode), payload)
	return c.s.Flush(deadline)
}

// Close sends a close frame with code and reason.
func (c *Conn) Close(code int, reason string) error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	return c.WriteMessage(OpClose, gorilla.FormatCloseMessage(code, reason))
}

func (c *Conn) acknowledgeClose(payload []byte) error {
	ce := &gorilla.CloseError{Code: gorilla.CloseNoStatusReceived}
	if len(payload) >= 2 {
		ce.Code = int(payload[0])<<8 | int(payload[1])
		ce.Text = string(payload[2:])
	}
	code := ce.Code
	if code == gorilla.CloseNoStatusReceived {
		code = gorilla.CloseNormalClosure
	}
	if err := c.Close(code, ""); err != nil {
		return err
	}
	return ce
}

func (c *Conn) fail(code int, reason string) error {
	_ = c.Close(code, reason)
	return &gorilla.CloseError{Code: code, Text: reason}
}

// Echo sends every data message back until the peer closes.
func Echo(c *Conn) error {
	for {
		op, payload, err := c.ReadMessage()
		if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway, gorilla.CloseNoStatusReceived) {
				return nil
			}
			if transport.IsDisconnect(err) {
				logging.Debug("WebSocket peer went away", zap.String("remote_addr", c.remote), zap.Error(err))
				return nil
			}
			return fmt.Errorf("websocket echo: %w", err)
		}
		if err := c.WriteMessage(op, payload); err != nil {
			return err
		}
	}
}
