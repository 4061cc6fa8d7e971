// Package websocket implements the RFC 6455 handshake and frame codec on top
// of a stream handed over by the connection loop's upgrade callback.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/transport"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ValidateUpgradeRequest checks if the request is a valid websocket upgrade.
func ValidateUpgradeRequest(req *message.Request) error {
	if req.Method != message.GET {
		return fmt.Errorf("invalid method: %s (expected GET)", req.Method)
	}
	if !req.Header.HasToken("Upgrade", "websocket") {
		return fmt.Errorf("invalid Upgrade header: %q (expected websocket)", req.Header.Get("Upgrade"))
	}
	if !req.Header.HasToken("Connection", "upgrade") {
		return fmt.Errorf("invalid Connection header: %q (expected upgrade)", req.Header.Get("Connection"))
	}
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return fmt.Errorf("invalid Sec-WebSocket-Version: %q (expected 13)", v)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return fmt.Errorf("invalid Sec-WebSocket-Key %q", key)
	}
	return nil
}

// AcceptKey computes Sec-WebSocket-Accept for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key)))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Upgrade answers a websocket handshake. The returned 101 response carries
// an upgrade callback that runs fn on the switched stream. An invalid
// handshake yields a 400 HTTPError (426 when the version is unsupported).
func Upgrade(req *message.Request, fn func(*Conn) error) (*message.Response, error) {
	if err := ValidateUpgradeRequest(req); err != nil {
		if v, ok := req.Header.Lookup("Sec-WebSocket-Version"); ok && v != "13" {
			return nil, &versionError{message.NewError(426, err)}
		}
		return nil, message.NewError(400, err)
	}

	resp := message.NewResponse(101)
	resp.Header.Set("Upgrade", "websocket")
	resp.Header.Set("Connection", "Upgrade")
	resp.Header.Set("Sec-WebSocket-Accept", AcceptKey(req.Header.Get("Sec-WebSocket-Key")))
	resp.Upgrade = func(req *message.Request, s transport.Stream) error {
		c := NewConn(s, false)
		logging.Debug("WebSocket session started",
			zap.String("remote_addr", c.remote),
			zap.String("path", req.Path),
		)
		return fn(c)
	}
	return resp, nil
}

// versionError answers 426 and advertises the supported version.
type versionError struct {
	*message.HTTPError
}

func (e *versionError) Response() *message.Response {
	resp := e.HTTPError.Response()
	resp.Header.Set("Sec-WebSocket-Version", "13")
	return resp
}
