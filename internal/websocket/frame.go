package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gorilla "github.com/gorilla/websocket"
)

// Frame opcodes. Data opcodes share gorilla's message type values.
const (
	OpContinuation = 0x0
	OpText         = gorilla.TextMessage
	OpBinary       = gorilla.BinaryMessage
	OpClose        = gorilla.CloseMessage
	OpPing         = gorilla.PingMessage
	OpPong         = gorilla.PongMessage
)

// MaxPayload bounds a single frame.
const MaxPayload = 1 << 20

var errFrameTooLarge = errors.New("websocket: frame payload too large")

// Frame is one websocket frame with its payload unmasked.
type Frame struct {
	FIN     bool
	RSV     byte // RSV1-3 bits, must be zero without extensions
	Opcode  byte
	Masked  bool
	Payload []byte
}

func (f *Frame) isControl() bool { return f.Opcode&0x8 != 0 }

// ReadFrame reads a frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	f := &Frame{
		FIN:    header[0]&0x80 != 0,
		RSV:    header[0] & 0x70,
		Opcode: header[0] & 0x0F,
		Masked: header[1]&0x80 != 0,
	}

	length := uint64(header[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > MaxPayload {
		return nil, errFrameTooLarge
	}
	if f.isControl() && (length > 125 || !f.FIN) {
		return nil, fmt.Errorf("websocket: invalid control frame")
	}

	var key [4]byte
	if f.Masked {
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, fmt.Errorf("failed to read mask key: %w", err)
		}
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if f.Masked {
			mask(f.Payload, key)
		}
	}
	return f, nil
}

// AppendFrame appends the wire form of a final frame to dst. Client frames
// are masked with a random key.
func AppendFrame(dst []byte, opcode byte, payload []byte, masked bool) []byte {
	dst = append(dst, 0x80|opcode)

	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	n := len(payload)
	switch {
	case n < 126:
		dst = append(dst, maskBit|byte(n))
	case n < 65536:
		dst = append(dst, maskBit|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, maskBit|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !masked {
		return append(dst, payload...)
	}
	var key [4]byte
	_, _ = rand.Read(key[:])
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	mask(dst[start:], key)
	return dst
}

// mask applies the XOR mask in place; masking and unmasking are the same.
func mask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// OpcodeString returns a human-readable opcode name
func OpcodeString(op byte) string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", op)
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, OpcodeString(f.Opcode), f.Masked, len(f.Payload))
}
