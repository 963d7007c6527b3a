package wsframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Opcode identifies the kind of frame. Only the low four bits of the first
// header byte carry it.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	len16Sentinel = 126
	len64Sentinel = 127

	// DefaultMaxPayload bounds the size of a single inbound frame.
	DefaultMaxPayload uint64 = 64 << 20
)

var (
	// ErrFrameTooLarge is returned when a frame declares a payload longer than
	// the reader's limit.
	ErrFrameTooLarge = errors.New("wsframe: frame payload exceeds limit")
	// ErrInvalidUTF8 is returned for text frames whose payload is not UTF-8.
	ErrInvalidUTF8 = errors.New("wsframe: text frame is not valid UTF-8")
)

// Frame is one decoded wire unit. Fin is only meaningful on read; WriteFrame
// always emits final frames.
type Frame struct {
	Opcode  Opcode
	Fin     bool
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// IsControl reports whether the frame is a close, ping or pong frame.
func (f Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

// ReadFrame reads and unmasks a single frame from r. Any error is fatal for
// the connection: a short header surfaces as io.EOF or io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxPayload uint64) (Frame, error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Opcode: Opcode(hdr[0] & 0x0F),
		Fin:    hdr[0]&finBit != 0,
		Masked: hdr[1]&maskBit != 0,
	}

	var length uint64
	switch n := hdr[1] & 0x7F; n {
	case len16Sentinel:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, unexpected(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case len64Sentinel:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, unexpected(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	default:
		length = uint64(n)
	}

	if length > maxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, maxPayload)
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return Frame{}, unexpected(err)
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, unexpected(err)
	}

	if f.Masked {
		maskBytes(f.MaskKey, f.Payload)
	}

	if f.Opcode == OpText && f.Fin && !utf8.Valid(f.Payload) {
		return Frame{}, ErrInvalidUTF8
	}
	return f, nil
}

// WriteFrame encodes f using the shortest length encoding. The payload of f is
// not modified when masking.
func WriteFrame(w io.Writer, f Frame) error {
	n := uint64(len(f.Payload))

	hdr := make([]byte, 0, 14)
	hdr = append(hdr, finBit|byte(f.Opcode&0x0F))

	var mask byte
	if f.Masked {
		mask = maskBit
	}
	switch {
	case n < len16Sentinel:
		hdr = append(hdr, mask|byte(n))
	case n <= 0xFFFF:
		hdr = append(hdr, mask|len16Sentinel)
		hdr = binary.BigEndian.AppendUint16(hdr, uint16(n))
	default:
		hdr = append(hdr, mask|len64Sentinel)
		hdr = binary.BigEndian.AppendUint64(hdr, n)
	}

	payload := f.Payload
	if f.Masked {
		hdr = append(hdr, f.MaskKey[:]...)
		payload = make([]byte, len(f.Payload))
		copy(payload, f.Payload)
		maskBytes(f.MaskKey, payload)
	}

	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// WriteText writes payload as a single unmasked final text frame.
func WriteText(w io.Writer, payload []byte) error {
	return WriteFrame(w, Frame{Opcode: OpText, Payload: payload})
}

func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
