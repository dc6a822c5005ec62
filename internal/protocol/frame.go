// Package protocol implements the broker wire format: length-prefixed frames
// carrying a versioned single-string envelope, plus the fixed text markers
// that clients parse.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the width of the big-endian length prefix on every frame.
const HeaderSize = 4

// DefaultMaxFrameSize bounds a single payload unless the caller asks otherwise.
const DefaultMaxFrameSize = 64 * 1024

var (
	// ErrPeerClosed is returned when the stream ends cleanly before a new frame.
	ErrPeerClosed = errors.New("protocol: peer closed")
	// ErrMalformedFrame is returned when a frame is truncated or cannot be decoded.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrFrameTooLarge is returned when a length header exceeds the configured limit.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// WriteFrame writes the length header followed by payload. A failure on
// either write is reported as one error.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one raw payload. Partial reads are reassembled until the
// full payload has arrived. A stream that ends before the first header byte
// yields ErrPeerClosed; anything cut short after that is ErrMalformedFrame.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrMalformedFrame)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short payload", ErrMalformedFrame)
		}
		return nil, err
	}
	return payload, nil
}

// Send encodes text into an envelope and writes it as one frame.
func Send(w io.Writer, text string) error {
	return WriteFrame(w, EncodeEnvelope(text))
}

// Receive reads one frame and decodes its envelope.
func Receive(r io.Reader, maxSize int) (string, error) {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return "", err
	}
	return DecodeEnvelope(payload)
}
