// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package wire implements the length-prefixed, magic-tagged binary framing
// used by every connection in tpar: a 4-byte magic constant, a 4-byte
// payload length, and the payload itself. Payloads are tag-byte-prefixed
// gob encodings, self-describing enough to distinguish tagged-union
// message variants on decode.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies the start of a frame.
const Magic uint32 = 0xDEADBEEF

const headerSize = 8

var (
	// ErrBadFrame is returned when a frame's magic constant does not match.
	ErrBadFrame = errors.New("wire: bad frame magic")
	// ErrTruncated is returned when the underlying byte source ends mid-frame.
	ErrTruncated = errors.New("wire: truncated frame")
	// ErrDecode is returned when a frame's payload cannot be deserialized
	// into the expected type.
	ErrDecode = errors.New("wire: payload decode error")
)

// WriteFrame writes one self-delimiting frame containing payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF // clean end of stream between frames
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != Magic {
		return nil, ErrBadFrame
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return payload, nil
}
