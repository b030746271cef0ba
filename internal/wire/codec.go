package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// Encode gob-encodes v.
func Encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes payload into v.
func Decode(payload []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// WriteMessage frames a tag byte followed by the gob encoding of v: the tag
// discriminates which tagged-union variant the gob payload holds, so a
// decoder only needs the tag to pick the right destination type.
func WriteMessage(w io.Writer, tag byte, v any) error {
	body, err := Encode(v)
	if err != nil {
		return err
	}
	payload := make([]byte, 1+len(body))
	payload[0] = tag
	copy(payload[1:], body)
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and splits it into its tag byte and gob body.
func ReadMessage(r io.Reader) (tag byte, body []byte, err error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	return payload[0], payload[1:], nil
}
