// Package codec frames the Betterfly wire protocol: UTF-8 JSON objects
// delimited by braces, zero or more per TCP read. Payloads are flat maps
// of scalars, so the first closing brace after an opening brace always
// ends the object.
package codec

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrMalformed reports a non-empty buffer that yields no complete frame.
var ErrMalformed = errors.New("codec: malformed frame")

var framePattern = regexp.MustCompile(`(?s)\{.*?\}`)

// Cipher is an optional symmetric transform applied to whole buffers.
// Seal processes outbound bytes, Open inbound ones.
type Cipher interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Codec splits read buffers into frames and encodes outbound frames.
type Codec struct {
	cipher Cipher
}

// New returns a codec wrapping the given cipher. A nil cipher is the
// identity.
func New(cipher Cipher) *Codec {
	return &Codec{cipher: cipher}
}

// Decode returns every complete frame in buf, in arrival order. The
// returned slices alias buf. An empty buf yields no frames and no error.
func (c *Codec) Decode(buf []byte) ([][]byte, error) {
	if c.cipher != nil {
		var err error
		buf, err = c.cipher.Open(buf)
		if err != nil {
			return nil, fmt.Errorf("codec: open: %w", err)
		}
	}
	if len(buf) == 0 {
		return nil, nil
	}
	frames := framePattern.FindAll(buf, -1)
	if len(frames) == 0 {
		return nil, ErrMalformed
	}
	return frames, nil
}

// Encode prepares one serialised frame for the wire.
func (c *Codec) Encode(frame []byte) ([]byte, error) {
	if c.cipher == nil {
		return frame, nil
	}
	sealed, err := c.cipher.Seal(frame)
	if err != nil {
		return nil, fmt.Errorf("codec: seal: %w", err)
	}
	return sealed, nil
}
