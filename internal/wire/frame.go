// Package wire implements MiniBit's on-the-wire framing: a 4-byte
// big-endian length prefix followed by a UTF-8 JSON body, used for both
// the tracker protocol and the peer protocol. Binary block payloads are
// carried as a raw tail after the JSON frame, its length declared by the
// frame's PayloadLen field, rather than base64-encoded inline.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge guards against a peer announcing an implausible frame
// length, which would otherwise make us block forever trying to read it.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// MaxFrameSize bounds a single JSON header frame. Block payload tails are
// not bounded by it: ReadTail reads whatever length the header declares.
const MaxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed frame from r and returns its body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			// the length prefix was read, so the stream ended mid-frame.
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame. Callers that share
// a connection across goroutines must serialize calls to WriteFrame
// themselves (see spec §5 ordering guarantees) - it performs exactly one
// Write of the concatenated header+body so a single call never interleaves
// with itself, but two concurrent calls on the same writer can still race.
func WriteFrame(w io.Writer, body []byte) error {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadTail reads exactly n raw bytes following a JSON frame header - used
// for the block_data payload tail declared by PayloadLen.
func ReadTail(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read payload tail: %w", err)
	}
	return buf, nil
}
