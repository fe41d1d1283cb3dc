package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Peer message types, per spec §4.5. MsgHandshake is not listed in that
// table - it is the fixed two-message preamble from spec §4.2.
const (
	MsgHandshake    = "handshake"
	MsgHave         = "have"
	MsgRequestBlock = "request_block"
	MsgBlockData    = "block_data"
	MsgChoke        = "choke"
	MsgUnchoke      = "unchoke"
)

// PeerMsg is every message exchanged on an established peer connection,
// after the framing header is stripped. Data carries the block_data
// payload tail (see package doc) and is never itself JSON-encoded.
type PeerMsg struct {
	Type       string `json:"type"`
	PeerID     string `json:"peer_id,omitempty"`
	Blocks     []int  `json:"blocks,omitempty"`
	BlockID    int    `json:"block_id,omitempty"`
	PayloadLen int    `json:"payload_len,omitempty"`
	Data       []byte `json:"-"`
}

// WritePeerMsg frames msg's header and, for block_data, appends the raw
// payload tail in the same call. Header and tail are two separate writes,
// so callers sharing a connection across goroutines must serialize calls
// to WritePeerMsg, as with WriteFrame.
func WritePeerMsg(w io.Writer, msg PeerMsg) error {
	if msg.Type == MsgBlockData {
		msg.PayloadLen = len(msg.Data)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode peer message: %w", err)
	}
	if err := WriteFrame(w, body); err != nil {
		return err
	}
	if msg.Type == MsgBlockData && msg.PayloadLen > 0 {
		if _, err := w.Write(msg.Data); err != nil {
			return fmt.Errorf("wire: write block payload: %w", err)
		}
	}
	return nil
}

// ReadPeerMsg receives one peer message, including its raw payload tail
// when Type is block_data.
func ReadPeerMsg(r io.Reader) (PeerMsg, error) {
	var msg PeerMsg
	body, err := ReadFrame(r)
	if err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: malformed peer message: %v", ErrMalformed, err)
	}
	if msg.Type == MsgBlockData && msg.PayloadLen > 0 {
		msg.Data, err = ReadTail(r, msg.PayloadLen)
		if err != nil {
			return msg, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}
	return msg, nil
}
