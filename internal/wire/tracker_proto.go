package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// Tracker commands, per spec §4.1.
const (
	CmdRegister     = "REGISTER"
	CmdGetPeers     = "GET_PEERS"
	CmdUpdateBlocks = "UPDATE_BLOCKS"
)

// Addr is the wire representation of a peer's dial address: [host, port].
type Addr struct {
	Host string
	Port int
}

// MarshalJSON encodes Addr as the two-element array the spec requires.
func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{a.Host, a.Port})
}

// UnmarshalJSON decodes the two-element [host, port] array form.
func (a *Addr) UnmarshalJSON(data []byte) error {
	var pair [2]interface{}
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	host, ok := pair[0].(string)
	if !ok {
		return fmt.Errorf("wire: address host is not a string")
	}
	port, ok := pair[1].(float64)
	if !ok {
		return fmt.Errorf("wire: address port is not a number")
	}
	a.Host, a.Port = host, int(port)
	return nil
}

// TrackerRequest is the JSON body of every tracker command.
type TrackerRequest struct {
	Command  string `json:"command"`
	PeerID   string `json:"peer_id"`
	FileName string `json:"file_name,omitempty"`
	Address  *Addr  `json:"address,omitempty"`
	Blocks   []int  `json:"blocks,omitempty"`
}

// TrackerPeerInfo describes one swarm member as returned by GET_PEERS.
type TrackerPeerInfo struct {
	PeerID  string `json:"peer_id"`
	Address Addr   `json:"address"`
	Blocks  []int  `json:"blocks"`
}

// TrackerResponse is the JSON body of every tracker reply.
type TrackerResponse struct {
	Status string            `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Peers  []TrackerPeerInfo `json:"peers,omitempty"`
}

// StatusOK and StatusError are the only two values TrackerResponse.Status
// takes, per spec §6.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ReasonUnknownCommand is returned when the tracker receives a command
// outside CmdRegister/CmdGetPeers/CmdUpdateBlocks.
const ReasonUnknownCommand = "unknown_command"

// WriteTrackerRequest frames and sends req.
func WriteTrackerRequest(w io.Writer, req TrackerRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("wire: encode tracker request: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadTrackerRequest receives and decodes one tracker request frame.
func ReadTrackerRequest(r io.Reader) (TrackerRequest, error) {
	var req TrackerRequest
	body, err := ReadFrame(r)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: malformed tracker request: %v", ErrMalformed, err)
	}
	return req, nil
}

// WriteTrackerResponse frames and sends resp.
func WriteTrackerResponse(w io.Writer, resp TrackerResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("wire: encode tracker response: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadTrackerResponse receives and decodes one tracker response frame.
func ReadTrackerResponse(r io.Reader) (TrackerResponse, error) {
	var resp TrackerResponse
	body, err := ReadFrame(r)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("%w: malformed tracker response: %v", ErrMalformed, err)
	}
	return resp, nil
}
