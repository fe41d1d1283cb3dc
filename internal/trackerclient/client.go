// Package trackerclient is a peer's view of the tracker: one short-lived
// TCP connection per command, following the reference implementation's
// request/response cadence rather than holding a session open. Grounded
// on the teacher repository's tracker/client.go dial-send-receive-close
// pattern (there built over UDP actions, here over TCP/JSON).
package trackerclient

import (
	"fmt"
	"net"
	"time"

	"github.com/lkslts64/minibit/internal/wire"
)

// DialTimeout bounds how long a single tracker round trip may take.
const DialTimeout = 5 * time.Second

// Client talks to one tracker instance on behalf of one local peer.
type Client struct {
	trackerAddr string
	peerID      string
}

// New returns a client that will dial trackerAddr ("host:port") for every
// command, identifying itself as peerID.
func New(trackerAddr, peerID string) *Client {
	return &Client{trackerAddr: trackerAddr, peerID: peerID}
}

func (c *Client) roundTrip(req wire.TrackerRequest) (wire.TrackerResponse, error) {
	conn, err := net.DialTimeout("tcp", c.trackerAddr, DialTimeout)
	if err != nil {
		return wire.TrackerResponse{}, fmt.Errorf("trackerclient: dial %s: %w", c.trackerAddr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(DialTimeout))
	if err := wire.WriteTrackerRequest(conn, req); err != nil {
		return wire.TrackerResponse{}, fmt.Errorf("trackerclient: send %s: %w", req.Command, err)
	}
	resp, err := wire.ReadTrackerResponse(conn)
	if err != nil {
		return wire.TrackerResponse{}, fmt.Errorf("trackerclient: receive reply to %s: %w", req.Command, err)
	}
	return resp, nil
}

// Register announces fileName, listenAddr and the blocks we currently
// hold to the tracker, per spec §4.1/§6.
func (c *Client) Register(fileName string, listenAddr wire.Addr, blocks []int) error {
	resp, err := c.roundTrip(wire.TrackerRequest{
		Command:  wire.CmdRegister,
		PeerID:   c.peerID,
		FileName: fileName,
		Address:  &listenAddr,
		Blocks:   blocks,
	})
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("trackerclient: register rejected: %s", resp.Reason)
	}
	return nil
}

// GetPeers asks the tracker for every other peer registered for
// fileName.
func (c *Client) GetPeers(fileName string) ([]wire.TrackerPeerInfo, error) {
	resp, err := c.roundTrip(wire.TrackerRequest{
		Command:  wire.CmdGetPeers,
		PeerID:   c.peerID,
		FileName: fileName,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("trackerclient: get_peers rejected: %s", resp.Reason)
	}
	return resp.Peers, nil
}

// UpdateBlocks reports our current complete block set to the tracker.
func (c *Client) UpdateBlocks(fileName string, blocks []int) error {
	resp, err := c.roundTrip(wire.TrackerRequest{
		Command:  wire.CmdUpdateBlocks,
		PeerID:   c.peerID,
		FileName: fileName,
		Blocks:   blocks,
	})
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("trackerclient: update_blocks rejected: %s", resp.Reason)
	}
	return nil
}
