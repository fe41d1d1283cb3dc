// Package trackersrv implements the MiniBit tracker: the single process
// per swarm that holds per-file peer membership and answers REGISTER,
// GET_PEERS and UPDATE_BLOCKS over the framing in internal/wire. Its
// accept-loop-plus-per-connection-goroutine shape follows the teacher
// repository's tracker/server.go, adapted from that file's UDP
// action-dispatch to a TCP JSON command dispatch.
package trackersrv

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/lkslts64/minibit/internal/wire"
)

type entry struct {
	addr   wire.Addr
	blocks *roaring.Bitmap
}

// Tracker holds FileName -> PeerId -> entry, serialized by a single
// mutex, per spec §3/§4.1.
type Tracker struct {
	mu       sync.Mutex
	files    map[string]map[string]*entry
	logger   *log.Logger
	host     string
	port     int
	listener net.Listener
	done     chan struct{}
}

// New creates a tracker bound to host:port once Start is called.
func New(host string, port int, logger *log.Logger) *Tracker {
	return &Tracker{
		files:  make(map[string]map[string]*entry),
		logger: logger,
		host:   host,
		port:   port,
		done:   make(chan struct{}),
	}
}

// Start binds the listening socket and begins accepting connections on a
// background goroutine. It returns once the bind has succeeded or failed
// - bind failure is the one startup error that is fatal (spec §7).
func (t *Tracker) Start() error {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", t.host, t.port))
	if err != nil {
		return fmt.Errorf("trackersrv: listen: %w", err)
	}
	t.listener = l
	go t.acceptLoop()
	return nil
}

// Addr returns the address the tracker is actually listening on, useful
// when Start was called with port 0.
func (t *Tracker) Addr() net.Addr {
	return t.listener.Addr()
}

// Stop closes the listener and every in-flight connection will finish
// its current message and exit on the next read error, per spec §4.1.
// Go's net.Listener.Close unblocks a pending Accept directly, so unlike
// a cooperative-scheduling runtime MiniBit does not need the self-connect
// trick spec §4.5 mentions as a fallback.
func (t *Tracker) Stop() {
	select {
	case <-t.done:
		return
	default:
		close(t.done)
	}
	if t.listener != nil {
		t.listener.Close()
	}
}

func (t *Tracker) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.logger.Printf("trackersrv: accept: %v", err)
				return
			}
		}
		go t.handleConn(conn)
	}
}

// handleConn serves every request a single connection sends. A clean EOF
// (the peer closed the socket after its last response, the normal
// one-request-per-connection pattern this swarm's peers use) ends the
// session without touching tracker state. Any other read/write error is
// treated as a disconnect: the last peer_id seen on this connection is
// removed from every file before the handler returns (spec §4.1, §7).
func (t *Tracker) handleConn(conn net.Conn) {
	defer conn.Close()
	var lastPeerID string
	for {
		req, err := wire.ReadTrackerRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			t.logger.Printf("trackersrv: %s: %v", conn.RemoteAddr(), err)
			if lastPeerID != "" {
				t.removePeer(lastPeerID)
			}
			return
		}
		lastPeerID = req.PeerID
		resp := t.processCommand(req)
		if err := wire.WriteTrackerResponse(conn, resp); err != nil {
			t.logger.Printf("trackersrv: write to %s: %v", conn.RemoteAddr(), err)
			t.removePeer(lastPeerID)
			return
		}
	}
}

func (t *Tracker) processCommand(req wire.TrackerRequest) wire.TrackerResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch req.Command {
	case wire.CmdRegister:
		return t.register(req)
	case wire.CmdGetPeers:
		return t.getPeers(req)
	case wire.CmdUpdateBlocks:
		return t.updateBlocks(req)
	default:
		return wire.TrackerResponse{Status: wire.StatusError, Reason: wire.ReasonUnknownCommand}
	}
}

// register inserts or replaces the peer entry under file_name. A peer
// participates in at most one file at a time (spec §3 invariant), so it
// is first dropped from every other file it may have previously joined.
func (t *Tracker) register(req wire.TrackerRequest) wire.TrackerResponse {
	if req.Address == nil {
		return wire.TrackerResponse{Status: wire.StatusError, Reason: "missing_address"}
	}
	for fname, peers := range t.files {
		if fname != req.FileName {
			delete(peers, req.PeerID)
		}
	}
	peers, ok := t.files[req.FileName]
	if !ok {
		peers = make(map[string]*entry)
		t.files[req.FileName] = peers
	}
	peers[req.PeerID] = &entry{addr: *req.Address, blocks: blocksToBitmap(req.Blocks)}
	return wire.TrackerResponse{Status: wire.StatusOK}
}

// getPeers returns a read-only snapshot of every other peer registered
// for file_name.
func (t *Tracker) getPeers(req wire.TrackerRequest) wire.TrackerResponse {
	peers := t.files[req.FileName]
	list := make([]wire.TrackerPeerInfo, 0, len(peers))
	for pid, e := range peers {
		if pid == req.PeerID {
			continue
		}
		list = append(list, wire.TrackerPeerInfo{
			PeerID:  pid,
			Address: e.addr,
			Blocks:  bitmapToBlocks(e.blocks),
		})
	}
	return wire.TrackerResponse{Status: wire.StatusOK, Peers: list}
}

func (t *Tracker) updateBlocks(req wire.TrackerRequest) wire.TrackerResponse {
	peers, ok := t.files[req.FileName]
	if !ok {
		return wire.TrackerResponse{Status: wire.StatusError, Reason: "unknown_peer"}
	}
	e, ok := peers[req.PeerID]
	if !ok {
		return wire.TrackerResponse{Status: wire.StatusError, Reason: "unknown_peer"}
	}
	e.blocks = blocksToBitmap(req.Blocks)
	return wire.TrackerResponse{Status: wire.StatusOK}
}

func (t *Tracker) removePeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fname, peers := range t.files {
		if _, ok := peers[peerID]; ok {
			delete(peers, peerID)
			t.logger.Printf("trackersrv: removed %s from %s after disconnect", peerID, fname)
		}
	}
}

func blocksToBitmap(ids []int) *roaring.Bitmap {
	b := roaring.New()
	for _, id := range ids {
		b.Add(uint32(id))
	}
	return b
}

func bitmapToBlocks(b *roaring.Bitmap) []int {
	if b == nil {
		return nil
	}
	raw := b.ToArray()
	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out
}
