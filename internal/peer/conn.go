package peer

import (
	"net"
	"sync"

	"github.com/lkslts64/minibit/internal/wire"
)

// peerConn is the engine's record of one established link, combining the
// framing/per-link state spec §4.2 calls PeerConnection with the two
// booleans spec §3 puts on every "Peer connection record". It is
// grounded on the teacher's connInfo (torrent/conn_info.go): the fields
// the master/loops need to read and mutate live here, separate from the
// socket-owning goroutine's local state in messageLoop.
type peerConn struct {
	cn     net.Conn
	peerID string
	addr   wire.Addr

	// muSend serializes writes so two goroutines (a message loop replying
	// to a request or broadcasting have, and a periodic loop sending
	// choke/unchoke or request_block) never interleave a frame on the same
	// socket, per spec §5's ordering guarantee.
	muSend sync.Mutex

	mu             sync.Mutex
	chokedByRemote bool // remote told us it will not serve our requests
	unchokedByUs   bool // we have granted the remote upload this cycle
	inFlight       map[int]bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newPeerConn(cn net.Conn, peerID string, addr wire.Addr) *peerConn {
	return &peerConn{
		cn:             cn,
		peerID:         peerID,
		addr:           addr,
		chokedByRemote: true, // pessimistic until told otherwise, like the teacher's newConnState
		inFlight:       make(map[int]bool),
		closed:         make(chan struct{}),
	}
}

func (pc *peerConn) send(msg wire.PeerMsg) error {
	pc.muSend.Lock()
	defer pc.muSend.Unlock()
	return wire.WritePeerMsg(pc.cn, msg)
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		pc.cn.Close()
		close(pc.closed)
	})
}

func (pc *peerConn) isClosed() bool {
	select {
	case <-pc.closed:
		return true
	default:
		return false
	}
}

func (pc *peerConn) setChokedByRemote(v bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.chokedByRemote = v
}

func (pc *peerConn) isChokedByRemote() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.chokedByRemote
}

func (pc *peerConn) setUnchokedByUs(v bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.unchokedByUs = v
}

func (pc *peerConn) isUnchokedByUs() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.unchokedByUs
}

// markInFlight records that we asked this remote for id this request-loop
// cycle, so the same cycle doesn't send it a duplicate (spec §4.5 step 4:
// "no in-flight request for this id was sent this cycle"). The marks are
// cleared by resetInFlightCycle at the start of the next pass.
func (pc *peerConn) markInFlight(id int) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.inFlight[id] = true
}

func (pc *peerConn) isInFlight(id int) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.inFlight[id]
}

func (pc *peerConn) clearInFlight(id int) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.inFlight, id)
}

// resetInFlightCycle clears every in-flight marker; called once at the
// start of each request-loop pass.
func (pc *peerConn) resetInFlightCycle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.inFlight = make(map[int]bool)
}
