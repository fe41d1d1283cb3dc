// Package peer implements the MiniBit peer engine: spec §4.5's accept
// loop, request loop and unchoke loop, plus the per-connection message
// loop that dispatches have/request_block/block_data/choke/unchoke. Its
// shape - a long-lived struct owning goroutines and a mutex-guarded
// connection map, started by a Run method and torn down by a shutdown
// path - is grounded on the teacher repository's torrent.Torrent and
// torrent.Client (torrent/torrent.go, torrent/client.go). Unlike the
// teacher, MiniBit's shared state (BlockManager, UnchokeManager) already
// owns its own lock per spec §5, so loops call into it directly instead
// of funneling through a single-threaded master select loop.
package peer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lkslts64/minibit/internal/blockstore"
	"github.com/lkslts64/minibit/internal/choke"
	"github.com/lkslts64/minibit/internal/trackerclient"
	"github.com/lkslts64/minibit/internal/wire"
)

// Peer is one MiniBit participant: a tracker client, a listening
// endpoint, a set of outbound/inbound connections, a block store and a
// choke scheduler (spec §2).
type Peer struct {
	cfg      Config
	id       string
	fileName string
	bindHost string
	bindPort int

	logger  *log.Logger
	blocks  *blockstore.BlockManager
	unchoke *choke.UnchokeManager
	tracker *trackerclient.Client

	listener   net.Listener
	listenAddr wire.Addr

	connsMu sync.Mutex
	conns   map[string]*peerConn

	knownMu sync.Mutex
	known   map[string]wire.TrackerPeerInfo

	stats Stats
}

func newPeer(cfg Config, id, trackerAddr, bindHost string, bindPort int, fileName string, rng *rand.Rand, logger *log.Logger) *Peer {
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("peer[%s] ", id), log.LstdFlags)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Peer{
		cfg:      cfg,
		id:       id,
		fileName: fileName,
		bindHost: bindHost,
		bindPort: bindPort,
		logger:   logger,
		blocks:   blockstore.NewBlockManager(cfg.BlockSize, logger),
		unchoke:  choke.New(rng),
		tracker:  trackerclient.New(trackerAddr, id),
		conns:    make(map[string]*peerConn),
		known:    make(map[string]wire.TrackerPeerInfo),
	}
}

// NewSeeder builds a Peer that has already loaded filePath into blocks,
// the share_file(path, block_size) entrypoint of spec §4.5.
func NewSeeder(cfg Config, id, trackerAddr, bindHost string, bindPort int, fileName, filePath string, rng *rand.Rand, logger *log.Logger) (*Peer, error) {
	p := newPeer(cfg, id, trackerAddr, bindHost, bindPort, fileName, rng, logger)
	if err := p.blocks.LoadFromFile(filePath); err != nil {
		return nil, fmt.Errorf("peer: share_file: %w", err)
	}
	return p, nil
}

// NewLeecher builds a Peer with an empty block store, the
// download_file(name, block_size) entrypoint of spec §4.5.
func NewLeecher(cfg Config, id, trackerAddr, bindHost string, bindPort int, fileName string, rng *rand.Rand, logger *log.Logger) (*Peer, error) {
	return newPeer(cfg, id, trackerAddr, bindHost, bindPort, fileName, rng, logger), nil
}

// ID returns this peer's stable identifier.
func (p *Peer) ID() string { return p.id }

// Progress reports how many of the file's blocks we currently hold.
func (p *Peer) Progress() (have, total int) {
	return p.blocks.MyBlockCount(), p.blocks.BlockCount()
}

// IsComplete reports whether every block has been acquired.
func (p *Peer) IsComplete() bool { return p.blocks.IsComplete() }

// Reconstruct writes the complete file to outPath, spec §4.3's
// reconstruct_file.
func (p *Peer) Reconstruct(outPath string) error { return p.blocks.ReconstructFile(outPath) }

// Stats exposes the running counters, for CLI progress display.
func (p *Peer) Stats() *Stats { return &p.stats }

// Run binds the listening socket, registers with the tracker and starts
// the accept/request/unchoke loops (spec §2, §4.5 "Startup"). It blocks
// until ctx is cancelled, then runs the shutdown path (spec §4.5
// "Shutdown") before returning.
func (p *Peer) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", p.bindHost, p.bindPort))
	if err != nil {
		return fmt.Errorf("peer: listen: %w", err)
	}
	p.listener = l
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	p.listenAddr = wire.Addr{Host: p.bindHost, Port: port}

	if err := p.tracker.Register(p.fileName, p.listenAddr, p.blocks.MyBlockIDs()); err != nil {
		return fmt.Errorf("peer: register: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.acceptLoop(ctx) }()
	go func() { defer wg.Done(); p.requestLoop(ctx) }()
	go func() { defer wg.Done(); p.unchokeLoop(ctx) }()

	<-ctx.Done()
	p.shutdown()
	wg.Wait()
	return nil
}

func (p *Peer) shutdown() {
	if p.listener != nil {
		p.listener.Close()
	}
	p.connsMu.Lock()
	for _, pc := range p.conns {
		pc.close()
	}
	p.conns = make(map[string]*peerConn)
	p.connsMu.Unlock()
}

// acceptLoop is the accept task of spec §2/§5.
func (p *Peer) acceptLoop(ctx context.Context) {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				p.logger.Printf("accept: %v", err)
				return
			}
		}
		go p.handleIncoming(conn)
	}
}

func (p *Peer) handleIncoming(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	remoteID, err := p.respondHandshake(conn)
	if err != nil {
		p.logger.Printf("handshake from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	pc := newPeerConn(conn, remoteID, wire.Addr{})
	if !p.addConn(pc) {
		conn.Close()
		return
	}
	pc.send(wire.PeerMsg{Type: wire.MsgHave, Blocks: p.blocks.MyBlockIDs()})
	p.messageLoop(pc)
}

// respondHandshake implements the responder half of spec §4.2: read the
// initiator's handshake, then reply with the same shape.
func (p *Peer) respondHandshake(conn net.Conn) (string, error) {
	msg, err := wire.ReadPeerMsg(conn)
	if err != nil {
		return "", err
	}
	if msg.Type != wire.MsgHandshake || msg.PeerID == "" {
		return "", fmt.Errorf("peer: expected handshake, got %q", msg.Type)
	}
	if err := wire.WritePeerMsg(conn, wire.PeerMsg{Type: wire.MsgHandshake, PeerID: p.id}); err != nil {
		return "", err
	}
	return msg.PeerID, nil
}

// addConn inserts pc unless we already hold a link to that peer or are
// at the connection cap (spec §5's resource model).
func (p *Peer) addConn(pc *peerConn) bool {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	if _, ok := p.conns[pc.peerID]; ok {
		return false
	}
	if len(p.conns) >= p.cfg.MaxPeerConns {
		return false
	}
	p.conns[pc.peerID] = pc
	return true
}

func (p *Peer) removeConn(peerID string) {
	p.connsMu.Lock()
	pc, ok := p.conns[peerID]
	if ok {
		delete(p.conns, peerID)
	}
	p.connsMu.Unlock()
	if ok {
		pc.close()
	}
	// spec §8 scenario 3: a dead peer drops out of the rarity map too.
	p.blocks.RemovePeer(peerID)
}

func (p *Peer) isConnected(peerID string) bool {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	_, ok := p.conns[peerID]
	return ok
}

// snapshotConns takes the connection-map lock, copies, then releases -
// spec §5/§9's broadcast pattern, so I/O never happens while holding the
// lock.
func (p *Peer) snapshotConns() []*peerConn {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	out := make([]*peerConn, 0, len(p.conns))
	for _, pc := range p.conns {
		out = append(out, pc)
	}
	return out
}

// messageLoop is the per-connection task of spec §2/§5: it owns the
// socket for its lifetime and exits on the first read error, at which
// point the connection and any rarity-map memory of the remote are torn
// down together.
func (p *Peer) messageLoop(pc *peerConn) {
	defer p.removeConn(pc.peerID)
	for {
		msg, err := wire.ReadPeerMsg(pc.cn)
		if err != nil {
			if !pc.isClosed() {
				p.logger.Printf("peer %s: %v", pc.peerID, err)
			}
			return
		}
		p.dispatch(pc, msg)
	}
}

func (p *Peer) dispatch(pc *peerConn, msg wire.PeerMsg) {
	switch msg.Type {
	case wire.MsgHave:
		p.blocks.UpdatePeerBlocks(pc.peerID, msg.Blocks)
	case wire.MsgRequestBlock:
		p.serveRequest(pc, msg.BlockID)
	case wire.MsgBlockData:
		p.receiveBlock(msg.BlockID, msg.Data)
	case wire.MsgChoke:
		pc.setChokedByRemote(true)
	case wire.MsgUnchoke:
		pc.setChokedByRemote(false)
	default:
		p.logger.Printf("peer %s: unknown message type %q", pc.peerID, msg.Type)
	}
}

// serveRequest answers request_block, or silently drops it, per spec
// §4.5's message loop contract - no error response is ever sent for an
// unserved request.
func (p *Peer) serveRequest(pc *peerConn, blockID int) {
	if !p.unchoke.IsUnchoked(pc.peerID) {
		return
	}
	data, ok := p.blocks.GetBlock(blockID)
	if !ok {
		return
	}
	if err := pc.send(wire.PeerMsg{Type: wire.MsgBlockData, BlockID: blockID, Data: data}); err != nil {
		p.logger.Printf("serving block %d to %s: %v", blockID, pc.peerID, err)
		return
	}
	p.stats.BlocksServed.Inc()
	p.stats.BytesUploaded.Add(uint64(len(data)))
}

// receiveBlock implements add_block plus its two documented side
// effects: broadcast an updated have, then re-register with the
// tracker (spec §4.5's block_data case).
func (p *Peer) receiveBlock(blockID int, data []byte) {
	if !p.blocks.AddBlock(blockID, data) {
		return
	}
	p.stats.BytesDownloaded.Add(uint64(len(data)))
	p.broadcastHave()
	if err := p.tracker.UpdateBlocks(p.fileName, p.blocks.MyBlockIDs()); err != nil {
		p.logger.Printf("update_blocks: %v", err)
	}
}

func (p *Peer) broadcastHave() {
	msg := wire.PeerMsg{Type: wire.MsgHave, Blocks: p.blocks.MyBlockIDs()}
	for _, pc := range p.snapshotConns() {
		if err := pc.send(msg); err != nil {
			p.logger.Printf("have to %s: %v", pc.peerID, err)
		}
	}
}

// requestLoop is spec §4.5's ~5s cadence task.
func (p *Peer) requestLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RequestInterval)
	defer ticker.Stop()
	for {
		p.requestPass()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Peer) requestPass() {
	if peers, err := p.tracker.GetPeers(p.fileName); err != nil {
		p.logger.Printf("get_peers: %v", err)
	} else {
		p.mergeKnownPeers(peers)
	}
	p.connectToNewPeers()

	conns := p.snapshotConns()
	for _, pc := range conns {
		pc.resetInFlightCycle()
	}
	for _, id := range p.blocks.GetRarestMissingBlocks() {
		pc := p.findHolder(conns, id)
		if pc == nil {
			continue
		}
		pc.markInFlight(id)
		if err := pc.send(wire.PeerMsg{Type: wire.MsgRequestBlock, BlockID: id}); err != nil {
			p.logger.Printf("request_block %d to %s: %v", id, pc.peerID, err)
			continue
		}
		p.stats.BlocksRequested.Inc()
	}

	have, total := p.blocks.MyBlockCount(), p.blocks.BlockCount()
	p.logger.Printf("progress: %s", p.stats.String(have, total))
}

// findHolder picks, among conns, one connection to a remote that
// advertises id, is not choking us and has no outstanding request for
// id this cycle (spec §4.5 step 4).
func (p *Peer) findHolder(conns []*peerConn, id int) *peerConn {
	for _, pc := range conns {
		if pc.isChokedByRemote() || pc.isInFlight(id) {
			continue
		}
		peerBlocks := p.blocks.GetPeerBlocks(pc.peerID)
		if peerBlocks.Get(id) {
			return pc
		}
	}
	return nil
}

func (p *Peer) mergeKnownPeers(peers []wire.TrackerPeerInfo) {
	p.knownMu.Lock()
	defer p.knownMu.Unlock()
	for _, info := range peers {
		p.known[info.PeerID] = info
		p.blocks.UpdatePeerBlocks(info.PeerID, info.Blocks)
	}
}

func (p *Peer) connectToNewPeers() {
	p.knownMu.Lock()
	candidates := make([]wire.TrackerPeerInfo, 0, len(p.known))
	for _, info := range p.known {
		candidates = append(candidates, info)
	}
	p.knownMu.Unlock()

	for _, info := range candidates {
		if info.PeerID == p.id || p.isConnected(info.PeerID) {
			continue
		}
		go p.dialAndHandshake(info)
	}
}

// dialAndHandshake is the initiator half of spec §4.2's handshake,
// reached from the request loop's "attempt an outbound connection"
// step. Failures are silent and retried next cycle (spec §5).
func (p *Peer) dialAndHandshake(info wire.TrackerPeerInfo) {
	addr := fmt.Sprintf("%s:%d", info.Address.Host, info.Address.Port)
	conn, err := net.DialTimeout("tcp", addr, p.cfg.DialTimeout)
	if err != nil {
		p.stats.DialFailures.Inc()
		return
	}
	conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	if err := wire.WritePeerMsg(conn, wire.PeerMsg{Type: wire.MsgHandshake, PeerID: p.id}); err != nil {
		conn.Close()
		return
	}
	resp, err := wire.ReadPeerMsg(conn)
	if err != nil || resp.Type != wire.MsgHandshake || resp.PeerID == "" {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	pc := newPeerConn(conn, resp.PeerID, info.Address)
	if !p.addConn(pc) {
		conn.Close()
		return
	}
	pc.send(wire.PeerMsg{Type: wire.MsgHave, Blocks: p.blocks.MyBlockIDs()})
	go p.messageLoop(pc)
}

func (p *Peer) connsByID(conns []*peerConn) map[string]*peerConn {
	m := make(map[string]*peerConn, len(conns))
	for _, pc := range conns {
		m[pc.peerID] = pc
	}
	return m
}

// unchokeLoop is spec §4.5's ~10s cadence task.
func (p *Peer) unchokeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.UnchokeInterval)
	defer ticker.Stop()
	for {
		p.unchokePass()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Peer) unchokePass() {
	conns := p.snapshotConns()
	var interested []string
	for _, pc := range conns {
		if p.blocks.IsInterestedIn(pc.peerID) {
			interested = append(interested, pc.peerID)
		}
	}
	toChoke, toUnchoke := p.unchoke.EvaluatePeers(interested)
	byID := p.connsByID(conns)
	for _, id := range toChoke {
		if pc, ok := byID[id]; ok {
			if err := pc.send(wire.PeerMsg{Type: wire.MsgChoke}); err == nil {
				pc.setUnchokedByUs(false)
			}
		}
	}
	for _, id := range toUnchoke {
		if pc, ok := byID[id]; ok {
			if err := pc.send(wire.PeerMsg{Type: wire.MsgUnchoke}); err == nil {
				pc.setUnchokedByUs(true)
			}
		}
	}
}
