package peer

import "time"

// Config bounds the behavior of a Peer engine, mirroring the knobs the
// teacher repository exposes on torrent.Config but scaled to MiniBit's
// much smaller protocol.
type Config struct {
	// BlockSize is the fixed block length used to split/reassemble the
	// shared file. The final block of a file may be shorter.
	BlockSize int
	// MaxPeerConns caps established connections, inbound and outbound
	// combined, per spec §5's accept-task resource model.
	MaxPeerConns int
	// RequestInterval and UnchokeInterval are the two periodic loops'
	// cadences (spec §2: "period ≈ 5s" / "period ≈ 10s").
	RequestInterval time.Duration
	UnchokeInterval time.Duration
	// DialTimeout bounds a single outbound connection attempt (spec
	// §5: "bounded timeout ... expiry is a silent failure retried next
	// cycle").
	DialTimeout time.Duration
	// HandshakeTimeout bounds how long we wait for the peer handshake
	// preamble on a freshly accepted or dialed connection (spec §8
	// scenario 6).
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the cadences named literally in spec §2.
func DefaultConfig() Config {
	return Config{
		BlockSize:        1 << 14, // 16KiB, same order of magnitude as the teacher's maxRequestBlockSz
		MaxPeerConns:     55,      // matches the teacher's torrent.maxConns
		RequestInterval:  5 * time.Second,
		UnchokeInterval:  10 * time.Second,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}
