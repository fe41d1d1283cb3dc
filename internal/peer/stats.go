package peer

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

// Stats are process-wide counters for one Peer, updated from the message
// loop of every connection, the request loop and the outbound dial
// goroutines. Fields are lock-free so all of these can update them
// concurrently without contending on the
// BlockManager or connection-map locks, following the teacher's
// torrent_stats.go use of go.uber.org/atomic for the same reason.
type Stats struct {
	BytesDownloaded atomic.Uint64
	BytesUploaded   atomic.Uint64
	BlocksRequested atomic.Uint64
	BlocksServed    atomic.Uint64
	DialFailures    atomic.Uint64
}

// String renders a one-line human-readable summary, in the style of the
// teacher's Torrent.writeStatus.
func (s *Stats) String(have, total int) string {
	pct := 0
	if total > 0 {
		pct = have * 100 / total
	}
	return fmt.Sprintf("blocks %d/%d (%d%%)  down %s  up %s  requested %d  served %d",
		have, total, pct,
		humanize.Bytes(s.BytesDownloaded.Load()),
		humanize.Bytes(s.BytesUploaded.Load()),
		s.BlocksRequested.Load(),
		s.BlocksServed.Load(),
	)
}
