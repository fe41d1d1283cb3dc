// Package choke implements MiniBit's simplified Tit-for-Tat unchoke
// policy: a random rotation of up to four "fixed" unchoked peers plus one
// optimistic pick, recomputed every evaluation. It follows the shape of
// the teacher repository's torrent/choker.go (a struct holding the
// previous round's selection so evaluate can report the delta) but
// implements the literal randomized algorithm of spec §4.4 rather than
// the teacher's upload-rate-sorted one - a deliberate redesign, not an
// enrichment.
package choke

import (
	"math/rand"
	"sync"
)

// MaxFixedUnchoked and MaxOptimisticUnchoked bound the two disjoint
// unchoke sets, per spec §3's choke-manager invariants.
const (
	MaxFixedUnchoked      = 4
	MaxOptimisticUnchoked = 1
)

// UnchokeManager holds the result of the previous evaluate_peers call so
// the next one can report which peers changed state.
type UnchokeManager struct {
	mu          sync.Mutex
	rng         *rand.Rand
	fixed       map[string]struct{}
	optimistic  string
	hasOptimist bool
}

// New creates an UnchokeManager whose random permutation is driven by
// rng. Callers that need scenario 4 (spec §8) to be reproducible should
// pass rand.New(rand.NewSource(seed)); production callers can pass
// rand.New(rand.NewSource(time.Now().UnixNano())).
func New(rng *rand.Rand) *UnchokeManager {
	return &UnchokeManager{
		rng:   rng,
		fixed: make(map[string]struct{}),
	}
}

// EvaluatePeers implements spec §4.4 steps 1-8: shuffle the interested
// set, take up to 4 as "fixed" and the next one as "optimistic", and
// diff that against the previous round's union to produce the peers to
// choke and unchoke. The internal state is replaced with the new
// selection before returning.
func (m *UnchokeManager) EvaluatePeers(interested []string) (toChoke, toUnchoke []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shuffled := make([]string, len(interested))
	copy(shuffled, interested)
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	newFixed := make(map[string]struct{})
	end := MaxFixedUnchoked
	if end > len(shuffled) {
		end = len(shuffled)
	}
	for _, p := range shuffled[:end] {
		newFixed[p] = struct{}{}
	}
	var newOptimistic string
	var newHasOptimist bool
	if end < len(shuffled) {
		newOptimistic = shuffled[end]
		newHasOptimist = true
	}

	oldUnion := unionOf(m.fixed, m.optimistic, m.hasOptimist)
	newUnion := unionOf(newFixed, newOptimistic, newHasOptimist)

	for p := range newUnion {
		if _, ok := oldUnion[p]; !ok {
			toUnchoke = append(toUnchoke, p)
		}
	}
	for p := range oldUnion {
		if _, ok := newUnion[p]; !ok {
			toChoke = append(toChoke, p)
		}
	}

	m.fixed = newFixed
	m.optimistic = newOptimistic
	m.hasOptimist = newHasOptimist
	return toChoke, toUnchoke
}

// IsUnchoked reports whether peerID is currently in the fixed or
// optimistic unchoke set.
func (m *UnchokeManager) IsUnchoked(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fixed[peerID]; ok {
		return true
	}
	return m.hasOptimist && m.optimistic == peerID
}

func unionOf(fixed map[string]struct{}, optimistic string, hasOptimist bool) map[string]struct{} {
	u := make(map[string]struct{}, len(fixed)+1)
	for p := range fixed {
		u[p] = struct{}{}
	}
	if hasOptimist {
		u[optimistic] = struct{}{}
	}
	return u
}
