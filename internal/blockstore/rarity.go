package blockstore

import (
	"sort"

	"github.com/anacrolix/missinggo/bitmap"
)

// blockFreq is a multiset count over BlockIds, built fresh on every call
// to rarestFirst. This is the same shape as the teacher's freqMap
// (torrent/freqmap.go), but that one is maintained incrementally across
// the torrent's lifetime; ours is throwaway, because spec §4.3 forbids
// caching the rarity computation between request-loop passes.
type blockFreq map[int]int

func (f blockFreq) add(id int) {
	f[id]++
}

// rarestFirst builds the global holder count over every peer's known
// inventory, then returns every id in [0, blockCount) absent from mine,
// sorted by (count ascending, id ascending).
func rarestFirst(blockCount int, mine map[int][]byte, peers map[string]bitmap.Bitmap) []int {
	if blockCount == 0 {
		return nil
	}
	counts := make(blockFreq)
	for _, inv := range peers {
		inv.IterTyped(func(id int) bool {
			counts.add(id)
			return true
		})
	}
	missing := make([]int, 0, blockCount)
	for id := 0; id < blockCount; id++ {
		if _, ok := mine[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		a, b := missing[i], missing[j]
		if counts[a] != counts[b] {
			return counts[a] < counts[b]
		}
		return a < b
	})
	return missing
}
