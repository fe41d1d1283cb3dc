// Package blockstore implements MiniBit's per-peer block inventory: the
// blocks a peer itself holds, the last-known inventory of every remote
// peer it has heard from, and the Rarest-First selection primitive built
// on top of those two. All mutable state is owned by BlockManager and
// guarded by a single lock, mirroring the teacher repository's
// torrent/storage and torrent/piece.go ownership model - callers never
// see a raw reference into the maps.
package blockstore

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/anacrolix/missinggo/bitmap"
)

// BlockManager owns a peer's block bytes (my_blocks) and its view of what
// every other known peer has (peer_block_map), per spec §3/§4.3.
type BlockManager struct {
	mu         sync.Mutex
	blockSize  int
	blockCount int
	myBlocks   map[int][]byte
	peerBlocks map[string]bitmap.Bitmap
	logger     *log.Logger
}

// NewBlockManager creates an empty manager for blocks of the given size.
// blockCount is 0 (unknown) until LoadFromFile runs or a remote peer's
// inventory reveals it - see UpdatePeerBlocks.
func NewBlockManager(blockSize int, logger *log.Logger) *BlockManager {
	return &BlockManager{
		blockSize:  blockSize,
		myBlocks:   make(map[int][]byte),
		peerBlocks: make(map[string]bitmap.Bitmap),
		logger:     logger,
	}
}

// LoadFromFile populates my_blocks with every block of the file at path,
// establishing blockCount from the file's size (seeder bootstrap, spec
// §4.3). The opaque file-splitting operation itself lives in fileio.go.
func (bm *BlockManager) LoadFromFile(path string) error {
	blocks, err := ReadFileIntoBlocks(path, bm.blockSize)
	if err != nil {
		return fmt.Errorf("blockstore: load %s: %w", path, err)
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.blockCount = len(blocks)
	for i, b := range blocks {
		bm.myBlocks[i] = b
	}
	bm.logger.Printf("loaded %d blocks from %s", bm.blockCount, path)
	return nil
}

// AddBlock inserts a newly-acquired block, ignoring duplicates. It
// reports whether the block was actually added.
func (bm *BlockManager) AddBlock(id int, data []byte) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if len(data) == 0 {
		return false
	}
	if bm.blockCount > 0 && (id < 0 || id >= bm.blockCount) {
		return false
	}
	if _, ok := bm.myBlocks[id]; ok {
		return false
	}
	bm.myBlocks[id] = data
	return true
}

// HaveBlock reports whether this peer already holds block id.
func (bm *BlockManager) HaveBlock(id int) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	_, ok := bm.myBlocks[id]
	return ok
}

// GetBlock returns the bytes of block id, if held.
func (bm *BlockManager) GetBlock(id int) ([]byte, bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	b, ok := bm.myBlocks[id]
	return b, ok
}

// IsComplete reports whether every block of the file has been acquired.
func (bm *BlockManager) IsComplete() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.blockCount > 0 && len(bm.myBlocks) == bm.blockCount
}

// BlockCount returns the known total block count, or 0 if not yet known.
func (bm *BlockManager) BlockCount() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.blockCount
}

// MyBlockCount returns how many blocks this peer currently holds.
func (bm *BlockManager) MyBlockCount() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.myBlocks)
}

// MyBlockIDs returns the ids of every block held, sorted ascending - used
// both for "have" broadcasts and for UPDATE_BLOCKS/REGISTER payloads.
func (bm *BlockManager) MyBlockIDs() []int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ids := make([]int, 0, len(bm.myBlocks))
	for id := range bm.myBlocks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// UpdatePeerBlocks overwrites the rarity-map entry for peerID with the
// inventory just announced (spec §4.3), either via a HAVE message or a
// fresh GET_PEERS/tracker registration.
//
// The spec does not say how a leecher, who starts with no block_count,
// ever learns it. We resolve that open question (see DESIGN.md) by
// treating the highest block id any peer has ever announced as a lower
// bound on block_count - it only ever grows, and a seeder's first
// announcement already pins it exactly.
func (bm *BlockManager) UpdatePeerBlocks(peerID string, blocks []int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	var bm2 bitmap.Bitmap
	for _, id := range blocks {
		bm2.Set(id, true)
		if id+1 > bm.blockCount {
			bm.blockCount = id + 1
		}
	}
	bm.peerBlocks[peerID] = bm2
}

// GetPeerBlocks returns the last-known inventory of peerID.
func (bm *BlockManager) GetPeerBlocks(peerID string) bitmap.Bitmap {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.peerBlocks[peerID].Copy()
}

// RemovePeer discards every inventory record for a peer that has
// disconnected or been dropped by the tracker.
func (bm *BlockManager) RemovePeer(peerID string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.peerBlocks, peerID)
}

// IsInterestedIn reports whether peerID lacks at least one block we
// hold - the definition of "interested" from spec §4.4.
func (bm *BlockManager) IsInterestedIn(peerID string) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	peerHas := bm.peerBlocks[peerID]
	for id := range bm.myBlocks {
		if !peerHas.Get(id) {
			return true
		}
	}
	return false
}

// GetRarestMissingBlocks returns every missing BlockId ordered by global
// holder count ascending, ties broken by id - the Rarest-First selection
// primitive (spec §4.3). It is recomputed from scratch on every call:
// rarity changes as HAVE messages arrive, so nothing here is cached.
func (bm *BlockManager) GetRarestMissingBlocks() []int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return rarestFirst(bm.blockCount, bm.myBlocks, bm.peerBlocks)
}

// ReconstructFile emits every held block in id order to outPath. The
// caller must ensure IsComplete() first.
func (bm *BlockManager) ReconstructFile(outPath string) error {
	bm.mu.Lock()
	if len(bm.myBlocks) != bm.blockCount {
		bm.mu.Unlock()
		return fmt.Errorf("blockstore: reconstruct called before completion")
	}
	ordered := make([][]byte, bm.blockCount)
	for id, data := range bm.myBlocks {
		ordered[id] = data
	}
	bm.mu.Unlock()
	if err := WriteBlocksToFile(outPath, ordered); err != nil {
		return fmt.Errorf("blockstore: reconstruct %s: %w", outPath, err)
	}
	return nil
}
