package blockstore

import (
	"fmt"
	"io"
	"os"
)

// ReadFileIntoBlocks splits the file at path into fixed-size blocks,
// ceiling-dividing by blockSize so the final block may be short. This is
// the read_file_into_blocks(path, block_size) operation spec §1 treats
// as an opaque, out-of-scope collaborator; we still need a concrete
// implementation to drive the rest of the system, modeled on the
// teacher's torrent/storage/filestorage.go sequential-read style minus
// any piece hashing (spec Non-goals: no integrity checking).
func ReadFileIntoBlocks(path string, blockSize int) ([][]byte, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("blockstore: block size must be positive")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blockstore: stat %s: %w", path, err)
	}
	blockCount := int((info.Size() + int64(blockSize) - 1) / int64(blockSize))
	blocks := make([][]byte, blockCount)
	buf := make([]byte, blockSize)
	for i := 0; i < blockCount; i++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("blockstore: read block %d of %s: %w", i, path, err)
		}
		block := make([]byte, n)
		copy(block, buf[:n])
		blocks[i] = block
	}
	return blocks, nil
}

// WriteBlocksToFile writes blocks, in order, to a newly created file at
// path. This is the write_blocks_to_file(path, blocks) operation from
// spec §1 - the reassembly half of the same opaque file-system boundary.
func WriteBlocksToFile(path string, blocks [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("blockstore: create %s: %w", path, err)
	}
	defer f.Close()
	for i, b := range blocks {
		if _, err := f.Write(b); err != nil {
			return fmt.Errorf("blockstore: write block %d to %s: %w", i, path, err)
		}
	}
	return nil
}
