package depot

import "fmt"

// Block operations pass straight through to the block store. Blocks carry
// no ownership: possession of a hash is the capability to read it.

// GetBlock returns a block's bytes by hash.
func (b *Backend) GetBlock(hash string) ([]byte, error) {
	return b.blocks.GetBlock(hash)
}

// PutBlock stores a block and returns its hash. A block larger than the
// configured partition size is rejected.
func (b *Backend) PutBlock(data []byte) (string, error) {
	if int64(len(data)) > b.opts.BlockSize {
		return "", fmt.Errorf("block of %d bytes exceeds block size %d", len(data), b.opts.BlockSize)
	}
	return b.blocks.PutBlock(data)
}

// UpdateBlock rewrites part of a block and returns the resulting block's
// hash.
func (b *Backend) UpdateBlock(hash string, offset int64, data []byte) (string, error) {
	if offset == 0 && int64(len(data)) >= b.opts.BlockSize {
		return b.PutBlock(data)
	}
	if offset+int64(len(data)) > b.opts.BlockSize {
		return "", fmt.Errorf("update of %d bytes at offset %d exceeds block size %d", len(data), offset, b.opts.BlockSize)
	}
	return b.blocks.UpdateBlock(hash, offset, data)
}
