package blockstore

import (
	"fmt"
	"sync"

	"depot-go/internal/depot"
)

// MemoryStore is an in-memory implementation of the BlockStore interface.
// It keeps all blocks and hashmaps in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	blocks map[string][]byte   // block hash -> content
	maps   map[string][]string // object hash -> ordered block hashes
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[string][]byte),
		maps:   make(map[string][]string),
	}
}

// PutBlock stores data under its content hash.
// Idempotent: storing the same block multiple times is safe.
func (m *MemoryStore) PutBlock(data []byte) (string, error) {
	hash := depot.HashBlock(data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blocks[hash]; !ok {
		m.blocks[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

// GetBlock retrieves a block by hash.
func (m *MemoryStore) GetBlock(hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", hash, depot.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// HasBlock reports whether the block exists.
func (m *MemoryStore) HasBlock(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blocks[hash]
	return ok, nil
}

// MissingBlocks returns the subset of hashes not present, preserving order.
func (m *MemoryStore) MissingBlocks(hashes []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var missing []string
	for _, h := range hashes {
		if _, ok := m.blocks[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// UpdateBlock patches part of a block and stores the result as a new block.
func (m *MemoryStore) UpdateBlock(hash string, offset int64, data []byte) (string, error) {
	old, err := m.GetBlock(hash)
	if err != nil {
		return "", err
	}
	patched, err := patchBlock(old, offset, data)
	if err != nil {
		return "", err
	}
	return m.PutBlock(patched)
}

// MapGet returns the ordered block hashes of an object hash.
func (m *MemoryStore) MapGet(objectHash string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hashes, ok := m.maps[objectHash]
	if !ok {
		return nil, fmt.Errorf("hashmap %s: %w", objectHash, depot.ErrNotFound)
	}
	return append([]string(nil), hashes...), nil
}

// MapPut associates an object hash with its ordered block hashes.
func (m *MemoryStore) MapPut(objectHash string, blockHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maps[objectHash] = append([]string(nil), blockHashes...)
	return nil
}

// MapDelete removes the association.
func (m *MemoryStore) MapDelete(objectHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.maps, objectHash)
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup() error {
	return nil
}

// patchBlock overlays data at offset, extending the block when the patch
// reaches past its end.
func patchBlock(block []byte, offset int64, data []byte) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}
	if offset > int64(len(block)) {
		return nil, fmt.Errorf("offset %d beyond block length %d", offset, len(block))
	}
	end := offset + int64(len(data))
	size := int64(len(block))
	if end > size {
		size = end
	}
	patched := make([]byte, size)
	copy(patched, block)
	copy(patched[offset:], data)
	return patched, nil
}

// Compile-time check that MemoryStore implements depot.BlockStore
var _ depot.BlockStore = (*MemoryStore)(nil)
