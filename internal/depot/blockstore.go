package depot

// BlockStore holds deduplicated content blocks and object hashmaps. It has
// no notion of ownership, only of existence: any two objects in any two
// accounts sharing a block share storage. Blocks are addressed by the hex
// digest of their plaintext.
type BlockStore interface {
	// PutBlock stores data and returns its hash. Idempotent: if a block
	// with this hash already exists no new storage is consumed.
	PutBlock(data []byte) (string, error)

	// GetBlock returns the block's bytes, or ErrNotFound.
	GetBlock(hash string) ([]byte, error)

	// HasBlock reports whether the block exists physically.
	HasBlock(hash string) (bool, error)

	// MissingBlocks returns the subset of hashes not present in the store,
	// preserving order. Used to validate a caller-constructed hashmap
	// before it is committed as an object version.
	MissingBlocks(hashes []string) ([]string, error)

	// UpdateBlock rewrites part of a block and returns the hash of the
	// resulting block; content addressing means the identity changes. A
	// full-block overwrite at offset 0 is equivalent to PutBlock.
	UpdateBlock(hash string, offset int64, data []byte) (string, error)

	// MapGet returns the ordered block hashes of an object hash, or
	// ErrNotFound.
	MapGet(objectHash string) ([]string, error)

	// MapPut associates an object hash with its ordered block hashes.
	MapPut(objectHash string, blockHashes []string) error

	// MapDelete removes the association. Callers only invoke it once no
	// version references the object hash anymore.
	MapDelete(objectHash string) error

	// ValidateSetup verifies the store is accessible and properly
	// configured.
	ValidateSetup() error
}
