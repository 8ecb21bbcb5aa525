package depot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultBlockSize is the payload partition size: 4 MiB.
const DefaultBlockSize int64 = 4 * 1024 * 1024

// HashBlock returns the hex SHA-256 digest of one block's plaintext.
func HashBlock(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashOfHashes composes the object hash from its ordered block hashes: the
// SHA-256 of the concatenated raw digests, a flat Merkle list. The empty
// sequence hashes to the empty string, matching the invariant that an
// object's hash is empty iff its size is zero.
func HashOfHashes(blockHashes []string) (string, error) {
	if len(blockHashes) == 0 {
		return "", nil
	}
	h := sha256.New()
	for _, bh := range blockHashes {
		raw, err := hex.DecodeString(bh)
		if err != nil {
			return "", fmt.Errorf("invalid block hash %q: %w", bh, err)
		}
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BlockCount returns how many blocks an object of the given size occupies.
func BlockCount(size, blockSize int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}
