package blockstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"depot-go/internal/depot"
)

// FileSystemStore is a filesystem-based implementation of the BlockStore
// interface. It stores blocks and hashmaps as files:
//
//	<root>/
//	  blocks/
//	    <hash>     (block files, named by the hex digest of their plaintext)
//	  maps/
//	    <hash>     (hashmap files, newline-separated block hashes)
//
// With an encryptor configured, block files hold age ciphertext but keep
// their plaintext-derived names, so dedup decisions stay independent of the
// key. Reads then require an unlocked DecryptionContext.
type FileSystemStore struct {
	root      string
	blocksDir string
	mapsDir   string
	enc       depot.Encryptor
	dec       depot.DecryptionContext
}

// NewFileSystemStore creates a filesystem block store rooted at the given
// path. enc and dec may be nil for plaintext storage.
func NewFileSystemStore(root string, enc depot.Encryptor, dec depot.DecryptionContext) (*FileSystemStore, error) {
	blocksDir := filepath.Join(root, "blocks")
	mapsDir := filepath.Join(root, "maps")

	if err := os.MkdirAll(blocksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}
	if err := os.MkdirAll(mapsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create maps directory: %w", err)
	}

	return &FileSystemStore{
		root:      root,
		blocksDir: blocksDir,
		mapsDir:   mapsDir,
		enc:       enc,
		dec:       dec,
	}, nil
}

// PutBlock stores data under its content hash.
// Idempotent: if the block file already exists nothing is written.
func (s *FileSystemStore) PutBlock(data []byte) (string, error) {
	hash := depot.HashBlock(data)
	destPath := filepath.Join(s.blocksDir, hash)

	if _, err := os.Stat(destPath); err == nil {
		return hash, nil
	}

	payload := data
	if s.enc != nil {
		var buf bytes.Buffer
		if err := s.enc.Encrypt(bytes.NewReader(data), &buf); err != nil {
			return "", fmt.Errorf("encrypting block %s: %w", hash, err)
		}
		payload = buf.Bytes()
	}

	if err := writeFileAtomic(destPath, payload); err != nil {
		return "", fmt.Errorf("storing block %s: %w", hash, err)
	}
	return hash, nil
}

// GetBlock retrieves a block by hash.
func (s *FileSystemStore) GetBlock(hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.blocksDir, hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("block %s: %w", hash, depot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading block %s: %w", hash, err)
	}

	if s.enc == nil {
		return data, nil
	}
	if s.dec == nil {
		return nil, fmt.Errorf("store is locked: no decryption context")
	}
	var buf bytes.Buffer
	if err := s.dec.Decrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("decrypting block %s: %w", hash, err)
	}
	return buf.Bytes(), nil
}

// HasBlock reports whether the block file exists.
func (s *FileSystemStore) HasBlock(hash string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.blocksDir, hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking block %s: %w", hash, err)
	}
	return true, nil
}

// MissingBlocks returns the subset of hashes not present, preserving order.
func (s *FileSystemStore) MissingBlocks(hashes []string) ([]string, error) {
	var missing []string
	for _, h := range hashes {
		ok, err := s.HasBlock(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// UpdateBlock patches part of a block and stores the result as a new block.
func (s *FileSystemStore) UpdateBlock(hash string, offset int64, data []byte) (string, error) {
	old, err := s.GetBlock(hash)
	if err != nil {
		return "", err
	}
	patched, err := patchBlock(old, offset, data)
	if err != nil {
		return "", err
	}
	return s.PutBlock(patched)
}

// MapGet returns the ordered block hashes of an object hash.
func (s *FileSystemStore) MapGet(objectHash string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.mapsDir, objectHash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("hashmap %s: %w", objectHash, depot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading hashmap %s: %w", objectHash, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// MapPut associates an object hash with its ordered block hashes.
func (s *FileSystemStore) MapPut(objectHash string, blockHashes []string) error {
	payload := strings.Join(blockHashes, "\n")
	if payload != "" {
		payload += "\n"
	}
	if err := writeFileAtomic(filepath.Join(s.mapsDir, objectHash), []byte(payload)); err != nil {
		return fmt.Errorf("storing hashmap %s: %w", objectHash, err)
	}
	return nil
}

// MapDelete removes the hashmap file.
func (s *FileSystemStore) MapDelete(objectHash string) error {
	err := os.Remove(filepath.Join(s.mapsDir, objectHash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing hashmap %s: %w", objectHash, err)
	}
	return nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store root is not a directory: %s", s.root)
	}

	for _, dir := range []string{s.blocksDir, s.mapsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFileAtomic writes data to destPath using a temp file + rename so
// readers never observe a partial file.
func writeFileAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, bytes.NewReader(data)); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements depot.BlockStore
var _ depot.BlockStore = (*FileSystemStore)(nil)
