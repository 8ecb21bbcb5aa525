package blockstore

import (
	"fmt"

	"depot-go/internal/config"
	"depot-go/internal/depot"
)

// NewBlockStoreFromConfig creates a BlockStore implementation based on the
// config type. enc and dec are only consulted by the filesystem backend and
// only when at-rest encryption is enabled.
func NewBlockStoreFromConfig(cfg config.BlockStoreConfig, enc depot.Encryptor, dec depot.DecryptionContext) (depot.BlockStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem block store requires fs_root to be set")
		}
		if !cfg.Encrypt {
			enc, dec = nil, nil
		} else if enc == nil {
			return nil, fmt.Errorf("block encryption enabled but no encryptor configured")
		}
		return NewFileSystemStore(cfg.FSRoot, enc, dec)
	default:
		return nil, fmt.Errorf("unknown block store type: %s", cfg.Type)
	}
}
