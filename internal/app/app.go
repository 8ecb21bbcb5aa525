package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"depot-go/internal/blockstore"
	"depot-go/internal/config"
	"depot-go/internal/database"
	"depot-go/internal/depot"
	"depot-go/internal/encryption"
)

// DepotApp is the application layer between the CLI and the storage backend.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the DB lifecycle on Close.
type DepotApp struct {
	cfg       *config.Config
	meta      *database.SQLite
	blocks    depot.BlockStore
	encryptor depot.Encryptor
	backend   *depot.Backend
	logFile   *os.File
}

// NewDepotApp creates a fully wired DepotApp from the given config.
// operation identifies the CLI command being run (e.g. "PutObject").
// passphrase unlocks the block encryption key when at-rest encryption is
// enabled; it may be empty for write-only sessions or plaintext stores.
// The caller must call Close when done.
func NewDepotApp(cfg *config.Config, operation, passphrase string) (*DepotApp, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var dec depot.DecryptionContext
	if cfg.BlockStore.Encrypt && passphrase != "" {
		dec, err = enc.Unlock(passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking encryption key: %w", err)
		}
	}

	blocks, err := blockstore.NewBlockStoreFromConfig(cfg.BlockStore, enc, dec)
	if err != nil {
		return nil, fmt.Errorf("creating block store: %w", err)
	}
	if err := blocks.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("validating block store: %w", err)
	}

	meta, err := database.NewMetaStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}

	if err := meta.CheckMigrations(); err != nil {
		meta.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, operation)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	opts := depot.Options{
		BlockSize:             cfg.Backend.BlockSize,
		DefaultAccountQuota:   cfg.Backend.DefaultAccountQuota,
		DefaultContainerQuota: cfg.Backend.DefaultContainerQuota,
		DefaultVersioning:     cfg.Backend.DefaultVersioning,
	}
	adapter := &slogAdapter{l: logger}
	backend := depot.NewBackend(meta, blocks,
		depot.NewLocalCommissioner(adapter),
		depot.StaticGroups(cfg.Groups),
		adapter, depot.RealClock{}, depot.UUIDGenerator{}, opts)

	return &DepotApp{
		cfg:       cfg,
		meta:      meta,
		blocks:    blocks,
		encryptor: enc,
		backend:   backend,
		logFile:   logFile,
	}, nil
}

// Backend returns the wired storage backend.
func (a *DepotApp) Backend() *depot.Backend { return a.backend }

// Encryptor returns the configured at-rest encryptor (for key setup).
func (a *DepotApp) Encryptor() depot.Encryptor { return a.encryptor }

// PutObject streams r into the store as the new current version of the
// object, splitting it into blocks.
func (a *DepotApp) PutObject(ctx context.Context, principal, account, container, name, contentType string, r io.Reader) (*depot.Version, error) {
	return a.backend.WriteObject(ctx, principal, account, container, name, contentType, "", nil, r)
}

// GetObject streams the object's current (or the requested) version into w.
func (a *DepotApp) GetObject(ctx context.Context, principal, account, container, name string, version int64, w io.Writer) (int64, error) {
	return a.backend.ReadObject(ctx, principal, account, container, name, version, w)
}

// DeleteObject tombstones the object. A non-zero until purges retained
// history older than the horizon instead.
func (a *DepotApp) DeleteObject(ctx context.Context, principal, account, container, name string, until time.Time) error {
	return a.backend.DeleteObject(ctx, principal, account, container, name, until)
}

// ListObjects lists the container's objects under the given options.
func (a *DepotApp) ListObjects(ctx context.Context, principal, account, container string, opt depot.ListOptions) ([]depot.ObjectEntry, []string, error) {
	return a.backend.ListObjects(ctx, principal, account, container, opt)
}

// BackupDatabase snapshots the metadata database to destPath.
func (a *DepotApp) BackupDatabase(destPath string) error {
	return a.meta.BackupTo(destPath)
}

// Close closes all resources.
func (a *DepotApp) Close() error {
	var firstErr error
	if err := a.meta.Close(); err != nil {
		firstErr = fmt.Errorf("closing metadata store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
