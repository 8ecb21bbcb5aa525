package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/var/lib/depot",
		LogDir:  "/var/lib/depot/log",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "/var/lib/depot/db",
		},
		BlockStore: BlockStoreConfig{
			Type:    "filesystem",
			FSRoot:  "/var/lib/depot/blocks",
			Encrypt: true,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/var/lib/depot/keys/depot.pub",
			PrivateKeyPath: "/var/lib/depot/keys/depot.key",
		},
		Backend: BackendConfig{
			BlockSize:             1 << 20,
			DefaultAccountQuota:   1 << 30,
			DefaultContainerQuota: 1 << 28,
			DefaultVersioning:     "auto",
		},
		Groups: map[string][]string{
			"acme:readers": {"alice", "bob"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.BlockStore.Type != "filesystem" {
		t.Errorf("BlockStore.Type = %q, want %q", got.BlockStore.Type, "filesystem")
	}
	if got.BlockStore.FSRoot != original.BlockStore.FSRoot {
		t.Errorf("BlockStore.FSRoot = %q, want %q", got.BlockStore.FSRoot, original.BlockStore.FSRoot)
	}
	if !got.BlockStore.Encrypt {
		t.Error("BlockStore.Encrypt = false, want true")
	}
	if got.Encryption.PublicKeyPath != original.Encryption.PublicKeyPath {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", got.Encryption.PublicKeyPath, original.Encryption.PublicKeyPath)
	}
	if got.Backend.BlockSize != original.Backend.BlockSize {
		t.Errorf("Backend.BlockSize = %d, want %d", got.Backend.BlockSize, original.Backend.BlockSize)
	}
	if got.Backend.DefaultVersioning != "auto" {
		t.Errorf("Backend.DefaultVersioning = %q, want %q", got.Backend.DefaultVersioning, "auto")
	}
	if len(got.Groups["acme:readers"]) != 2 {
		t.Fatalf("len(Groups[acme:readers]) = %d, want 2", len(got.Groups["acme:readers"]))
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/depot")

	if cfg.BaseDir != "/data/depot" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/depot")
	}
	if cfg.LogDir != filepath.Join("/data/depot", "log") {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, filepath.Join("/data/depot", "log"))
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
	if cfg.Encryption.PublicKeyPath != filepath.Join("/data/depot", "keys", "depot.pub") {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Backend.DefaultVersioning != "auto" {
		t.Errorf("Backend.DefaultVersioning = %q, want %q", cfg.Backend.DefaultVersioning, "auto")
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := NewConfig(dir)

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// Second init must refuse to clobber.
	if err := Init(path, cfg); err == nil {
		t.Error("Init() on existing file: expected error, got nil")
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
	}
}
