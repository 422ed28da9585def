// Package store persists client-side tier state: credentials, the last
// resolved decision and the applied UI tier.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Keys written by tiergate components.
const (
	KeyLicenseKey   = "license_key"
	KeyInstanceID   = "instance_id"
	KeyCustomerID   = "customer_id"
	KeyTier         = "tier"
	KeyTierDecision = "tier_decision"
	KeyTierSource   = "tier_source"
	KeyUITier       = "ui_tier"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

const (
	privateDirPerm   = 0o700
	privateFilePerm  = 0o600
	maxStateFileSize = 1 << 20
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrEmptyKey    = errors.New("store key is required")
	errUnsafePath  = errors.New("unsafe store path")
	errUnknownKind = errors.New("unknown store kind")
)

// Store is a string key/value store. Each Set or Delete is atomic for its key.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Pather is implemented by stores backed by a file on disk.
type Pather interface {
	Path() string
}

// Open selects a store implementation by kind. dir is ignored for memory.
func Open(kind, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindFile, "":
		return NewFileStore(filepath.Join(dir, "state.json"))
	case KindSQLite:
		return NewSQLiteStore(dir)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownKind, kind)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

func ensureOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, privateDirPerm)
}

func isMissingPathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func validateRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", errUnsafePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", errUnsafePath, path)
	}
	return nil
}
