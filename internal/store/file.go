package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps every key in one JSON document. The document is re-read on
// each access so writes by another process are observed, and rewritten via
// temp file + rename so readers never see a partial write.
type FileStore struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a store at path, creating the parent directory with
// owner-only permissions.
func NewFileStore(path string) (*FileStore, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("state file path is required")
	}
	if err := ensureOwnerOnlyDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &FileStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.update(func(values map[string]string) bool {
		if current, ok := values[key]; ok && current == value {
			return false
		}
		values[key] = value
		return true
	})
}

func (s *FileStore) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.update(func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) update(mutate func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	values, err := s.load()
	if err != nil {
		return err
	}
	if !mutate(values) {
		return nil
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeOwnerOnlyFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)
	info, err := os.Lstat(s.path)
	if err != nil {
		if isMissingPathError(err) {
			return values, nil
		}
		return nil, fmt.Errorf("stat state file: %w", err)
	}
	if err := validateRegularFile(s.path, info); err != nil {
		return nil, err
	}
	if info.Size() > maxStateFileSize {
		return nil, fmt.Errorf("%w: state file %q exceeds size limit", errUnsafePath, s.path)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode state file %q: %w", s.path, err)
	}
	return values, nil
}

func writeOwnerOnlyFileAtomic(path string, data []byte) error {
	if err := ensureOwnerOnlyDir(filepath.Dir(path)); err != nil {
		return err
	}

	if info, err := os.Lstat(path); err == nil {
		if err := validateRegularFile(path, info); err != nil {
			return err
		}
	} else if !isMissingPathError(err) {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(privateFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return os.Chmod(path, privateFilePerm)
}
