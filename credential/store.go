// Package credential stores the API key used to authenticate against
// the backend: one opaque token per store, mirrored in memory and
// persisted to a file so it survives restarts. The file is written
// atomically (temp file + rename) under a [github.com/gofrs/flock]
// lock so concurrent processes cannot interleave partial writes.
package credential

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/corpora-ai/corpora-go/internal/log"
)

const (
	defaultDirName  = ".corpora"
	defaultFileName = "credentials"
	lockSuffix      = ".lock"
)

// Store holds at most one credential. The in-memory mirror answers
// reads synchronously; the file is consulted whenever the mirror is
// empty, so a value written by another process is picked up lazily.
// Store is safe for concurrent use.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// DefaultPath returns ~/.corpora/credentials, creating the directory
// with owner-only permissions if needed.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	dir := filepath.Join(homeDir, defaultDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}

	return filepath.Join(dir, defaultFileName), nil
}

// NewStore creates a store backed by the file at path. An empty path
// selects DefaultPath. A nil logger discards logs.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &Store{
		path:   path,
		lock:   flock.New(path + lockSuffix),
		logger: logger,
	}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Set stores the token in memory and on disk. No validation happens
// here: callers wanting to verify a key do so with a health check
// before or after saving it.
func (s *Store) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeFile(token); err != nil {
		return err
	}
	s.token = token

	s.logger.Debug("credential stored", "path", s.path)

	return nil
}

// Get returns the active credential. The boolean is false when no
// credential is configured. Get never fails: an unreadable file is
// logged and treated as absence.
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, true
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read credential file", "path", s.path, "error", err)
		}

		return "", false
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false
	}
	s.token = token

	return token, true
}

// Present reports whether a credential is configured.
func (s *Store) Present() bool {
	_, ok := s.Get()

	return ok
}

// Clear removes the credential from memory and disk. Idempotent:
// clearing an empty store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release credential lock", "error", err)
		}
	}()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}

	s.logger.Debug("credential cleared", "path", s.path)

	return nil
}

// writeFile persists the token atomically: the new content lands in a
// temp file in the same directory and replaces the target via rename.
func (s *Store) writeFile(token string) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release credential lock", "error", err)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), defaultFileName+"-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close credential file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replace credential file: %w", err)
	}

	return nil
}
