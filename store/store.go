// Package store persists channel records on disk, one JSON file per
// channel name.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/blndgs/ch4nn337"
)

var (
	ErrNotFound    = errors.New("channel not found")
	ErrInvalidName = errors.New("invalid channel name")
	ErrLocked      = errors.New("channel is locked by another process")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

const recordExt = ".json"

// Store keeps channel records in a directory. Records hold private keys in
// plain text; the directory is created owner-only.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+recordExt), nil
}

// Exists reports whether a record named name exists.
func (s *Store) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
}

// Load reads and validates the record named name.
func (s *Store) Load(name string) (*ch4nn337.Channel, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	c, err := ch4nn337.DecodeChannel(data)
	if err != nil {
		if ch4nn337.IsIntegrity(err) {
			s.logger.Error("channel record failed integrity check",
				zap.String("name", name),
				zap.String("path", p),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	s.logger.Debug("loaded channel",
		zap.String("name", name),
		zap.Stringer("address", c.Address()),
		zap.Stringer("role", c.Role()),
		zap.Int("messages", len(c.Messages())),
	)
	return c, nil
}

// Save atomically replaces the record named name.
func (s *Store) Save(name string, c *ch4nn337.Channel) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := ch4nn337.EncodeChannel(c)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.Chmod(p, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	s.logger.Debug("saved channel",
		zap.String("name", name),
		zap.Stringer("address", c.Address()),
		zap.Bool("pending", c.HasPendingMessage()),
	)
	return nil
}

// Create saves a new record and fails with fs.ErrExist if one is already
// stored under name.
func (s *Store) Create(name string, c *ch4nn337.Channel) error {
	exists, err := s.Exists(name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("channel %s: %w", name, fs.ErrExist)
	}
	return s.Save(name, c)
}

// Lock takes an exclusive lock on the record named name so that only one
// command works on it at a time. The returned function releases the lock.
func (s *Store) Lock(name string) (func(), error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	fl := flock.New(p + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("flock %s: %w", fl.Path(), err)
	} else if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Error("failed to unlock channel",
				zap.String("path", fl.Path()),
				zap.Error(err),
			)
		}
	}, nil
}
