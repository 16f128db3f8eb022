// Package localfs stores records as files under a root directory:
// root/<name>/<key> holds the bytes and root/<name>/<key>.cid their CID, so
// keys ending in .cid are refused.
package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ib-77/ropseq/pkg/seq/store"
)

const cidSuffix = ".cid"

type Store struct {
	root string
}

var _ store.Store = (*Store)(nil)

// New constructs a store rooted at root. The directory is created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) Fetch(ctx context.Context, name, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(name, key)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	id, err := os.ReadFile(path + cidSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrCIDMismatch
		}
		return nil, err
	}
	if err := store.Check(b, string(id)); err != nil {
		return nil, err
	}
	return b, nil
}

// Store replaces the record. Bytes and CID are each written to a temporary
// file and renamed into place.
func (s *Store) Store(ctx context.Context, name, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(name, key)
	if err != nil {
		return err
	}
	id, err := store.CID(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	return writeFile(path+cidSuffix, []byte(id.String()))
}

func (s *Store) Delete(ctx context.Context, name, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(name, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return store.ErrNotFound
		}
		return err
	}
	if err := os.Remove(path + cidSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) pathFor(name, key string) (string, error) {
	if err := store.ValidName(name, key); err != nil {
		return "", err
	}
	// the key would alias another record's sidecar
	if strings.HasSuffix(key, cidSuffix) {
		return "", store.ErrInvalidName
	}
	return filepath.Join(s.root, name, key), nil
}

func writeFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
