// Package store is the local-store capability: byte records addressed by a
// store name and a primary key. Every record is content addressed as well,
// so a backend can tell a damaged record from a missing one.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrCIDMismatch = errors.New("store: cid mismatch")
	ErrInvalidName = errors.New("store: invalid name or key")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

type Store interface {
	Fetch(ctx context.Context, name, key string) ([]byte, error)
	Store(ctx context.Context, name, key string, data []byte) error
	Delete(ctx context.Context, name, key string) error
}

// CID returns the CIDv1 (raw codec, sha2-256) of data.
func CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Check compares data against the CID it was stored with.
func Check(data []byte, stored string) error {
	want, err := cid.Decode(stored)
	if err != nil {
		return errors.Join(ErrCIDMismatch, err)
	}
	got, err := CID(data)
	if err != nil {
		return err
	}
	if !got.Equals(want) {
		return ErrCIDMismatch
	}
	return nil
}

// ValidName rejects empty names and keys and anything that could escape a
// directory.
func ValidName(name, key string) error {
	for _, s := range []string{name, key} {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
			return ErrInvalidName
		}
	}
	return nil
}
