// Package storetest holds the behaviour every store.Store backend shares.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ib-77/ropseq/pkg/seq/store"
)

// NewStore constructs a fresh, empty store isolated from other tests.
type NewStore func(t *testing.T) store.Store

func RunConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("StoreFetchRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := []byte(`{"name":"alice"}`)

		require.NoError(t, s.Store(ctx, "users", "1", want))
		got, err := s.Fetch(ctx, "users", "1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("StoreReplaces", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Store(ctx, "users", "1", []byte("old")))
		require.NoError(t, s.Store(ctx, "users", "1", []byte("new")))
		got, err := s.Fetch(ctx, "users", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("NamesAndKeysAreSeparate", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Store(ctx, "a", "k", []byte("in a")))
		require.NoError(t, s.Store(ctx, "b", "k", []byte("in b")))
		got, err := s.Fetch(ctx, "b", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("in b"), got)

		_, err = s.Fetch(ctx, "a", "other")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Fetch(ctx, "users", "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.True(t, store.IsNotFound(err))
		assert.ErrorIs(t, s.Delete(ctx, "users", "missing"), store.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Store(ctx, "users", "1", []byte("x")))
		require.NoError(t, s.Delete(ctx, "users", "1"))
		_, err := s.Fetch(ctx, "users", "1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InvalidNames", func(t *testing.T) {
		s := newStore(t)

		for _, nk := range [][2]string{{"", "k"}, {"n", ""}, {"..", "k"}, {"n", "a/b"}} {
			assert.ErrorIs(t, s.Store(ctx, nk[0], nk[1], []byte("x")), store.ErrInvalidName, "%q", nk)
			_, err := s.Fetch(ctx, nk[0], nk[1])
			assert.ErrorIs(t, err, store.ErrInvalidName, "%q", nk)
		}
	})
}
