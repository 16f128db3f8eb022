package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCID_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := CID([]byte("hello"))
	require.NoError(t, err)
	b, err := CID([]byte("hello"))
	require.NoError(t, err)
	c, err := CID([]byte("hellO"))
	require.NoError(t, err)

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.EqualValues(t, 1, a.Version())
}

func TestCheck(t *testing.T) {
	t.Parallel()

	id, err := CID([]byte("data"))
	require.NoError(t, err)

	assert.NoError(t, Check([]byte("data"), id.String()))
	assert.ErrorIs(t, Check([]byte("Data"), id.String()), ErrCIDMismatch)
	assert.ErrorIs(t, Check([]byte("data"), "not-a-cid"), ErrCIDMismatch)
}

func TestValidName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidName("users", "42"))
	assert.NoError(t, ValidName("users", "a.b"))
	for _, bad := range [][2]string{{"", "k"}, {"n", ""}, {".", "k"}, {"n", ".."}, {"a/b", "k"}, {"n", `a\b`}} {
		assert.ErrorIs(t, ValidName(bad[0], bad[1]), ErrInvalidName, "%q", bad)
	}
}
