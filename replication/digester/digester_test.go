package digester_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication/digester"
)

// sha256("hello")
const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestString_returns_sha256(t *testing.T) {
	t.Parallel()

	assert.Equal(t, helloDigest, digester.String("hello"))
}

func TestFile_matches_String(t *testing.T) {
	t.Parallel()

	pa := filepath.Join(t.TempDir(), "test.diff")
	require.NoError(t, os.WriteFile(pa, []byte("hello"), 0o600))

	got, err := digester.File(pa)

	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
}

func TestFile_nonexistent(t *testing.T) {
	t.Parallel()

	got, err := digester.File("/nonexistent")

	assert.Empty(t, got)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, digester.WriteFile(
		filepath.Join(dir, "ok.diff"), "hello", helloDigest,
	))

	err := digester.WriteFile(
		filepath.Join(dir, "bad.diff"), "hello", "deadbeef",
	)
	assert.ErrorContains(t, err, "digest mismatch")
}
