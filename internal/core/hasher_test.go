package core

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestHasher_HashFile_DeterministicDigest_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("helloworld"), 0o644))

	h := NewHasher(fs)

	got1, err := h.HashFile(context.Background(), "/a.txt")
	require.NoError(t, err)

	got2, err := h.HashFile(context.Background(), "/a.txt")
	require.NoError(t, err)

	require.Equal(t, got1, got2)
	require.NotEqual(t, [32]byte{}, got1)
}

func TestHasher_HashFile_DifferentContentDifferentDigest_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("helloworld"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/b.txt", []byte("tampered"), 0o644))

	h := NewHasher(fs)

	a, err := h.HashFile(context.Background(), "/a.txt")
	require.NoError(t, err)
	b, err := h.HashFile(context.Background(), "/b.txt")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestHasher_HashFile_MultiBlockLargeFile_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	content := make([]byte, hashBlockSize+1)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, afero.WriteFile(fs, "/big.bin", content, 0o644))

	h := NewHasher(fs)
	got, err := h.HashFile(context.Background(), "/big.bin")
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, got)
}

func TestHasher_HashFile_MissingFile_ReturnsIOError(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	h := NewHasher(fs)

	_, err := h.HashFile(context.Background(), "/missing.txt")
	require.Error(t, err)

	ee, ok := AsEngineError(err)
	require.True(t, ok)
	require.Equal(t, ErrIO, ee.Kind)
}

func TestHasher_HashFile_CancelledContext_ReturnsCancelled(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("helloworld"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHasher(fs)
	_, err := h.HashFile(ctx, "/a.txt")
	require.Error(t, err)

	ee, ok := AsEngineError(err)
	require.True(t, ok)
	require.Equal(t, ErrCancelled, ee.Kind)
}

func TestHasher_HashFile_ZeroByteFile_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/empty.txt", []byte{}, 0o644))

	h := NewHasher(fs)
	got, err := h.HashFile(context.Background(), "/empty.txt")
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, got) // BLAKE3's empty digest is itself non-zero
}
