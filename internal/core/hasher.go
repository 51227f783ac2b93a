package core

import (
	"context"
	"io"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// hashBlockSize is the streaming block size recommended by the spec; large
// enough to amortize syscalls, small enough to keep the cancellation check
// responsive.
const hashBlockSize = 1 << 20 // 1 MiB

// Hasher computes a 256-bit BLAKE3 digest of a file's content in constant
// memory, checking for cancellation between every block.
type Hasher struct {
	fsys afero.Fs
}

// NewHasher returns a Hasher reading through the given filesystem.
func NewHasher(fsys afero.Fs) *Hasher {
	return &Hasher{fsys: fsys}
}

// HashFile streams path in hashBlockSize blocks and returns its BLAKE3
// digest. It fails closed: any unexpected read error surfaces as
// ErrIO with path context, and cancellation surfaces as ErrCancelled.
func (h *Hasher) HashFile(ctx context.Context, path string) ([32]byte, error) {
	var digest [32]byte

	f, err := h.fsys.Open(path)
	if err != nil {
		return digest, wrapIO(path, err)
	}
	defer f.Close()

	return h.hashReader(ctx, path, f)
}

func (h *Hasher) hashReader(ctx context.Context, path string, r io.Reader) ([32]byte, error) {
	var digest [32]byte

	hasher := blake3.New()
	buf := make([]byte, hashBlockSize)

	for {
		if err := ctx.Err(); err != nil {
			return digest, wrapCancelled()
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := hasher.Write(buf[:n]); err != nil {
				return digest, wrapIO(path, err)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return digest, wrapIO(path, readErr)
		}
	}

	copy(digest[:], hasher.Sum(nil))

	return digest, nil
}
