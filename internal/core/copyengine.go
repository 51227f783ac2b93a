package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// CopyOutcome is the result of one CopyEngine.Copy call.
type CopyOutcome int

const (
	OutcomeCopied CopyOutcome = iota
	OutcomeSkipped
)

// quarantineDir is the hidden per-destination directory displaced conflict
// files are moved into (spec §4.6 step 3); never deleted, never emptied.
const quarantineDir = ".quarantine"

// partialSuffix marks a copy-in-progress sibling file, overwritten
// silently if left over from a prior crashed run (DESIGN.md open question
// #1, grounded on the teacher's identical handling of its own ".mirsht"
// working file).
const partialSuffix = ".partial"

// CopyEngine copies one ManifestEntry to one destination root, handling
// skip-if-identical, quarantine-on-conflict, and atomic commit via a
// durability barrier and rename (spec §4.6).
type CopyEngine struct {
	fsys   afero.Fs
	hasher *Hasher
	nowFn  func() time.Time
}

// NewCopyEngine returns a CopyEngine operating through fsys.
func NewCopyEngine(fsys afero.Fs, hasher *Hasher) *CopyEngine {
	return &CopyEngine{fsys: fsys, hasher: hasher, nowFn: time.Now}
}

// Copy copies entry into destRoot, returning OutcomeSkipped if an
// identical file already exists at the destination. quarantinePath is
// non-empty only when a conflicting prior file was displaced.
func (c *CopyEngine) Copy(ctx context.Context, entry *ManifestEntry, destRoot string) (outcome CopyOutcome, quarantinePath string, err error) {
	dst, err := c.resolveDestPath(destRoot, entry.RelPath)
	if err != nil {
		return OutcomeCopied, "", err
	}

	if _, err := c.fsys.Stat(entry.SourceAbsPath); os.IsNotExist(err) {
		return OutcomeCopied, "", wrapSourceMissing(entry.SourceAbsPath)
	}

	if err := c.fsys.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return OutcomeCopied, "", wrapIO(filepath.Dir(dst), err)
	}

	if existing, statErr := c.fsys.Stat(dst); statErr == nil && !existing.IsDir() {
		identical, hashErr := c.isIdentical(ctx, dst, entry.SourceHash)
		if hashErr != nil {
			return OutcomeCopied, "", hashErr
		}
		if identical {
			return OutcomeSkipped, "", nil
		}

		qPath, err := c.quarantine(destRoot, dst)
		if err != nil {
			return OutcomeCopied, "", err
		}
		quarantinePath = qPath
	} else if statErr != nil && !os.IsNotExist(statErr) {
		return OutcomeCopied, "", wrapIO(dst, statErr)
	}

	if err := c.copyToPartialThenRename(ctx, entry, dst); err != nil {
		return OutcomeCopied, quarantinePath, err
	}

	return OutcomeCopied, quarantinePath, nil
}

// resolveDestPath joins destRoot with relPath and refuses any result that
// escapes destRoot (spec §4.6 edge case: crafted relative paths containing
// "..").
func (c *CopyEngine) resolveDestPath(destRoot, relPath string) (string, error) {
	dst := filepath.Join(destRoot, filepath.FromSlash(relPath))

	rel, err := filepath.Rel(destRoot, dst)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", wrapInvalidPath(relPath)
	}

	return dst, nil
}

func (c *CopyEngine) isIdentical(ctx context.Context, path string, want [32]byte) (bool, error) {
	got, err := c.hasher.HashFile(ctx, path)
	if err != nil {
		return false, err
	}

	return got == want, nil
}

// quarantine displaces an existing conflicting file into
// destRoot/.quarantine/<basename>_<yyyymmdd_hhmmss>, creating the
// quarantine directory lazily. The file is never deleted (I3).
func (c *CopyEngine) quarantine(destRoot, dst string) (string, error) {
	qDir := filepath.Join(destRoot, quarantineDir)
	if err := c.fsys.MkdirAll(qDir, 0o777); err != nil {
		return "", wrapIO(qDir, err)
	}

	stamp := c.nowFn().Format("20060102_150405")
	qPath := filepath.Join(qDir, fmt.Sprintf("%s_%s", filepath.Base(dst), stamp))

	if err := c.fsys.Rename(dst, qPath); err != nil {
		return "", wrapIO(dst, err)
	}

	return qPath, nil
}

// copyToPartialThenRename implements spec §4.6 steps 4-6: stream source to
// a temporary sibling, issue a durability barrier, then atomically rename
// into place.
func (c *CopyEngine) copyToPartialThenRename(ctx context.Context, entry *ManifestEntry, dst string) (retErr error) {
	partial := dst + partialSuffix

	in, err := c.fsys.Open(entry.SourceAbsPath)
	if err != nil {
		return wrapIO(entry.SourceAbsPath, err)
	}
	defer in.Close()

	out, err := c.fsys.Create(partial)
	if err != nil {
		return wrapIO(partial, err)
	}

	defer func() {
		if retErr != nil {
			_ = c.fsys.Remove(partial)
		}
	}()

	cr := &contextReader{ctx: ctx, reader: in}

	if _, err := io.Copy(out, cr); err != nil {
		out.Close()

		if ee, ok := AsEngineError(err); ok {
			return ee
		}

		return wrapIO(partial, err)
	}

	if err := c.syncFile(out); err != nil {
		out.Close()

		return wrapIO(partial, err)
	}

	if err := out.Close(); err != nil {
		return wrapIO(partial, err)
	}

	c.syncParentDir(filepath.Dir(partial))

	if err := c.fsys.Rename(partial, dst); err != nil {
		return wrapIO(dst, err)
	}

	c.syncParentDir(filepath.Dir(dst))

	return nil
}

// syncer is implemented by afero files backed by a real *os.File.
type syncer interface {
	Sync() error
}

func (c *CopyEngine) syncFile(f afero.File) error {
	if s, ok := f.(syncer); ok {
		return s.Sync()
	}

	// In-memory filesystems (used in tests) have nothing to durably flush.
	return nil
}

// syncParentDir best-effort fsyncs a directory's metadata, completing the
// durability barrier. It is a no-op on filesystems (e.g. afero's in-memory
// backend) that do not expose a real directory handle.
func (c *CopyEngine) syncParentDir(dir string) {
	if _, ok := c.fsys.(*afero.OsFs); !ok {
		return
	}

	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()

	_ = d.Sync()
}

// contextReader is a Context-aware io.Reader that surfaces cancellation as
// a wrapped ErrCancelled instead of letting the read run to completion.
type contextReader struct {
	ctx    context.Context //nolint:containedctx
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, wrapCancelled()
	default:
		return r.reader.Read(p)
	}
}
