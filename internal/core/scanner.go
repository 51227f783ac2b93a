package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// TypeFilterKind selects a built-in extension family, or Custom for a
// caller-supplied set.
type TypeFilterKind int

const (
	FilterAllFiles TypeFilterKind = iota
	FilterPhotosOnly
	FilterRawOnly
	FilterVideosOnly
	FilterCustom
)

// TypeFilter narrows the Scanner's candidates to specific extension
// families. Extensions are matched case-insensitively, without the dot.
type TypeFilter struct {
	Kind   TypeFilterKind
	Custom map[string]struct{}
}

// Extension families grounded on whatsoevan-backupbozo's allowedExtensions
// map, split into the spec's Photos/Raw/Videos groups.
var (
	photoExtensions = map[string]struct{}{
		"jpg": {}, "jpeg": {}, "heic": {}, "png": {},
	}
	rawExtensions = map[string]struct{}{
		"cr2": {}, "cr3": {}, "nef": {}, "arw": {}, "dng": {}, "raf": {}, "orf": {}, "rw2": {},
	}
	videoExtensions = map[string]struct{}{
		"mp4": {}, "mov": {}, "mkv": {}, "webm": {}, "avi": {},
	}
)

// matches reports whether ext (no leading dot, any case) passes the filter.
func (f TypeFilter) matches(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	switch f.Kind {
	case FilterAllFiles:
		return true
	case FilterPhotosOnly:
		_, raw := rawExtensions[ext]
		_, photo := photoExtensions[ext]

		return raw || photo
	case FilterRawOnly:
		_, ok := rawExtensions[ext]

		return ok
	case FilterVideosOnly:
		_, ok := videoExtensions[ext]

		return ok
	case FilterCustom:
		_, ok := f.Custom[ext]

		return ok
	default:
		return false
	}
}

// cacheDirNames are preview/cache folder names skipped when CacheExclusion
// is set, grounded on common photo-cataloging-tool cache layouts.
var cacheDirNames = map[string]struct{}{
	".cache": {}, "thumbs.db": {}, "previews.lrdata": {}, "lightroom previews.lrdata": {},
}

func isCacheDir(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := cacheDirNames[lower]; ok {
		return true
	}

	return strings.HasSuffix(lower, ".lrdata") || strings.HasSuffix(lower, ".cosessiondb")
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Candidate is one regular file found by the Scanner, not yet hashed.
type Candidate struct {
	AbsPath string
	RelPath string
	Size    int64
}

// ScanOptions configures one Scanner pass.
type ScanOptions struct {
	Filter         TypeFilter
	CacheExclusion bool
	SkipHidden     bool
}

// Scanner walks a source tree and emits candidate regular files. It follows
// no symlinks and ignores devices/sockets; traversal order is not
// guaranteed.
type Scanner struct {
	fsys afero.Fs
}

// NewScanner returns a Scanner reading through the given filesystem.
func NewScanner(fsys afero.Fs) *Scanner {
	return &Scanner{fsys: fsys}
}

// Scan walks root and sends candidates on the returned channel. The channel
// is closed when the walk completes, is cancelled, or fails; the final
// error (nil on success, wrapped ErrCancelled on cancellation) is sent on
// errCh exactly once.
func (s *Scanner) Scan(ctx context.Context, root string, opts ScanOptions) (<-chan Candidate, <-chan error) {
	out := make(chan Candidate)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		err := afero.Walk(s.fsys, root, func(path string, info os.FileInfo, walkErr error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return wrapCancelled()
			}

			if walkErr != nil {
				return wrapIO(path, walkErr)
			}

			name := info.Name()

			if info.IsDir() {
				if path != root {
					if opts.SkipHidden && isHidden(name) {
						return filepath.SkipDir
					}
					if opts.CacheExclusion && isCacheDir(name) {
						return filepath.SkipDir
					}
				}

				return nil
			}

			if !info.Mode().IsRegular() {
				// Ignore devices, sockets, and other non-regular files.
				return nil
			}

			if opts.SkipHidden && isHidden(name) {
				return nil
			}

			if !opts.Filter.matches(filepath.Ext(name)) {
				return nil
			}

			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return wrapIO(path, err)
			}
			relPath = filepath.ToSlash(relPath)

			select {
			case out <- Candidate{AbsPath: path, RelPath: relPath, Size: info.Size()}:
				return nil
			case <-ctx.Done():
				return wrapCancelled()
			}
		})

		errCh <- err
	}()

	return out, errCh
}
