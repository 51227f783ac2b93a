package core

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func collectCandidates(t *testing.T, fs afero.Fs, root string, opts ScanOptions) []Candidate {
	t.Helper()

	s := NewScanner(fs)
	ch, errCh := s.Scan(context.Background(), root, opts)

	var got []Candidate
	for c := range ch {
		got = append(got, c)
	}
	require.NoError(t, <-errCh)

	return got
}

func TestScanner_Scan_AllFiles_FindsEveryRegularFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/sub/b.raw", []byte("y"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/sub/c.xmp", []byte("z"), 0o644))

	got := collectCandidates(t, fs, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterAllFiles}})
	require.Len(t, got, 3)
}

func TestScanner_Scan_PhotosFilter_ExcludesNonPhotoFiles(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/b.cr2", []byte("y"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/c.xmp", []byte("z"), 0o644))

	got := collectCandidates(t, fs, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterPhotosOnly}})
	require.Len(t, got, 2)
}

func TestScanner_Scan_SkipHidden_ExcludesDotfilesAndDirs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/visible.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/.hidden.jpg", []byte("y"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/.git/config.jpg", []byte("z"), 0o644))

	got := collectCandidates(t, fs, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterAllFiles}, SkipHidden: true})
	require.Len(t, got, 1)
	require.Equal(t, "visible.jpg", got[0].RelPath)
}

func TestScanner_Scan_CacheExclusion_SkipsCacheDirs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/Lightroom Previews.lrdata/p.jpg", []byte("y"), 0o644))

	got := collectCandidates(t, fs, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterAllFiles}, CacheExclusion: true})
	require.Len(t, got, 1)
	require.Equal(t, "a.jpg", got[0].RelPath)
}

func TestScanner_Scan_CancelledContext_ReportsCancelledError(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.jpg", []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner(fs)
	_, errCh := s.Scan(ctx, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterAllFiles}})

	err := <-errCh
	require.Error(t, err)

	ee, ok := AsEngineError(err)
	require.True(t, ok)
	require.Equal(t, ErrCancelled, ee.Kind)
}

func TestScanner_Scan_UnicodeAndSpaceFilenames_Found(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/photo café.jpg", []byte("x"), 0o644))

	got := collectCandidates(t, fs, "/src", ScanOptions{Filter: TypeFilter{Kind: FilterAllFiles}})
	require.Len(t, got, 1)
	require.Equal(t, "photo café.jpg", got[0].RelPath)
}
