package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDestinationLog_LogCopy_WritesCSVRowAndManifestEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sid := uuid.New()
	log := NewDestinationLog(fs, "/dest", sid)

	entry := &ManifestEntry{RelPath: "a.jpg", SourceAbsPath: "/source/a.jpg", SizeBytes: 10, SourceHash: [32]byte{1, 2, 3}}
	log.LogCopy(entry, "/dest/a.jpg")

	require.NoError(t, log.Finalize())

	csvFiles, err := afero.Glob(fs, "/dest/.imageintact_logs/*.csv")
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)

	data, err := afero.ReadFile(fs, csvFiles[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "copy")
	require.Contains(t, string(data), sid.String())
	require.Contains(t, string(data), "/source/a.jpg")

	manifestPath := "/dest/.imageintact_checksums/" + sid.String() + ".manifest"
	manifestData, err := afero.ReadFile(fs, manifestPath)
	require.NoError(t, err)
	require.Contains(t, string(manifestData), "a.jpg")
}

func TestDestinationLog_LogSkip_RecordsSkipRowAndManifestEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sid := uuid.New()
	log := NewDestinationLog(fs, "/dest", sid)

	entry := &ManifestEntry{RelPath: "a.jpg", SourceAbsPath: "/source/a.jpg", SizeBytes: 10}
	log.LogSkip(entry, "/dest/a.jpg")
	require.NoError(t, log.Finalize())

	manifestPath := "/dest/.imageintact_checksums/" + sid.String() + ".manifest"
	manifestData, err := afero.ReadFile(fs, manifestPath)
	require.NoError(t, err)
	require.Contains(t, string(manifestData), "a.jpg")
}

func TestDestinationLog_LogQuarantine_RecordsQuarantinePathAsDest(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sid := uuid.New()
	log := NewDestinationLog(fs, "/dest", sid)

	entry := &ManifestEntry{RelPath: "a.jpg", SourceAbsPath: "/source/a.jpg", SourceHash: [32]byte{9}}
	log.LogQuarantine(entry, "/dest/.quarantine/a.jpg_20260101_000000")
	require.NoError(t, log.Finalize())

	csvFiles, err := afero.Glob(fs, "/dest/.imageintact_logs/*.csv")
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, csvFiles[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "quarantine")
	require.Contains(t, string(data), ".quarantine/a.jpg_20260101_000000")
}

func TestDestinationLog_LogError_RecordsReasonColumn(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log := NewDestinationLog(fs, "/dest", uuid.New())

	log.LogError("broken.jpg", "/dest/broken.jpg", "disk full")
	require.NoError(t, log.Finalize())

	csvFiles, err := afero.Glob(fs, "/dest/.imageintact_logs/*.csv")
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, csvFiles[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "disk full")
}

func TestDestinationLog_Finalize_NoEntriesWritesNoManifest(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sid := uuid.New()
	log := NewDestinationLog(fs, "/dest", sid)

	require.NoError(t, log.Finalize())

	_, err := fs.Stat("/dest/.imageintact_checksums/" + sid.String() + ".manifest")
	require.Error(t, err)
}

func TestDestinationLog_AppendRow_HeaderWrittenOnce(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log := NewDestinationLog(fs, "/dest", uuid.New())

	entry := &ManifestEntry{RelPath: "a.jpg", SourceAbsPath: "/source/a.jpg"}
	log.LogCopy(entry, "/dest/a.jpg")
	log.LogVerify(entry, "/dest/a.jpg")
	require.NoError(t, log.Finalize())

	csvFiles, err := afero.Glob(fs, "/dest/.imageintact_logs/*.csv")
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, csvFiles[0])
	require.NoError(t, err)

	count := 0
	for _, line := range splitLines(string(data)) {
		if line == "iso_timestamp,session_id,action,source_path,dest_path,hash,algo,reason" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}

	return lines
}
