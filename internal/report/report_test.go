package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kmichels/imageintact-engine/internal/core"
)

func testReport() SessionReport {
	sessionID := uuid.New()
	started := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	return SessionReport{
		Session: core.Session{
			ID:            sessionID,
			SourceAbsPath: "/Users/alice/Pictures",
			StartedAt:     started,
			CompletedAt:   started.Add(5 * time.Minute),
			Status:        core.SessionComplete,
			ToolVersion:   "1.0.0",
			FileCount:     2,
			TotalBytes:    2048,
		},
		Events: []core.Event{
			{
				ID: 1, SessionID: sessionID, Timestamp: started,
				Kind: core.EventCopy, Severity: core.SeverityInfo,
				FilePath: "/Users/alice/Pictures/a.jpg", DestinationPath: "/Volumes/Backup1/a.jpg",
				Size: 1024,
			},
			{
				ID: 2, SessionID: sessionID, Timestamp: started.Add(time.Second),
				Kind: core.EventError, Severity: core.SeverityError,
				FilePath: "/Users/alice/Pictures/b.jpg", DestinationPath: "/Volumes/Backup1/b.jpg",
				ErrorMsg: "hash mismatch",
			},
		},
	}
}

func TestWriteJSON_RendersSessionAndEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testReport(), false))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	session := decoded["session"].(map[string]any)
	require.Equal(t, "complete", session["status"])
	require.Equal(t, "/Users/alice/Pictures", session["source_path"])

	events := decoded["events"].([]any)
	require.Len(t, events, 2)
}

func TestWriteJSON_AnonymizePaths_RedactsUserAndVolume(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testReport(), true))

	out := buf.String()
	require.NotContains(t, out, "alice")
	require.NotContains(t, out, "Backup1")
	require.Contains(t, out, "[USER]")
	require.Contains(t, out, "[VOLUME]")
}

func TestWriteHuman_RendersReadableReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteHuman(&buf, testReport(), false))

	out := buf.String()
	require.True(t, strings.Contains(out, "status:      complete"))
	require.Contains(t, out, "/Users/alice/Pictures/a.jpg")
	require.Contains(t, out, "hash mismatch")
}

func TestWriteHuman_AnonymizePaths_RedactsUserSegment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteHuman(&buf, testReport(), true))

	out := buf.String()
	require.NotContains(t, out, "alice")
	require.Contains(t, out, "[USER]")
}

func TestMaybeAnonymize_NonUserPath_Unchanged(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/var/tmp/x.jpg", maybeAnonymize("/var/tmp/x.jpg", true))
	require.Equal(t, "", maybeAnonymize("", true))
}
