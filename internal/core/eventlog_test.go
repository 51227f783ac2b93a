package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestEventLog(t *testing.T) *EventLog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "events.db")
	log, err := OpenEventLog(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestEventLog_Append_CriticalEventFlushesImmediately(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventStart, Severity: SeverityInfo})

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventStart, events[0].Kind)
}

func TestEventLog_Append_NonCriticalEvent_BatchedUntilFlush(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventCopy, Severity: SeverityInfo, FilePath: "a.jpg"})

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Empty(t, events, "a non-critical event should stay pending until flush")

	log.Flush()

	events, err = log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "a.jpg", events[0].FilePath)
}

func TestEventLog_Append_BatchFull_FlushesAutomatically(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	for i := 0; i < eventBatchSize; i++ {
		log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventCopy, Severity: SeverityInfo})
	}

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, eventBatchSize)
}

func TestEventLog_Append_MetadataRoundTripsThroughStorage(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	log.Append(Event{
		SessionID: sessionID, Timestamp: time.Now(), Kind: EventScan, Severity: SeverityInfo,
		Metadata: map[string]string{"processed": "100", "final": "true"},
	})
	log.Flush()

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, map[string]string{"processed": "100", "final": "true"}, events[0].Metadata)
}

func TestEventLog_Append_NoMetadata_RoundTripsAsNil(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventStart, Severity: SeverityInfo})

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].Metadata)
}

func TestEventLog_EventsForSession_OrderedByInsertion(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	sessionID := uuid.New()

	log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventStart, Severity: SeverityInfo})
	log.Append(Event{SessionID: sessionID, Timestamp: time.Now(), Kind: EventComplete, Severity: SeverityInfo})

	events, err := log.EventsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventStart, events[0].Kind)
	require.Equal(t, EventComplete, events[1].Kind)
}

func TestEventLog_FinalizeSession_UpsertsAndLatestSessionReturnsIt(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)
	s := Session{
		ID:            uuid.New(),
		SourceAbsPath: "/source",
		StartedAt:     time.Now(),
		Status:        SessionRunning,
		ToolVersion:   "1.0.0",
	}

	log.FinalizeSession(s)

	s.Status = SessionComplete
	s.CompletedAt = time.Now()
	s.FileCount = 3
	s.TotalBytes = 30
	log.FinalizeSession(s)

	latest, err := log.LatestSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, s.ID, latest.ID)
	require.Equal(t, SessionComplete, latest.Status)
	require.Equal(t, 3, latest.FileCount)
}

func TestEventLog_VersionStats_GroupsByToolVersion(t *testing.T) {
	t.Parallel()

	log := openTestEventLog(t)

	for _, v := range []string{"1.0.0", "1.0.0", "1.1.0"} {
		log.FinalizeSession(Session{
			ID: uuid.New(), StartedAt: time.Now(), Status: SessionComplete,
			ToolVersion: v, FileCount: 2, TotalBytes: 20,
		})
	}

	stats, err := log.VersionStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byVersion := make(map[string]VersionStat, len(stats))
	for _, s := range stats {
		byVersion[s.ToolVersion] = s
	}

	require.Equal(t, 2, byVersion["1.0.0"].Sessions)
	require.Equal(t, 4, byVersion["1.0.0"].FilesTotal)
	require.Equal(t, 1, byVersion["1.1.0"].Sessions)
}
