package core

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the relative urgency of a CopyTask. Higher values float a
// task to the front of the PriorityTaskQueue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// highPriorityThreshold is the file-size boundary under which a task is
// promoted from Normal to High, so small files front-load quick wins (spec
// §4.7; threshold decision recorded in DESIGN.md open question #3).
const highPriorityThreshold = 1 << 20 // 1 MiB

// ManifestEntry is one source file's identity for the duration of a
// session. Immutable once the ManifestBuilder completes it.
type ManifestEntry struct {
	RelPath       string
	SourceAbsPath string
	SizeBytes     int64
	SourceHash    [32]byte
}

// Manifest is the authoritative, read-only list of source entries produced
// once per session and shared by every destination.
type Manifest struct {
	Entries    []ManifestEntry
	TotalFiles int
	TotalBytes int64
}

// DestinationState is the state machine position of one DestinationQueue.
type DestinationState int

const (
	StateIdle DestinationState = iota
	StateCopying
	StateVerifying
	StateComplete
	StateCompleteWithErrors
	StateCancelled
	StateFailed
)

func (s DestinationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCopying:
		return "copying"
	case StateVerifying:
		return "verifying"
	case StateComplete:
		return "complete"
	case StateCompleteWithErrors:
		return "complete_with_errors"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state machine has reached a final state.
func (s DestinationState) Terminal() bool {
	switch s {
	case StateComplete, StateCompleteWithErrors, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// DestinationStatus is the single-writer snapshot a DestinationQueue
// publishes for Orchestrator/observer consumption.
type DestinationStatus struct {
	Name        string
	Total       int
	Copied      int
	Verified    int
	BytesCopied int64
	SpeedBps    float64
	State       DestinationState
}

// Phase names the pipeline stage in which a Failure occurred.
type Phase int

const (
	PhaseScan Phase = iota
	PhaseHash
	PhaseCopy
	PhaseVerify
)

func (p Phase) String() string {
	switch p {
	case PhaseScan:
		return "scan"
	case PhaseHash:
		return "hash"
	case PhaseCopy:
		return "copy"
	case PhaseVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Failure is an append-only per-session record of a non-fatal per-file
// problem.
type Failure struct {
	RelPath         string
	DestinationName string
	Reason          ErrorKind
	Phase           Phase
}

// SessionStatus is the terminal (or in-flight) status of a Session.
type SessionStatus int

const (
	SessionRunning SessionStatus = iota
	SessionComplete
	SessionCompleteWithErrors
	SessionCancelled
	SessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionRunning:
		return "running"
	case SessionComplete:
		return "complete"
	case SessionCompleteWithErrors:
		return "complete_with_errors"
	case SessionCancelled:
		return "cancelled"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one invocation of the engine.
type Session struct {
	ID            uuid.UUID
	SourceAbsPath string
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        SessionStatus
	ToolVersion   string
	FileCount     int
	TotalBytes    int64
}

// EventKind enumerates the kinds of events the EventLog records.
type EventKind int

const (
	EventStart EventKind = iota
	EventScan
	EventCopy
	EventVerify
	EventSkip
	EventQuarantine
	EventError
	EventCancel
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventScan:
		return "scan"
	case EventCopy:
		return "copy"
	case EventVerify:
		return "verify"
	case EventSkip:
		return "skip"
	case EventQuarantine:
		return "quarantine"
	case EventError:
		return "error"
	case EventCancel:
		return "cancel"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// critical reports whether this EventKind must bypass EventLog
// batching and flush synchronously (spec §4.9).
func (k EventKind) critical() bool {
	switch k {
	case EventStart, EventComplete, EventCancel, EventError:
		return true
	default:
		return false
	}
}

// Severity is the log-level-like severity of an Event.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one durable record in the session's audit trail.
type Event struct {
	ID              int64
	SessionID       uuid.UUID
	Timestamp       time.Time
	Kind            EventKind
	Severity        Severity
	FilePath        string
	DestinationPath string
	Size            int64
	Hash            string
	ErrorMsg        string
	DurationMs      int64
	Metadata        map[string]string
}
