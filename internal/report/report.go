// Package report renders a finished session as human-readable text or JSON
// (spec §6's event-store export forms), optionally anonymizing paths.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/kmichels/imageintact-engine/internal/core"
)

// SessionReport is the renderable view of one completed session: the
// Session record itself plus its full Event history.
type SessionReport struct {
	Session core.Session
	Events  []core.Event
}

// jsonReport mirrors SessionReport with json tags, keeping core's own types
// free of presentation concerns.
type jsonReport struct {
	Session jsonSession `json:"session"`
	Events  []jsonEvent `json:"events"`
}

type jsonSession struct {
	ID          uuid.UUID `json:"id"`
	Source      string    `json:"source_path"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Status      string    `json:"status"`
	ToolVersion string    `json:"tool_version"`
	FileCount   int       `json:"file_count"`
	TotalBytes  int64     `json:"total_bytes"`
}

type jsonEvent struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	Severity    string    `json:"severity"`
	FilePath    string    `json:"file_path,omitempty"`
	Destination string    `json:"destination_path,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// WriteJSON renders r as the spec's `{session, events[]}` JSON object,
// replacing user-identifying path segments when anonymizePaths is set.
func WriteJSON(w io.Writer, r SessionReport, anonymizePaths bool) error {
	jr := jsonReport{
		Session: jsonSession{
			ID:          r.Session.ID,
			Source:      maybeAnonymize(r.Session.SourceAbsPath, anonymizePaths),
			StartedAt:   r.Session.StartedAt,
			CompletedAt: r.Session.CompletedAt,
			Status:      r.Session.Status.String(),
			ToolVersion: r.Session.ToolVersion,
			FileCount:   r.Session.FileCount,
			TotalBytes:  r.Session.TotalBytes,
		},
	}

	for _, e := range r.Events {
		jr.Events = append(jr.Events, jsonEvent{
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			Kind:        e.Kind.String(),
			Severity:    e.Severity.String(),
			FilePath:    maybeAnonymize(e.FilePath, anonymizePaths),
			Destination: maybeAnonymize(e.DestinationPath, anonymizePaths),
			Size:        e.Size,
			Hash:        e.Hash,
			ErrorMsg:    e.ErrorMsg,
			DurationMs:  e.DurationMs,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(jr)
}

const humanTemplate = `Session {{.Session.ID}}
  source:      {{.Source}}
  status:      {{.Session.Status}}
  started:     {{.Session.StartedAt.Format "2006-01-02 15:04:05"}}
  completed:   {{.Session.CompletedAt.Format "2006-01-02 15:04:05"}}
  files:       {{.Session.FileCount}} ({{.TotalBytes}})
  tool:        {{.Session.ToolVersion}}

{{range .Rows}}{{.}}
{{end}}`

// WriteHuman renders r as the spec's human-readable text report.
func WriteHuman(w io.Writer, r SessionReport, anonymizePaths bool) error {
	tmpl, err := template.New("session").Parse(humanTemplate)
	if err != nil {
		return fmt.Errorf("parse report template: %w", err)
	}

	var rows []string
	for _, e := range r.Events {
		rows = append(rows, formatEventRow(e, anonymizePaths))
	}

	data := struct {
		Session    core.Session
		Source     string
		TotalBytes string
		Rows       []string
	}{
		Session:    r.Session,
		Source:     maybeAnonymize(r.Session.SourceAbsPath, anonymizePaths),
		TotalBytes: humanize.Bytes(uint64(r.Session.TotalBytes)),
		Rows:       rows,
	}

	return tmpl.Execute(w, data)
}

func formatEventRow(e core.Event, anonymizePaths bool) string {
	path := maybeAnonymize(e.FilePath, anonymizePaths)
	dest := maybeAnonymize(e.DestinationPath, anonymizePaths)

	label := colorForSeverity(e.Severity)(strings.ToUpper(e.Kind.String()))

	switch {
	case e.ErrorMsg != "":
		return fmt.Sprintf("  [%s] %s %-8s %s -> %s: %s", e.Timestamp.Format(time.TimeOnly), label, e.Kind, path, dest, e.ErrorMsg)
	case e.Size > 0:
		return fmt.Sprintf("  [%s] %s %-8s %s -> %s (%s)", e.Timestamp.Format(time.TimeOnly), label, e.Kind, path, dest, humanize.Bytes(uint64(e.Size)))
	default:
		return fmt.Sprintf("  [%s] %s %-8s %s -> %s", e.Timestamp.Format(time.TimeOnly), label, e.Kind, path, dest)
	}
}

func colorForSeverity(s core.Severity) func(a ...interface{}) string {
	switch s {
	case core.SeverityError:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case core.SeverityWarn:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgGreen).SprintFunc()
	}
}

// userSegment matches path segments that look like a home-directory
// username component, so anonymize_paths can redact them without needing
// to know the actual OS username at render time.
var userSegment = regexp.MustCompile(`(?i)^(/(home|users)/)([^/]+)`)

// maybeAnonymize replaces user-identifying path segments with [USER] and a
// leading volume name with [VOLUME], per spec §6's anonymize_paths flag.
func maybeAnonymize(path string, enabled bool) string {
	if !enabled || path == "" {
		return path
	}

	out := userSegment.ReplaceAllString(path, "${1}[USER]")

	if strings.HasPrefix(out, "/Volumes/") {
		rest := strings.SplitN(strings.TrimPrefix(out, "/Volumes/"), "/", 2)
		if len(rest) == 2 {
			out = "/Volumes/[VOLUME]/" + rest[1]
		} else {
			out = "/Volumes/[VOLUME]"
		}
	}

	return out
}
