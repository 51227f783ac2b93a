package core

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// logsDirName and checksumsDirName are the two on-disk, per-destination
// records kept alongside the mirrored files themselves (spec §6): a daily
// append-only CSV action log, and a per-session manifest of what landed
// here successfully.
const (
	logsDirName      = ".imageintact_logs"
	checksumsDirName = ".imageintact_checksums"
)

var csvHeader = []string{"iso_timestamp", "session_id", "action", "source_path", "dest_path", "hash", "algo", "reason"}

// DestinationLog owns the two durable, human-inspectable records a
// DestinationQueue leaves behind at its own root: a daily CSV action log
// and a per-session checksum manifest. Unlike the EventLog (one database
// for every session, kept outside destinations), these files live with
// the copied data itself and survive independently of it.
type DestinationLog struct {
	fsys      afero.Fs
	root      string
	sessionID uuid.UUID

	mu      sync.Mutex
	csvFile afero.File
	csvW    *csv.Writer
	csvDate string

	manifestEntries []manifestLine
}

type manifestLine struct {
	RelPath string
	Hash    [32]byte
	Size    int64
}

// NewDestinationLog returns a DestinationLog rooted at destRoot for one
// session. Files are created lazily on first write.
func NewDestinationLog(fsys afero.Fs, destRoot string, sessionID uuid.UUID) *DestinationLog {
	return &DestinationLog{fsys: fsys, root: destRoot, sessionID: sessionID}
}

// LogCopy appends a "copy" row and records the entry for the session
// checksum manifest.
func (l *DestinationLog) LogCopy(entry *ManifestEntry, destPath string) {
	l.appendRow("copy", entry.SourceAbsPath, destPath, entry.SourceHash, "")
	l.addManifestLine(entry)
}

// LogSkip appends a "skip" row (skip-if-identical) and still records the
// entry, since the file is present and verified-correct at the destination.
func (l *DestinationLog) LogSkip(entry *ManifestEntry, destPath string) {
	l.appendRow("skip", entry.SourceAbsPath, destPath, entry.SourceHash, "")
	l.addManifestLine(entry)
}

// LogQuarantine appends a "quarantine" row for a displaced conflicting file;
// dest_path records where the conflicting file was moved to, not the
// incoming copy's own destination (already covered by the paired "copy" row).
func (l *DestinationLog) LogQuarantine(entry *ManifestEntry, quarantinePath string) {
	l.appendRow("quarantine", entry.SourceAbsPath, quarantinePath, entry.SourceHash, "")
}

// LogVerify appends a "verify" row once an entry's destination hash has
// been reconfirmed.
func (l *DestinationLog) LogVerify(entry *ManifestEntry, destPath string) {
	l.appendRow("verify", entry.SourceAbsPath, destPath, entry.SourceHash, "")
}

// LogError appends an "error" row carrying reason as free text.
func (l *DestinationLog) LogError(relPath, destPath, reason string) {
	l.appendRow("error", relPath, destPath, [32]byte{}, reason)
}

func (l *DestinationLog) addManifestLine(entry *ManifestEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.manifestEntries = append(l.manifestEntries, manifestLine{RelPath: entry.RelPath, Hash: entry.SourceHash, Size: entry.SizeBytes})
}

func (l *DestinationLog) appendRow(action, sourcePath, destPath string, hash [32]byte, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureCSVLocked(); err != nil {
		return
	}

	hashHex := ""
	if hash != ([32]byte{}) {
		hashHex = hex.EncodeToString(hash[:])
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339), l.sessionID.String(), action, sourcePath, destPath, hashHex, "blake3", reason,
	}

	if err := l.csvW.Write(row); err == nil {
		l.csvW.Flush()
	}
}

// ensureCSVLocked opens (creating and header-writing if needed) today's CSV
// file, rotating to a new file at UTC midnight. Caller must hold l.mu.
func (l *DestinationLog) ensureCSVLocked() error {
	today := time.Now().UTC().Format("2006-01-02")
	if l.csvFile != nil && l.csvDate == today {
		return nil
	}

	if l.csvFile != nil {
		l.csvW.Flush()
		l.csvFile.Close()
	}

	dir := filepath.Join(l.root, logsDirName)
	if err := l.fsys.MkdirAll(dir, 0o777); err != nil {
		return wrapIO(dir, err)
	}

	path := filepath.Join(dir, today+".csv")
	writeHeader := false
	if _, err := l.fsys.Stat(path); err != nil {
		writeHeader = true
	}

	f, err := l.fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIO(path, err)
	}

	l.csvFile = f
	l.csvW = csv.NewWriter(f)
	l.csvDate = today

	if writeHeader {
		_ = l.csvW.Write(csvHeader)
		l.csvW.Flush()
	}

	return nil
}

// Finalize writes the session's checksum manifest and closes the CSV file.
// Called once, when the DestinationQueue finishes its verify phase; a
// cancelled DestinationQueue does not call it.
func (l *DestinationLog) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.csvFile != nil {
		l.csvW.Flush()
		l.csvFile.Close()
		l.csvFile = nil
	}

	if len(l.manifestEntries) == 0 {
		return nil
	}

	dir := filepath.Join(l.root, checksumsDirName)
	if err := l.fsys.MkdirAll(dir, 0o777); err != nil {
		return wrapIO(dir, err)
	}

	path := filepath.Join(dir, l.sessionID.String()+".manifest")

	f, err := l.fsys.Create(path)
	if err != nil {
		return wrapIO(path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"relative_path", "hash", "size"}); err != nil {
		return wrapIO(path, err)
	}

	for _, e := range l.manifestEntries {
		row := []string{e.RelPath, hex.EncodeToString(e.Hash[:]), fmt.Sprintf("%d", e.Size)}
		if err := w.Write(row); err != nil {
			return wrapIO(path, err)
		}
	}
	w.Flush()

	return w.Error()
}
