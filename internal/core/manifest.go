package core

import (
	"context"
	"strconv"
)

// scanEventBatch is how many processed candidates accumulate before the
// ManifestBuilder emits a Scan progress event, mirroring the EventLog's own
// batch size for symmetry.
const scanEventBatch = 100

// ManifestBuilder drains a Scanner and computes the source hash of each
// candidate exactly once, assembling the session's Manifest. Hashing
// failures are reported as Failures and the candidate is dropped; they
// never reach a destination.
type ManifestBuilder struct {
	hasher   *Hasher
	onEvent  func(Event)
	onFailed func(Failure)
}

// NewManifestBuilder returns a ManifestBuilder using hasher to digest
// candidates. onEvent and onFailed may be nil.
func NewManifestBuilder(hasher *Hasher, onEvent func(Event), onFailed func(Failure)) *ManifestBuilder {
	return &ManifestBuilder{hasher: hasher, onEvent: onEvent, onFailed: onFailed}
}

// Build drains candidates and hashes each one, returning the finished
// Manifest. It returns a wrapped ErrCancelled if ctx is cancelled mid-scan.
func (b *ManifestBuilder) Build(ctx context.Context, candidates <-chan Candidate) (*Manifest, error) {
	m := &Manifest{}
	processed := 0

	for c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, wrapCancelled()
		}

		hash, err := b.hasher.HashFile(ctx, c.AbsPath)
		if err != nil {
			if ee, ok := AsEngineError(err); ok && ee.Kind == ErrCancelled {
				return nil, err
			}

			b.fail(Failure{RelPath: c.RelPath, Phase: PhaseHash, Reason: errKind(err)})

			continue
		}

		m.Entries = append(m.Entries, ManifestEntry{
			RelPath:       c.RelPath,
			SourceAbsPath: c.AbsPath,
			SizeBytes:     c.Size,
			SourceHash:    hash,
		})
		m.TotalFiles++
		m.TotalBytes += c.Size

		processed++
		if processed%scanEventBatch == 0 {
			b.emit(Event{Kind: EventScan, Severity: SeverityInfo, Metadata: map[string]string{"processed": strconv.Itoa(processed)}})
		}
	}

	b.emit(Event{Kind: EventScan, Severity: SeverityInfo, Metadata: map[string]string{"processed": strconv.Itoa(processed), "final": "true"}})

	return m, nil
}

func (b *ManifestBuilder) emit(e Event) {
	if b.onEvent != nil {
		b.onEvent(e)
	}
}

func (b *ManifestBuilder) fail(f Failure) {
	if b.onFailed != nil {
		b.onFailed(f)
	}
}

func errKind(err error) ErrorKind {
	if ee, ok := AsEngineError(err); ok {
		return ee.Kind
	}

	return ErrIO
}
