package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// copyBackoff is the wait before each retry of a failed copy (§7). With
// maxCopyAttempts = 3 a task is retried twice (after 100ms, then 500ms) and
// then recorded as a Failure; the 2s entry is not reached.
var copyBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

const maxCopyAttempts = 3

// workerPoolResizeInterval is how often the DestinationQueue asks its
// ThroughputMonitor for a fresh worker-count recommendation.
const workerPoolResizeInterval = 2 * time.Second

// popTimeout bounds how long an idle worker blocks on the task queue before
// re-checking whether the copy phase has drained.
const popTimeout = 250 * time.Millisecond

// DestinationQueue owns the lifecycle of exactly one destination: building
// CopyTasks from the shared Manifest, driving a resizable worker pool
// through the copy phase, then a verify pass, reporting DestinationStatus
// throughout (spec §4.7).
type DestinationQueue struct {
	Name string
	Root string

	fsys   *CopyEngine
	hasher *Hasher
	queue  *PriorityTaskQueue
	mon    *ThroughputMonitor
	log    *DestinationLog

	manifest *Manifest

	onEvent   func(Event)
	onFailure func(Failure)

	mu     sync.RWMutex
	status DestinationStatus

	activeWorkers int32
	idleWorkers   int32

	verifyFailures int
}

// NewDestinationQueue builds a DestinationQueue for one destination root.
func NewDestinationQueue(
	name, root string,
	engine *CopyEngine,
	hasher *Hasher,
	manifest *Manifest,
	networkMounted bool,
	logFsys afero.Fs,
	sessionID uuid.UUID,
	onEvent func(Event),
	onFailure func(Failure),
) *DestinationQueue {
	return &DestinationQueue{
		Name:      name,
		Root:      root,
		fsys:      engine,
		hasher:    hasher,
		queue:     NewPriorityTaskQueue(),
		mon:       NewThroughputMonitor(networkMounted),
		log:       NewDestinationLog(logFsys, root, sessionID),
		manifest:  manifest,
		onEvent:   onEvent,
		onFailure: onFailure,
		status:    DestinationStatus{Name: name, Total: len(manifest.Entries), State: StateIdle},
	}
}

// Status returns a snapshot of the current DestinationStatus. Safe to call
// from any goroutine.
func (d *DestinationQueue) Status() DestinationStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.status
}

func (d *DestinationQueue) setState(s DestinationState) {
	d.mu.Lock()
	d.status.State = s
	d.mu.Unlock()
}

// Run drives the destination through Copying -> Verifying -> Complete (or
// Cancelled/Failed), returning once a terminal state is reached.
func (d *DestinationQueue) Run(ctx context.Context) {
	d.enqueueAll()
	d.setState(StateCopying)

	d.runCopyPhase(ctx)

	if ctx.Err() != nil {
		d.setState(StateCancelled)

		return
	}

	d.setState(StateVerifying)
	d.runVerifyPhase(ctx)

	if ctx.Err() != nil {
		d.setState(StateCancelled)

		return
	}

	if d.verifyFailures > 0 {
		d.setState(StateCompleteWithErrors)
	} else {
		d.setState(StateComplete)
	}

	if err := d.log.Finalize(); err != nil {
		d.failure(Failure{DestinationName: d.Name, Reason: errKind(err), Phase: PhaseVerify})
	}

	d.emit(Event{Kind: EventComplete, Severity: SeverityInfo, DestinationPath: d.Root})
}

// enqueueAll builds one CopyTask per manifest entry (spec §4.7: default
// Normal priority, High for files under the size threshold).
func (d *DestinationQueue) enqueueAll() {
	now := time.Now()
	for i := range d.manifest.Entries {
		entry := &d.manifest.Entries[i]

		priority := PriorityNormal
		if entry.SizeBytes < highPriorityThreshold {
			priority = PriorityHigh
		}

		d.queue.Push(CopyTask{
			Entry:       entry,
			Destination: d.Name,
			Attempt:     0,
			EnqueuedAt:  now,
			Priority:    priority,
		})
	}
}

func (d *DestinationQueue) runCopyPhase(ctx context.Context) {
	var wg sync.WaitGroup

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	resizeDone := make(chan struct{})
	targetWorkers := make(chan int, 1)
	targetWorkers <- d.mon.RecommendedWorkers(false)

	go d.resizeLoop(workerCtx, targetWorkers, resizeDone)

	active := make(map[int]context.CancelFunc)
	nextID := 0
	var activeMu sync.Mutex

	spawn := func() {
		activeMu.Lock()
		id := nextID
		nextID++
		wctx, wcancel := context.WithCancel(workerCtx)
		active[id] = wcancel
		activeMu.Unlock()

		wg.Add(1)
		atomic.AddInt32(&d.activeWorkers, 1)

		go func() {
			defer wg.Done()
			defer atomic.AddInt32(&d.activeWorkers, -1)
			defer func() {
				activeMu.Lock()
				delete(active, id)
				activeMu.Unlock()
			}()

			d.copyWorker(wctx)
		}()
	}

	current := 0
	for {
		select {
		case want := <-targetWorkers:
			for current < want {
				spawn()
				current++
			}
			for current > want {
				activeMu.Lock()
				for id, cancel := range active {
					cancel()
					delete(active, id)

					break
				}
				activeMu.Unlock()
				current--
			}
		case <-d.drained(ctx):
			cancelWorkers()
			wg.Wait()
			close(resizeDone)

			return
		case <-ctx.Done():
			cancelWorkers()
			wg.Wait()
			close(resizeDone)

			return
		}
	}
}

// drained returns a channel that fires once the queue is empty and every
// worker is idle (copy phase complete, spec §4.7's "queue drained, all
// workers idle, retries exhausted" condition).
func (d *DestinationQueue) drained(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if d.queue.Len() == 0 && atomic.LoadInt32(&d.idleWorkers) >= atomic.LoadInt32(&d.activeWorkers) && atomic.LoadInt32(&d.activeWorkers) > 0 {
					close(done)

					return
				}
			}
		}
	}()

	return done
}

func (d *DestinationQueue) resizeLoop(ctx context.Context, target chan<- int, done <-chan struct{}) {
	ticker := time.NewTicker(workerPoolResizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			idle := atomic.LoadInt32(&d.idleWorkers) > 0
			select {
			case target <- d.mon.RecommendedWorkers(idle):
			default:
			}
		}
	}
}

func (d *DestinationQueue) copyWorker(ctx context.Context) {
	for {
		atomic.AddInt32(&d.idleWorkers, 1)
		task, ok := d.queue.PopBlocking(ctx, popTimeout)
		atomic.AddInt32(&d.idleWorkers, -1)

		if !ok {
			if ctx.Err() != nil {
				return
			}
			// Timed out with nothing to do; loop and let the drain
			// detector decide whether the phase is finished.
			continue
		}

		d.processCopyTask(ctx, task)
	}
}

func (d *DestinationQueue) processCopyTask(ctx context.Context, task CopyTask) {
	outcome, quarantinePath, err := d.fsys.Copy(ctx, task.Entry, d.Root)
	if err != nil {
		if ee, ok := AsEngineError(err); ok && ee.Kind == ErrCancelled {
			return
		}

		d.mon.RecordCompletion(task.Entry.SizeBytes, true)

		if task.Attempt+1 < maxCopyAttempts {
			task.Attempt++
			task.Priority++
			backoff := copyBackoff[task.Attempt-1]

			// Wait out the backoff on this worker so it is not counted idle
			// and the drain check cannot end the copy phase while the retry
			// is still pending.
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}

			task.EnqueuedAt = time.Now()
			d.queue.Push(task)

			return
		}

		d.failure(Failure{RelPath: task.Entry.RelPath, DestinationName: d.Name, Reason: errKind(err), Phase: PhaseCopy})
		d.emit(Event{Kind: EventError, Severity: SeverityError, FilePath: task.Entry.RelPath, DestinationPath: d.Root, ErrorMsg: err.Error()})
		d.log.LogError(task.Entry.RelPath, d.Root, err.Error())

		return
	}

	d.mon.RecordCompletion(task.Entry.SizeBytes, false)

	d.mu.Lock()
	d.status.Copied++
	d.status.BytesCopied += task.Entry.SizeBytes
	d.status.SpeedBps = d.mon.BytesPerSecond()
	d.mu.Unlock()

	dst, _ := d.fsys.resolveDestPath(d.Root, task.Entry.RelPath)

	if quarantinePath != "" {
		d.emit(Event{Kind: EventQuarantine, Severity: SeverityWarn, FilePath: task.Entry.RelPath, DestinationPath: quarantinePath})
		d.log.LogQuarantine(task.Entry, quarantinePath)
	}

	switch outcome {
	case OutcomeSkipped:
		d.emit(Event{Kind: EventSkip, Severity: SeverityInfo, FilePath: task.Entry.RelPath, DestinationPath: d.Root})
		d.log.LogSkip(task.Entry, dst)
	case OutcomeCopied:
		d.emit(Event{Kind: EventCopy, Severity: SeverityInfo, FilePath: task.Entry.RelPath, DestinationPath: d.Root, Size: task.Entry.SizeBytes})
		d.log.LogCopy(task.Entry, dst)
	}
}

func (d *DestinationQueue) runVerifyPhase(ctx context.Context) {
	for i := range d.manifest.Entries {
		if ctx.Err() != nil {
			return
		}

		entry := &d.manifest.Entries[i]
		d.verifyEntry(ctx, entry)
	}
}

func (d *DestinationQueue) verifyEntry(ctx context.Context, entry *ManifestEntry) {
	dst, err := d.fsys.resolveDestPath(d.Root, entry.RelPath)
	if err != nil {
		d.recordVerifyFailure(entry, ErrInvalidPath)

		return
	}

	got, err := d.hasher.HashFile(ctx, dst)
	if err != nil {
		if ee, ok := AsEngineError(err); ok && ee.Kind == ErrCancelled {
			return
		}

		d.recordVerifyFailure(entry, errKind(err))

		return
	}

	if got != entry.SourceHash {
		d.recordVerifyFailure(entry, ErrHashMismatch)

		return
	}

	d.mu.Lock()
	d.status.Verified++
	d.mu.Unlock()

	d.emit(Event{Kind: EventVerify, Severity: SeverityInfo, FilePath: entry.RelPath, DestinationPath: d.Root})
	d.log.LogVerify(entry, dst)
}

func (d *DestinationQueue) recordVerifyFailure(entry *ManifestEntry, reason ErrorKind) {
	d.verifyFailures++
	d.failure(Failure{RelPath: entry.RelPath, DestinationName: d.Name, Reason: reason, Phase: PhaseVerify})
	d.emit(Event{Kind: EventError, Severity: SeverityError, FilePath: entry.RelPath, DestinationPath: d.Root})
}

func (d *DestinationQueue) emit(e Event) {
	if d.onEvent != nil {
		e.DestinationPath = d.Root
		d.onEvent(e)
	}
}

func (d *DestinationQueue) failure(f Failure) {
	if d.onFailure != nil {
		d.onFailure(f)
	}
}
