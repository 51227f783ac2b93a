package core

import "sync"

// ProgressSnapshot is the fan-in view across every destination in a
// session, clamped to [0,1] overall progress (spec §4.8 step 5).
type ProgressSnapshot struct {
	Overall      float64
	Destinations map[string]DestinationStatus
}

// ProgressAggregator fans in DestinationStatus updates from every
// DestinationQueue and produces a single clamped overall progress figure.
type ProgressAggregator struct {
	mu     sync.Mutex
	latest map[string]DestinationStatus
	order  []string
}

// NewProgressAggregator returns an empty aggregator.
func NewProgressAggregator() *ProgressAggregator {
	return &ProgressAggregator{latest: make(map[string]DestinationStatus)}
}

// Register adds a destination name the aggregator should expect updates
// for, establishing a stable reporting order.
func (a *ProgressAggregator) Register(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.latest[name]; !ok {
		a.order = append(a.order, name)
	}
	a.latest[name] = DestinationStatus{Name: name, State: StateIdle}
}

// Update replaces the latest known status for one destination.
func (a *ProgressAggregator) Update(name string, status DestinationStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.latest[name] = status
}

// Snapshot computes the current fan-in view. Overall progress is the mean
// of each destination's (copied+verified)/(2*total) fraction, clamped to
// [0,1] so a destination with Total==0 never contributes a NaN.
func (a *ProgressAggregator) Snapshot() ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]DestinationStatus, len(a.latest))
	var sum float64

	for _, name := range a.order {
		st := a.latest[name]
		out[name] = st
		sum += destinationFraction(st)
	}

	overall := 0.0
	if len(a.order) > 0 {
		overall = sum / float64(len(a.order))
	}
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}

	return ProgressSnapshot{Overall: overall, Destinations: out}
}

func destinationFraction(st DestinationStatus) float64 {
	if st.Total == 0 {
		if st.State.Terminal() {
			return 1
		}

		return 0
	}

	frac := (float64(st.Copied) + float64(st.Verified)) / (2 * float64(st.Total))
	if frac > 1 {
		frac = 1
	}

	return frac
}
