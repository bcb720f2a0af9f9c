package progress

import (
	"sync"
	"time"
)

// Status of a tracked operation.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// Snapshot is a point-in-time copy of tracked progress.
type Snapshot struct {
	Operation     string    `json:"operation"`
	CurrentFile   string    `json:"current_file,omitempty"`
	StartTime     time.Time `json:"start_time"`
	LastUpdate    time.Time `json:"last_update"`
	FilesTotal    int       `json:"files_total"`
	FilesComplete int       `json:"files_complete"`
	BytesTotal    int64     `json:"bytes_total"`
	BytesComplete int64     `json:"bytes_complete"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
}

// Percent returns completed bytes as a percentage, or -1 when the total is unknown.
func (s Snapshot) Percent() int {
	if s.BytesTotal <= 0 {
		return -1
	}
	p := int(s.BytesComplete * 100 / s.BytesTotal)
	if p > 100 {
		return 100
	}
	return p
}

// Tracker accumulates byte and file progress and publishes snapshots.
// A nil *Tracker ignores every call.
type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	onUpdate func(Snapshot)
	now      func() time.Time
}

// NewTracker creates a tracker for op. onUpdate may be nil.
func NewTracker(op string, onUpdate func(Snapshot)) *Tracker {
	t := &Tracker{onUpdate: onUpdate, now: time.Now}
	t.snap = Snapshot{
		Operation:  op,
		StartTime:  t.now(),
		LastUpdate: t.now(),
		Status:     StatusRunning,
	}
	return t
}

// AddTotal grows the expected byte count.
func (t *Tracker) AddTotal(n int64) {
	t.update(func(s *Snapshot) { s.BytesTotal += n })
}

// AddBytes records n processed bytes.
func (t *Tracker) AddBytes(n int64) {
	if n == 0 {
		return
	}
	t.update(func(s *Snapshot) { s.BytesComplete += n })
}

// FileStarted records that a new file is being processed.
func (t *Tracker) FileStarted(name string) {
	t.update(func(s *Snapshot) {
		s.FilesTotal++
		s.CurrentFile = name
	})
}

// FileCompleted records that a file finished, whatever its outcome.
func (t *Tracker) FileCompleted() {
	t.update(func(s *Snapshot) { s.FilesComplete++ })
}

// Finish sets the terminal status.
func (t *Tracker) Finish(status Status, err error) {
	t.update(func(s *Snapshot) {
		s.Status = status
		s.CurrentFile = ""
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) update(fn func(*Snapshot)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	fn(&t.snap)
	t.snap.LastUpdate = t.now()
	snap := t.snap
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(snap)
	}
}
