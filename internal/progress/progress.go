package progress

import (
	"io"
	"sync"
)

// Func receives the completed fraction of a transfer, in [0, 1].
type Func func(fraction float64)

// defaultStep is the minimum fraction change between two reports.
const defaultStep = 0.01

// Tracker turns byte counts into fraction reports. Reports are monotonically
// non-decreasing, throttled to one per step, and the final 1.0 is always
// reported once the total is reached.
type Tracker struct {
	mu       sync.Mutex
	total    int64
	done     int64
	step     float64
	last     float64
	reported bool
	fn       Func
}

// NewTracker creates a tracker for a transfer of total bytes. A total of zero
// or less means the size is unknown and only Finish reports completion.
func NewTracker(total int64, fn Func) *Tracker {
	return &Tracker{total: total, step: defaultStep, fn: fn}
}

// Add accounts n more bytes.
func (t *Tracker) Add(n int64) {
	if n <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.done += n
	if t.total <= 0 {
		return
	}

	fraction := float64(t.done) / float64(t.total)
	if fraction > 1 {
		fraction = 1
	}

	if !t.reported || fraction-t.last >= t.step || (fraction == 1 && t.last < 1) {
		t.emit(fraction)
	}
}

// Finish reports completion if it was not reported yet.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last < 1 || !t.reported {
		t.emit(1)
	}
}

// Written returns the number of bytes accounted so far.
func (t *Tracker) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.done
}

func (t *Tracker) emit(fraction float64) {
	if fraction < t.last {
		return
	}

	t.last = fraction
	t.reported = true

	if t.fn != nil {
		t.fn(fraction)
	}
}

// Read accounts len(p) bytes without touching p. This lets a Tracker be used
// as the progress sink of clients that "read" the amount they just sent.
func (t *Tracker) Read(p []byte) (int, error) {
	t.Add(int64(len(p)))

	return len(p), nil
}

// Write accounts len(p) bytes, so a Tracker can sit behind an io.TeeReader.
func (t *Tracker) Write(p []byte) (int, error) {
	t.Add(int64(len(p)))

	return len(p), nil
}

// Reader wraps an io.Reader and reports progress for every byte read through it.
type Reader struct {
	io.Reader
	tracker *Tracker
}

// NewReader wraps r, reporting against a transfer of total bytes.
func NewReader(r io.Reader, total int64, fn Func) *Reader {
	return &Reader{Reader: r, tracker: NewTracker(total, fn)}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.tracker.Add(int64(n))

	return n, err
}

// Tracker exposes the underlying tracker.
func (pr *Reader) Tracker() *Tracker {
	return pr.tracker
}
