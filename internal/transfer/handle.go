package transfer

import (
	"context"
	"sync"

	"github.com/italolelis/cloudcast/internal/storage"
)

// subscriberBuffer is how many progress values a slow subscriber may lag
// behind before values are dropped for it.
const subscriberBuffer = 32

// Handle observes one running transfer: a progress stream per subscriber and
// a terminal result.
type Handle struct {
	desc    storage.Descriptor
	resumed bool
	done    chan struct{}

	mu        sync.Mutex
	subs      []chan float64
	fraction  float64
	finished  bool
	remoteKey string
	err       error
}

func newHandle(d storage.Descriptor, resumed bool) *Handle {
	return &Handle{desc: d, resumed: resumed, done: make(chan struct{})}
}

// Descriptor returns the descriptor the transfer runs for.
func (h *Handle) Descriptor() storage.Descriptor {
	return h.desc
}

// Resumed reports whether the transfer was re-driven from a persisted slot.
func (h *Handle) Resumed() bool {
	return h.resumed
}

// Progress subscribes to the progress stream. Values are fractions in [0, 1],
// never decreasing. The channel is closed after the last value, before Done is
// closed. Subscribing to a finished transfer returns a closed channel.
func (h *Handle) Progress() <-chan float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan float64, subscriberBuffer)
	if h.finished {
		close(ch)

		return ch
	}

	h.subs = append(h.subs, ch)

	return ch
}

// Fraction returns the last published progress value.
func (h *Handle) Fraction() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.fraction
}

// Done is closed once the transfer reached its terminal result.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the confirmed remote key or the failure. It is only
// meaningful after Done is closed.
func (h *Handle) Result() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.remoteKey, h.err
}

// Wait blocks until the transfer finishes or ctx is done. Giving up waiting
// does not stop the transfer.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// publish delivers a progress value without ever blocking the emitter.
func (h *Handle) publish(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished || fraction < h.fraction {
		return
	}

	h.fraction = fraction

	for _, ch := range h.subs {
		select {
		case ch <- fraction:
		default:
		}
	}
}

func (h *Handle) complete(remoteKey string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished {
		return
	}

	h.finished = true
	h.remoteKey = remoteKey
	h.err = err

	for _, ch := range h.subs {
		close(ch)
	}

	h.subs = nil

	close(h.done)
}
