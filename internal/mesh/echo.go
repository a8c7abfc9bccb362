package mesh

import "sync"

// echoSuppressor is a bounded FIFO of recently remotely-written clipboard
// texts, consulted before broadcasting a local clipboard change so a
// remote→local write does not get echoed straight back out.
//
// Grounded on the teacher's hub.Hub dedupe pattern (comparing an
// incoming value against the last-seen value per clipboard filter)
// generalized to a bounded history instead of a single last-value slot,
// per the explicit capacity this specification calls for.
type echoSuppressor struct {
	mu       sync.Mutex
	capacity int
	fifo     []string
}

func newEchoSuppressor(capacity int) *echoSuppressor {
	if capacity <= 0 {
		capacity = 20
	}
	return &echoSuppressor{capacity: capacity}
}

// noteRemoteWrite appends t, unless it is identical to the most recently
// appended value (de-duplicating bursts of the same remote write).
func (e *echoSuppressor) noteRemoteWrite(t string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.fifo) > 0 && e.fifo[len(e.fifo)-1] == t {
		return
	}
	e.fifo = append(e.fifo, t)
	if len(e.fifo) > e.capacity {
		e.fifo = e.fifo[len(e.fifo)-e.capacity:]
	}
}

// shouldIgnoreLocal reports whether t is currently present in the FIFO.
func (e *echoSuppressor) shouldIgnoreLocal(t string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range e.fifo {
		if v == t {
			return true
		}
	}
	return false
}
