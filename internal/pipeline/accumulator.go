package pipeline

// Accumulator collects payloads into a fixed, reused buffer. It is owned by
// the delivery worker and is not safe for concurrent use.
type Accumulator struct {
	buf  []string
	size int
}

// NewAccumulator allocates a buffer for capacity payloads.
func NewAccumulator(capacity int) *Accumulator {
	if capacity < 1 {
		capacity = 1
	}
	return &Accumulator{buf: make([]string, capacity)}
}

// Offer appends payload. It reports false, leaving the buffer untouched,
// when the buffer is already full.
func (a *Accumulator) Offer(payload string) bool {
	if a.size >= len(a.buf) {
		return false
	}
	a.buf[a.size] = payload
	a.size++
	return true
}

// IsFull reports whether the next Offer would be rejected.
func (a *Accumulator) IsFull() bool { return a.size >= len(a.buf) }

// View returns the buffered payloads in arrival order. The slice aliases
// the internal buffer and is only valid until the next Offer or Reset.
func (a *Accumulator) View() []string { return a.buf[:a.size] }

// Reset empties the accumulator. Old slots are overwritten by later offers.
func (a *Accumulator) Reset() { a.size = 0 }

// Len is the number of buffered payloads.
func (a *Accumulator) Len() int { return a.size }

// Cap is the batch size.
func (a *Accumulator) Cap() int { return len(a.buf) }
