package queue

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultCapacity is the default number of slots in a Ring.
const DefaultCapacity = 4096

// ErrCapacity is returned by NewRing for a capacity that is not a power of two.
var ErrCapacity = errors.New("ring capacity must be a positive power of two")

// Record is the unit of handoff between producers and the delivery worker.
// A Record with Flush set is a flush-now sentinel and carries no payload.
type Record struct {
	Category string
	Payload  string
	Flush    bool
}

// FlushRecord returns the flush-now sentinel.
func FlushRecord() Record {
	return Record{Flush: true}
}

type slot struct {
	seq atomic.Uint64
	rec Record
}

// closedBit marks tail once the ring is closed. Claims and Close both CAS
// tail, so a claim is either granted before the close or refused.
const closedBit = uint64(1) << 63

// cacheLinePad keeps the producer and consumer cursors on separate cache lines.
type cacheLinePad [64]byte

// Ring is a bounded multi-producer single-consumer queue of Records.
//
// Producers never block: a publish into a full or closed ring fails
// immediately. Slots are allocated once and reused. Acceptance order is fixed
// by the claim step and the consumer observes records in that order.
//
// Poll and Drain must only be called from one goroutine.
type Ring struct {
	slots []slot
	mask  uint64

	_    cacheLinePad
	tail atomic.Uint64
	_    cacheLinePad
	head atomic.Uint64
	_    cacheLinePad
}

// Claim is a reserved slot. Every successful claim must be published.
type Claim struct {
	pos uint64
}

// NewRing creates a ring with the given number of slots.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	r := &Ring{
		slots: make([]slot, capacity),
		mask:  uint64(capacity - 1),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// TryClaim reserves the next slot without blocking. It returns false when the
// ring is full or closed.
func (r *Ring) TryClaim() (Claim, bool) {
	pos := r.tail.Load()
	for {
		if pos&closedBit != 0 {
			return Claim{}, false
		}
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				return Claim{pos: pos}, true
			}
			pos = r.tail.Load()
		case dif < 0:
			// slot still holds an unconsumed record from the previous lap
			return Claim{}, false
		default:
			pos = r.tail.Load()
		}
	}
}

// Publish stores rec in the claimed slot and makes it visible to the consumer.
func (r *Ring) Publish(c Claim, rec Record) {
	s := &r.slots[c.pos&r.mask]
	s.rec = rec
	s.seq.Store(c.pos + 1)
}

// TryPublish claims a slot, fills it and publishes it. It returns false,
// without blocking, when the ring is full or closed.
func (r *Ring) TryPublish(rec Record) bool {
	c, ok := r.TryClaim()
	if !ok {
		return false
	}
	r.Publish(c, rec)
	return true
}

// Poll removes the next published record. It returns false when the next
// slot has not been published yet.
func (r *Ring) Poll() (Record, bool) {
	pos := r.head.Load()
	s := &r.slots[pos&r.mask]
	if s.seq.Load() != pos+1 {
		return Record{}, false
	}
	rec := s.rec
	s.rec = Record{}
	r.head.Store(pos + 1)
	s.seq.Store(pos + r.mask + 1)
	return rec, true
}

// Drain polls up to max records (all available when max <= 0) and passes
// each to fn. It returns the number of records handled.
func (r *Ring) Drain(max int, fn func(Record)) int {
	n := 0
	for max <= 0 || n < max {
		rec, ok := r.Poll()
		if !ok {
			break
		}
		fn(rec)
		n++
	}
	return n
}

// Close stops accepting new claims. Records already published, and claims
// already granted, remain drainable. Once Closed is true no further claim
// can succeed, so Len only decreases.
func (r *Ring) Close() {
	for {
		t := r.tail.Load()
		if t&closedBit != 0 || r.tail.CompareAndSwap(t, t|closedBit) {
			return
		}
	}
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	return r.tail.Load()&closedBit != 0
}

// Len returns the number of claimed slots not yet consumed.
func (r *Ring) Len() int {
	head := r.head.Load()
	return int(r.tail.Load()&^closedBit - head)
}

// Cap returns the number of slots.
func (r *Ring) Cap() int {
	return len(r.slots)
}
