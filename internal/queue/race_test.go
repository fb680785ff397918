package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestRace_ProducersSingleConsumer checks that with many producers and one
// consumer every accepted record is delivered exactly once and each
// producer's records arrive in the order it published them.
func TestRace_ProducersSingleConsumer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const producers = 8
	const perProducer = 5000

	r, err := NewRing(256)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	var accepted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				// encode producer and sequence as a two-rune category/payload
				for !r.TryPublish(Record{Category: string(rune('a' + id)), Payload: string(rune(i))}) {
					time.Sleep(time.Microsecond)
				}
				accepted.Add(1)
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	last := make(map[string]int)
	seen := 0
	w := NewWaiter()
	defer w.Stop()
consume:
	for {
		n := r.Drain(64, func(rec Record) {
			seq := int([]rune(rec.Payload)[0])
			if prev, ok := last[rec.Category]; ok && seq != prev+1 {
				t.Errorf("producer %s: got %d after %d", rec.Category, seq, prev)
			}
			last[rec.Category] = seq
			seen++
		})
		if n > 0 {
			w.Reset()
			continue
		}
		select {
		case <-done:
			if r.Len() == 0 {
				break consume
			}
		default:
		}
		w.Idle(done)
	}
	if int64(seen) != accepted.Load() {
		t.Errorf("consumed %d, accepted %d", seen, accepted.Load())
	}
	if seen != producers*perProducer {
		t.Errorf("consumed %d, want %d", seen, producers*perProducer)
	}
}

// TestRace_PublishWhileClosing checks that publishes racing with Close either
// fail or are drained, never lost.
func TestRace_PublishWhileClosing(t *testing.T) {
	r, _ := NewRing(1024)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(4)
	for p := 0; p < 4; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if r.TryPublish(Record{Payload: "x"}) {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	r.Close()
	wg.Wait()

	drained := r.Drain(0, func(Record) {})
	if int64(drained) != accepted.Load() {
		t.Errorf("drained %d, accepted %d", drained, accepted.Load())
	}
}

// TestRace_CloseFreezesClaims checks that no claim is granted once Close has
// returned, so a consumer that sees Closed with Len zero has seen everything.
func TestRace_CloseFreezesClaims(t *testing.T) {
	for run := 0; run < 200; run++ {
		r, _ := NewRing(4096)

		var accepted atomic.Int64
		var wg sync.WaitGroup
		wg.Add(4)
		for p := 0; p < 4; p++ {
			go func() {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					if r.TryPublish(Record{Payload: "x"}) {
						accepted.Add(1)
					}
				}
			}()
		}
		r.Close()
		pending := r.Len()
		wg.Wait()

		if int64(pending) != accepted.Load() {
			t.Fatalf("run %d: %d claims at close, %d accepted", run, pending, accepted.Load())
		}
		if n := r.Drain(0, func(Record) {}); n != pending {
			t.Fatalf("run %d: drained %d, want %d", run, n, pending)
		}
	}
}
