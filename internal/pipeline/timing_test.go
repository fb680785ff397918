package pipeline

import (
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecord(t *testing.T) {
	before := counterValue(t, secondsCounters[componentSend])
	Record(componentSend, 250*time.Millisecond)
	after := counterValue(t, secondsCounters[componentSend])
	if d := after - before; d < 0.249 || d > 0.251 {
		t.Errorf("expected +0.25s, got %v", d)
	}

	// unknown components are ignored
	Record("nope", time.Second)
	RecordBytes("nope", 10)
}

func TestRecordBytes(t *testing.T) {
	before := counterValue(t, bytesCounters[componentSend])
	RecordBytes(componentSend, batchBytes([]string{"abc", "de"}))
	RecordBytes(componentSend, 0)
	if got := counterValue(t, bytesCounters[componentSend]) - before; got != 5 {
		t.Errorf("expected +5 bytes, got %v", got)
	}
}

func TestTrack(t *testing.T) {
	before := counterValue(t, secondsCounters[componentConnect])
	done := Track(componentConnect)
	time.Sleep(5 * time.Millisecond)
	done()
	if counterValue(t, secondsCounters[componentConnect]) <= before {
		t.Error("Track did not record elapsed time")
	}
	// unknown component is a no-op
	Track("nope")()
}

func TestRace_Record(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				Record(knownComponents[(g+i)%len(knownComponents)], time.Microsecond)
				RecordBytes(componentDrain, 1)
			}
		}(g)
	}
	wg.Wait()
}

func BenchmarkRecordParallel(b *testing.B) {
	d := 100 * time.Microsecond
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Record(componentSend, d)
		}
	})
}
