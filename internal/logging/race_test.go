package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

// TestRace_ConcurrentLogging verifies that goroutines can log concurrently
// while the level and output are being changed.
func TestRace_ConcurrentLogging(t *testing.T) {
	SetOutput(io.Discard)
	defer SetOutput(os.Stdout)
	defer SetLevel(LevelInfo)

	const goroutines = 8
	const iterations = 500

	var wg sync.WaitGroup
	wg.Add(goroutines + 1)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				switch id % 3 {
				case 0:
					Info(fmt.Sprintf("goroutine %d iteration %d", id, i))
				case 1:
					Warn("send failed", F("id", id))
				case 2:
					if Allow("race-key", time.Millisecond) {
						Error("queue full", F("id", id))
					}
				}
			}
		}(g)
	}

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				SetLevel(LevelWarn)
			} else {
				SetLevel(LevelInfo)
			}
			SetOutput(io.Discard)
		}
	}()

	wg.Wait()
}
