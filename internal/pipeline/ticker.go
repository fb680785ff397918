package pipeline

import (
	"sync"
	"time"
)

// ticker calls tick every period until stopped. It talks to the worker only
// through the flush sentinel that tick publishes.
type ticker struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startTicker(period time.Duration, tick func()) *ticker {
	t := &ticker{stopCh: make(chan struct{}), done: make(chan struct{})}
	go t.run(period, tick)
	return t
}

func (t *ticker) run(period time.Duration, tick func()) {
	defer close(t.done)
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			tick()
		case <-t.stopCh:
			return
		}
	}
}

// stop halts the ticker and waits for its goroutine to exit.
func (t *ticker) stop() {
	t.once.Do(func() { close(t.stopCh) })
	<-t.done
}
