package logging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	limitersMu sync.Mutex
	limiters   = make(map[string]*rate.Limiter)
)

// Allow reports whether a message identified by key may be logged now.
// Each key is allowed at most once per interval. Used on hot paths such as
// queue-full drops where every occurrence is already counted in metrics.
func Allow(key string, every time.Duration) bool {
	limitersMu.Lock()
	l, ok := limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(every), 1)
		limiters[key] = l
	}
	limitersMu.Unlock()
	return l.Allow()
}
