package pipeline

// Default reconnect thresholds, counted in failed flush cycles.
const (
	DefaultRetryMin = 1
	DefaultRetryMax = 1 << 8
)

// Retry is a counting backoff for reconnects. A reconnect is attempted once
// the number of failed flush cycles since the last attempt reaches the
// threshold; every failed attempt doubles the threshold up to max and any
// success drops it back to min.
//
// Retry is confined to the delivery worker.
type Retry struct {
	min, max  int
	failures  int
	threshold int
}

// NewRetry returns a controller with threshold lo. Non-positive bounds
// fall back to the defaults and hi is raised to lo if needed.
func NewRetry(lo, hi int) *Retry {
	if lo < 1 {
		lo = DefaultRetryMin
	}
	if hi < 1 {
		hi = DefaultRetryMax
	}
	if hi < lo {
		hi = lo
	}
	return &Retry{min: lo, max: hi, threshold: lo}
}

// ShouldAttemptReconnect reports whether enough cycles have failed.
func (r *Retry) ShouldAttemptReconnect() bool {
	return r.failures >= r.threshold
}

// OnReconnectResult records the outcome of a reconnect attempt.
func (r *Retry) OnReconnectResult(ok bool) {
	r.failures = 0
	if ok {
		r.threshold = r.min
		return
	}
	if r.threshold < r.max {
		r.threshold *= 2
		if r.threshold > r.max {
			r.threshold = r.max
		}
	}
}

// OnSendFailure counts one failed flush cycle.
func (r *Retry) OnSendFailure() {
	r.failures++
}

// OnSendSuccess relaxes the backoff.
func (r *Retry) OnSendSuccess() {
	r.failures = 0
	r.threshold = r.min
}

// Threshold is the number of failed cycles needed for the next attempt.
func (r *Retry) Threshold() int { return r.threshold }

// Failures is the number of failed cycles since the last attempt.
func (r *Retry) Failures() int { return r.failures }
