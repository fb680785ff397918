package pipeline

import "testing"

func TestRetry_ThresholdDoublesToCap(t *testing.T) {
	r := NewRetry(1, 256)
	want := []int{2, 4, 8, 16, 32, 64, 128, 256, 256, 256}
	for i, w := range want {
		for r.Failures() < r.Threshold() {
			if r.ShouldAttemptReconnect() {
				t.Fatalf("step %d: attempt allowed after %d of %d failures", i, r.Failures(), r.Threshold())
			}
			r.OnSendFailure()
		}
		if !r.ShouldAttemptReconnect() {
			t.Fatalf("step %d: attempt not allowed at threshold", i)
		}
		r.OnReconnectResult(false)
		if r.Threshold() != w {
			t.Fatalf("step %d: threshold = %d, want %d", i, r.Threshold(), w)
		}
		if r.Failures() != 0 {
			t.Fatalf("step %d: failures not reset", i)
		}
	}

	r.OnSendFailure()
	r.OnReconnectResult(true)
	if r.Threshold() != 1 || r.Failures() != 0 {
		t.Errorf("success should reset, got threshold=%d failures=%d", r.Threshold(), r.Failures())
	}
}

func TestRetry_SendOutcomes(t *testing.T) {
	r := NewRetry(1, 256)
	if r.ShouldAttemptReconnect() {
		t.Error("no failures yet")
	}
	r.OnSendFailure()
	if r.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", r.Failures())
	}
	r.OnReconnectResult(false)
	r.OnReconnectResult(false)
	if r.Threshold() != 4 {
		t.Fatalf("Threshold() = %d, want 4", r.Threshold())
	}
	r.OnSendFailure()
	r.OnSendSuccess()
	if r.Threshold() != 1 || r.Failures() != 0 {
		t.Errorf("send success should reset, got threshold=%d failures=%d", r.Threshold(), r.Failures())
	}
}

func TestNewRetry_Bounds(t *testing.T) {
	tests := []struct {
		lo, hi         int
		wantLo, wantHi int
	}{
		{0, 0, DefaultRetryMin, DefaultRetryMax},
		{4, 2, 4, 4},
		{2, 8, 2, 8},
	}
	for _, tt := range tests {
		r := NewRetry(tt.lo, tt.hi)
		if r.min != tt.wantLo || r.max != tt.wantHi || r.Threshold() != tt.wantLo {
			t.Errorf("NewRetry(%d, %d) = [%d, %d]", tt.lo, tt.hi, r.min, r.max)
		}
	}
}
