package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// getCounterValue reads the current value of a counter vec for given labels.
func getCounterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// captureOutput redirects the default logger for the duration of a test.
func captureOutput(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	originalOutput := defaultLogger.output
	originalLevel := defaultLogger.minLevel
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(originalOutput)
		SetLevel(originalLevel)
		SetHook(nil)
		SetResource(nil)
	})
	return &buf
}

func TestF(t *testing.T) {
	tests := []struct {
		name     string
		keyvals  []interface{}
		expected map[string]interface{}
	}{
		{"single pair", []interface{}{"key", "value"}, map[string]interface{}{"key": "value"}},
		{"multiple pairs", []interface{}{"a", "b", "n", 3}, map[string]interface{}{"a": "b", "n": 3}},
		{"empty", nil, map[string]interface{}{}},
		{"odd number of args (last ignored)", []interface{}{"k", "v", "dangling"}, map[string]interface{}{"k": "v"}},
		{"non-string key (ignored)", []interface{}{1, "v", "k", "v2"}, map[string]interface{}{"k": "v2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := F(tt.keyvals...)
			if len(result) != len(tt.expected) {
				t.Fatalf("F() returned %d fields, expected %d", len(result), len(tt.expected))
			}
			for k, v := range tt.expected {
				if result[k] != v {
					t.Errorf("F() key %q = %v, expected %v", k, result[k], v)
				}
			}
		})
	}
}

func TestLogEntryFormat(t *testing.T) {
	buf := captureOutput(t, LevelInfo)
	SetResource(map[string]string{"service.name": "logship"})

	Warn("queue full", F("pipeline", "app@static"))

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.SeverityText != "WARN" || entry.SeverityNumber != 13 {
		t.Errorf("unexpected severity %s/%d", entry.SeverityText, entry.SeverityNumber)
	}
	if entry.Body != "queue full" {
		t.Errorf("Body = %q", entry.Body)
	}
	if entry.Attributes["pipeline"] != "app@static" {
		t.Errorf("Attributes = %v", entry.Attributes)
	}
	if entry.Resource["service.name"] != "logship" {
		t.Errorf("Resource = %v", entry.Resource)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
		t.Errorf("bad timestamp %q: %v", entry.Timestamp, err)
	}
}

func TestSetLevel_SuppressesOutput(t *testing.T) {
	buf := captureOutput(t, LevelError)

	Debug("should not appear")
	Info("should not appear")
	Warn("should not appear")
	Error("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 output line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "should appear") {
		t.Errorf("ERROR message missing: %q", lines[0])
	}
}

func TestSetLevel_MetricsStillEmitted(t *testing.T) {
	buf := captureOutput(t, LevelFatal)

	base := getCounterValue(t, logMessagesTotal, "INFO", "logging", "general")
	Info("suppressed info")
	after := getCounterValue(t, logMessagesTotal, "INFO", "logging", "general")

	if buf.Len() > 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	if after-base != 1 {
		t.Errorf("INFO counter should increment even when suppressed, delta=%f", after-base)
	}
}

func TestSetLevel_HookSuppressed(t *testing.T) {
	captureOutput(t, LevelError)

	hookCalls := 0
	SetHook(func(level Level, msg string, attrs map[string]interface{}) {
		hookCalls++
	})

	Info("suppressed")
	Error("visible")

	if hookCalls != 1 {
		t.Errorf("expected 1 hook call, got %d", hookCalls)
	}
}

func TestLogMetrics_ExplicitComponentAndOperation(t *testing.T) {
	captureOutput(t, LevelInfo)

	base := getCounterValue(t, logMessagesTotal, "ERROR", "transport", "custom_op")
	Error("whatever", F("component", "transport", "operation", "custom_op"))
	after := getCounterValue(t, logMessagesTotal, "ERROR", "transport", "custom_op")

	if after-base != 1 {
		t.Errorf("expected explicit labels to be used, delta=%f", after-base)
	}
}

func TestDetectOperation(t *testing.T) {
	tests := []struct {
		msg      string
		expected string
	}{
		{"reconnect failed", "reconnect"},
		{"connected to collector", "connect"},
		{"send failed, dropping batch", "send"},
		{"final flush attempted", "flush"},
		{"queue full", "queue"},
		{"record dropped", "queue"},
		{"failed to resolve endpoint", "resolve"},
		{"zookeeper session expired", "resolve"},
		{"drain timed out", "drain"},
		{"config file loaded", "config"},
		{"shutdown initiated", "lifecycle"},
		{"something else", "general"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := detectOperation(tt.msg); got != tt.expected {
				t.Errorf("detectOperation(%q) = %q, want %q", tt.msg, got, tt.expected)
			}
		})
	}
}

func TestPackageOf(t *testing.T) {
	tests := map[string]string{
		"github.com/szibis/logship/internal/pipeline.(*worker).run": "pipeline",
		"github.com/szibis/logship/internal/logging.TestX.func1":    "logging",
		"main.main": "main",
		"":          "unknown",
	}
	for in, want := range tests {
		if got := packageOf(in); got != want {
			t.Errorf("packageOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Error", LevelError},
		{"fatal", LevelFatal},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestGetLevel_DefaultIsInfo(t *testing.T) {
	originalLevel := defaultLogger.minLevel
	defer SetLevel(originalLevel)

	defaultLogger.mu.Lock()
	defaultLogger.minLevel = ""
	defaultLogger.mu.Unlock()

	if got := GetLevel(); got != LevelInfo {
		t.Errorf("GetLevel() default = %q, want INFO", got)
	}
}

func TestAllow(t *testing.T) {
	key := "test-allow-" + t.Name()
	if !Allow(key, time.Hour) {
		t.Fatal("first call should be allowed")
	}
	if Allow(key, time.Hour) {
		t.Error("second call within interval should be suppressed")
	}
	if !Allow(key+"-other", time.Hour) {
		t.Error("keys are limited independently")
	}
}
