package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, INFO)

	logger.Debug("hidden", nil)
	logger.Info("scope resolved", map[string]interface{}{"strategy": "window", "annotation_id": "7"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry should be filtered at INFO: %q", out)
	}
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "scope resolved") {
		t.Errorf("missing info entry: %q", out)
	}
	if !strings.Contains(out, "| annotation_id=7 strategy=window") {
		t.Errorf("fields should be sorted by key: %q", out)
	}

	buf.Reset()
	logger.SetLogLevel(DEBUG)
	if !logger.DebugEnabled() {
		t.Error("DebugEnabled should follow SetLogLevel")
	}
	logger.Debugf("candidate %d", 2)
	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Errorf("expected debug output, got %q", buf.String())
	}

	buf.Reset()
	logger.Enable(false)
	logger.Error("dropped", nil)
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}
}

func TestLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger := NewLogger(nil, INFO)
	if err := logger.OpenFile(path); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	logger.Warnf("backup failed: %s", "disk full")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[WARNING]") || !strings.Contains(string(data), "disk full") {
		t.Errorf("log file content: %q", data)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"DEBUG ":  DEBUG,
		"warn":    WARNING,
		"warning": WARNING,
		"error":   ERROR,
		"info":    INFO,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("resolver.window")
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue("resolver.window"); got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
	if got := m.GetCounterValue("missing"); got != 0 {
		t.Errorf("missing counter = %d", got)
	}

	m.SetGauge("ws.connections", 3)
	m.DecGauge("ws.connections")
	m.IncGauge("ws.connections")
	m.IncGauge("ws.connections")
	if got := m.GetGauge("ws.connections"); got != 4 {
		t.Errorf("gauge = %d, want 4", got)
	}

	m.RecordHistogram("ingest.load_ms", 10)
	m.RecordHistogram("ingest.load_ms", 2)
	m.RecordDuration("ingest.load_ms", 30*time.Millisecond)
	m.RecordAPIRequest("/api/save", "POST", 201, 5*time.Millisecond)

	snap := m.GetMetrics()
	hist := snap["histograms"].(map[string]map[string]int64)["ingest.load_ms"]
	if hist["count"] != 3 || hist["min"] != 2 || hist["max"] != 30 || hist["sum"] != 42 {
		t.Errorf("histogram = %v", hist)
	}
	counters := snap["counters"].(map[string]int64)
	if counters["api.responses.2xx"] != 1 || counters["api.requests.POST /api/save"] != 1 {
		t.Errorf("api counters = %v", counters)
	}
}
