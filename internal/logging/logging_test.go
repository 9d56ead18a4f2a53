package logging

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// syncBuffer serializes concurrent writes so the test can inspect them.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var lineRE = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[(INFO|WARN|ERROR|FATAL)\] .+$`)

func TestSinkLineFormat(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(NewSink(&buf, slog.LevelInfo))

	logger.Info("server starting", "port", 8080)
	logger.Warn("entry too large")
	logger.Error("connect failed", "host", "origin.test")
	Fatal(logger, "bind failed")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !lineRE.MatchString(line) {
			t.Errorf("line %q does not match the sink format", line)
		}
	}

	wantTags := []string{"[INFO]", "[WARN]", "[ERROR]", "[FATAL]"}
	for i, tag := range wantTags {
		if !strings.Contains(lines[i], tag) {
			t.Errorf("line %d = %q, want tag %s", i, lines[i], tag)
		}
	}
	if !strings.Contains(lines[0], "port=8080") {
		t.Errorf("attrs missing from %q", lines[0])
	}
}

func TestSinkLevelFilter(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(NewSink(&buf, slog.LevelWarn))

	logger.Info("suppressed")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("INFO record written despite WARN sink level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("WARN record missing")
	}
}

func TestSinkWithAttrs(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(NewSink(&buf, slog.LevelInfo)).With("conn_id", "abc123")

	logger.Info("tunnel closed", "host", "secure.test")

	out := buf.String()
	if !strings.Contains(out, "conn_id=abc123") || !strings.Contains(out, "host=secure.test") {
		t.Errorf("attrs missing from %q", out)
	}
}

// Concurrent records must come out as whole lines, never interleaved.
func TestSinkConcurrentNoInterleaving(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(NewSink(&buf, slog.LevelInfo))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				logger.Info(fmt.Sprintf("goroutine-%d-message-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("got %d lines, want 400", len(lines))
	}
	for _, line := range lines {
		if !lineRE.MatchString(line) {
			t.Errorf("interleaved or malformed line: %q", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAccessLogger(t *testing.T) {
	t.Run("human format fields", func(t *testing.T) {
		al := NewAccessLogger(AccessLoggerConfig{Format: FormatHuman})
		entry := AccessLogEntry{
			ConnID:      "c1",
			CacheStatus: "HIT",
			Method:      "GET",
			Target:      "example.com/index",
			Bytes:       512,
			Duration:    3,
		}
		line := al.formatHuman(entry)
		for _, want := range []string{"c1", "HIT", "GET", "example.com/index", "512"} {
			if !strings.Contains(line, want) {
				t.Errorf("formatHuman() = %q, missing %q", line, want)
			}
		}
		al.Close()
	})

	t.Run("metrics count drops", func(t *testing.T) {
		var handlerErrs []error
		al := NewAccessLogger(AccessLoggerConfig{
			Format:     FormatHuman,
			BufferSize: 1,
			ErrorHandler: func(err error) {
				handlerErrs = append(handlerErrs, err)
			},
		})
		// Flood faster than the worker can drain; every entry must be
		// either logged or counted as dropped.
		for i := 0; i < 50; i++ {
			al.LogRequest("c1", "GET", "example.com/", "MISS", 1, 0)
		}
		al.Close()

		m := al.GetMetrics()
		if m.EntriesLogged+m.EntriesDropped != 50 {
			t.Errorf("logged %d + dropped %d, want 50 total", m.EntriesLogged, m.EntriesDropped)
		}
	})

	t.Run("close idempotent", func(t *testing.T) {
		al := NewAccessLogger(AccessLoggerConfig{Format: FormatJSON})
		if err := al.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if err := al.Close(); err != nil {
			t.Fatalf("second Close() error: %v", err)
		}
	})

	t.Run("bad file path reported", func(t *testing.T) {
		var mu sync.Mutex
		var got error
		al := NewAccessLogger(AccessLoggerConfig{
			Format:  FormatHuman,
			LogFile: "/nonexistent-dir-for-test/access.log",
			ErrorHandler: func(err error) {
				mu.Lock()
				got = err
				mu.Unlock()
			},
		})
		defer al.Close()

		mu.Lock()
		defer mu.Unlock()
		if got == nil {
			t.Error("expected an error for unopenable access log file")
		}
	})
}

func TestFatalDoesNotExit(t *testing.T) {
	logger := NewLogger(NewSink(io.Discard, slog.LevelInfo))
	Fatal(logger, "just a record") // reaching the next line is the test
}
