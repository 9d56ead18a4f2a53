package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// AccessLogEntry records one completed client request.
type AccessLogEntry struct {
	Timestamp   time.Time
	ConnID      string // connection correlation id
	CacheStatus string // "HIT" or "MISS" for GET, "BLOCKED" for a refused host, "" for CONNECT
	Method      string
	Target      string // host+path for GET, host:port for CONNECT, host when blocked
	Bytes       int64  // bytes sent to the client; both directions for CONNECT
	Duration    int64  // handler time in milliseconds
}

// AccessLogFormat selects the output encoding for access logs.
type AccessLogFormat string

const (
	FormatHuman AccessLogFormat = "human"
	FormatJSON  AccessLogFormat = "json"
)

// AccessLogger writes per-request entries asynchronously so the request
// path never blocks on log I/O. Entries are dropped, and counted, when
// the buffer is full.
type AccessLogger struct {
	mu      sync.RWMutex
	entries chan AccessLogEntry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool

	format        AccessLogFormat
	stdoutEnabled bool
	fileWriter    io.WriteCloser

	errorHandler func(error)

	entriesLogged  uint64
	entriesDropped uint64
	writeErrors    uint64
}

// AccessLoggerConfig configures an AccessLogger.
type AccessLoggerConfig struct {
	Format        AccessLogFormat
	StdoutEnabled bool
	LogFile       string
	BufferSize    int // channel buffer size, default 1000
	ErrorHandler  func(error)
}

// NewAccessLogger creates an access logger. A log file that cannot be
// opened is reported through the error handler and skipped; the logger
// itself always starts.
func NewAccessLogger(config AccessLoggerConfig) *AccessLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	al := &AccessLogger{
		entries:       make(chan AccessLogEntry, config.BufferSize),
		done:          make(chan struct{}),
		format:        config.Format,
		stdoutEnabled: config.StdoutEnabled,
		errorHandler:  config.ErrorHandler,
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			al.reportError(fmt.Errorf("failed to open access log file %s, continuing without file logging: %w", config.LogFile, err))
		} else {
			al.fileWriter = file
		}
	}

	al.wg.Add(1)
	go al.worker()
	return al
}

func (al *AccessLogger) reportError(err error) {
	if al.errorHandler != nil {
		al.errorHandler(err)
	} else {
		log.Printf("access log error: %v", err)
	}
}

// Log queues an entry without blocking.
func (al *AccessLogger) Log(entry AccessLogEntry) {
	select {
	case al.entries <- entry:
		al.mu.Lock()
		al.entriesLogged++
		al.mu.Unlock()
	default:
		al.mu.Lock()
		al.entriesDropped++
		al.mu.Unlock()
		al.reportError(fmt.Errorf("access log buffer full, dropping entry"))
	}
}

// LogRequest is a convenience wrapper stamping the current time.
func (al *AccessLogger) LogRequest(connID, method, target, cacheStatus string, bytes int64, duration time.Duration) {
	al.Log(AccessLogEntry{
		Timestamp:   time.Now(),
		ConnID:      connID,
		CacheStatus: cacheStatus,
		Method:      method,
		Target:      target,
		Bytes:       bytes,
		Duration:    duration.Milliseconds(),
	})
}

// Close drains the queue and shuts the logger down.
func (al *AccessLogger) Close() error {
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return nil
	}
	al.closed = true
	al.mu.Unlock()

	close(al.done)
	al.wg.Wait()

	al.mu.Lock()
	defer al.mu.Unlock()
	if al.fileWriter != nil {
		return al.fileWriter.Close()
	}
	return nil
}

func (al *AccessLogger) worker() {
	defer al.wg.Done()

	for {
		select {
		case entry := <-al.entries:
			al.writeEntry(entry)
		case <-al.done:
			for {
				select {
				case entry := <-al.entries:
					al.writeEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (al *AccessLogger) writeEntry(entry AccessLogEntry) {
	var output string
	switch al.format {
	case FormatJSON:
		data, err := json.Marshal(struct {
			Timestamp   string `json:"timestamp"`
			ConnID      string `json:"conn_id"`
			CacheStatus string `json:"cache_status"`
			Method      string `json:"method"`
			Target      string `json:"target"`
			Bytes       int64  `json:"bytes"`
			DurationMs  int64  `json:"duration_ms"`
		}{
			Timestamp:   entry.Timestamp.Format(time.RFC3339),
			ConnID:      entry.ConnID,
			CacheStatus: entry.CacheStatus,
			Method:      entry.Method,
			Target:      entry.Target,
			Bytes:       entry.Bytes,
			DurationMs:  entry.Duration,
		})
		if err != nil {
			al.reportError(fmt.Errorf("failed to format JSON: %w", err))
			return
		}
		output = string(data)
	default:
		output = al.formatHuman(entry)
	}

	if al.stdoutEnabled {
		if _, err := fmt.Fprintln(os.Stdout, output); err != nil {
			al.countWriteError(fmt.Errorf("failed to write to stdout: %w", err))
		}
	}

	al.mu.RLock()
	fileWriter := al.fileWriter
	al.mu.RUnlock()
	if fileWriter != nil {
		if _, err := fmt.Fprintln(fileWriter, output); err != nil {
			al.countWriteError(fmt.Errorf("failed to write to file: %w", err))
		}
	}
}

func (al *AccessLogger) countWriteError(err error) {
	al.mu.Lock()
	al.writeErrors++
	al.mu.Unlock()
	al.reportError(err)
}

// formatHuman renders space-separated fields:
// timestamp conn_id cache_status method target bytes duration_ms
func (al *AccessLogger) formatHuman(entry AccessLogEntry) string {
	cacheStatus := entry.CacheStatus
	if cacheStatus == "" {
		cacheStatus = `""`
	}
	return fmt.Sprintf("%s %s %s %s %s %d %d",
		entry.Timestamp.Format(time.RFC3339),
		entry.ConnID,
		cacheStatus,
		entry.Method,
		entry.Target,
		entry.Bytes,
		entry.Duration,
	)
}

// AccessLoggerMetrics reports the logger's drop and error counters.
type AccessLoggerMetrics struct {
	EntriesLogged  uint64
	EntriesDropped uint64
	WriteErrors    uint64
}

// GetMetrics returns a snapshot of the logger's counters.
func (al *AccessLogger) GetMetrics() AccessLoggerMetrics {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return AccessLoggerMetrics{
		EntriesLogged:  al.entriesLogged,
		EntriesDropped: al.entriesDropped,
		WriteErrors:    al.writeErrors,
	}
}
