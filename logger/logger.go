// Package logger records XCP session lifecycle and DAQ overflow events to
// rotating CSV files, alongside the operational log.Printf lines the rest
// of the server writes directly.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger records timestamped session and overflow events to CSV files with
// automatic rotation.
type Logger struct {
	mu      sync.Mutex
	dir     string
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int

	maxRowsPerFile int
}

// Config holds logger configuration.
type Config struct {
	Enabled        bool
	Path           string
	MaxRowsPerFile int
}

var csvHeader = []string{
	"timestamp", "kind", "event_name", "event_id", "list_id", "overflow_count", "detail",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/xcp-lite"
	}
	maxRows := cfg.MaxRowsPerFile
	if maxRows <= 0 {
		maxRows = 100_000
	}
	return &Logger{
		dir:            cfg.Path,
		enabled:        cfg.Enabled,
		maxRowsPerFile: maxRows,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// LogSessionEvent records a CONNECT/DISCONNECT transition.
func (l *Logger) LogSessionEvent(kind, detail string) {
	l.write([]string{time.Now().Format(time.RFC3339Nano), kind, "", "", "", "", detail})
}

// LogOverflow records a DAQ queue overflow for eventID, with the current
// cumulative overflow counter.
func (l *Logger) LogOverflow(eventName string, eventID uint16, count uint32) {
	l.write([]string{
		time.Now().Format(time.RFC3339Nano),
		"overflow",
		eventName,
		fmt.Sprintf("%d", eventID),
		"",
		fmt.Sprintf("%d", count),
		"",
	})
}

func (l *Logger) write(row []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := time.Now()
	if l.writer == nil || l.rows >= l.maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(row); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("xcp_%s.csv", now.Format("2006-01-02_150405.000000000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
