package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestLogSessionEventWritesRow(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, MaxRowsPerFile: 10})
	defer l.Close()

	l.LogSessionEvent("connect", "127.0.0.1")
	l.LogOverflow("fast", 3, 2)
	l.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log file, got %d", len(entries))
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 { // header + 2 rows
		t.Fatalf("expected 3 rows (header+2), got %d", len(rows))
	}
	if rows[1][1] != "connect" {
		t.Fatalf("expected first data row kind=connect, got %q", rows[1][1])
	}
	if rows[2][1] != "overflow" || rows[2][2] != "fast" {
		t.Fatalf("unexpected overflow row: %v", rows[2])
	}
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	l.LogSessionEvent("connect", "")
	l.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written while disabled, got %d", len(entries))
	}
}

func TestRotationAfterMaxRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, MaxRowsPerFile: 2})
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.LogSessionEvent("connect", "")
	}
	l.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to produce multiple files, got %d", len(entries))
	}
}
