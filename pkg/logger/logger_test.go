package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_DoesNotPanic(t *testing.T) {
	Init("development")
	Debug("debug message", FieldComponent, "test")
	Init("production")
	Info("info message", FieldComponent, "test")
}

func TestInitWithFile_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile failed: %v", err)
	}
	defer ShutdownFileHandler()

	Info("file log probe", FieldSessionID, "s-1")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "session-bridge-") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name: %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file log probe") {
		t.Errorf("log file should contain the probe message, got: %s", data)
	}
}

func TestShutdownFileHandler_Idempotent(t *testing.T) {
	ShutdownFileHandler()
	ShutdownFileHandler() // 二次调用不应 panic
}
