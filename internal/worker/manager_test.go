package worker

import (
	"errors"
	"testing"

	"github.com/jotlabs/jot-core/internal/config"
)

func TestNewManagerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewManager(config.WorkerConfig{Command: "   "}, newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestEnsureStartedMissingExecutable(t *testing.T) {
	m, err := NewManager(config.WorkerConfig{Command: "definitely-not-a-real-binary-9471"}, newLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.EnsureStarted(); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestEnsureStartedMissingScript(t *testing.T) {
	m, err := NewManager(config.WorkerConfig{Command: "cat /no/such/dir/speech_service.py"}, newLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.EnsureStarted(); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for missing script, got %v", err)
	}
}

func TestEnsureStartedIdempotent(t *testing.T) {
	m, err := NewManager(config.WorkerConfig{Command: "cat"}, newLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)

	if err := m.EnsureStarted(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	gen := m.Generation()
	if err := m.EnsureStarted(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if m.Generation() != gen {
		t.Fatalf("second EnsureStarted spawned a new process: gen %d -> %d", gen, m.Generation())
	}
	if !m.Running() {
		t.Fatal("expected worker to be running")
	}
}

func TestStopIdempotent(t *testing.T) {
	m, err := NewManager(config.WorkerConfig{Command: "cat"}, newLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.EnsureStarted(); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	if m.Running() {
		t.Fatal("expected worker stopped")
	}
	m.Stop() // no-op on an already-stopped manager

	if err := m.EnsureStarted(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if m.Generation() != 2 {
		t.Fatalf("expected generation 2 after restart, got %d", m.Generation())
	}
	m.Stop()
}
