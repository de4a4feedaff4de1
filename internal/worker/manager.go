package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/jotlabs/jot-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// ErrSpawn marks a failure to create the worker subprocess: missing
// executable or script, or the OS refusing the spawn.
var ErrSpawn = errors.New("worker spawn failed")

// Manager owns a single long-lived transcription worker subprocess and its
// three attached streams. Stdin and stdout belong exclusively to the
// correlating Client; stderr is drained here in the background so the worker
// can never block on a full diagnostic pipe.
type Manager struct {
	cmd []string
	env map[string]string
	log *slog.Logger

	mu     sync.Mutex
	proc   *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	gen    uint64
}

func NewManager(cfg config.WorkerConfig, log *slog.Logger) (*Manager, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command is empty")
	}
	return &Manager{
		cmd: args,
		env: cfg.Env,
		log: log.With(slog.String("component", "worker")),
	}, nil
}

// EnsureStarted spawns the worker if it is not already running. Calling it
// again while a live worker exists is a no-op.
func (m *Manager) EnsureStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != nil {
		return nil
	}

	if _, err := exec.LookPath(m.cmd[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	for _, arg := range m.cmd[1:] {
		if !strings.HasPrefix(arg, "-") && strings.ContainsRune(arg, '/') {
			if _, err := os.Stat(arg); err != nil {
				return fmt.Errorf("%w: worker script %s: %v", ErrSpawn, arg, err)
			}
		}
	}

	proc := exec.Command(m.cmd[0], m.cmd[1:]...)
	proc.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	for k, v := range m.env {
		proc.Env = append(proc.Env, k+"="+v)
	}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	// The drain must be running before the first request is written:
	// early diagnostic output (model loading progress) can otherwise fill
	// the pipe buffer and stall the worker.
	go m.drainDiagnostics(stderr)

	if err := proc.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	m.proc = proc
	m.stdin = stdin
	m.stdout = stdout
	m.gen++
	m.log.Info("worker started",
		slog.String("command", strings.Join(m.cmd, " ")),
		slog.Int("pid", proc.Process.Pid))

	go m.reap(proc)
	return nil
}

// Stop terminates the subprocess if one is running and releases its streams.
// Safe to call on an already-stopped manager. This is a hard kill; any live
// sessions inside the worker are lost.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		return
	}
	m.log.Info("stopping worker", slog.Int("pid", m.proc.Process.Pid))
	_ = m.stdin.Close()
	_ = m.proc.Process.Kill()
	m.proc = nil
	m.stdin = nil
	m.stdout = nil
}

// Running reports whether a live worker is attached.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc != nil
}

// Generation increments on every successful spawn, letting readers detect a
// restart and re-attach to the fresh output stream.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Stdin returns the worker's input stream, or nil when stopped.
func (m *Manager) Stdin() io.Writer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stdin == nil {
		return nil
	}
	return m.stdin
}

// Stdout returns the worker's output stream, or nil when stopped.
func (m *Manager) Stdout() io.Reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stdout == nil {
		return nil
	}
	return m.stdout
}

func (m *Manager) drainDiagnostics(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.log.Info("worker diagnostic", slog.String("line", line))
	}
}

func (m *Manager) reap(proc *exec.Cmd) {
	err := proc.Wait()

	m.mu.Lock()
	current := m.proc == proc
	if current {
		m.proc = nil
		m.stdin = nil
		m.stdout = nil
	}
	m.mu.Unlock()

	if current && err != nil {
		m.log.Warn("worker exited", slog.String("error", err.Error()))
	}
}
