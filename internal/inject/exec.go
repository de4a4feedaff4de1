package inject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/jotlabs/jot-core/internal/protocol"
)

// ExecInjector hands actions to an external command, one JSON line per
// action on stdin. The command runs once per Apply and must exit zero after
// consuming the stream.
type ExecInjector struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecInjector(command string) (*ExecInjector, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse injector command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("injector command empty")
	}
	return &ExecInjector{cmd: args}, nil
}

func (e *ExecInjector) Apply(ctx context.Context, actions []protocol.Action) error {
	if len(actions) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	for _, action := range actions {
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode action: %w", err)
		}
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = &payload
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: injector command: %v: %s", ErrInjection, err, stderr.String())
		}
		return fmt.Errorf("%w: injector command: %v", ErrInjection, err)
	}
	return nil
}
