package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jotlabs/jot-core/internal/config"
	"github.com/jotlabs/jot-core/internal/protocol"
)

// ErrInjection marks failures while delivering actions to the target editor.
var ErrInjection = errors.New("injection failed")

// Injector applies recognized edit actions to whatever text target the host
// is configured with.
type Injector interface {
	Apply(ctx context.Context, actions []protocol.Action) error
}

// New builds the injector selected by configuration. An exec injector with a
// clipboard fallback wraps the configured command so paste can take over when
// the command fails.
func New(cfg config.InjectorConfig, log *slog.Logger, clip Clipboard, paster Paster) (Injector, error) {
	switch cfg.Mode {
	case "buffer":
		return NewBuffer(), nil
	case "exec":
		ej, err := NewExecInjector(cfg.Command)
		if err != nil {
			return nil, err
		}
		if !cfg.ClipboardFallback {
			return ej, nil
		}
		if clip == nil || paster == nil {
			return nil, fmt.Errorf("clipboard fallback requires clipboard and paste providers")
		}
		return &fallbackInjector{
			primary:  ej,
			fallback: NewClipboardInjector(clip, paster),
			log:      log.With(slog.String("component", "injector")),
		}, nil
	default:
		return nil, fmt.Errorf("unknown injector mode %q", cfg.Mode)
	}
}

type fallbackInjector struct {
	primary  Injector
	fallback Injector
	log      *slog.Logger
}

func (f *fallbackInjector) Apply(ctx context.Context, actions []protocol.Action) error {
	err := f.primary.Apply(ctx, actions)
	if err == nil {
		return nil
	}
	f.log.Warn("injector command failed, falling back to clipboard", slog.String("error", err.Error()))
	if fbErr := f.fallback.Apply(ctx, actions); fbErr != nil {
		return fmt.Errorf("%w: %v (clipboard fallback: %v)", ErrInjection, err, fbErr)
	}
	return nil
}
