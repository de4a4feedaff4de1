package inject

import (
	"context"
	"fmt"
	"strings"

	"github.com/jotlabs/jot-core/internal/protocol"
)

// Clipboard reads and writes the system pasteboard.
type Clipboard interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// Paster triggers a paste keystroke in the focused application.
type Paster interface {
	Paste(ctx context.Context) error
}

// ClipboardInjector delivers text through the pasteboard. Only insert
// actions carry over this channel; structural edits have no paste
// equivalent and are skipped. The previous clipboard contents are restored
// after the paste.
type ClipboardInjector struct {
	clip   Clipboard
	paster Paster
}

func NewClipboardInjector(clip Clipboard, paster Paster) *ClipboardInjector {
	return &ClipboardInjector{clip: clip, paster: paster}
}

func (c *ClipboardInjector) Apply(ctx context.Context, actions []protocol.Action) error {
	var text strings.Builder
	for _, action := range actions {
		if action.Type == protocol.ActionInsert {
			text.WriteString(action.Text)
		}
	}
	if text.Len() == 0 {
		return nil
	}

	previous, err := c.clip.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: read clipboard: %v", ErrInjection, err)
	}
	if err := c.clip.Write(ctx, text.String()); err != nil {
		return fmt.Errorf("%w: write clipboard: %v", ErrInjection, err)
	}
	if err := c.paster.Paste(ctx); err != nil {
		return fmt.Errorf("%w: paste: %v", ErrInjection, err)
	}
	if err := c.clip.Write(ctx, previous); err != nil {
		return fmt.Errorf("%w: restore clipboard: %v", ErrInjection, err)
	}
	return nil
}
