package inject

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/jotlabs/jot-core/internal/protocol"
)

// Buffer is an in-process text target. It keeps committed text plus a
// provisional composition region that partial results can overwrite until a
// final insert lands.
type Buffer struct {
	mu          sync.Mutex
	committed   []rune
	composition string
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Apply runs the actions in order. Unknown action types are skipped so new
// worker-side vocabulary never breaks older hosts. An empty list is a no-op.
func (b *Buffer) Apply(_ context.Context, actions []protocol.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, action := range actions {
		switch action.Type {
		case protocol.ActionInsert:
			b.composition = ""
			b.committed = append(b.committed, []rune(action.Text)...)
		case protocol.ActionDeleteBackward:
			count := action.Count
			if count <= 0 {
				count = 1
			}
			for i := 0; i < count && len(b.committed) > 0; i++ {
				b.committed = b.committed[:len(b.committed)-1]
			}
		case protocol.ActionDeleteBackwardWord:
			b.deleteWord()
		case protocol.ActionDeleteBackwardSentence:
			b.deleteSentence()
		case protocol.ActionClear:
			b.committed = b.committed[:0]
			b.composition = ""
		case protocol.ActionSetComposition:
			b.composition = action.Text
		}
	}
	return nil
}

// String returns committed text followed by the live composition region.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.committed) + b.composition
}

// Composition returns only the provisional region.
func (b *Buffer) Composition() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.composition
}

// deleteWord removes one word from the tail. A CJK character counts as a
// word on its own; an ASCII run is removed as a unit along with the spaces
// that trail it.
func (b *Buffer) deleteWord() {
	for len(b.committed) > 0 && unicode.IsSpace(b.committed[len(b.committed)-1]) {
		b.committed = b.committed[:len(b.committed)-1]
	}
	if len(b.committed) == 0 {
		return
	}
	if isCJK(b.committed[len(b.committed)-1]) {
		b.committed = b.committed[:len(b.committed)-1]
		return
	}
	for len(b.committed) > 0 {
		r := b.committed[len(b.committed)-1]
		if unicode.IsSpace(r) || isCJK(r) {
			break
		}
		b.committed = b.committed[:len(b.committed)-1]
	}
}

// deleteSentence removes the tail back to the previous sentence terminator.
// The terminator of the earlier sentence stays in place.
func (b *Buffer) deleteSentence() {
	for len(b.committed) > 0 && unicode.IsSpace(b.committed[len(b.committed)-1]) {
		b.committed = b.committed[:len(b.committed)-1]
	}
	for len(b.committed) > 0 && isSentenceEnd(b.committed[len(b.committed)-1]) {
		b.committed = b.committed[:len(b.committed)-1]
	}
	for len(b.committed) > 0 && !isSentenceEnd(b.committed[len(b.committed)-1]) {
		b.committed = b.committed[:len(b.committed)-1]
	}
}

func isSentenceEnd(r rune) bool {
	return strings.ContainsRune("。．！？!?.\n", r)
}

func isCJK(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) ||
		(r >= 0x3400 && r <= 0x4dbf) ||
		(r >= 0x3000 && r <= 0x303f) ||
		(r >= 0xff00 && r <= 0xffef)
}
