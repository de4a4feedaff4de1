package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jotlabs/jot-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	hs, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	if err := hs.AppendTranscript(ctx, Transcript{SessionID: "s", Kind: KindFinal, Text: "x"}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
	transcripts, err := hs.ListSessionTranscripts(ctx, "s", 10)
	if err != nil {
		t.Fatalf("ephemeral list: %v", err)
	}
	if len(transcripts) != 0 {
		t.Fatalf("expected no persisted transcripts, got %d", len(transcripts))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	sessionID := "session-123"
	if err := hs.AppendSession(context.Background(), sessionID, "medium", "zh"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := hs.AppendTranscript(context.Background(), Transcript{SessionID: sessionID, Kind: KindPartial, Text: "hel"}); err != nil {
		t.Fatalf("append partial: %v", err)
	}
	if err := hs.AppendTranscript(context.Background(), Transcript{SessionID: sessionID, Kind: KindFinal, Text: "hello", Model: "medium"}); err != nil {
		t.Fatalf("append final: %v", err)
	}

	transcripts, err := hs.ListSessionTranscripts(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(transcripts))
	}
	if transcripts[1].Kind != KindFinal || transcripts[1].Text != "hello" {
		t.Fatalf("unexpected final transcript: %+v", transcripts[1])
	}
}

func TestRecentFinalsNewestFirst(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	if err := hs.AppendSession(context.Background(), "s1", "medium", "en"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		tr := Transcript{SessionID: "s1", Kind: KindFinal, Text: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := hs.AppendTranscript(context.Background(), tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := hs.AppendTranscript(context.Background(), Transcript{SessionID: "s1", Kind: KindPartial, Text: "ignored", CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("append partial: %v", err)
	}

	finals, err := hs.RecentFinals(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent finals: %v", err)
	}
	if len(finals) != 2 || finals[0] != "third" || finals[1] != "second" {
		t.Fatalf("unexpected finals: %v", finals)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	hs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := hs.AppendSession(context.Background(), "old-session", "medium", "zh"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := hs.AppendTranscript(context.Background(), Transcript{SessionID: "old-session", Kind: KindFinal, Text: "stale"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	hs.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := hs.AppendSession(context.Background(), "new-session", "medium", "zh"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := hs.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	transcripts, err := hs.ListSessionTranscripts(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
