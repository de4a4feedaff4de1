package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jotlabs/jot-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedCaller answers calls from a worker-shaped handler without any
// subprocess underneath.
type scriptedCaller struct {
	t      *testing.T
	handle func(method string, params map[string]string) (any, string)
	calls  []string
}

func (c *scriptedCaller) Call(_ context.Context, method string, params map[string]string, _ time.Duration) (protocol.Response, error) {
	c.calls = append(c.calls, method)
	result, remoteErr := c.handle(method, params)
	if remoteErr != "" {
		return protocol.Response{ID: "r", OK: false, Error: remoteErr}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.t.Fatalf("marshal scripted result: %v", err)
	}
	return protocol.Response{ID: "r", OK: true, Result: raw}, nil
}

func workerScript(t *testing.T) *scriptedCaller {
	known := map[string]bool{}
	c := &scriptedCaller{t: t}
	c.handle = func(method string, params map[string]string) (any, string) {
		sid := params["session_id"]
		switch method {
		case protocol.MethodStreamStart:
			known[sid] = true
			return protocol.StartResult{SessionID: sid, Model: "whisper-medium"}, ""
		case protocol.MethodStreamPush:
			if !known[sid] {
				return nil, "Unknown session_id"
			}
			if params["format"] != protocol.FormatPCMS16LEB64 {
				return nil, "Unsupported format (expected pcm_s16le_b64)"
			}
			return protocol.PushResult{SessionID: sid, Endpoint: "false", Final: "false", Kind: protocol.KindNone}, ""
		case protocol.MethodStreamFinalize:
			if !known[sid] {
				return nil, "Unknown session_id"
			}
			delete(known, sid)
			return protocol.FinalizeResult{SessionID: sid, Text: "", Actions: nil}, ""
		default:
			return nil, "Unknown method: " + method
		}
	}
	return c
}

func testOptions() Options {
	return Options{SampleRateHz: 16000, PartialIntervalMS: 500, Mixed: true, Prompt: "bias text"}
}

func testTimeouts() Timeouts {
	return Timeouts{Start: time.Second, Push: time.Second, Finalize: time.Second}
}

func TestLifecycle(t *testing.T) {
	c := workerScript(t)
	s := New(c, testOptions(), testTimeouts(), newLogger())

	if s.State() != StateUninitialized {
		t.Fatalf("fresh session state: %v", s.State())
	}

	ack, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ack.SessionID != s.ID() {
		t.Fatalf("start ack for wrong session: %q != %q", ack.SessionID, s.ID())
	}
	if s.State() != StateStarted {
		t.Fatalf("state after start: %v", s.State())
	}

	if _, err := s.Push(context.Background(), []byte{0, 0, 1, 0}); err != nil {
		t.Fatalf("push: %v", err)
	}

	final, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Text != "" || len(final.Actions) != 0 {
		t.Fatalf("empty-audio finalize should be empty, got %+v", final)
	}
	if s.State() != StateFinalized {
		t.Fatalf("state after finalize: %v", s.State())
	}
}

func TestStartParamsStringEncoded(t *testing.T) {
	var seen map[string]string
	c := &scriptedCaller{t: t}
	c.handle = func(method string, params map[string]string) (any, string) {
		seen = params
		return protocol.StartResult{SessionID: params["session_id"]}, ""
	}
	s := New(c, testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if seen["sample_rate_hz"] != "16000" {
		t.Fatalf("sample rate not string-encoded: %q", seen["sample_rate_hz"])
	}
	if seen["partial_interval_ms"] != "500" || seen["mixed"] != "true" {
		t.Fatalf("optional params wrong: %v", seen)
	}
	if seen["prompt"] != "bias text" {
		t.Fatalf("prompt must pass through untouched: %q", seen["prompt"])
	}
	if _, ok := seen["model"]; ok {
		t.Fatal("zero-valued optional params must be omitted")
	}
}

func TestPushEncodesAudio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	var audio string
	c := &scriptedCaller{t: t}
	c.handle = func(method string, params map[string]string) (any, string) {
		if method == protocol.MethodStreamPush {
			audio = params["audio_b64"]
			return protocol.PushResult{Kind: protocol.KindNone, Endpoint: "false", Final: "false"}, ""
		}
		return protocol.StartResult{}, ""
	}
	s := New(c, testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Push(context.Background(), pcm); err != nil {
		t.Fatalf("push: %v", err)
	}
	if audio != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("audio not base64 encoded: %q", audio)
	}
}

func TestPushBeforeStart(t *testing.T) {
	s := New(workerScript(t), testOptions(), testTimeouts(), newLogger())
	if _, err := s.Push(context.Background(), []byte{0, 0}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPushAfterFinalize(t *testing.T) {
	s := New(workerScript(t), testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := s.Push(context.Background(), []byte{0, 0}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestDoubleFinalize(t *testing.T) {
	s := New(workerScript(t), testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := s.Finalize(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second finalize should fail with ErrInvalidState, got %v", err)
	}
}

func TestDoubleStart(t *testing.T) {
	s := New(workerScript(t), testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second start should fail with ErrInvalidState, got %v", err)
	}
}

func TestRemoteUnknownSessionMapsToInvalidState(t *testing.T) {
	c := &scriptedCaller{t: t}
	c.handle = func(method string, params map[string]string) (any, string) {
		if method == protocol.MethodStreamStart {
			return protocol.StartResult{}, ""
		}
		return nil, "Unknown session_id"
	}
	s := New(c, testOptions(), testTimeouts(), newLogger())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Push(context.Background(), []byte{0, 0}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState from remote mapping, got %v", err)
	}
}
