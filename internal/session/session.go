package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jotlabs/jot-core/internal/config"
	"github.com/jotlabs/jot-core/internal/protocol"
)

// ErrInvalidState marks a session operation attempted out of order: push
// before start, push after finalize, or a second finalize.
var ErrInvalidState = errors.New("invalid session state")

// State tracks the host-side view of the session lifecycle. The worker owns
// the actual buffers; the host only holds the id and this marker.
type State int

const (
	StateUninitialized State = iota
	StateStarted
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// caller is the piece of the worker client a session needs.
type caller interface {
	Call(ctx context.Context, method string, params map[string]string, timeout time.Duration) (protocol.Response, error)
}

// Options bias recognition for one session. All fields are optional except
// SampleRateHz; zero values are omitted from the wire. Prompt is opaque bias
// text handed through untouched.
type Options struct {
	SampleRateHz       int
	PartialIntervalMS  int
	Language           string
	Mixed              bool
	Model              string
	ModelPath          string
	Prompt             string
	EndSilenceMS       int
	MaxPartialContextS int
	MinPartialSpeechMS int
}

// OptionsFromConfig maps configured session defaults onto start options.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		SampleRateHz:       cfg.SampleRateHz,
		PartialIntervalMS:  cfg.PartialIntervalMS,
		Language:           cfg.Language,
		Mixed:              cfg.Mixed,
		Model:              cfg.Model,
		ModelPath:          cfg.ModelPath,
		Prompt:             cfg.Prompt,
		EndSilenceMS:       cfg.EndSilenceMS,
		MaxPartialContextS: cfg.MaxPartialContextS,
		MinPartialSpeechMS: cfg.MinPartialSpeechMS,
	}
}

// Timeouts carries the per-method call deadlines. Start and Finalize may
// include one-time model load, so they run far longer than Push.
type Timeouts struct {
	Start    time.Duration
	Push     time.Duration
	Finalize time.Duration
}

// TimeoutsFromConfig maps worker call deadlines onto session timeouts.
func TimeoutsFromConfig(cfg config.WorkerConfig) Timeouts {
	return Timeouts{
		Start:    time.Duration(cfg.StartTimeoutMS) * time.Millisecond,
		Push:     time.Duration(cfg.PushTimeoutMS) * time.Millisecond,
		Finalize: time.Duration(cfg.FinalizeTimeoutMS) * time.Millisecond,
	}
}

// Session is one bounded dictation interaction: start, zero or more pushes
// in capture order, exactly one finalize. The id is caller-generated; the
// worker keys its per-session buffers on it.
type Session struct {
	id       string
	client   caller
	opts     Options
	timeouts Timeouts
	log      *slog.Logger

	mu    sync.Mutex
	state State
}

func New(client caller, opts Options, timeouts Timeouts, log *slog.Logger) *Session {
	return &Session{
		id:       uuid.NewString(),
		client:   client,
		opts:     opts,
		timeouts: timeouts,
		log:      log.With(slog.String("component", "session")),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start allocates per-session buffers and recognition context in the worker.
func (s *Session) Start(ctx context.Context) (protocol.StartResult, error) {
	if err := s.require(StateUninitialized); err != nil {
		return protocol.StartResult{}, err
	}

	params := map[string]string{
		"session_id":     s.id,
		"sample_rate_hz": strconv.Itoa(s.opts.SampleRateHz),
	}
	putInt(params, "partial_interval_ms", s.opts.PartialIntervalMS)
	putInt(params, "end_silence_ms", s.opts.EndSilenceMS)
	putInt(params, "max_partial_context_s", s.opts.MaxPartialContextS)
	putInt(params, "min_partial_speech_ms", s.opts.MinPartialSpeechMS)
	putString(params, "language", s.opts.Language)
	putString(params, "model", s.opts.Model)
	putString(params, "model_path", s.opts.ModelPath)
	putString(params, "prompt", s.opts.Prompt)
	if s.opts.Mixed {
		params["mixed"] = "true"
	}

	resp, err := s.client.Call(ctx, protocol.MethodStreamStart, params, s.timeouts.Start)
	if err != nil {
		return protocol.StartResult{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.StartResult{}, err
	}
	var result protocol.StartResult
	if err := protocol.DecodeResult(resp.Result, &result); err != nil {
		return protocol.StartResult{}, err
	}

	s.setState(StateStarted)
	s.log.Info("session started",
		slog.String("session_id", s.id),
		slog.Int("sample_rate_hz", s.opts.SampleRateHz))
	return result, nil
}

// Push hands one PCM chunk to the worker. Chunks must arrive in capture
// order; the audio is a byte stream, not independently orderable records.
// The worker may answer with a partial transcript.
func (s *Session) Push(ctx context.Context, pcm []byte) (protocol.PushResult, error) {
	if err := s.require(StateStarted); err != nil {
		return protocol.PushResult{}, err
	}

	params := map[string]string{
		"session_id": s.id,
		"format":     protocol.FormatPCMS16LEB64,
		"audio_b64":  base64.StdEncoding.EncodeToString(pcm),
	}
	resp, err := s.client.Call(ctx, protocol.MethodStreamPush, params, s.timeouts.Push)
	if err != nil {
		return protocol.PushResult{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.PushResult{}, s.mapRemote(err)
	}
	var result protocol.PushResult
	if err := protocol.DecodeResult(resp.Result, &result); err != nil {
		return protocol.PushResult{}, err
	}
	return result, nil
}

// Finalize flushes buffered audio, runs final recognition, and releases the
// worker-side session. A session can be finalized exactly once.
func (s *Session) Finalize(ctx context.Context) (protocol.FinalizeResult, error) {
	if err := s.require(StateStarted); err != nil {
		return protocol.FinalizeResult{}, err
	}

	params := map[string]string{"session_id": s.id}
	resp, err := s.client.Call(ctx, protocol.MethodStreamFinalize, params, s.timeouts.Finalize)
	if err != nil {
		return protocol.FinalizeResult{}, err
	}
	if err := resp.Err(); err != nil {
		mapped := s.mapRemote(err)
		if errors.Is(mapped, ErrInvalidState) {
			// The worker no longer knows this session; it is gone
			// on both sides.
			s.setState(StateFinalized)
		}
		return protocol.FinalizeResult{}, mapped
	}
	var result protocol.FinalizeResult
	if err := protocol.DecodeResult(resp.Result, &result); err != nil {
		return protocol.FinalizeResult{}, err
	}

	s.setState(StateFinalized)
	s.log.Info("session finalized",
		slog.String("session_id", s.id),
		slog.Int("transcript_chars", len(result.Text)),
		slog.Int("actions", len(result.Actions)))
	return result, nil
}

func (s *Session) require(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.id, s.state)
	}
	return nil
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// mapRemote converts the worker's unknown-session complaints into the typed
// state error; everything else passes through.
func (s *Session) mapRemote(err error) error {
	var re *protocol.RemoteError
	if errors.As(err, &re) {
		msg := strings.ToLower(re.Message)
		if strings.Contains(msg, "unknown session") || strings.Contains(msg, "finalized") {
			return fmt.Errorf("%w: %s", ErrInvalidState, re.Message)
		}
	}
	return err
}

func putInt(params map[string]string, key string, v int) {
	if v > 0 {
		params[key] = strconv.Itoa(v)
	}
}

func putString(params map[string]string, key, v string) {
	if v != "" {
		params[key] = v
	}
}
