package dictate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/jotlabs/jot-core/internal/actions"
	"github.com/jotlabs/jot-core/internal/bus"
	"github.com/jotlabs/jot-core/internal/capture"
	"github.com/jotlabs/jot-core/internal/config"
	"github.com/jotlabs/jot-core/internal/history"
	"github.com/jotlabs/jot-core/internal/inject"
	"github.com/jotlabs/jot-core/internal/protocol"
	"github.com/jotlabs/jot-core/internal/session"
)

const promptRuneCap = 400

type caller interface {
	Call(ctx context.Context, method string, params map[string]string, timeout time.Duration) (protocol.Response, error)
}

// Recorder persists dictation history. *history.Store satisfies it.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, model, language string) error
	AppendTranscript(ctx context.Context, tr history.Transcript) error
	RecentFinals(ctx context.Context, limit int) ([]string, error)
}

// Service orchestrates one dictation pipeline: captured audio flows through
// the worker session, recognized text becomes actions, actions reach the
// injector, and results fan out to history and the bus. Bus and recorder are
// optional.
type Service struct {
	cfg      config.Config
	client   caller
	interp   *actions.Interpreter
	injector inject.Injector
	recorder Recorder
	bus      *bus.Client
	bias     []string
	log      *slog.Logger

	utterances metric.Int64Counter
	partials   metric.Int64Counter
	injectErrs metric.Int64Counter
}

func NewService(cfg config.Config, client caller, interp *actions.Interpreter, injector inject.Injector, recorder Recorder, busClient *bus.Client, biasPhrases []string, log *slog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		client:   client,
		interp:   interp,
		injector: injector,
		recorder: recorder,
		bus:      busClient,
		bias:     biasPhrases,
		log:      log.With(slog.String("component", "dictate")),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/jotlabs/jot-core/dictate")
	var err error
	if s.utterances, err = meter.Int64Counter("jot.dictate.utterances", metric.WithDescription("Utterances started")); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	if s.partials, err = meter.Int64Counter("jot.dictate.partials", metric.WithDescription("Partial transcripts handled")); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	if s.injectErrs, err = meter.Int64Counter("jot.dictate.inject_errors", metric.WithDescription("Failed injector deliveries")); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

// Utterance is one in-flight dictation: feed it PCM until the speaker stops,
// then Finish it for the final transcript and actions.
type Utterance struct {
	svc     *Service
	sess    *session.Session
	chunker *capture.Chunker
	model   string

	mu      sync.Mutex
	pushErr error
}

// Result is the outcome of a finished utterance.
type Result struct {
	SessionID string
	Text      string
	Actions   []protocol.Action
}

// BeginUtterance starts a worker session seeded with the bias prompt and
// returns the utterance accepting audio.
func (s *Service) BeginUtterance(ctx context.Context) (*Utterance, error) {
	opts := session.OptionsFromConfig(s.cfg.Session)
	opts.Prompt = s.buildPrompt(ctx)

	sess := session.New(s.client, opts, session.TimeoutsFromConfig(s.cfg.Worker), s.log)
	started, err := sess.Start(ctx)
	if err != nil {
		return nil, err
	}

	u := &Utterance{svc: s, sess: sess, model: started.Model}
	u.chunker = capture.NewChunker(s.cfg.Capture, u.push)

	if s.recorder != nil {
		if err := s.recorder.AppendSession(ctx, sess.ID(), started.Model, s.cfg.Session.Language); err != nil {
			s.log.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}
	if s.utterances != nil {
		s.utterances.Add(ctx, 1)
	}
	s.log.Info("utterance started",
		slog.String("session_id", sess.ID()),
		slog.String("model", started.Model))
	return u, nil
}

// buildPrompt merges the configured prompt, pack bias vocabulary and the
// most recent final transcript into one recognition seed, capped so long
// histories never crowd out the configured prompt.
func (s *Service) buildPrompt(ctx context.Context) string {
	parts := make([]string, 0, 3)
	if p := strings.TrimSpace(s.cfg.Session.Prompt); p != "" {
		parts = append(parts, p)
	}
	if len(s.bias) > 0 {
		parts = append(parts, strings.Join(s.bias, " "))
	}
	if s.recorder != nil {
		finals, err := s.recorder.RecentFinals(ctx, 1)
		if err != nil {
			s.log.Warn("failed to load recent finals", slog.String("error", err.Error()))
		} else if len(finals) > 0 {
			parts = append(parts, finals[0])
		}
	}
	prompt := strings.Join(parts, "\n")
	if runes := []rune(prompt); len(runes) > promptRuneCap {
		prompt = string(runes[:promptRuneCap])
	}
	return prompt
}

// Feed queues captured PCM. Chunk boundaries and worker pushes happen on the
// chunker's emission goroutine.
func (u *Utterance) Feed(pcm []byte) error {
	return u.chunker.Write(pcm)
}

// SessionID identifies the utterance's worker session.
func (u *Utterance) SessionID() string { return u.sess.ID() }

func (u *Utterance) push(chunk []byte) {
	res, err := u.sess.Push(context.Background(), chunk)
	if err != nil {
		u.mu.Lock()
		if u.pushErr == nil {
			u.pushErr = err
		}
		u.mu.Unlock()
		u.svc.log.Warn("push failed",
			slog.String("session_id", u.sess.ID()),
			slog.String("error", err.Error()))
		return
	}
	u.handlePush(res)
}

func (u *Utterance) handlePush(res protocol.PushResult) {
	s := u.svc
	switch res.Kind {
	case protocol.KindPartial:
		if s.partials != nil {
			s.partials.Add(context.Background(), 1)
		}
		u.applyActions(context.Background(), []protocol.Action{{Type: protocol.ActionSetComposition, Text: res.Text}})
		s.publish(history.KindPartial, u.sess.ID(), res.Text, u.model)
	case protocol.KindFinal:
		// Mid-stream commit after an endpoint: the worker already turned the
		// segment into actions.
		acts := res.Actions
		if len(acts) == 0 && res.CommittedText != "" {
			acts = s.interp.Interpret(res.CommittedText)
		}
		u.applyActions(context.Background(), acts)
		text := res.CommittedText
		if text == "" {
			text = res.Text
		}
		s.publish(history.KindFinal, u.sess.ID(), text, u.model)
		s.record(history.KindFinal, u.sess.ID(), text, u.model)
	}
}

// Finish flushes remaining audio, finalizes the worker session, and applies
// the closing actions. A transcript interpreted host-side covers workers
// that return only text.
func (u *Utterance) Finish(ctx context.Context) (Result, error) {
	if err := u.chunker.Flush(); err != nil {
		u.svc.log.Warn("flush failed", slog.String("error", err.Error()))
	}
	u.chunker.Close()

	fin, err := u.sess.Finalize(ctx)
	if err != nil {
		return Result{SessionID: u.sess.ID()}, err
	}

	acts := fin.Actions
	if len(acts) == 0 && fin.Text != "" {
		acts = u.svc.interp.Interpret(fin.Text)
	}
	u.applyActions(ctx, acts)
	u.svc.publish(history.KindFinal, u.sess.ID(), fin.Text, u.model)
	u.svc.record(history.KindFinal, u.sess.ID(), fin.Text, u.model)

	u.mu.Lock()
	pushErr := u.pushErr
	u.mu.Unlock()

	u.svc.log.Info("utterance finished",
		slog.String("session_id", u.sess.ID()),
		slog.Int("actions", len(acts)))
	return Result{SessionID: u.sess.ID(), Text: fin.Text, Actions: acts}, pushErr
}

// Abort drops buffered audio and releases the worker session.
func (u *Utterance) Abort(ctx context.Context) {
	u.chunker.Close()
	if _, err := u.sess.Finalize(ctx); err != nil {
		u.svc.log.Warn("abort finalize failed",
			slog.String("session_id", u.sess.ID()),
			slog.String("error", err.Error()))
	}
}

func (u *Utterance) applyActions(ctx context.Context, acts []protocol.Action) {
	if len(acts) == 0 {
		return
	}
	if err := u.svc.injector.Apply(ctx, acts); err != nil {
		if u.svc.injectErrs != nil {
			u.svc.injectErrs.Add(ctx, 1)
		}
		u.svc.log.Warn("inject failed",
			slog.String("session_id", u.sess.ID()),
			slog.String("error", err.Error()))
	}
}

func (s *Service) publish(kind, sessionID, text, model string) {
	if s.bus == nil || text == "" {
		return
	}
	evt := bus.TranscriptEvent{SessionID: sessionID, Kind: kind, Text: text, Model: model}
	if err := s.bus.PublishTranscript(evt); err != nil {
		s.log.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

func (s *Service) record(kind, sessionID, text, model string) {
	if s.recorder == nil || text == "" {
		return
	}
	tr := history.Transcript{SessionID: sessionID, Kind: kind, Text: text, Model: model}
	if err := s.recorder.AppendTranscript(context.Background(), tr); err != nil {
		s.log.Warn("failed to record transcript", slog.String("error", err.Error()))
	}
}
