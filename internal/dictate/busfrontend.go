package dictate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/jotlabs/jot-core/internal/bus"
)

// Control subjects accepted by the bus frontend.
const (
	SubjectControlStart = "dictation.control.start"
	SubjectControlStop  = "dictation.control.stop"
	SubjectAudio        = "dictation.audio"
)

type startReply struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

type audioFrame struct {
	AudioB64 string `json:"audio_b64"`
}

type stopReply struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BusFrontend drives the dictation service from the bus, so any local
// producer can start an utterance, stream PCM frames, and collect the final
// transcript. One utterance is active at a time; a start while another
// utterance is open finishes the old one first.
type BusFrontend struct {
	svc *Service
	bus *bus.Client
	log *slog.Logger

	mu      sync.Mutex
	current *Utterance
	subs    []*nats.Subscription
}

func NewBusFrontend(svc *Service, busClient *bus.Client, log *slog.Logger) *BusFrontend {
	return &BusFrontend{
		svc: svc,
		bus: busClient,
		log: log.With(slog.String("component", "dictate-frontend")),
	}
}

func (f *BusFrontend) Start() error {
	conn := f.bus.Conn()
	for subject, handler := range map[string]nats.MsgHandler{
		SubjectControlStart: f.handleStart,
		SubjectAudio:        f.handleAudio,
		SubjectControlStop:  f.handleStop,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			f.Close()
			return err
		}
		f.subs = append(f.subs, sub)
	}
	return nil
}

func (f *BusFrontend) Close() {
	for _, sub := range f.subs {
		_ = sub.Drain()
	}
	f.subs = nil

	f.mu.Lock()
	current := f.current
	f.current = nil
	f.mu.Unlock()
	if current != nil {
		current.Abort(context.Background())
	}
}

func (f *BusFrontend) handleStart(msg *nats.Msg) {
	f.mu.Lock()
	stale := f.current
	f.current = nil
	f.mu.Unlock()
	if stale != nil {
		f.log.Warn("start received with utterance open, finishing previous",
			slog.String("session_id", stale.SessionID()))
		if _, err := stale.Finish(context.Background()); err != nil {
			f.log.Warn("failed to finish stale utterance", slog.String("error", err.Error()))
		}
	}

	u, err := f.svc.BeginUtterance(context.Background())
	if err != nil {
		f.log.Warn("failed to start utterance", slog.String("error", err.Error()))
		f.reply(msg, startReply{Error: err.Error()})
		return
	}
	f.mu.Lock()
	f.current = u
	f.mu.Unlock()
	f.reply(msg, startReply{SessionID: u.SessionID()})
}

func (f *BusFrontend) handleAudio(msg *nats.Msg) {
	f.mu.Lock()
	current := f.current
	f.mu.Unlock()
	if current == nil {
		return
	}

	var frame audioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		f.log.Warn("invalid audio frame", slog.String("error", err.Error()))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(frame.AudioB64)
	if err != nil {
		f.log.Warn("invalid audio payload", slog.String("error", err.Error()))
		return
	}
	if err := current.Feed(pcm); err != nil {
		f.log.Warn("failed to feed audio", slog.String("error", err.Error()))
	}
}

func (f *BusFrontend) handleStop(msg *nats.Msg) {
	f.mu.Lock()
	current := f.current
	f.current = nil
	f.mu.Unlock()
	if current == nil {
		f.reply(msg, stopReply{Error: "no utterance in progress"})
		return
	}

	res, err := current.Finish(context.Background())
	if err != nil {
		f.reply(msg, stopReply{SessionID: res.SessionID, Error: err.Error()})
		return
	}
	f.reply(msg, stopReply{SessionID: res.SessionID, Text: res.Text})
}

func (f *BusFrontend) reply(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Warn("failed to encode reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		f.log.Warn("failed to send reply", slog.String("error", err.Error()))
	}
}
