package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jotlabs/jot-core/internal/actions"
	"github.com/jotlabs/jot-core/internal/capture"
	"github.com/jotlabs/jot-core/internal/config"
	"github.com/jotlabs/jot-core/internal/dictate"
	"github.com/jotlabs/jot-core/internal/inject"
	"github.com/jotlabs/jot-core/internal/worker"
)

// jot-client spawns the configured worker directly and streams a wav file
// through a full dictation session, printing the transcript, the action list
// and the resulting text buffer. Useful for exercising a worker without the
// daemon.
func main() {
	var (
		configPath string
		wavPath    string
		realtime   bool
	)

	flag.StringVar(&configPath, "config", "jot.yaml", "Path to configuration file")
	flag.StringVar(&wavPath, "wav", "", "Path to a 16-bit PCM wav file to stream")
	flag.BoolVar(&realtime, "realtime", false, "Pace chunks at recording speed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if wavPath == "" {
		fmt.Fprintln(os.Stderr, "missing -wav")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config", err)
	}

	pcm, sampleRate, err := capture.ReadWAV(wavPath)
	if err != nil {
		fatal("read wav", err)
	}
	cfg.Session.SampleRateHz = sampleRate

	manager, err := worker.NewManager(cfg.Worker, logger)
	if err != nil {
		fatal("configure worker", err)
	}
	if err := manager.EnsureStarted(); err != nil {
		fatal("start worker", err)
	}
	defer manager.Stop()

	client := worker.NewClient(manager, logger)
	ctx := context.Background()
	pingTimeout := time.Duration(cfg.Worker.PingTimeoutMS) * time.Millisecond
	if _, err := client.Ping(ctx, pingTimeout); err != nil {
		fatal("ping worker", err)
	}

	buffer := inject.NewBuffer()
	svc := dictate.NewService(cfg, client, actions.NewInterpreter(), buffer, nil, nil, nil, logger)

	u, err := svc.BeginUtterance(ctx)
	if err != nil {
		fatal("start utterance", err)
	}
	fmt.Fprintf(os.Stderr, "session %s started, streaming %d bytes\n", u.SessionID(), len(pcm))

	chunk := cfg.Capture.ChunkBytes
	if chunk <= 0 {
		chunk = 9600
	}
	chunkDuration := time.Duration(chunk/2) * time.Second / time.Duration(sampleRate)
	for off := 0; off < len(pcm); off += chunk {
		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := u.Feed(pcm[off:end]); err != nil {
			fatal("feed audio", err)
		}
		if realtime {
			time.Sleep(chunkDuration)
		}
	}

	res, err := u.Finish(ctx)
	if err != nil {
		fatal("finalize", err)
	}

	out := struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
		Buffer    string `json:"buffer"`
		Actions   any    `json:"actions"`
	}{res.SessionID, res.Text, buffer.String(), res.Actions}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal("encode result", err)
	}
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
