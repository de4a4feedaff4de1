package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.SampleRateHz != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Session.SampleRateHz)
	}
	if cfg.Capture.Mode != "stream" {
		t.Fatalf("expected default capture mode stream, got %q", cfg.Capture.Mode)
	}
	if cfg.Worker.StartTimeoutMS <= cfg.Worker.PushTimeoutMS {
		t.Fatalf("start timeout should dwarf push timeout: %d vs %d", cfg.Worker.StartTimeoutMS, cfg.Worker.PushTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JOT_WORKER_COMMAND", "python3 -u /opt/jot/speech_service.py")
	t.Setenv("JOT_WORKER_PUSH_TIMEOUT_MS", "2500")
	t.Setenv("JOT_SESSION_SAMPLE_RATE_HZ", "8000")
	t.Setenv("JOT_SESSION_MIXED", "true")
	t.Setenv("JOT_SESSION_MODEL_PATH", "/models/medium")
	t.Setenv("JOT_CAPTURE_MODE", "batch")
	t.Setenv("JOT_CAPTURE_CHUNK_BYTES", "16000")
	t.Setenv("JOT_INJECTOR_MODE", "exec")
	t.Setenv("JOT_INJECTOR_COMMAND", "jot-inject --stdin")
	t.Setenv("JOT_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("JOT_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("JOT_BUS_ENABLED", "true")
	t.Setenv("JOT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("JOT_BUS_EMBEDDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Worker.Command != "python3 -u /opt/jot/speech_service.py" {
		t.Fatalf("expected worker command override, got %q", cfg.Worker.Command)
	}
	if cfg.Worker.PushTimeoutMS != 2500 {
		t.Fatalf("expected push timeout 2500, got %d", cfg.Worker.PushTimeoutMS)
	}
	if cfg.Session.SampleRateHz != 8000 {
		t.Fatalf("expected sample rate override")
	}
	if !cfg.Session.Mixed {
		t.Fatal("expected mixed override true")
	}
	if cfg.Session.ModelPath != "/models/medium" {
		t.Fatalf("expected model path override")
	}
	if cfg.Capture.Mode != "batch" || cfg.Capture.ChunkBytes != 16000 {
		t.Fatalf("expected capture overrides, got %+v", cfg.Capture)
	}
	if cfg.Injector.Mode != "exec" || cfg.Injector.Command != "jot-inject --stdin" {
		t.Fatalf("expected injector overrides, got %+v", cfg.Injector)
	}
	if cfg.History.RetentionMode != "persistent" || cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("JOT_CAPTURE_MODE", "firehose")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad capture mode")
	}
	t.Setenv("JOT_CAPTURE_MODE", "stream")

	t.Setenv("JOT_INJECTOR_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec injector without command")
	}
}
