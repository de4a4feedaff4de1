package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	AgentName   string          `yaml:"agent_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Worker      WorkerConfig    `yaml:"worker"`
	Session     SessionConfig   `yaml:"session"`
	Capture     CaptureConfig   `yaml:"capture"`
	Injector    InjectorConfig  `yaml:"injector"`
	History     HistoryConfig   `yaml:"history"`
	Packs       PacksConfig     `yaml:"packs"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// WorkerConfig describes the transcription worker subprocess and the
// per-method call deadlines. Start and finalize may pay one-time model load
// cost, so their deadlines are far more generous than ping/push.
type WorkerConfig struct {
	Command           string            `yaml:"command"`
	Env               map[string]string `yaml:"env"`
	PingTimeoutMS     int               `yaml:"ping_timeout_ms"`
	PushTimeoutMS     int               `yaml:"push_timeout_ms"`
	StartTimeoutMS    int               `yaml:"start_timeout_ms"`
	FinalizeTimeoutMS int               `yaml:"finalize_timeout_ms"`
}

type SessionConfig struct {
	SampleRateHz       int    `yaml:"sample_rate_hz"`
	PartialIntervalMS  int    `yaml:"partial_interval_ms"`
	Language           string `yaml:"language"`
	Mixed              bool   `yaml:"mixed"`
	Model              string `yaml:"model"`
	ModelPath          string `yaml:"model_path"`
	Prompt             string `yaml:"prompt"`
	EndSilenceMS       int    `yaml:"end_silence_ms"`
	MaxPartialContextS int    `yaml:"max_partial_context_s"`
	MinPartialSpeechMS int    `yaml:"min_partial_speech_ms"`
}

type CaptureConfig struct {
	Mode       string `yaml:"mode"` // batch, stream
	ChunkBytes int    `yaml:"chunk_bytes"`
	QueueDepth int    `yaml:"queue_depth"`
}

type InjectorConfig struct {
	Mode              string `yaml:"mode"` // buffer, exec
	Command           string `yaml:"command"`
	ClipboardFallback bool   `yaml:"clipboard_fallback"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type PacksConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

func Default() Config {
	return Config{
		AgentName:   "jot-agent",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Worker: WorkerConfig{
			Command:           "python3 ./worker/speech_service.py",
			PingTimeoutMS:     5000,
			PushTimeoutMS:     10000,
			StartTimeoutMS:    180000,
			FinalizeTimeoutMS: 120000,
		},
		Session: SessionConfig{
			SampleRateHz:       16000,
			PartialIntervalMS:  500,
			EndSilenceMS:       450,
			MaxPartialContextS: 20,
			MinPartialSpeechMS: 300,
		},
		Capture: CaptureConfig{
			Mode:       "stream",
			ChunkBytes: 9600,
			QueueDepth: 32,
		},
		Injector: InjectorConfig{
			Mode:              "buffer",
			ClipboardFallback: true,
		},
		History: HistoryConfig{
			Path:          "./data/jot-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Packs: PacksConfig{
			Enabled:   true,
			Directory: "./packs",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AgentName, "JOT_AGENT_NAME")
	overrideString(&cfg.Environment, "JOT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "JOT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "JOT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "JOT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "JOT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "JOT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "JOT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "JOT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "JOT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "JOT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "JOT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "JOT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "JOT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "JOT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "JOT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Worker.Command, "JOT_WORKER_COMMAND")
	overrideInt(&cfg.Worker.PingTimeoutMS, "JOT_WORKER_PING_TIMEOUT_MS")
	overrideInt(&cfg.Worker.PushTimeoutMS, "JOT_WORKER_PUSH_TIMEOUT_MS")
	overrideInt(&cfg.Worker.StartTimeoutMS, "JOT_WORKER_START_TIMEOUT_MS")
	overrideInt(&cfg.Worker.FinalizeTimeoutMS, "JOT_WORKER_FINALIZE_TIMEOUT_MS")
	overrideInt(&cfg.Session.SampleRateHz, "JOT_SESSION_SAMPLE_RATE_HZ")
	overrideInt(&cfg.Session.PartialIntervalMS, "JOT_SESSION_PARTIAL_INTERVAL_MS")
	overrideString(&cfg.Session.Language, "JOT_SESSION_LANGUAGE")
	overrideBool(&cfg.Session.Mixed, "JOT_SESSION_MIXED")
	overrideString(&cfg.Session.Model, "JOT_SESSION_MODEL")
	overrideString(&cfg.Session.ModelPath, "JOT_SESSION_MODEL_PATH")
	overrideString(&cfg.Session.Prompt, "JOT_SESSION_PROMPT")
	overrideInt(&cfg.Session.EndSilenceMS, "JOT_SESSION_END_SILENCE_MS")
	overrideInt(&cfg.Session.MaxPartialContextS, "JOT_SESSION_MAX_PARTIAL_CONTEXT_S")
	overrideInt(&cfg.Session.MinPartialSpeechMS, "JOT_SESSION_MIN_PARTIAL_SPEECH_MS")
	overrideString(&cfg.Capture.Mode, "JOT_CAPTURE_MODE")
	overrideInt(&cfg.Capture.ChunkBytes, "JOT_CAPTURE_CHUNK_BYTES")
	overrideInt(&cfg.Capture.QueueDepth, "JOT_CAPTURE_QUEUE_DEPTH")
	overrideString(&cfg.Injector.Mode, "JOT_INJECTOR_MODE")
	overrideString(&cfg.Injector.Command, "JOT_INJECTOR_COMMAND")
	overrideBool(&cfg.Injector.ClipboardFallback, "JOT_INJECTOR_CLIPBOARD_FALLBACK")
	overrideString(&cfg.History.Path, "JOT_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "JOT_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "JOT_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "JOT_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "JOT_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Packs.Enabled, "JOT_PACKS_ENABLED")
	overrideString(&cfg.Packs.Directory, "JOT_PACKS_DIRECTORY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.AgentName == "" {
		return errors.New("agent_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else {
			if len(cfg.Bus.Servers) == 0 {
				return errors.New("bus.servers must not be empty when embedded mode is disabled")
			}
		}
	}
	if strings.TrimSpace(cfg.Worker.Command) == "" {
		return errors.New("worker.command must not be empty")
	}
	if cfg.Worker.PingTimeoutMS <= 0 || cfg.Worker.PushTimeoutMS <= 0 {
		return errors.New("worker ping/push timeouts must be positive")
	}
	if cfg.Worker.StartTimeoutMS <= 0 || cfg.Worker.FinalizeTimeoutMS <= 0 {
		return errors.New("worker start/finalize timeouts must be positive")
	}
	if cfg.Session.SampleRateHz <= 0 {
		return errors.New("session.sample_rate_hz must be positive")
	}
	if cfg.Session.PartialIntervalMS < 0 {
		return errors.New("session.partial_interval_ms must be >= 0")
	}
	switch cfg.Capture.Mode {
	case "batch", "stream":
	default:
		return errors.New("capture.mode must be one of batch|stream")
	}
	if cfg.Capture.Mode == "stream" && cfg.Capture.ChunkBytes <= 0 {
		return errors.New("capture.chunk_bytes must be positive when mode=stream")
	}
	if cfg.Capture.QueueDepth <= 0 {
		return errors.New("capture.queue_depth must be >= 1")
	}
	switch cfg.Injector.Mode {
	case "buffer", "exec":
	default:
		return errors.New("injector.mode must be one of buffer|exec")
	}
	if cfg.Injector.Mode == "exec" && cfg.Injector.Command == "" {
		return errors.New("injector.command must be set when mode=exec")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Packs.Enabled && cfg.Packs.Directory == "" {
		return errors.New("packs.directory must not be empty when packs are enabled")
	}
	return nil
}
