package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Methods understood by the speech worker.
const (
	MethodPing           = "ping"
	MethodCapabilities   = "capabilities"
	MethodStreamStart    = "stream_start"
	MethodStreamPush     = "stream_push"
	MethodStreamFinalize = "stream_finalize"
)

// FormatPCMS16LEB64 is the only audio encoding accepted by stream_push:
// base64 of raw little-endian int16 mono PCM.
const FormatPCMS16LEB64 = "pcm_s16le_b64"

// Request is one host-to-worker call. Params values are string-encoded for
// transport uniformity; structured data never nests inside params.
type Request struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
}

// Response answers exactly one Request, matched by id. Exactly one of
// Result/Error carries meaning: ok=true may populate Result, ok=false sets
// Error. Result stays raw here; callers decode it per method.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Err returns the worker-reported failure, or nil for ok responses.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return &RemoteError{Message: r.Error}
}

// RemoteError is a failure reported by the worker inside a response line,
// as opposed to a transport or codec failure on the host side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "worker error"
	}
	return "worker error: " + e.Message
}

// Action kinds produced from a finalized transcript and consumed by the
// text-injection layer.
const (
	ActionInsert                 = "insert"
	ActionDeleteBackward         = "delete_backward"
	ActionDeleteBackwardWord     = "delete_backward_word"
	ActionDeleteBackwardSentence = "delete_backward_sentence"
	ActionClear                  = "clear"
	ActionSetComposition         = "set_composition"
	ActionSystemUndo             = "system_undo"
	ActionSystemRedo             = "system_redo"
)

// Action is one abstract editing operation. Order inside an action list is
// significant; the injector applies actions in sequence.
type Action struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Count int    `json:"count,omitempty"`
}

// PingResult is the payload of a ping response.
type PingResult struct {
	Message string `json:"message"`
	Time    string `json:"time,omitempty"`
}

// StartResult acknowledges stream_start.
type StartResult struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// Transcript kinds carried by a push response.
const (
	KindNone    = "none"
	KindPartial = "partial"
	KindFinal   = "final"
)

// PushResult is the optional transcript payload of a stream_push response.
// Numeric and boolean fields arrive string-encoded, like request params.
type PushResult struct {
	SessionID      string   `json:"session_id"`
	Endpoint       string   `json:"endpoint"`
	SpeechFrames   string   `json:"speech_frames,omitempty"`
	SilenceFrames  string   `json:"silence_frames,omitempty"`
	Text           string   `json:"text"`
	Final          string   `json:"final"`
	Kind           string   `json:"kind"`
	CommittedText  string   `json:"committed_text,omitempty"`
	Actions        []Action `json:"actions"`
	StablePrefix   string   `json:"stable_prefix,omitempty"`
	UnstableSuffix string   `json:"unstable_suffix,omitempty"`
	DeltaFrom      string   `json:"delta_from,omitempty"`
	DeltaDelete    string   `json:"delta_delete,omitempty"`
	DeltaInsert    string   `json:"delta_insert,omitempty"`
}

// IsEndpoint reports whether the worker detected end of utterance.
func (p PushResult) IsEndpoint() bool { return parseWireBool(p.Endpoint) }

// IsFinal reports whether the carried text is a final transcript.
func (p PushResult) IsFinal() bool { return parseWireBool(p.Final) }

// FinalizeResult is the payload of a stream_finalize response.
type FinalizeResult struct {
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Actions   []Action `json:"actions"`
}

// DecodeResult re-establishes a method-specific shape from a raw result.
func DecodeResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty result", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrMalformed, err)
	}
	return nil
}

func parseWireBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
