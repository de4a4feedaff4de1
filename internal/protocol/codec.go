package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a line that did not parse into the expected shape.
// Repeated occurrences usually mean a host/worker protocol version mismatch.
var ErrMalformed = errors.New("malformed message")

// EncodeLine renders v as exactly one JSON line terminated by '\n'.
// The encoding never contains an unescaped line terminator, so the wire
// stream can be split on '\n' boundaries without further framing.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return nil, fmt.Errorf("encode line: embedded line terminator")
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses one line (terminator excluded) as a Request.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := unmarshalLine(line, &req); err != nil {
		return Request{}, err
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: request without method", ErrMalformed)
	}
	return req, nil
}

// DecodeResponse parses one line (terminator excluded) as a Response.
func DecodeResponse(line []byte) (Response, error) {
	var resp Response
	if err := unmarshalLine(line, &resp); err != nil {
		return Response{}, err
	}
	if resp.ID == "" {
		return Response{}, fmt.Errorf("%w: response without id", ErrMalformed)
	}
	return resp, nil
}

func unmarshalLine(line []byte, v any) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return fmt.Errorf("%w: empty line", ErrMalformed)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
