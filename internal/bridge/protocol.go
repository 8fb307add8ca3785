package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type wireCommand struct {
	Command Operation   `json:"command"`
	Data    [][]float64 `json:"data"`
	Labels  []int64     `json:"labels,omitempty"`
	Epochs  *int        `json:"epochs,omitempty"`
}

const replyStatusError = "error"

var errNotObject = errors.New("reply is not a json object")

// EncodeCommand renders cmd as a single json line. Runners read exactly one line
// from stdin, so the encoding never contains a raw newline except the terminator.
func EncodeCommand(cmd Command) ([]byte, error) {
	wire := wireCommand{
		Command: cmd.Operation,
		Data:    cmd.Samples,
		Labels:  cmd.Labels,
	}
	if cmd.Operation == Train {
		epochs := cmd.Epochs
		wire.Epochs = &epochs
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s command: %w", cmd.Operation, err)
	}
	return append(data, '\n'), nil
}

// DecodeReply parses one runner reply. Unknown fields are ignored; a reply with
// status "error" is a failure, any other object is returned verbatim as the result.
func DecodeReply(raw []byte) (RunnerReply, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return RunnerReply{}, &MalformedReplyError{Raw: string(raw), Err: errNotObject}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return RunnerReply{}, &MalformedReplyError{Raw: string(raw), Err: err}
	}

	if stringField(fields, "status") == replyStatusError {
		msg := stringField(fields, "message")
		if msg == "" {
			msg = "runner reported an unspecified error"
		}
		return RunnerReply{Failure: &ReplyFailure{Message: msg}}, nil
	}

	result := make(json.RawMessage, len(trimmed))
	copy(result, trimmed)
	return RunnerReply{Result: result}, nil
}

// stringField returns fields[key] when it holds a json string, "" otherwise.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
