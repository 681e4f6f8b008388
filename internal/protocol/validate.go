package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned for a frame of unexpected shape.
var ErrMalformedFrame = errors.New("malformed frame")

var validServerTypes = map[string]bool{
	TypeStdout: true,
	TypeStderr: true,
	TypeExit:   true,
}

var validClientTypes = map[string]bool{
	TypeStart: true,
	TypeStdin: true,
}

// DecodeServerFrame validates a raw frame sent by the execution server.
func DecodeServerFrame(raw []byte) (Frame, error) {
	f, err := decode(raw, validServerTypes)
	if err != nil {
		return Frame{}, err
	}
	if f.Type == TypeExit && f.Code == nil {
		return Frame{}, fmt.Errorf("%w: missing 'code' in %s frame", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// DecodeClientFrame validates a raw frame sent by a playground client.
func DecodeClientFrame(raw []byte) (Frame, error) {
	f, err := decode(raw, validClientTypes)
	if err != nil {
		return Frame{}, err
	}
	if f.Type == TypeStart && f.EntryFile == "" {
		return Frame{}, fmt.Errorf("%w: missing 'entryFile' in %s frame", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

func decode(raw []byte, allowed map[string]bool) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing 'type' field", ErrMalformedFrame)
	}
	if !allowed[f.Type] {
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}
