package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/michaelbrown/playground/internal/workspace"
)

func TestDecodeServerFrame_Valid(t *testing.T) {
	tests := []struct {
		raw      string
		wantType string
	}{
		{`{"type":"stdout","data":"hi\n"}`, TypeStdout},
		{`{"type":"stderr","data":"boom"}`, TypeStderr},
		{`{"type":"exit","code":0}`, TypeExit},
		{`{"type":"exit","code":137,"extra":true}`, TypeExit},
	}
	for _, tt := range tests {
		f, err := DecodeServerFrame([]byte(tt.raw))
		if err != nil {
			t.Errorf("DecodeServerFrame(%s): %v", tt.raw, err)
			continue
		}
		if f.Type != tt.wantType {
			t.Errorf("type = %s, want %s", f.Type, tt.wantType)
		}
	}
}

func TestDecodeServerFrame_ExitCode(t *testing.T) {
	f, err := DecodeServerFrame([]byte(`{"type":"exit","code":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Code == nil || *f.Code != 3 {
		t.Errorf("code = %v, want 3", f.Code)
	}
}

func TestDecodeServerFrame_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":       `{nope`,
		"missing type":   `{"data":"x"}`,
		"unknown type":   `{"type":"bell"}`,
		"client type":    `{"type":"stdin","data":"x"}`,
		"exit sans code": `{"type":"exit"}`,
		"array":          `[1,2]`,
	}
	for name, raw := range tests {
		_, err := DecodeServerFrame([]byte(raw))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: error = %v, want ErrMalformedFrame", name, err)
		}
	}
}

func TestDecodeClientFrame(t *testing.T) {
	raw, err := Encode(StartFrame(workspace.Default()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame: %v", err)
	}
	if f.EntryFile != workspace.DefaultFileName || len(f.Files) != 1 {
		t.Errorf("start frame = %+v", f)
	}

	if _, err := DecodeClientFrame([]byte(`{"type":"start","files":{}}`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("start without entry: error = %v", err)
	}
	if _, err := DecodeClientFrame([]byte(`{"type":"stdout","data":"x"}`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("server type accepted from client: %v", err)
	}
}

func TestEncodeOmitsUnusedFields(t *testing.T) {
	raw, err := Encode(StdinFrame("42\n"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := string(raw); got != `{"type":"stdin","data":"42\n"}` {
		t.Errorf("stdin frame = %s", got)
	}

	raw, _ = Encode(ExitFrame(0))
	if !strings.Contains(string(raw), `"code":0`) {
		t.Errorf("exit frame lost zero code: %s", raw)
	}
}
