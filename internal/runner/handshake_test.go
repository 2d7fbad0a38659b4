package runner

import (
	"errors"
	"testing"
	"unicode/utf8"
)

func TestParseReady(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		port    int
		wantErr bool
	}{
		{name: "ready", line: `{"status":"ready","port":8080}` + "\n", port: 8080},
		{name: "crlf", line: `{"status":"ready","port":1}` + "\r\n", port: 1},
		{name: "extra fields", line: `{"status":"ready","port":65535,"version":"0.3.1"}`, port: 65535},
		{name: "not json", line: "server starting", wantErr: true},
		{name: "wrong status", line: `{"status":"loading","port":8080}`, wantErr: true},
		{name: "missing port", line: `{"status":"ready"}`, wantErr: true},
		{name: "zero port", line: `{"status":"ready","port":0}`, wantErr: true},
		{name: "port too large", line: `{"status":"ready","port":70000}`, wantErr: true},
		{name: "array", line: `["ready"]`, wantErr: true},
		{name: "null", line: `null`, wantErr: true},
		{name: "blank line", line: "\n", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseReady(tc.line)
			if tc.wantErr {
				if !errors.Is(err, ErrUnexpectedReadySignal) {
					t.Fatalf("expected ErrUnexpectedReadySignal, got %v", err)
				}
				var startErr *StartError
				if !errors.As(err, &startErr) {
					t.Fatalf("expected *StartError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReady returned error: %v", err)
			}
			if msg.Status != ReadyStatus || msg.Port != tc.port {
				t.Fatalf("unexpected message %+v", msg)
			}
		})
	}
}

func TestStartErrorMessage(t *testing.T) {
	err := &StartError{Kind: ErrPrematureExit, Detail: "model not found"}
	if got := err.Error(); got != "sona exited before ready signal: model not found" {
		t.Fatalf("unexpected message %q", got)
	}
	cause := errors.New("read failed")
	wrapped := &StartError{Kind: ErrPrematureExit, Err: cause}
	if !errors.Is(wrapped, cause) || !errors.Is(wrapped, ErrPrematureExit) {
		t.Fatal("expected both kind and cause to match")
	}
}

func TestTailBufferKeepsNewestLines(t *testing.T) {
	tail := newTailBuffer(12)
	for _, line := range []string{"one", "two", "three", "four"} {
		tail.add(line)
	}
	if got := tail.String(); got != "three\nfour" {
		t.Fatalf("unexpected tail %q", got)
	}
	tail.add("a-very-long-line-indeed")
	if got := tail.String(); got != "-line-indeed" {
		t.Fatalf("overlong line should be truncated to the limit, got %q", got)
	}
}

func TestTailBufferTrimsOnRuneBoundary(t *testing.T) {
	tail := newTailBuffer(5)
	// "é" is two bytes; a byte cut at len-5 would split it.
	tail.add("xxé1234")
	got := tail.String()
	if !utf8.ValidString(got) {
		t.Fatalf("tail is not valid UTF-8: %q", got)
	}
	if got != "1234" {
		t.Fatalf("unexpected tail %q", got)
	}
}
