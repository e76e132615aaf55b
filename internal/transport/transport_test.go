package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"cancelled", fmt.Errorf("stream: %w", context.Canceled), KindCancelled, false},
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"net timeout", timeoutErr{}, KindTimeout, true},
		{"rate limited", &StatusError{StatusCode: 429}, KindRateLimited, true},
		{"overloaded", &StatusError{StatusCode: 529}, KindServer, true},
		{"server", fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 502}), KindServer, true},
		{"client", &StatusError{StatusCode: 401, Body: "invalid key\nmore"}, KindClient, false},
		{"network", errors.New("connection refused"), KindNetwork, true},
	}
	messages := map[string]Kind{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			if c.Kind != tt.kind || c.Retryable != tt.retryable {
				t.Errorf("Classify = %+v, want kind %s retryable %v", c, tt.kind, tt.retryable)
			}
			if c.Message == "" {
				t.Errorf("empty message")
			}
			if k, ok := messages[c.Message]; ok && k != c.Kind {
				t.Errorf("kinds %s and %s share message %q", k, c.Kind, c.Message)
			}
			messages[c.Message] = c.Kind
		})
	}
	if c := Classify(&StatusError{StatusCode: 401, Body: "invalid key\nmore"}); !strings.Contains(c.Message, "invalid key") || strings.Contains(c.Message, "more") {
		t.Errorf("client message = %q", c.Message)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	if got := (&StatusError{StatusCode: 500}).Error(); got != "http 500" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&StatusError{StatusCode: 400, Body: " bad "}).Error(); got != "http 400: bad" {
		t.Errorf("Error() = %q", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk("héllo", 2)
	if strings.Join(got, "|") != "hé|ll|o" {
		t.Errorf("Chunk = %q", got)
	}
	if len(Chunk("", 3)) != 0 {
		t.Errorf("empty text produced chunks")
	}
	if len(Chunk("abc", 0)) != 3 {
		t.Errorf("n < 1 should chunk by rune")
	}
}

func TestReplay(t *testing.T) {
	r := &Replay{Text: "BEGIN FILE a\nx\nEND FILE\n", ChunkRunes: 4}
	var b strings.Builder
	if err := r.Stream(context.Background(), Request{}, func(s string) { b.WriteString(s) }); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if b.String() != r.Text {
		t.Errorf("replayed %q", b.String())
	}

	want := &StatusError{StatusCode: 503}
	r = &Replay{Text: "x", Err: want}
	if err := r.Stream(context.Background(), Request{}, func(string) {}); !errors.Is(err, want) {
		t.Errorf("Stream error = %v, want %v", err, want)
	}
}

func TestReplayCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Replay{Text: strings.Repeat("x", 100), Interval: time.Millisecond}
	n := 0
	err := r.Stream(ctx, Request{}, func(string) {
		n++
		if n == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream error = %v, want context.Canceled", err)
	}
	if n != 3 {
		t.Errorf("fragments after cancel: got %d", n)
	}
}
