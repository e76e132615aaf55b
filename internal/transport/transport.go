// Package transport is the boundary to whatever produces model output. The
// core only needs a stream of text fragments that ends in nil or an error.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Request is one turn's input.
type Request struct {
	Prompt string
	// Files narrows the turn to a set of workspace-relative paths.
	Files []string
}

// Transport streams a model response. onFragment is called in order from a
// single goroutine; Stream returns nil on completion.
type Transport interface {
	Stream(ctx context.Context, req Request, onFragment func(string)) error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req Request, onFragment func(string)) error

func (f Func) Stream(ctx context.Context, req Request, onFragment func(string)) error {
	return f(ctx, req, onFragment)
}

// StatusError is an HTTP-class failure reported by a transport.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

// Kind is a transport failure class.
type Kind int

const (
	KindNetwork Kind = iota
	KindCancelled
	KindTimeout
	KindRateLimited
	KindServer
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "network"
	}
}

// Class is the central classification of a transport error. Retryable only
// informs the caller; nothing retries automatically.
type Class struct {
	Kind      Kind
	Retryable bool
	Message   string
}

// statusOverloaded is the non-standard "overloaded" status some model APIs use.
const statusOverloaded = 529

// Classify maps a transport error to a user-facing class.
func Classify(err error) Class {
	if errors.Is(err, context.Canceled) {
		return Class{Kind: KindCancelled, Message: "Request was cancelled."}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Class{Kind: KindTimeout, Retryable: true, Message: "The model did not respond in time. Try again."}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Class{Kind: KindTimeout, Retryable: true, Message: "The model did not respond in time. Try again."}
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			msg := "Rate limited by the model provider. Wait and retry."
			if se.RetryAfter > 0 {
				msg = fmt.Sprintf("Rate limited by the model provider. Retry in %s.", se.RetryAfter.Round(time.Second))
			}
			return Class{Kind: KindRateLimited, Retryable: true, Message: msg}
		case se.StatusCode == statusOverloaded:
			return Class{Kind: KindServer, Retryable: true, Message: "The model provider is overloaded. Try again shortly."}
		case se.StatusCode >= 500:
			return Class{Kind: KindServer, Retryable: true, Message: fmt.Sprintf("The model provider failed (HTTP %d). Try again.", se.StatusCode)}
		case se.StatusCode >= 400:
			return Class{Kind: KindClient, Message: fmt.Sprintf("The request was rejected (HTTP %d): %s", se.StatusCode, firstLine(se.Body))}
		}
	}

	msg := "Could not reach the model provider."
	if err != nil {
		msg = fmt.Sprintf("Could not reach the model provider: %v", err)
	}
	return Class{Kind: KindNetwork, Retryable: true, Message: msg}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no details"
	}
	return s
}

// Replay streams a fixed response in rune-sized chunks. It stands in for a
// live model when the response text already exists.
type Replay struct {
	Text string
	// ChunkRunes is the fragment size; values below 1 mean one rune.
	ChunkRunes int
	// Interval is the delay between fragments. Zero sends without pausing.
	Interval time.Duration
	// Err, when set, is returned after the text has been sent.
	Err error
}

func (r *Replay) Stream(ctx context.Context, _ Request, onFragment func(string)) error {
	for _, chunk := range Chunk(r.Text, r.ChunkRunes) {
		if r.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Interval):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		onFragment(chunk)
	}
	return r.Err
}

// Chunk splits text into pieces of at most n runes without splitting a
// multi-byte character.
func Chunk(text string, n int) []string {
	if n < 1 {
		n = 1
	}
	var chunks []string
	for len(text) > 0 {
		end, count := 0, 0
		for end < len(text) && count < n {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
			count++
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks
}
