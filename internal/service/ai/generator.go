package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
)

// Backend identifies one of the supported generation providers. The choice is
// made once at session activation and never changes for the session's
// lifetime.
type Backend int

const (
	BackendOpenAI Backend = iota
	BackendAnthropic
	BackendArk
)

// String returns the stable identifier used in config and session state.
func (b Backend) String() string {
	switch b {
	case BackendOpenAI:
		return "openai"
	case BackendAnthropic:
		return "anthropic"
	case BackendArk:
		return "ark"
	default:
		return "unknown"
	}
}

// Label returns the user-facing name announced on activation.
func (b Backend) Label() string {
	switch b {
	case BackendOpenAI:
		return "ChatGPT"
	case BackendAnthropic:
		return "Anthropic AI"
	case BackendArk:
		return "Ark"
	default:
		return "AI"
	}
}

// ParseBackend maps a stored identifier back to its Backend.
func ParseBackend(s string) (Backend, bool) {
	switch s {
	case "openai":
		return BackendOpenAI, true
	case "anthropic":
		return BackendAnthropic, true
	case "ark":
		return BackendArk, true
	default:
		return 0, false
	}
}

// FailKind classifies a generation failure. Workers use it only to pick the
// user-visible notice; control flow is the same for every kind.
type FailKind int

const (
	FailNetwork FailKind = iota
	FailUpstream
	FailMalformed
)

// Error is the typed result of a failed generation call.
type Error struct {
	Kind    FailKind
	Backend Backend
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps a provider error, separating network-level failures from
// upstream ones.
func classify(backend Backend, err error) *Error {
	kind := FailUpstream
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		kind = FailNetwork
	}
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// malformed marks a response the provider returned but we cannot use.
func malformed(backend Backend, reason string) *Error {
	return &Error{Kind: FailMalformed, Backend: backend, Err: errors.New(reason)}
}

// Reply is a successful generation result. Cost is the provider-reported
// token total when available, otherwise a length-based estimate.
type Reply struct {
	Text string
	Cost int64
}

// Generator is the single capability the worker invokes. Implementations may
// suspend on network I/O; they never retry.
type Generator interface {
	Backend() Backend
	Generate(ctx context.Context, history []convo.Turn, text string) (Reply, error)
}

// EstimateCost approximates the quota cost of a piece of text. Rough
// four-characters-per-token proxy; exactness is not a goal.
func EstimateCost(text string) int64 {
	return int64(len(text)/4) + 1
}

const systemPrompt = "You are a helpful assistant chatting with a user. Keep replies concise and conversational."
