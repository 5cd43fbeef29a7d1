// Package transport defines the channel between two paired replicas.
//
// A Transport offers two delivery modes. The instant channel delivers a
// payload only while the peer is reachable and expects a synchronous reply.
// The guaranteed channel holds the latest published payload and delivers it
// whenever the peer next connects; a newer publish replaces an undelivered
// older one.
package transport

import (
	"context"
	"errors"
)

// ErrUnreachable is returned by SendInstant when the peer is not connected.
var ErrUnreachable = errors.New("peer is not reachable")

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport is closed")

// ActivationState tracks the transport session lifecycle.
type ActivationState int

const (
	NotActivated ActivationState = iota
	Activating
	Activated
)

func (s ActivationState) String() string {
	switch s {
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	default:
		return "not_activated"
	}
}

// EventKind identifies a transport callback.
type EventKind int

const (
	// ActivationCompleted fires once the session is usable.
	ActivationCompleted EventKind = iota + 1
	// ReachabilityChanged fires when the peer connects or disconnects.
	ReachabilityChanged
	// InstantMessage carries a payload from the peer's instant channel.
	// The receiver must call Respond exactly once.
	InstantMessage
	// GuaranteedState carries the peer's latest guaranteed payload.
	GuaranteedState
)

func (k EventKind) String() string {
	switch k {
	case ActivationCompleted:
		return "activation_completed"
	case ReachabilityChanged:
		return "reachability_changed"
	case InstantMessage:
		return "instant_message"
	case GuaranteedState:
		return "guaranteed_state"
	default:
		return "unknown"
	}
}

// Event is delivered on Transport.Events.
type Event struct {
	Kind      EventKind
	Payload   []byte
	Reachable bool
	Err       error

	reply func([]byte)
}

// NewInstant builds an InstantMessage event whose reply is passed to fn.
func NewInstant(payload []byte, fn func([]byte)) Event {
	return Event{Kind: InstantMessage, Payload: payload, reply: fn}
}

// Respond sends the synchronous reply for an InstantMessage. It is a no-op
// for other kinds.
func (e Event) Respond(payload []byte) {
	if e.reply != nil {
		e.reply(payload)
	}
}

// Transport is implemented by wsnet, filedrop and loopback.
type Transport interface {
	// Activate starts the session. Completion is signalled by an
	// ActivationCompleted event.
	Activate(ctx context.Context) error
	State() ActivationState
	Reachable() bool
	// SendInstant delivers payload now or fails with ErrUnreachable.
	SendInstant(ctx context.Context, payload []byte) error
	// PublishGuaranteed replaces the latest guaranteed payload.
	PublishGuaranteed(ctx context.Context, payload []byte) error
	Events() <-chan Event
	Close() error
}
