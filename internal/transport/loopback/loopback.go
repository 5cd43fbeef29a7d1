// Package loopback links two in-process transport endpoints. Activation,
// reachability and guaranteed delivery are driven by hand, which makes it
// the transport of choice for synchronizer tests.
package loopback

import (
	"context"
	"sync"

	"github.com/fentz26/streaks/internal/transport"
)

const eventBuffer = 256

// link is the state shared by both ends.
type link struct {
	mu        sync.Mutex
	reachable bool
	hold      bool
}

// Endpoint is one side of a pair.
type Endpoint struct {
	name string
	link *link
	peer *Endpoint

	mu      sync.Mutex
	state   transport.ActivationState
	closed  bool
	outbox  []byte // latest guaranteed payload not yet delivered
	replies [][]byte
	events  chan transport.Event
}

var _ transport.Transport = (*Endpoint)(nil)

// Pair returns two linked endpoints. Both start not activated and
// unreachable.
func Pair() (*Endpoint, *Endpoint) {
	l := &link{}
	a := &Endpoint{name: "a", link: l, events: make(chan transport.Event, eventBuffer)}
	b := &Endpoint{name: "b", link: l, events: make(chan transport.Event, eventBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

// Activate moves the endpoint to Activating. Call CompleteActivation to
// finish.
func (e *Endpoint) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return transport.ErrClosed
	}
	if e.state == transport.NotActivated {
		e.state = transport.Activating
	}
	return nil
}

// CompleteActivation marks the endpoint Activated, emits
// ActivationCompleted and delivers any guaranteed payload the peer
// published in the meantime.
func (e *Endpoint) CompleteActivation() {
	e.mu.Lock()
	e.state = transport.Activated
	e.mu.Unlock()
	e.emit(transport.Event{Kind: transport.ActivationCompleted})
	e.peer.deliverGuaranteed()
}

func (e *Endpoint) State() transport.ActivationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) Reachable() bool {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	return e.link.reachable
}

// SetReachable flips reachability for both ends and emits
// ReachabilityChanged on each.
func (e *Endpoint) SetReachable(reachable bool) {
	e.link.mu.Lock()
	changed := e.link.reachable != reachable
	e.link.reachable = reachable
	e.link.mu.Unlock()
	if !changed {
		return
	}
	ev := transport.Event{Kind: transport.ReachabilityChanged, Reachable: reachable}
	e.emit(ev)
	e.peer.emit(ev)
}

// HoldGuaranteed delays guaranteed delivery in both directions until it is
// called again with false.
func (e *Endpoint) HoldGuaranteed(hold bool) {
	e.link.mu.Lock()
	e.link.hold = hold
	e.link.mu.Unlock()
	if !hold {
		e.deliverGuaranteed()
		e.peer.deliverGuaranteed()
	}
}

// SendInstant hands payload to the peer as an InstantMessage. The peer's
// reply is recorded and can be read with Replies.
func (e *Endpoint) SendInstant(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.isClosed() {
		return transport.ErrClosed
	}
	if !e.Reachable() {
		return transport.ErrUnreachable
	}
	data := append([]byte(nil), payload...)
	e.peer.emit(transport.NewInstant(data, func(reply []byte) {
		e.mu.Lock()
		e.replies = append(e.replies, reply)
		e.mu.Unlock()
	}))
	return nil
}

// PublishGuaranteed replaces the undelivered payload and delivers it if the
// peer is activated and delivery is not held.
func (e *Endpoint) PublishGuaranteed(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return transport.ErrClosed
	}
	e.outbox = append([]byte(nil), payload...)
	e.mu.Unlock()
	e.deliverGuaranteed()
	return nil
}

// Pending returns the guaranteed payload that has not reached the peer yet.
func (e *Endpoint) Pending() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbox
}

// Replies returns the instant replies received so far.
func (e *Endpoint) Replies() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.replies...)
}

func (e *Endpoint) Events() <-chan transport.Event {
	return e.events
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

func (e *Endpoint) deliverGuaranteed() {
	e.link.mu.Lock()
	hold := e.link.hold
	e.link.mu.Unlock()
	if hold || e.peer.State() != transport.Activated {
		return
	}

	e.mu.Lock()
	payload := e.outbox
	e.outbox = nil
	e.mu.Unlock()
	if payload == nil {
		return
	}
	e.peer.emit(transport.Event{Kind: transport.GuaranteedState, Payload: payload})
}

func (e *Endpoint) emit(ev transport.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.events <- ev
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
