// Package wsnet links two replicas over a single websocket connection.
//
// Either side may dial; the side without a peer URL only accepts through
// Handler. Frames are binary with a one byte type prefix. The latest
// guaranteed payload is kept and resent on every new connection.
package wsnet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fentz26/streaks/internal/transport"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	frameInstant    byte = 'I'
	frameGuaranteed byte = 'G'
	frameReply      byte = 'R'

	maxFrameSize = 8 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Config configures a Transport.
type Config struct {
	// PeerURL is the peer's websocket endpoint, e.g. ws://host:7466/peer/ws.
	// Empty means accept only.
	PeerURL string

	WriteTimeout time.Duration
	PingInterval time.Duration

	// RedialEvery paces reconnect attempts.
	RedialEvery time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.RedialEvery <= 0 {
		c.RedialEvery = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// peerConn is one live websocket plus the lock serialising its writers.
type peerConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	gone    chan struct{}
	once    sync.Once
}

func (p *peerConn) close() {
	p.once.Do(func() {
		close(p.gone)
		p.ws.Close()
	})
}

// Transport is a websocket implementation of transport.Transport.
type Transport struct {
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	state  transport.ActivationState
	conn   *peerConn
	latest []byte
	closed bool

	emitMu       sync.RWMutex
	eventsClosed bool
	events       chan transport.Event
	done         chan struct{}
	wg           sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport. Nothing happens until Activate.
func New(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "wsnet"),
		limiter: rate.NewLimiter(rate.Every(cfg.RedialEvery), 1),
		events:  make(chan transport.Event, 64),
		done:    make(chan struct{}),
	}
}

// Activate starts the dial loop when a peer URL is configured and reports
// ActivationCompleted.
func (t *Transport) Activate(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.state != transport.NotActivated {
		t.mu.Unlock()
		return nil
	}
	t.state = transport.Activating
	dial := t.cfg.PeerURL != ""
	if dial {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if dial {
		go t.dialLoop()
	}

	t.mu.Lock()
	t.state = transport.Activated
	t.mu.Unlock()
	t.emit(transport.Event{Kind: transport.ActivationCompleted})
	return nil
}

func (t *Transport) State() transport.ActivationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// SendInstant writes an instant frame to the live connection.
func (t *Transport) SendInstant(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	pc := t.conn
	t.mu.Unlock()
	if pc == nil {
		return transport.ErrUnreachable
	}
	return t.write(ctx, pc, frameInstant, payload)
}

// PublishGuaranteed stores payload as the latest state and writes it if a
// connection is up. A failed write is not an error: the payload is resent
// on the next connection.
func (t *Transport) PublishGuaranteed(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.latest = append([]byte(nil), payload...)
	pc := t.conn
	t.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := t.write(ctx, pc, frameGuaranteed, payload); err != nil {
		t.log.Warn("guaranteed write failed, will resend on reconnect", "error", err)
	}
	return nil
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close drops the connection, stops the dial loop and closes Events.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pc := t.conn
	t.conn = nil
	close(t.done)
	t.mu.Unlock()

	if pc != nil {
		pc.close()
	}
	t.wg.Wait()

	t.emitMu.Lock()
	t.eventsClosed = true
	close(t.events)
	t.emitMu.Unlock()
	return nil
}

// Handler accepts the peer's incoming connection.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.log.Error("failed to upgrade peer websocket", "error", err)
			return
		}
		if _, err := t.attach(ws); err != nil {
			ws.Close()
			return
		}
		t.log.Info("peer connected", "remote", r.RemoteAddr)
	})
}

func (t *Transport) dialLoop() {
	defer t.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.done
		cancel()
	}()

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
		t.mu.Lock()
		pc := t.conn
		t.mu.Unlock()
		if pc != nil {
			select {
			case <-pc.gone:
				continue
			case <-ctx.Done():
				return
			}
		}

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.PeerURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Debug("dial peer failed", "url", t.cfg.PeerURL, "error", err)
			continue
		}
		if _, err := t.attach(ws); err != nil {
			ws.Close()
			return
		}
		t.log.Info("connected to peer", "url", t.cfg.PeerURL)
	}
}

// attach makes ws the live connection, replacing any older one, resends
// the latest guaranteed payload and starts the reader.
func (t *Transport) attach(ws *websocket.Conn) (*peerConn, error) {
	ws.SetReadLimit(maxFrameSize)
	pc := &peerConn{ws: ws, gone: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	old := t.conn
	t.conn = pc
	latest := t.latest
	t.wg.Add(2)
	t.mu.Unlock()

	if old != nil {
		old.close()
	} else {
		t.emit(transport.Event{Kind: transport.ReachabilityChanged, Reachable: true})
	}

	go t.readLoop(pc)
	go t.pingLoop(pc)

	if latest != nil {
		if err := t.write(context.Background(), pc, frameGuaranteed, latest); err != nil {
			t.log.Warn("resend of guaranteed state failed", "error", err)
		}
	}
	return pc, nil
}

// detach clears pc if it is still the live connection.
func (t *Transport) detach(pc *peerConn) {
	pc.close()
	t.mu.Lock()
	current := t.conn == pc
	if current {
		t.conn = nil
	}
	closed := t.closed
	t.mu.Unlock()
	if current && !closed {
		t.log.Info("peer disconnected")
		t.emit(transport.Event{Kind: transport.ReachabilityChanged, Reachable: false})
	}
}

func (t *Transport) readLoop(pc *peerConn) {
	defer t.wg.Done()
	defer t.detach(pc)

	deadline := 2 * t.cfg.PingInterval
	pc.ws.SetReadDeadline(time.Now().Add(deadline))
	pc.ws.SetPongHandler(func(string) error {
		return pc.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		kind, data, err := pc.ws.ReadMessage()
		if err != nil {
			t.log.Debug("peer read ended", "error", err)
			return
		}
		pc.ws.SetReadDeadline(time.Now().Add(deadline))
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		payload := data[1:]
		switch data[0] {
		case frameInstant:
			t.emit(transport.NewInstant(payload, func(reply []byte) {
				if err := t.write(context.Background(), pc, frameReply, reply); err != nil {
					t.log.Debug("instant reply failed", "error", err)
				}
			}))
		case frameGuaranteed:
			t.emit(transport.Event{Kind: transport.GuaranteedState, Payload: payload})
		case frameReply:
			t.log.Debug("peer acknowledged instant message", "bytes", len(payload))
		default:
			t.log.Warn("unknown frame type", "type", data[0])
		}
	}
}

func (t *Transport) pingLoop(pc *peerConn) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pc.gone:
			return
		case <-ticker.C:
			pc.writeMu.Lock()
			err := pc.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			pc.writeMu.Unlock()
			if err != nil {
				t.detach(pc)
				return
			}
		}
	}
}

func (t *Transport) write(ctx context.Context, pc *peerConn, typ byte, payload []byte) error {
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, typ)
	frame = append(frame, payload...)

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	select {
	case <-pc.gone:
		return transport.ErrUnreachable
	default:
	}
	if err := pc.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := pc.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *Transport) emit(ev transport.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.eventsClosed {
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}
