package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
)

// ConnectionEvent is a lifecycle notification of a Connection.
type ConnectionEvent string

const (
	// EventReady fires after a lost socket was replaced by a new one.
	EventReady ConnectionEvent = "ready"

	// EventDisconnected fires when the socket drops.
	EventDisconnected ConnectionEvent = "disconnected"
)

// Unsubscribe cancels a subscription. It is a no-op once the subscription's
// socket has been replaced.
type Unsubscribe func(ctx context.Context) error

type subscription struct {
	gen     uint64
	handler func(json.RawMessage)
}

// Connection is one authenticated session with the hub. It survives socket
// loss by re-running the handshake with the same credentials and backoff.
//
// Thread Safety: All methods are safe for concurrent use. Event handlers run
// on a single dispatcher goroutine in arrival order.
type Connection struct {
	opener         *socketOpener
	requestTimeout time.Duration
	logger         Logger

	ctx    context.Context //nolint:containedctx // Scopes reconnect attempts, cancelled by Close
	cancel context.CancelFunc

	mu        sync.Mutex
	sock      Socket
	gen       uint64
	nextID    int64
	pending   map[int64]chan envelope
	subs      map[int64]*subscription
	closed    bool
	lastError error

	listenerMu sync.Mutex
	listeners  map[uint64]func(ConnectionEvent)
	nextListen uint64

	events *dispatcher
}

func newConnection(opener *socketOpener, sock Socket, requestTimeout time.Duration, logger Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opener:         opener,
		requestTimeout: requestTimeout,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		sock:           sock,
		gen:            1,
		pending:        make(map[int64]chan envelope),
		subs:           make(map[int64]*subscription),
		listeners:      make(map[uint64]func(ConnectionEvent)),
		events:         newDispatcher(logger),
	}
}

// start launches the read loop and event dispatcher for the first socket.
func (c *Connection) start() {
	go c.events.run()
	go c.readLoop(c.sock, c.gen)
}

// OnLifecycle registers fn for ready/disconnected notifications.
// The returned function removes the registration.
func (c *Connection) OnLifecycle(fn func(ConnectionEvent)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.nextListen++
	id := c.nextListen
	c.listeners[id] = fn
	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

func (c *Connection) emit(ev ConnectionEvent) {
	c.listenerMu.Lock()
	fns := make([]func(ConnectionEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("connection listener panicked", "event", ev, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

// Connected reports whether a socket is currently authenticated.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil && !c.closed
}

// Err returns the error that ended reconnection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Connection) readLoop(sock Socket, gen uint64) {
	for {
		data, err := sock.Read()
		if err != nil {
			c.handleLoss(gen, err)
			return
		}

		envs, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
			continue
		}
		for _, env := range envs {
			c.route(gen, env)
		}
	}
}

func (c *Connection) route(gen uint64, env envelope) {
	switch env.Type {
	case msgResult, msgPong:
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ok {
			ch <- env
		}

	case msgEvent:
		c.mu.Lock()
		sub, ok := c.subs[env.ID]
		c.mu.Unlock()
		if !ok || sub.gen != gen {
			return
		}
		payload := env.Event
		c.events.push(func() { sub.handler(payload) })
	}
}

// handleLoss tears down the state of a dead socket and starts reconnecting.
func (c *Connection) handleLoss(gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.failPendingLocked()
	c.mu.Unlock()

	c.logger.Warn("hub socket lost", "error", cause)
	c.emit(EventDisconnected)

	go c.reconnect()
}

func (c *Connection) reconnect() {
	sock, err := c.opener.open(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.lastError = err
		c.mu.Unlock()
		if errors.Is(err, ErrInvalidAuth) {
			c.logger.Error("hub rejected credentials on reconnect", "error", err)
			return
		}
		c.logger.Error("hub reconnect abandoned", "error", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sock.Close() //nolint:errcheck // Connection closed while reconnecting
		return
	}
	c.gen++
	gen := c.gen
	c.sock = sock
	c.lastError = nil
	c.mu.Unlock()

	go c.readLoop(sock, gen)

	c.logger.Info("hub socket re-established")
	c.emit(EventReady)
}

// failPendingLocked fails requests in flight and drops the dead socket's
// subscriptions. Caller holds mu.
func (c *Connection) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	clear(c.subs)
}

// SendMessage sends msg with a fresh id and waits for the matching result.
//
// Parameters:
//   - ctx: Bounds the wait; the configured request timeout applies if ctx has no deadline
//   - msg: Message fields; "id" is assigned here
//
// Returns:
//   - json.RawMessage: The result payload
//   - error: *ResultError for hub-side failures, ErrNotConnected,
//     ErrConnectionLost, ErrConnectionClosed or a context error
func (c *Connection) SendMessage(ctx context.Context, msg map[string]any) (json.RawMessage, error) {
	return c.request(ctx, msg, nil)
}

// Ping round-trips a ping message.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.request(ctx, map[string]any{"type": "ping"}, nil)
	return err
}

// Subscribe subscribes to hub events of eventType ("" for all events).
func (c *Connection) Subscribe(ctx context.Context, eventType string, handler func(Event)) (Unsubscribe, error) {
	msg := map[string]any{"type": MsgSubscribeEvents}
	if eventType != "" {
		msg["event_type"] = eventType
	}

	return c.SubscribeMessage(ctx, msg, func(raw json.RawMessage) {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.Warn("dropping malformed event", "event_type", eventType, "error", err)
			return
		}
		handler(ev)
	})
}

// SubscribeMessage sends an arbitrary subscription message. The handler is
// registered before the message is written, so no event can be missed.
func (c *Connection) SubscribeMessage(ctx context.Context, msg map[string]any, handler func(json.RawMessage)) (Unsubscribe, error) {
	var (
		id  int64
		gen uint64
	)
	register := func(reqID int64, reqGen uint64) {
		id, gen = reqID, reqGen
		c.subs[reqID] = &subscription{gen: reqGen, handler: handler}
	}

	if _, err := c.request(ctx, msg, register); err != nil {
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok && sub.gen == gen {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		return nil, err
	}

	return func(ctx context.Context) error {
		c.mu.Lock()
		sub, ok := c.subs[id]
		if !ok || sub.gen != gen {
			c.mu.Unlock()
			return nil
		}
		delete(c.subs, id)
		c.mu.Unlock()

		_, err := c.SendMessage(ctx, map[string]any{
			"type":         MsgUnsubscribeEvents,
			"subscription": id,
		})
		if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrConnectionClosed) {
			return nil
		}
		return err
	}, nil
}

// request assigns an id, registers the waiter (and optional subscription)
// under one lock, writes the message and waits.
func (c *Connection) request(ctx context.Context, msg map[string]any, register func(id int64, gen uint64)) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	msgType, _ := msg["type"].(string)
	start := time.Now()

	result, err := c.roundTrip(ctx, msg, register)

	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
	}
	metrics.ObserveHubRequest(msgType, outcome, time.Since(start))

	return result, err
}

func (c *Connection) roundTrip(ctx context.Context, msg map[string]any, register func(id int64, gen uint64)) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if c.sock == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan envelope, 1)
	c.pending[id] = ch
	if register != nil {
		register(id, c.gen)
	}
	sock := c.sock
	c.mu.Unlock()

	out := make(map[string]any, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	out["id"] = id

	payload, err := json.Marshal(out)
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if err := sock.Write(payload); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		if env.Type == msgPong {
			return nil, nil
		}
		if env.Error != nil {
			return nil, env.Error
		}
		if !env.Success {
			return nil, &ResultError{Code: "unknown_error", Message: "request unsuccessful"}
		}
		return env.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Connection) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close ends the session and stops reconnecting. Requests in flight fail
// with ErrConnectionLost.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.sock = nil
	c.failPendingLocked()
	c.mu.Unlock()

	c.cancel()
	c.events.stop()

	if sock != nil {
		return sock.Close()
	}
	return nil
}

// dispatcher runs queued event handlers in order on one goroutine.
// The queue is unbounded so the read loop never blocks on a slow handler.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	logger Logger
}

func newDispatcher(logger Logger) *dispatcher {
	return &dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}
			d.call(fn)
		}
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
}
