package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// Topic is one tracked slice of hub data.
type Topic string

const (
	TopicArea   Topic = "area"
	TopicDevice Topic = "device"
	TopicEntity Topic = "entity"
	TopicState  Topic = "state"
	TopicConfig Topic = "config"
)

type topicSpec struct {
	topic   Topic
	list    string
	event   string
	idField string
}

// topics lists every tracked topic with its bulk call and update event.
var topics = []topicSpec{
	{TopicArea, "config/area_registry/list", "area_registry_updated", "area_id"},
	{TopicDevice, "config/device_registry/list", "device_registry_updated", "device_id"},
	{TopicEntity, "config/entity_registry/list", "entity_registry_updated", "entity_id"},
	{TopicState, "get_states", "state_changed", "entity_id"},
	{TopicConfig, "get_config", "core_config_updated", ""},
}

const (
	defaultDebounce       = 500 * time.Millisecond
	defaultRebuildTimeout = 30 * time.Second
)

// Conn is the part of a hub connection the registry uses.
type Conn interface {
	SendMessage(ctx context.Context, msg map[string]any) (json.RawMessage, error)
	Subscribe(ctx context.Context, eventType string, handler func(hub.Event)) (hub.Unsubscribe, error)
}

// ConnSource returns the live shared connection, or nil when there is none.
type ConnSource func() Conn

// SharedConnection adapts a hub.Manager's shared connection.
func SharedConnection(m *hub.Manager) ConnSource {
	return func() Conn {
		if c := m.Conn(); c != nil && c.Connected() {
			return c
		}
		return nil
	}
}

// Signals is the connection notification surface of hub.Manager.
type Signals interface {
	On(sig hub.Signal, fn func()) func()
}

// Logger is the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets the clock driving topology debouncing.
func WithClock(c scheduler.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithDebounce sets the per-topic coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(r *Registry) { r.debounce = d }
}

// WithRebuildTimeout bounds rebuilds triggered by signals and events.
func WithRebuildTimeout(d time.Duration) Option {
	return func(r *Registry) { r.rebuildTimeout = d }
}

// Registry is an in-memory mirror of the hub's areas, devices, entities,
// states and core config, kept current through event subscriptions.
//
// Thread Safety: All methods are safe for concurrent use. Reads never
// observe a half-applied rebuild; each topic's map is replaced whole.
type Registry struct {
	source         ConnSource
	logger         Logger
	clock          scheduler.Clock
	debounce       time.Duration
	rebuildTimeout time.Duration
	debouncer      *scheduler.Debouncer

	mu       sync.RWMutex
	areas    map[string]Area
	devices  map[string]Device
	entities map[string]*Entity
	states   map[string]*State
	config   Config

	// subMu serialises resubscription generations.
	subMu sync.Mutex
	subs  []hub.Unsubscribe

	handlerMu   sync.RWMutex
	handlers    map[uint64]eventHandler
	nextHandler uint64

	ctx    context.Context //nolint:containedctx // Parent of signal and timer driven work, cancelled by Close
	cancel context.CancelFunc
}

// New creates an empty Registry reading the connection from source.
func New(source ConnSource, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		source:         source,
		logger:         noopLogger{},
		clock:          scheduler.RealClock{},
		debounce:       defaultDebounce,
		rebuildTimeout: defaultRebuildTimeout,
		areas:          make(map[string]Area),
		devices:        make(map[string]Device),
		entities:       make(map[string]*Entity),
		states:         make(map[string]*State),
		handlers:       make(map[uint64]eventHandler),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.debouncer = scheduler.NewDebouncer(r.clock, r.logger)
	return r
}

// Attach rebuilds and resubscribes on every (re)connect signalled by s.
// The returned function detaches.
func (r *Registry) Attach(s Signals) func() {
	return s.On(hub.SignalConnected, r.handleConnected)
}

func (r *Registry) handleConnected() {
	ctx, cancel := context.WithTimeout(r.ctx, r.rebuildTimeout)
	defer cancel()

	if err := r.Rebuild(ctx); err != nil {
		r.logger.Warn("registry rebuild failed", "error", err)
	}
	if err := r.Resubscribe(ctx); err != nil {
		r.logger.Warn("registry resubscribe failed", "error", err)
	}
}

// Rebuild fetches every topic in parallel and swaps the cache in one step.
// Without a live connection the cache is kept and ErrNotConnected returned.
func (r *Registry) Rebuild(ctx context.Context) error {
	conn := r.source()
	if conn == nil {
		r.logger.Warn("cannot rebuild registry, hub not connected")
		return ErrNotConnected
	}

	start := time.Now()
	raw := make([]json.RawMessage, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range topics {
		g.Go(func() error {
			res, err := conn.SendMessage(gctx, map[string]any{"type": t.list})
			if err != nil {
				return fmt.Errorf("%s: %w", t.list, err)
			}
			raw[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ObserveRegistryRebuild("all", metrics.ResultError, time.Since(start))
		return fmt.Errorf("rebuilding registry: %w", err)
	}

	areas, err := decodeList[areaPayload](raw[0])
	if err != nil {
		return fmt.Errorf("decoding areas: %w", err)
	}
	devices, err := decodeList[devicePayload](raw[1])
	if err != nil {
		return fmt.Errorf("decoding devices: %w", err)
	}
	entities, err := decodeList[entityPayload](raw[2])
	if err != nil {
		return fmt.Errorf("decoding entities: %w", err)
	}
	states, err := decodeList[State](raw[3])
	if err != nil {
		return fmt.Errorf("decoding states: %w", err)
	}
	var cfg Config
	if err := decodeJSON(raw[4], &cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}

	stateMap := buildStates(states)
	areaMap := buildAreas(areas)
	deviceMap := buildDevices(devices)
	entityMap := buildEntities(entities, stateMap)

	r.mu.Lock()
	r.areas = areaMap
	r.devices = deviceMap
	r.entities = entityMap
	r.states = stateMap
	r.config = cfg
	r.mu.Unlock()

	metrics.ObserveRegistryRebuild("all", metrics.ResultSuccess, time.Since(start))
	r.logger.Info("registry rebuilt",
		"areas", len(areaMap),
		"devices", len(deviceMap),
		"entities", len(entityMap),
		"states", len(stateMap),
	)
	return nil
}

// RebuildTopic re-fetches a single topic and replaces only its map.
func (r *Registry) RebuildTopic(ctx context.Context, topic Topic) error {
	spec, ok := findTopic(topic)
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}

	conn := r.source()
	if conn == nil {
		return ErrNotConnected
	}

	start := time.Now()
	raw, err := conn.SendMessage(ctx, map[string]any{"type": spec.list})
	if err != nil {
		metrics.ObserveRegistryRebuild(string(topic), metrics.ResultError, time.Since(start))
		return fmt.Errorf("%s: %w", spec.list, err)
	}

	if err := r.applyTopic(topic, raw); err != nil {
		metrics.ObserveRegistryRebuild(string(topic), metrics.ResultError, time.Since(start))
		return fmt.Errorf("decoding %s: %w", topic, err)
	}

	metrics.ObserveRegistryRebuild(string(topic), metrics.ResultSuccess, time.Since(start))
	r.logger.Debug("registry topic rebuilt", "topic", string(topic))
	return nil
}

func (r *Registry) applyTopic(topic Topic, raw json.RawMessage) error {
	switch topic {
	case TopicArea:
		p, err := decodeList[areaPayload](raw)
		if err != nil {
			return err
		}
		areas := buildAreas(p)
		r.mu.Lock()
		r.areas = areas
		r.mu.Unlock()

	case TopicDevice:
		p, err := decodeList[devicePayload](raw)
		if err != nil {
			return err
		}
		devices := buildDevices(p)
		r.mu.Lock()
		r.devices = devices
		r.mu.Unlock()

	case TopicEntity:
		p, err := decodeList[entityPayload](raw)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.entities = buildEntities(p, r.states)
		r.mu.Unlock()

	case TopicState:
		p, err := decodeList[State](raw)
		if err != nil {
			return err
		}
		states := buildStates(p)
		r.mu.Lock()
		r.states = states
		entities := make(map[string]*Entity, len(r.entities))
		for id, e := range r.entities {
			cp := *e
			applyState(&cp, states[id])
			entities[id] = &cp
		}
		r.entities = entities
		r.mu.Unlock()

	case TopicConfig:
		var cfg Config
		if err := decodeJSON(raw, &cfg); err != nil {
			return err
		}
		r.mu.Lock()
		r.config = cfg
		r.mu.Unlock()
	}
	return nil
}

func findTopic(topic Topic) (topicSpec, bool) {
	for _, t := range topics {
		if t.topic == topic {
			return t, true
		}
	}
	return topicSpec{}, false
}

// Resubscribe drains the previous generation's subscriptions and creates
// one subscription per tracked topic on the current connection. Without a
// connection it returns quietly after draining.
func (r *Registry) Resubscribe(ctx context.Context) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.drainLocked(ctx)

	conn := r.source()
	if conn == nil {
		r.logger.Debug("skipping registry subscriptions, hub not connected")
		return nil
	}

	for _, t := range topics {
		unsub, err := conn.Subscribe(ctx, t.event, r.eventHandler(t))
		if err != nil {
			r.drainLocked(ctx)
			return fmt.Errorf("subscribing to %s: %w", t.event, err)
		}
		r.subs = append(r.subs, unsub)
	}

	metrics.SetRegistrySubscriptions(len(r.subs))
	r.logger.Debug("registry subscribed", "subscriptions", len(r.subs))
	return nil
}

// drainLocked cancels every tracked subscription. Caller holds subMu.
func (r *Registry) drainLocked(ctx context.Context) {
	for _, unsub := range r.subs {
		if err := unsub(ctx); err != nil {
			r.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	r.subs = nil
	metrics.SetRegistrySubscriptions(0)
}

// ActiveSubscriptions returns the number of live subscription handles.
func (r *Registry) ActiveSubscriptions() int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.subs)
}

func (r *Registry) eventHandler(t topicSpec) func(hub.Event) {
	if t.topic == TopicState {
		return r.handleStateChanged
	}

	return func(ev hub.Event) {
		id, _ := ev.Data[t.idField].(string)
		r.debouncer.Schedule(string(t.topic), r.debounce, func() {
			r.refreshTopic(t.topic, id)
		})
	}
}

// refreshTopic runs a debounced topic rebuild and announces it.
func (r *Registry) refreshTopic(topic Topic, id string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.rebuildTimeout)
	defer cancel()

	if err := r.RebuildTopic(ctx, topic); err != nil {
		r.logger.Warn("registry topic rebuild failed", "topic", string(topic), "error", err)
		return
	}
	r.emit(Event{Kind: topicEventKind(topic), ID: id})
}

func (r *Registry) handleStateChanged(ev hub.Event) {
	var payload stateChanged
	if err := decodeEventData(ev.Data, &payload); err != nil {
		r.logger.Warn("dropping state_changed event", "error", err)
		return
	}
	if payload.EntityID == "" {
		return
	}

	r.mu.Lock()
	if payload.NewState == nil {
		delete(r.states, payload.EntityID)
	} else {
		if payload.NewState.EntityID == "" {
			payload.NewState.EntityID = payload.EntityID
		}
		r.states[payload.EntityID] = payload.NewState
	}
	if e, ok := r.entities[payload.EntityID]; ok {
		cp := *e
		applyState(&cp, payload.NewState)
		r.entities[payload.EntityID] = &cp
	}
	joined := r.joinLocked(payload.NewState)
	r.mu.Unlock()

	metrics.IncRegistryStateUpdate()
	r.emit(Event{Kind: EventStateUpdated, ID: payload.EntityID, State: joined})
}

// CallService forwards a service call. Without a live connection it does
// nothing and returns nil, nil.
func (r *Registry) CallService(ctx context.Context, domain, service string, call ServiceCall) (json.RawMessage, error) {
	conn := r.source()
	if conn == nil {
		r.logger.Debug("skipping service call, hub not connected", "domain", domain, "service", service)
		return nil, nil
	}

	msg := map[string]any{
		"type":    hub.MsgCallService,
		"domain":  domain,
		"service": service,
	}
	if call.Data != nil {
		msg["service_data"] = call.Data
	}
	if call.Target != nil {
		msg["target"] = call.Target
	}
	if call.ReturnResponse {
		msg["return_response"] = true
	}

	res, err := conn.SendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("calling %s.%s: %w", domain, service, err)
	}
	return res, nil
}

// UpdateEntity asks the hub to change an entity's registry entry and
// returns the updated entry. The cache is corrected by the following
// entity_registry_updated event.
func (r *Registry) UpdateEntity(ctx context.Context, entityID string, patch map[string]any) (map[string]any, error) {
	conn := r.source()
	if conn == nil {
		return nil, ErrNotConnected
	}

	msg := make(map[string]any, len(patch)+2)
	for k, v := range patch {
		msg[k] = v
	}
	msg["type"] = "config/entity_registry/update"
	msg["entity_id"] = entityID

	res, err := conn.SendMessage(ctx, msg)
	if err != nil {
		return nil, mapHubError(entityID, err)
	}

	var out struct {
		EntityEntry map[string]any `json:"entity_entry"`
	}
	if err := decodeJSON(res, &out); err != nil {
		return nil, fmt.Errorf("decoding entity entry: %w", err)
	}
	return out.EntityEntry, nil
}

// DeleteEntity removes an entity from the hub's registry.
func (r *Registry) DeleteEntity(ctx context.Context, entityID string) error {
	conn := r.source()
	if conn == nil {
		return ErrNotConnected
	}

	_, err := conn.SendMessage(ctx, map[string]any{
		"type":      "config/entity_registry/delete",
		"entity_id": entityID,
	})
	if err != nil {
		return mapHubError(entityID, err)
	}
	return nil
}

func mapHubError(entityID string, err error) error {
	var re *hub.ResultError
	if errors.As(err, &re) && re.Code == "not_found" {
		return fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return fmt.Errorf("entity %s: %w", entityID, err)
}

// Close cancels pending debounced rebuilds and drops the subscriptions.
func (r *Registry) Close(ctx context.Context) {
	r.cancel()
	r.debouncer.Stop()

	r.subMu.Lock()
	r.drainLocked(ctx)
	r.subMu.Unlock()
}
