package mirror

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/infrastructure/mqtt"
	"github.com/nerrad567/hub-companion/internal/registry"
)

// Sink names used in metrics.
const (
	SinkMQTT     = "mqtt"
	SinkInfluxDB = "influxdb"
)

// Logger is the logging interface used by the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Source is the registry the mirror follows.
type Source interface {
	On(fn func(registry.Event), kinds ...registry.EventKind) func()
	GetStates(f registry.Filter) []*registry.State
}

// Publisher is the MQTT client the mirror publishes to.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
}

// StateWriter stores numeric states as time series.
type StateWriter interface {
	WriteStateMetric(entityID, domain, unit string, value float64, at time.Time)
}

// Signals delivers hub connection signals.
type Signals interface {
	On(sig hub.Signal, fn func()) func()
}

// HubStatus is the retained payload of the hub availability topic.
type HubStatus struct {
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}

// RegistryChange is the payload published when a registry topic changes.
type RegistryChange struct {
	Topic string    `json:"topic"`
	ID    string    `json:"id,omitempty"`
	At    time.Time `json:"at"`
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// WithFilter limits which entity states are mirrored. The default mirrors
// every state.
func WithFilter(f registry.Filter) Option {
	return func(m *Mirror) { m.filter = f }
}

// WithStateWriter also writes numeric states, e.g. to InfluxDB.
func WithStateWriter(w StateWriter) Option {
	return func(m *Mirror) { m.writer = w }
}

// WithClock sets the time source for registry change timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// Mirror republishes registry contents: entity states as retained JSON,
// registry topic changes as plain notifications.
//
// Thread Safety:
//   - Event handling is safe for concurrent use; Start and Stop are not.
type Mirror struct {
	source    Source
	publisher Publisher
	writer    StateWriter
	filter    registry.Filter
	logger    Logger
	now       func() time.Time

	mu     sync.Mutex
	detach func()
}

// New creates a Mirror. publisher may be nil when only a StateWriter is used.
func New(source Source, publisher Publisher, opts ...Option) *Mirror {
	m := &Mirror{
		source:    source,
		publisher: publisher,
		logger:    noopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start follows registry events until Stop.
func (m *Mirror) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detach != nil {
		return
	}
	m.detach = m.source.On(m.handle)
}

// Stop detaches from the registry.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
}

// AttachHub publishes the shared hub connection's availability, retained,
// on every connect and disconnect. The returned func detaches.
func (m *Mirror) AttachHub(sig Signals) func() {
	offConnected := sig.On(hub.SignalConnected, func() { m.publishHubStatus(true) })
	offDisconnected := sig.On(hub.SignalDisconnected, func() { m.publishHubStatus(false) })
	return func() {
		offConnected()
		offDisconnected()
	}
}

func (m *Mirror) publishHubStatus(connected bool) {
	if m.publisher == nil {
		return
	}
	topic := mqtt.Topics{}.HubStatus()
	err := m.publisher.PublishJSON(topic, HubStatus{Connected: connected, At: m.now().UTC()}, true)
	m.record(SinkMQTT, topic, err)
}

// Sync publishes every mirrored state. Call it after the broker
// (re)connects so retained topics match the registry. It returns the
// number of states published.
func (m *Mirror) Sync() int {
	n := 0
	for _, s := range m.source.GetStates(m.filter) {
		if m.publishState(s.EntityID, s) {
			n++
		}
	}
	return n
}

func (m *Mirror) handle(ev registry.Event) {
	if ev.Kind != registry.EventStateUpdated {
		m.publishChange(ev)
		return
	}
	if ev.State != nil && !registry.MatchesFilter(ev.State, m.filter) {
		return
	}
	m.publishState(ev.ID, ev.State)
	if ev.State != nil {
		m.writeMetric(ev.State)
	}
}

// publishState publishes s retained, or clears the retained topic when s
// is nil.
func (m *Mirror) publishState(entityID string, s *registry.State) bool {
	if m.publisher == nil || entityID == "" {
		return false
	}
	topic := mqtt.Topics{}.EntityState(entityID)

	var err error
	if s == nil {
		err = m.publisher.Publish(topic, nil, 1, true)
	} else {
		err = m.publisher.PublishJSON(topic, s, true)
	}
	return m.record(SinkMQTT, topic, err)
}

func (m *Mirror) publishChange(ev registry.Event) {
	if m.publisher == nil {
		return
	}
	topic := string(ev.Kind.Topic())
	err := m.publisher.PublishJSON(mqtt.Topics{}.RegistryEvent(topic), RegistryChange{
		Topic: topic,
		ID:    ev.ID,
		At:    m.now().UTC(),
	}, false)
	m.record(SinkMQTT, topic, err)
}

func (m *Mirror) writeMetric(s *registry.State) {
	if m.writer == nil {
		return
	}
	value, ok := numericState(s.State)
	if !ok {
		return
	}
	at := s.LastUpdated
	if at.IsZero() {
		at = m.now()
	}
	m.writer.WriteStateMetric(s.EntityID, domainOf(s.EntityID), s.Attribute("unit_of_measurement"), value, at)
	metrics.IncMirrorPublish(SinkInfluxDB, metrics.ResultSuccess)
}

func (m *Mirror) record(sink, topic string, err error) bool {
	if err != nil {
		metrics.IncMirrorPublish(sink, metrics.ResultError)
		m.logger.Warn("mirror publish failed", "sink", sink, "topic", topic, "error", err)
		return false
	}
	metrics.IncMirrorPublish(sink, metrics.ResultSuccess)
	return true
}

// numericState parses states like "21.5"; "unknown", "on" and friends are
// not numeric.
func numericState(state string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(state), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func domainOf(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}
