package irrigation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/infrastructure/mqtt"
	"github.com/nerrad567/hub-companion/internal/registry"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// serviceTimeout bounds turn_on/turn_off calls made from timers and events.
const serviceTimeout = 30 * time.Second

// Logger is the logging interface used by the irrigation controller.
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

// States is the part of the registry the controller reads and calls.
type States interface {
	GetStates(f registry.Filter) []*registry.State
	Config() registry.Config
	CallService(ctx context.Context, domain, service string, call registry.ServiceCall) (json.RawMessage, error)
	On(fn func(registry.Event), kinds ...registry.EventKind) func()
}

// HistorySource reads an entity's state history from the hub.
type HistorySource interface {
	History(ctx context.Context, entityID string, start, end time.Time) ([][]hub.HistoryState, error)
}

// Recorder receives hydro records and irrigation runs for long-term storage.
type Recorder interface {
	WriteHydroRecord(day time.Time, rec HydroRecord)
	WriteIrrigationRun(entityID string, seconds int, at time.Time)
}

// Signals notifies about hub (re)connects.
type Signals interface {
	On(sig hub.Signal, fn func()) func()
}

// Commands is the MQTT client the controller listens on for check requests.
type Commands interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder records hydro history and runs, e.g. to InfluxDB.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithETModel replaces the evaporation model. Defaults to HargreavesSamani.
func WithETModel(et ETModel) Option {
	return func(c *Controller) { c.et = et }
}

// Controller decides when valves open and closes them when their time is up.
//
// At most one valve runs at a time: a check pass is skipped while any valve
// reports "on", stops at the first valve it starts, and re-reads the valve
// states right before turning one on.
//
// Thread Safety:
//   - Check passes are serialized by checkMu.
//   - The running set has its own lock; Running is safe to call anytime.
type Controller struct {
	cfg      config.IrrigationConfig
	states   States
	history  HistorySource
	store    Store
	sched    *scheduler.Scheduler
	clock    scheduler.Clock
	recorder Recorder
	et       ETModel
	logger   Logger

	valveFilter    registry.Filter
	forecastFilter registry.Filter

	checkMu sync.Mutex

	runMu   sync.Mutex
	running map[string]time.Time

	subMu      sync.Mutex
	checkUnsub hub.Unsubscribe

	detach []func()
	job    *scheduler.Job
	wg     sync.WaitGroup

	ctx    context.Context //nolint:containedctx // Parent of trigger driven passes, cancelled by Stop
	cancel context.CancelFunc
}

// NewController creates a Controller. Start arms its triggers.
//
// Returns:
//   - *Controller: The controller
//   - error: If the valve or forecast pattern does not compile
func NewController(cfg config.IrrigationConfig, states States, history HistorySource, store Store, sched *scheduler.Scheduler, opts ...Option) (*Controller, error) {
	valvePattern, err := regexp.Compile(cfg.ValvePattern)
	if err != nil {
		return nil, fmt.Errorf("valve pattern: %w", err)
	}
	forecastPattern, err := regexp.Compile(cfg.ForecastPattern)
	if err != nil {
		return nil, fmt.Errorf("forecast pattern: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		states:  states,
		history: history,
		store:   store,
		sched:   sched,
		clock:   sched.Clock(),
		et:      HargreavesSamani,
		logger:  noopLogger{},
		valveFilter: registry.Filter{
			"entity_id": registry.Pattern(valvePattern),
		},
		forecastFilter: registry.Filter{
			"entity_id": registry.Pattern(forecastPattern),
			"attributes": registry.Nested(registry.Filter{
				"temperature_unit":   registry.Present(),
				"precipitation_unit": registry.Present(),
			}),
		},
		running: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start schedules the shutoff tick and listens for valve and forecast
// state changes.
func (c *Controller) Start() error {
	job, err := c.sched.AddJob(c.cfg.TickInterval, "irrigation-shutoff", c.Tick)
	if err != nil {
		return fmt.Errorf("scheduling shutoff tick: %w", err)
	}
	c.job = job
	c.detach = append(c.detach, c.states.On(c.handleState, registry.EventStateUpdated))

	c.logger.Info("irrigation controller started", "tick", c.cfg.TickInterval)
	return nil
}

// AttachHub subscribes to the hub's check event on every connect.
func (c *Controller) AttachHub(sig Signals, source registry.ConnSource) {
	if c.cfg.CheckEvent == "" {
		return
	}
	c.detach = append(c.detach, sig.On(hub.SignalConnected, func() {
		c.subscribeCheckEvent(source)
	}))
}

// AttachCommands runs a check pass for every message on the MQTT check topic.
func (c *Controller) AttachCommands(cmd Commands) error {
	topic := mqtt.Topics{}.IrrigationCheck()
	err := cmd.Subscribe(topic, 1, func(string, []byte) error {
		c.trigger("mqtt")
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.detach = append(c.detach, func() {
		if err := cmd.Unsubscribe(topic); err != nil {
			c.logger.Debug("mqtt unsubscribe failed", "topic", topic, "error", err)
		}
	})
	return nil
}

func (c *Controller) subscribeCheckEvent(source registry.ConnSource) {
	conn := source()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, serviceTimeout)
	defer cancel()

	c.subMu.Lock()
	defer c.subMu.Unlock()

	// The previous handle belongs to a dead socket; calling it is a no-op.
	if c.checkUnsub != nil {
		_ = c.checkUnsub(ctx)
		c.checkUnsub = nil
	}

	unsub, err := conn.Subscribe(ctx, c.cfg.CheckEvent, func(hub.Event) {
		c.trigger(c.cfg.CheckEvent)
	})
	if err != nil {
		c.logger.Warn("failed to subscribe to irrigation check event", "event", c.cfg.CheckEvent, "error", err)
		return
	}
	c.checkUnsub = unsub
}

func (c *Controller) handleState(ev registry.Event) {
	s := ev.State
	if s == nil {
		return
	}

	if registry.MatchesFilter(s, c.valveFilter) {
		if s.State == "off" {
			c.removeRunning(s.EntityID)
			c.trigger("valve_off")
		}
		return
	}

	if registry.MatchesFilter(s, c.forecastFilter) {
		on, err := ForecastTrigger(c.ctx, c.store)
		if err != nil {
			c.logger.Warn("failed to read forecast trigger flag", "error", err)
			return
		}
		if on {
			c.trigger("forecast")
		}
	}
}

// trigger runs a check pass in the background.
func (c *Controller) trigger(reason string) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("irrigation check panicked", "reason", reason, "panic", r)
			}
		}()
		c.logger.Debug("irrigation check triggered", "reason", reason)
		c.CheckValves(c.ctx)
	}()
}

// CheckValves runs one evaluation pass over all valves and starts at most
// one of them. It returns the started valve's decision, if any.
func (c *Controller) CheckValves(ctx context.Context) (Decision, bool) {
	c.checkMu.Lock()
	defer c.checkMu.Unlock()

	valves := c.valves()
	if anyOn(valves) {
		c.logger.Info("skipping irrigation check, a valve is running")
		return Decision{}, false
	}

	for _, v := range valves {
		d, err := c.Evaluate(ctx, v.EntityID)
		if err != nil {
			metrics.IncIrrigationDecision(metrics.DecisionError)
			c.logger.Warn("skipping valve", "valve", v.EntityID, "error", err)
			continue
		}
		if d.Seconds == 0 {
			metrics.IncIrrigationDecision(metrics.DecisionSkip)
			c.logger.Debug("valve stays closed", "valve", v.EntityID, "reason", d.Reason, "level", d.Level)
			c.removeRunning(v.EntityID)
			continue
		}

		if anyOn(c.valves()) {
			c.logger.Info("skipping irrigation start, a valve turned on meanwhile", "valve", v.EntityID)
			return Decision{}, false
		}
		if err := c.startValve(ctx, d); err != nil {
			metrics.IncIrrigationDecision(metrics.DecisionError)
			c.logger.Error("failed to start valve", "valve", v.EntityID, "error", err)
			continue
		}
		metrics.IncIrrigationDecision(metrics.DecisionIrrigate)
		return d, true
	}
	return Decision{}, false
}

func (c *Controller) startValve(ctx context.Context, d Decision) error {
	if err := c.switchValve(ctx, "turn_on", d.EntityID); err != nil {
		return err
	}

	now := c.clock.Now()
	until := now.Add(time.Duration(d.Seconds) * time.Second)
	c.runMu.Lock()
	c.running[d.EntityID] = until
	c.runMu.Unlock()

	metrics.AddIrrigationRun(d.EntityID, float64(d.Seconds))
	if c.recorder != nil {
		c.recorder.WriteIrrigationRun(d.EntityID, d.Seconds, now)
	}
	c.logger.Info("valve started", "valve", d.EntityID, "seconds", d.Seconds, "until", until, "level", d.Level)
	return nil
}

// switchValve calls homeassistant.<service> on a valve. The registry answers
// a call without a hub connection with no result and no error; for a valve
// that is a failed switch.
func (c *Controller) switchValve(ctx context.Context, service, entityID string) error {
	res, err := c.states.CallService(ctx, "homeassistant", service, registry.ServiceCall{
		Target: &registry.Target{EntityID: []string{entityID}},
	})
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("%s %s: %w", service, entityID, hub.ErrNotConnected)
	}
	return nil
}

// Tick turns off every running valve whose time is up. A valve whose
// turn_off fails stays in the running set and is retried next tick.
func (c *Controller) Tick() {
	now := c.clock.Now()

	c.runMu.Lock()
	var expired []string
	for id, until := range c.running {
		if !until.After(now) {
			expired = append(expired, id)
		}
	}
	c.runMu.Unlock()
	slices.Sort(expired)

	for _, id := range expired {
		ctx, cancel := context.WithTimeout(c.ctx, serviceTimeout)
		err := c.switchValve(ctx, "turn_off", id)
		cancel()
		if err != nil {
			c.logger.Warn("failed to turn off valve", "valve", id, "error", err)
			continue
		}
		c.removeRunning(id)
		c.logger.Info("valve turned off", "valve", id)
	}
}

// Running returns a copy of the running set: valve id to shutoff time.
func (c *Controller) Running() map[string]time.Time {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	out := make(map[string]time.Time, len(c.running))
	for id, until := range c.running {
		out[id] = until
	}
	return out
}

func (c *Controller) removeRunning(entityID string) {
	c.runMu.Lock()
	delete(c.running, entityID)
	c.runMu.Unlock()
}

// valves returns the valve states ordered by entity id.
func (c *Controller) valves() []*registry.State {
	valves := c.states.GetStates(c.valveFilter)
	slices.SortFunc(valves, func(a, b *registry.State) int {
		return strings.Compare(a.EntityID, b.EntityID)
	})
	return valves
}

func anyOn(valves []*registry.State) bool {
	return slices.ContainsFunc(valves, func(s *registry.State) bool { return s.State == "on" })
}

// Stop cancels the tick and triggers and waits for running passes.
func (c *Controller) Stop() {
	c.cancel()
	if c.job != nil {
		c.job.Cancel()
	}
	for _, fn := range c.detach {
		fn()
	}
	c.detach = nil
	c.wg.Wait()
}
