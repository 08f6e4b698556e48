package irrigation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/registry"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// testNow is noon on the evaluation day; all fixtures are in UTC.
var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// memStore is an in-memory Store keeping JSON like the real one.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, path string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[path]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *memStore) Set(_ context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[path] = raw
	s.mu.Unlock()
	return nil
}

func (s *memStore) history(t *testing.T) HydroRecords {
	t.Helper()
	var h HydroRecords
	if _, err := s.Get(context.Background(), keyHistory, &h); err != nil {
		t.Fatalf("reading history: %v", err)
	}
	return h
}

// serviceCall is a recorded CallService invocation.
type serviceCall struct {
	domain  string
	service string
	call    registry.ServiceCall
}

// fakeStates is an in-memory registry with canned forecasts.
type fakeStates struct {
	mu        sync.Mutex
	states    map[string]*registry.State
	forecasts map[string][]Forecast
	failing   map[string]bool
	calls     []serviceCall
	handlers  []func(registry.Event)
	latitude  float64
	offline   bool

	// onForecast runs at the start of every forecast call.
	onForecast func()
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		states:    make(map[string]*registry.State),
		forecasts: make(map[string][]Forecast),
		failing:   make(map[string]bool),
		latitude:  52.5,
	}
}

func (f *fakeStates) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *fakeStates) setState(id, state string, attrs map[string]any) {
	f.mu.Lock()
	f.states[id] = &registry.State{EntityID: id, State: state, Attributes: attrs}
	f.mu.Unlock()
}

func (f *fakeStates) addWeather(id string, forecast ...Forecast) {
	f.setState(id, "sunny", map[string]any{"temperature_unit": "°C", "precipitation_unit": "mm"})
	f.mu.Lock()
	f.forecasts[id] = forecast
	f.mu.Unlock()
}

func (f *fakeStates) GetStates(filter registry.Filter) []*registry.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*registry.State
	for _, s := range f.states {
		if registry.MatchesFilter(s, filter) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeStates) Config() registry.Config {
	return registry.Config{Latitude: f.latitude}
}

func (f *fakeStates) CallService(_ context.Context, domain, service string, call registry.ServiceCall) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, serviceCall{domain: domain, service: service, call: call})
	hook := f.onForecast
	offline := f.offline
	f.mu.Unlock()

	if domain != "weather" {
		if offline {
			return nil, nil
		}
		return json.RawMessage(`{"context":{}}`), nil
	}

	if hook != nil {
		hook()
	}
	id := call.Target.EntityID[0]

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return nil, errors.New("hub: connection lost")
	}
	return json.Marshal(map[string]any{
		"response": map[string]any{id: map[string]any{"forecast": f.forecasts[id]}},
	})
}

func (f *fakeStates) On(fn func(registry.Event), _ ...registry.EventKind) func() {
	f.mu.Lock()
	f.handlers = append(f.handlers, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handlers = nil
		f.mu.Unlock()
	}
}

func (f *fakeStates) emit(s *registry.State) {
	f.mu.Lock()
	handlers := append([]func(registry.Event){}, f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(registry.Event{Kind: registry.EventStateUpdated, ID: s.EntityID, State: s})
	}
}

// serviceCalls returns "domain.service:entity" for every non-weather call.
func (f *fakeStates) serviceCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.domain == "weather" {
			continue
		}
		out = append(out, c.domain+"."+c.service+":"+c.call.Target.EntityID[0])
	}
	return out
}

// fakeHistory answers valve history from a map.
type fakeHistory struct {
	mu     sync.Mutex
	states map[string][]hub.HistoryState
	err    error
}

func (h *fakeHistory) History(_ context.Context, entityID string, _, _ time.Time) ([][]hub.HistoryState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return [][]hub.HistoryState{h.states[entityID]}, nil
}

// fakeRecorder collects recorder writes.
type fakeRecorder struct {
	mu    sync.Mutex
	hydro []string
	runs  []int
}

func (r *fakeRecorder) WriteHydroRecord(day time.Time, _ HydroRecord) {
	r.mu.Lock()
	r.hydro = append(r.hydro, dayKey(day))
	r.mu.Unlock()
}

func (r *fakeRecorder) WriteIrrigationRun(_ string, seconds int, _ time.Time) {
	r.mu.Lock()
	r.runs = append(r.runs, seconds)
	r.mu.Unlock()
}

type testEnv struct {
	ctrl     *Controller
	states   *fakeStates
	history  *fakeHistory
	store    *memStore
	clock    *scheduler.FakeClock
	recorder *fakeRecorder
}

// newTestEnv builds a controller whose evaporation model always returns
// evaporation mm/day.
func newTestEnv(t *testing.T, evaporation float64) *testEnv {
	t.Helper()

	env := &testEnv{
		states:   newFakeStates(),
		history:  &fakeHistory{states: make(map[string][]hub.HistoryState)},
		store:    newMemStore(),
		clock:    scheduler.NewFakeClock(testNow),
		recorder: &fakeRecorder{},
	}
	sched := scheduler.New(env.clock, nil)
	t.Cleanup(sched.Stop)

	cfg := config.IrrigationConfig{
		Enabled:         true,
		TickInterval:    "every 5 minutes",
		ValvePattern:    `^switch\..*valve.*$`,
		ForecastPattern: `^weather\.`,
		CheckEvent:      "companion_check_irrigation",
	}
	ctrl, err := NewController(cfg, env.states, env.history, env.store, sched,
		WithETModel(func(time.Time, float64, float64, float64, float64) float64 { return evaporation }),
		WithRecorder(env.recorder),
	)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(ctrl.Stop)
	env.ctrl = ctrl
	return env
}

// scenario loads the two-day deficit fixture: valve with 2mm/min, 5C,
// two observed days, one overshoot day; 3mm evaporation and no rain on each
// past day; tomorrow 1mm rain.
func (e *testEnv) scenario(t *testing.T, valve string, tomorrowLow float64) {
	t.Helper()
	ctx := context.Background()

	e.states.setState(valve, "off", map[string]any{"friendly_name": "Garden valve"})
	err := SaveValveParams(ctx, e.store, ValveParams{
		EntityID:           valve,
		ObservedDays:       intPtr(2),
		OvershootDays:      intPtr(1),
		EvaporationFactor:  floatPtr(1),
		VolumePerMinute:    "2mm",
		MinimalTemperature: "5C",
	})
	if err != nil {
		t.Fatalf("SaveValveParams() error = %v", err)
	}

	err = e.store.Set(ctx, keyHistory, HydroRecords{
		"2026-06-08": {Evaporation: 3, Temperature: TemperatureRange{Min: 285, Max: 295}},
		"2026-06-09": {Evaporation: 3, Temperature: TemperatureRange{Min: 285, Max: 295}},
	})
	if err != nil {
		t.Fatalf("seeding history: %v", err)
	}

	e.states.addWeather("weather.home", Forecast{
		Datetime:      "2026-06-11T00:00:00+00:00",
		Temperature:   floatPtr(24),
		TempLow:       floatPtr(tomorrowLow),
		Precipitation: floatPtr(1),
		Humidity:      floatPtr(50),
	})
}
