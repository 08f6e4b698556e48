package irrigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hub-companion/internal/registry"
)

// forecastResponse is the result of weather.get_forecasts with
// return_response set.
type forecastResponse struct {
	Response map[string]struct {
		Forecast []Forecast `json:"forecast"`
	} `json:"response"`
}

// Evaluate decides how long the valve entityID should run now.
//
// Returns:
//   - Decision: Seconds is 0 when the valve should stay closed
//   - error: ErrInvalidParameter, ErrMissingHistory or
//     ErrForecastUnavailable; the valve is skipped for this pass
func (c *Controller) Evaluate(ctx context.Context, entityID string) (Decision, error) {
	v, err := c.valve(ctx, entityID)
	if err != nil {
		return Decision{EntityID: entityID}, err
	}
	b, err := c.balance(ctx, v)
	if err != nil {
		return Decision{EntityID: entityID}, err
	}
	return Decide(v, b), nil
}

func (c *Controller) valve(ctx context.Context, entityID string) (Valve, error) {
	p, err := LoadValveParams(ctx, c.store, entityID)
	if err != nil {
		return Valve{}, err
	}
	return ParseValveParams(p)
}

// balance gathers past irrigation, past hydro and future hydro for v, and
// stores today's forecast record in the hydro history.
func (c *Controller) balance(ctx context.Context, v Valve) (Balance, error) {
	now := c.clock.Now()
	today := startOfDay(now)
	since := today.AddDate(0, 0, -v.ObservedDays)
	until := today.AddDate(0, 0, v.OvershootDays)

	b := Balance{Today: dayKey(today), Since: dayKey(since), Until: dayKey(until)}

	history, err := c.history.History(ctx, v.EntityID, since, now)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %s: %w", ErrMissingHistory, v.EntityID, err)
	}
	b.PastIrrigation, b.Irrigation = PastIrrigation(history, v.VolumeMM, now.Location())

	stored, err := c.loadHistory(ctx)
	if err != nil {
		return Balance{}, err
	}
	b.PastHydro, b.Past = PastHydro(stored, since, today, v.EvaporationFactor)

	sources, err := c.forecasts(ctx, until)
	if err != nil {
		return Balance{}, err
	}
	raw, future := pessimistic(sources, v.EvaporationFactor)
	b.Future, b.FutureHydro = future, future.Balance()

	if rec, ok := raw[b.Today]; ok {
		if err := c.storeToday(ctx, stored, today, rec); err != nil {
			c.logger.Warn("failed to store hydro history", "error", err)
		}
	}
	return b, nil
}

// forecasts asks every forecast entity for its daily forecast. A source
// that fails is skipped; ErrForecastUnavailable is returned only when
// there were sources and none answered.
func (c *Controller) forecasts(ctx context.Context, until time.Time) ([]HydroRecords, error) {
	entities := c.states.GetStates(c.forecastFilter)
	latitude := c.states.Config().Latitude

	var (
		sources []HydroRecords
		errs    []error
	)
	for _, e := range entities {
		src, err := c.forecast(ctx, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, src.Records(until, latitude, c.et))
	}

	if len(sources) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrForecastUnavailable, errors.Join(errs...))
	}
	return sources, nil
}

func (c *Controller) forecast(ctx context.Context, e *registry.State) (ForecastSource, error) {
	raw, err := c.states.CallService(ctx, "weather", "get_forecasts", registry.ServiceCall{
		Data:           map[string]any{"type": "daily"},
		Target:         &registry.Target{EntityID: []string{e.EntityID}},
		ReturnResponse: true,
	})
	if err != nil {
		return ForecastSource{}, fmt.Errorf("%s: %w", e.EntityID, err)
	}
	if raw == nil {
		return ForecastSource{}, fmt.Errorf("%s: %w", e.EntityID, registry.ErrNotConnected)
	}

	var resp forecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ForecastSource{}, fmt.Errorf("%s: decoding forecast: %w", e.EntityID, err)
	}
	return ForecastSource{
		EntityID:          e.EntityID,
		TemperatureUnit:   e.Attribute("temperature_unit"),
		PrecipitationUnit: e.Attribute("precipitation_unit"),
		Forecast:          resp.Response[e.EntityID].Forecast,
	}, nil
}

func (c *Controller) loadHistory(ctx context.Context) (HydroRecords, error) {
	history := make(HydroRecords)
	if _, err := c.store.Get(ctx, keyHistory, &history); err != nil {
		return nil, fmt.Errorf("loading hydro history: %w", err)
	}
	if history == nil {
		history = make(HydroRecords)
	}
	return history, nil
}

// storeToday merges today's raw record into the history, keeping only the
// days the longest observed window still needs.
func (c *Controller) storeToday(ctx context.Context, stored HydroRecords, today time.Time, rec HydroRecord) error {
	keep, err := maxObservedDays(ctx, c.store)
	if err != nil {
		return err
	}
	merged := mergeHistory(stored, dayKey(today), rec, dayKey(today.AddDate(0, 0, -keep)))
	if err := c.store.Set(ctx, keyHistory, merged); err != nil {
		return fmt.Errorf("saving hydro history: %w", err)
	}
	if c.recorder != nil {
		c.recorder.WriteHydroRecord(today, rec)
	}
	return nil
}
