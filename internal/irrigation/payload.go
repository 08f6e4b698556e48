package irrigation

import (
	"context"
	"errors"

	"github.com/nerrad567/hub-companion/internal/registry"
)

// ValvePayload is the detail view of one valve, in the operator's units.
type ValvePayload struct {
	EntityID   string         `json:"entityId"`
	EntityName string         `json:"entityName,omitempty"`
	Params     *ValveSettings `json:"params"`
	Amounts    Amounts        `json:"amounts"`
	Series     []SeriesPoint  `json:"series"`
}

// Amounts are the balance terms in the operator's length unit, and the
// seconds the valve would run now.
type Amounts struct {
	PastHydro        float64 `json:"pastHydro"`
	FutureHydro      float64 `json:"futureHydro"`
	PastIrrigation   float64 `json:"pastIrrigation"`
	FutureIrrigation int     `json:"futureIrrigation"`
}

// SeriesPoint is one day of the valve's balance chart.
type SeriesPoint struct {
	Datetime      string           `json:"datetime"`
	Precipitation float64          `json:"precipitation"`
	Evaporation   float64          `json:"evaporation"`
	Irrigation    float64          `json:"irrigation"`
	Temperature   TemperatureRange `json:"temperature"`
}

// Features are the operator switches of the irrigation controller.
type Features struct {
	CheckOnForecastUpdates bool `json:"checkOnForecastUpdates"`
}

// ValvePayloads returns the detail view of every valve, ordered by id.
func (c *Controller) ValvePayloads(ctx context.Context) ([]ValvePayload, error) {
	valves := c.valves()
	out := make([]ValvePayload, 0, len(valves))
	for _, v := range valves {
		p, err := c.ValvePayload(ctx, v.EntityID)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ValvePayload returns the detail view of one valve. A valve that is not in
// the registry or has unusable parameters yields an empty view.
func (c *Controller) ValvePayload(ctx context.Context, entityID string) (ValvePayload, error) {
	empty := ValvePayload{EntityID: entityID, Series: []SeriesPoint{}}

	state := c.valveState(entityID)
	if state == nil {
		return empty, nil
	}
	v, err := c.valve(ctx, entityID)
	if errors.Is(err, ErrInvalidParameter) {
		return empty, nil
	}
	if err != nil {
		return ValvePayload{}, err
	}

	b, err := c.balance(ctx, v)
	if err != nil {
		return ValvePayload{}, err
	}
	d := Decide(v, b)

	lengthUnit := Unit(v.VolumePerMinute)
	tempUnit := Unit(v.MinimalTemperature)
	settings := v.Settings()

	return ValvePayload{
		EntityID:   entityID,
		EntityName: state.Attribute("friendly_name"),
		Params:     &settings,
		Amounts: Amounts{
			PastHydro:        lengthIn(b.PastHydro, lengthUnit),
			FutureHydro:      lengthIn(b.FutureHydro, lengthUnit),
			PastIrrigation:   lengthIn(b.PastIrrigation, lengthUnit),
			FutureIrrigation: d.Seconds,
		},
		Series: series(b, lengthUnit, tempUnit),
	}, nil
}

// SaveValve validates and stores settings, then returns the fresh view.
func (c *Controller) SaveValve(ctx context.Context, entityID string, settings ValveSettings) (ValvePayload, error) {
	p, err := settings.Params(entityID)
	if err != nil {
		return ValvePayload{}, err
	}
	if err := SaveValveParams(ctx, c.store, p); err != nil {
		return ValvePayload{}, err
	}
	return c.ValvePayload(ctx, entityID)
}

// Features returns the current feature switches.
func (c *Controller) Features(ctx context.Context) (Features, error) {
	on, err := ForecastTrigger(ctx, c.store)
	if err != nil {
		return Features{}, err
	}
	return Features{CheckOnForecastUpdates: on}, nil
}

// SetFeatures stores the feature switches.
func (c *Controller) SetFeatures(ctx context.Context, f Features) error {
	return SetForecastTrigger(ctx, c.store, f.CheckOnForecastUpdates)
}

func (c *Controller) valveState(entityID string) *registry.State {
	for _, s := range c.valves() {
		if s.EntityID == entityID {
			return s
		}
	}
	return nil
}

// series merges past and future records by day, future winning for today.
func series(b Balance, lengthUnit, tempUnit string) []SeriesPoint {
	days := make(HydroRecords, len(b.Past)+len(b.Future))
	for k, r := range b.Past {
		days[k] = r
	}
	for k, r := range b.Future {
		days[k] = r
	}

	keys := days.keys()
	out := make([]SeriesPoint, 0, len(keys))
	for _, k := range keys {
		r := days[k]
		out = append(out, SeriesPoint{
			Datetime:      k,
			Precipitation: lengthIn(r.Precipitation, lengthUnit),
			Evaporation:   lengthIn(r.Evaporation, lengthUnit),
			Irrigation:    lengthIn(b.Irrigation[k].Irrigation, lengthUnit),
			Temperature: TemperatureRange{
				Min: temperatureIn(r.Temperature.Min, tempUnit),
				Max: temperatureIn(r.Temperature.Max, tempUnit),
			},
		})
	}
	return out
}
