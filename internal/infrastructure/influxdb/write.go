package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementHydro         = "hydro"
	MeasurementIrrigationRun = "irrigation_run"
	MeasurementEntityState   = "entity_state"
)

// HydroPoint is one day's water balance inputs. Lengths are millimeters,
// temperatures Kelvin.
type HydroPoint struct {
	Day             time.Time
	EvaporationMM   float64
	PrecipitationMM float64
	TemperatureMin  float64
	TemperatureMax  float64
}

// WriteHydro records a day's hydro inputs, timestamped at the day's start.
func (c *Client) WriteHydro(p HydroPoint) {
	c.WritePointWithTime(MeasurementHydro, nil, map[string]any{
		"evaporation_mm":    p.EvaporationMM,
		"precipitation_mm":  p.PrecipitationMM,
		"temperature_min_k": p.TemperatureMin,
		"temperature_max_k": p.TemperatureMax,
	}, p.Day)
}

// WriteIrrigationRun records that a valve was opened for seconds.
//
// Example:
//
//	client.WriteIrrigationRun("switch.garden_valve", 210, time.Now())
func (c *Client) WriteIrrigationRun(entityID string, seconds int, at time.Time) {
	c.WritePointWithTime(MeasurementIrrigationRun,
		map[string]string{"entity_id": entityID},
		map[string]any{"seconds": seconds},
		at)
}

// WriteStateMetric records a numeric entity state.
//
// Parameters:
//   - entityID: e.g. "sensor.outdoor_temperature"
//   - domain: the entity id's domain, e.g. "sensor"
//   - unit: the unit_of_measurement attribute, may be empty
//   - value: the parsed state
//   - at: the state's last_updated time
func (c *Client) WriteStateMetric(entityID, domain, unit string, value float64, at time.Time) {
	tags := map[string]string{"entity_id": entityID, "domain": domain}
	if unit != "" {
		tags["unit"] = unit
	}
	c.WritePointWithTime(MeasurementEntityState, tags, map[string]any{"value": value}, at)
}

// WritePointWithTime writes a point with explicit tags, fields and time.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
