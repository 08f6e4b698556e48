package irrigation

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/nerrad567/hub-companion/internal/hub"
)

const dayLayout = "2006-01-02"

// TemperatureRange is a day's temperature span in Kelvin.
type TemperatureRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// HydroRecord is one day's water balance inputs in millimeters.
type HydroRecord struct {
	Evaporation   float64          `json:"evaporation"`
	Precipitation float64          `json:"precipitation"`
	Temperature   TemperatureRange `json:"temperature"`
}

// HydroRecords maps YYYY-MM-DD day keys to records.
type HydroRecords map[string]HydroRecord

// Balance sums precipitation minus evaporation over every day.
func (r HydroRecords) Balance() float64 {
	var sum float64
	for _, key := range r.keys() {
		sum += r[key].Precipitation - r[key].Evaporation
	}
	return sum
}

// scaled returns a copy with evaporation multiplied by factor.
func (r HydroRecords) scaled(factor float64) HydroRecords {
	out := make(HydroRecords, len(r))
	for key, rec := range r {
		rec.Evaporation *= factor
		out[key] = rec
	}
	return out
}

// minTemperature returns the lowest daily minimum, ok false when empty.
func (r HydroRecords) minTemperature() (float64, bool) {
	if len(r) == 0 {
		return 0, false
	}
	lowest := math.MaxFloat64
	for _, rec := range r {
		lowest = math.Min(lowest, rec.Temperature.Min)
	}
	return lowest, true
}

// keys returns the day keys in order, so sums are reproducible.
func (r HydroRecords) keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IrrigationRecord is the volume a valve delivered on one day.
type IrrigationRecord struct {
	Irrigation  float64   `json:"irrigation"`
	LastChanged time.Time `json:"lastChanged"`
	LastState   string    `json:"lastState"`
}

func dayKey(t time.Time) string {
	return t.Format(dayLayout)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// PastIrrigation sums the volume a valve delivered per day from its state
// history. Each on→off interval contributes its minutes × volumeMM. A day
// whose first record is "off" counts as on since midnight, and a day that
// ends "on" is closed at the following midnight.
//
// Timestamps are bucketed into days in loc.
func PastIrrigation(history [][]hub.HistoryState, volumeMM float64, loc *time.Location) (float64, map[string]IrrigationRecord) {
	var states []hub.HistoryState
	for _, series := range history {
		states = append(states, series...)
	}
	slices.SortStableFunc(states, func(a, b hub.HistoryState) int {
		return a.LastChanged.Compare(b.LastChanged)
	})

	records := make(map[string]IrrigationRecord)
	for _, s := range states {
		at := s.LastChanged.In(loc)
		key := dayKey(at)

		rec, seen := records[key]
		if !seen {
			rec = IrrigationRecord{LastChanged: startOfDay(at), LastState: "off"}
			if s.State == "off" {
				rec.LastState = "on"
			}
		}
		if s.State != "on" && rec.LastState == "on" {
			rec.Irrigation += at.Sub(rec.LastChanged).Minutes() * volumeMM
		}
		rec.LastChanged = at
		rec.LastState = s.State
		records[key] = rec
	}

	var total float64
	for key, rec := range records {
		if rec.LastState == "on" {
			end := startOfDay(rec.LastChanged).AddDate(0, 0, 1)
			rec.Irrigation += end.Sub(rec.LastChanged).Minutes() * volumeMM
			records[key] = rec
		}
		total += rec.Irrigation
	}
	return total, records
}

// PastHydro selects the stored records of days in [since, today) and scales
// their evaporation by factor.
func PastHydro(history HydroRecords, since, today time.Time, factor float64) (float64, HydroRecords) {
	from, to := dayKey(since), dayKey(today)

	window := make(HydroRecords)
	for key, rec := range history {
		if key >= from && key < to {
			window[key] = rec
		}
	}
	window = window.scaled(factor)
	return window.Balance(), window
}

// mergeHistory stores today's record and drops days older than keepFrom.
func mergeHistory(history HydroRecords, today string, rec HydroRecord, keepFrom string) HydroRecords {
	out := make(HydroRecords, len(history)+1)
	for key, r := range history {
		if key >= keepFrom && key != today {
			out[key] = r
		}
	}
	out[today] = rec
	return out
}

// Forecast is one entry of a daily weather forecast.
type Forecast struct {
	Datetime      string   `json:"datetime"`
	Temperature   *float64 `json:"temperature"`
	TempLow       *float64 `json:"templow"`
	Precipitation *float64 `json:"precipitation"`
	Humidity      *float64 `json:"humidity"`
}

// ForecastSource is one weather entity's forecast with its units.
type ForecastSource struct {
	EntityID          string
	TemperatureUnit   string
	PrecipitationUnit string
	Forecast          []Forecast
}

// Records turns the forecast into raw hydro records for every day up to
// and including until. Evaporation comes from et at latitude. Entries
// without a parseable date or temperature are ignored; a missing low uses
// the high, missing humidity counts as 0 %.
func (f ForecastSource) Records(until time.Time, latitude float64, et ETModel) HydroRecords {
	last := dayKey(until)
	loc := until.Location()

	records := make(HydroRecords)
	for _, entry := range f.Forecast {
		at, err := time.Parse(time.RFC3339, entry.Datetime)
		if err != nil || entry.Temperature == nil {
			continue
		}
		at = at.In(loc)
		key := dayKey(at)
		if key > last {
			continue
		}

		high, ok := ToKelvin(formatNumber(*entry.Temperature), f.TemperatureUnit)
		if !ok {
			continue
		}
		low := high
		if entry.TempLow != nil {
			if k, ok := ToKelvin(formatNumber(*entry.TempLow), f.TemperatureUnit); ok {
				low = k
			}
		}
		var humidity float64
		if entry.Humidity != nil {
			humidity = *entry.Humidity
		}

		rec, seen := records[key]
		if !seen {
			rec.Temperature = TemperatureRange{Min: math.MaxFloat64, Max: -math.MaxFloat64}
		}
		rec.Temperature.Min = math.Min(rec.Temperature.Min, low)
		rec.Temperature.Max = math.Max(rec.Temperature.Max, high)
		rec.Evaporation += et(at, low-kelvinOffset, high-kelvinOffset, humidity, latitude)
		if entry.Precipitation != nil {
			if mm, ok := ToMillimeters(formatNumber(*entry.Precipitation), f.PrecipitationUnit); ok {
				rec.Precipitation += mm
			}
		}
		records[key] = rec
	}
	return records
}

// pessimistic picks the source with the lowest balance after scaling.
// It returns the raw and the scaled records of that source.
func pessimistic(sources []HydroRecords, factor float64) (raw, scaled HydroRecords) {
	for _, src := range sources {
		s := src.scaled(factor)
		if scaled == nil || s.Balance() < scaled.Balance() {
			raw, scaled = src, s
		}
	}
	if scaled == nil {
		return HydroRecords{}, HydroRecords{}
	}
	return raw, scaled
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
