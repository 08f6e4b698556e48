package irrigation

import "math"

// Decision reasons.
const (
	ReasonIrrigate       = "irrigate"
	ReasonIrrigatedToday = "irrigated_today"
	ReasonTemperature    = "minimal_temperature"
	ReasonHistory        = "insufficient_history"
	ReasonBalance        = "balance"
)

// Balance is everything a decision is computed from. Amounts are in mm,
// with evaporation already scaled by the valve's factor.
type Balance struct {
	PastHydro      float64
	PastIrrigation float64
	FutureHydro    float64

	Past       HydroRecords
	Future     HydroRecords
	Irrigation map[string]IrrigationRecord

	// Today, Since and Until are the day keys of the evaluation window.
	Today string
	Since string
	Until string
}

// Level is the soil water balance: negative means a deficit.
func (b Balance) Level() float64 {
	return b.PastHydro + b.PastIrrigation + b.FutureHydro
}

// Decision is the outcome for one valve.
type Decision struct {
	EntityID string
	Seconds  int
	Reason   string
	Level    float64
	Balance  Balance
}

// Decide computes how long a valve should run.
//
// A valve runs only when it has not irrigated today, every forecast day
// meets or exceeds its minimal temperature, the stored history reaches
// back to the first observed day, the forecast reaches the last overshoot
// day and the level is strictly negative. It then runs for
// ceil(-level / volume × 60) seconds.
func Decide(v Valve, b Balance) Decision {
	d := Decision{EntityID: v.EntityID, Level: b.Level(), Balance: b, Reason: ReasonBalance}

	if b.Irrigation[b.Today].Irrigation > 0 {
		d.Reason = ReasonIrrigatedToday
		return d
	}
	if lowest, ok := b.Future.minTemperature(); ok && lowest < v.MinimalKelvin {
		d.Reason = ReasonTemperature
		return d
	}
	_, pastOK := b.Past[b.Since]
	_, futureOK := b.Future[b.Until]
	if !pastOK || !futureOK {
		d.Reason = ReasonHistory
		return d
	}
	if d.Level >= 0 {
		return d
	}

	d.Seconds = int(math.Ceil(-d.Level / v.VolumeMM * 60))
	d.Reason = ReasonIrrigate
	return d
}
