package irrigation

import (
	"math"
	"time"
)

// ETModel estimates potential evaporation in mm/day.
type ETModel func(date time.Time, tMinC, tMaxC, humidity, latitude float64) float64

// HargreavesSamani estimates potential evaporation in mm/day from the daily
// temperature range, using the Valiantzas humidity modification.
//
// The date is taken at local midnight in its own location. Temperatures are
// in degrees Celsius, humidity in percent and latitude in degrees.
//
// Out of range inputs are clamped rather than producing NaN: the sunset
// hour angle argument to [-1, 1] (polar day and night), a negative
// temperature span to 0 and humidity to [0, 100].
//
// References: Shuttleworth, Evaporation, Handbook of Hydrology (1993),
// equations 4.2.44 and 4.4.2 to 4.4.5; Valiantzas, J. Irrig. Drain. Eng.
// 144(1) (2018).
func HargreavesSamani(date time.Time, tMinC, tMaxC, humidity, latitude float64) float64 {
	radians := latitude * (math.Pi / 180)
	julian := julianDay(date)

	declination := 0.4093 * math.Sin((2*math.Pi*julian)/365-1.405)
	hourAngle := math.Acos(clamp(-math.Tan(radians)*math.Tan(declination), -1, 1))
	distance := 1 + 0.033*math.Cos((2*math.Pi*julian)/365)

	radiation := 15.392 *
		distance *
		(hourAngle*math.Sin(radians)*math.Sin(declination) +
			math.Cos(radians)*
				math.Cos(declination)*
				math.Sin(hourAngle))

	span := math.Max(tMaxC-tMinC, 0)
	evaporation := 0.0023 *
		radiation *
		math.Sqrt(span) *
		((tMaxC+tMinC)/2 + 17.8)

	humidity = clamp(humidity, 0, 100)
	return evaporation * math.Pow(1.001-humidity/100, 0.2)
}

// julianDay returns the Julian day number of date's local midnight.
func julianDay(date time.Time) float64 {
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	return math.Floor(float64(midnight.Unix())/86400 + 2440587.5)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
