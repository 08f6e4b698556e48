package irrigation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	kelvinOffset = 273.15
	mmPerInch    = 25.4
)

// quantityPattern splits "3mm", "1 in", "5°C" or "-2.5 F" into value and unit.
var quantityPattern = regexp.MustCompile(`^(-?\d+\.?\d*)\s*°?(.*)$`)

var toKelvin = map[string]func(float64) float64{
	"C": func(v float64) float64 { return v + kelvinOffset },
	"F": func(v float64) float64 { return (v-32)/1.8 + kelvinOffset },
}

var fromKelvin = map[string]func(float64) float64{
	"C": func(k float64) float64 { return k - kelvinOffset },
	"F": func(k float64) float64 { return (k-kelvinOffset)*1.8 + 32 },
}

var toMillimeters = map[string]func(float64) float64{
	"mm": func(v float64) float64 { return v },
	"in": func(v float64) float64 { return v * mmPerInch },
}

var fromMillimeters = map[string]func(float64) float64{
	"mm": func(mm float64) float64 { return mm },
	"in": func(mm float64) float64 { return mm / mmPerInch },
}

// ToKelvin converts a temperature such as "5C", "41 F" or "21.5°C" to
// Kelvin. The text segments are joined first, so ToKelvin("12", "°C") works
// for a value and a separate unit attribute. ok is false when the value
// cannot be parsed or the unit is not C or F.
func ToKelvin(text ...string) (kelvin float64, ok bool) {
	return convert(strings.Join(text, ""), toKelvin)
}

// ToMillimeters converts a length such as "3mm" or "1 in" to millimeters.
// ok is false when the value cannot be parsed or the unit is not mm or in.
func ToMillimeters(text ...string) (mm float64, ok bool) {
	return convert(strings.Join(text, ""), toMillimeters)
}

// FromKelvin formats a Kelvin temperature in unit ("C" or "F"), e.g. "5C".
// Unknown units fall back to Celsius.
func FromKelvin(kelvin float64, unit string) string {
	unit = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(unit, "°")))
	fn, ok := fromKelvin[unit]
	if !ok {
		unit, fn = "C", fromKelvin["C"]
	}
	return formatQuantity(fn(kelvin), unit)
}

// FromMillimeters formats a length in unit ("mm" or "in"), e.g. "3mm".
// Unknown units fall back to millimeters.
func FromMillimeters(mm float64, unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))
	fn, ok := fromMillimeters[unit]
	if !ok {
		unit, fn = "mm", fromMillimeters["mm"]
	}
	return formatQuantity(fn(mm), unit)
}

// Unit returns the unit suffix of a quantity, or "" when it has none.
func Unit(text string) string {
	m := quantityPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[2])
}

func convert(text string, table map[string]func(float64) float64) (float64, bool) {
	m := quantityPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	fn, ok := table[strings.TrimSpace(m[2])]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	out := fn(v)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

// formatQuantity rounds away float noise from unit round trips.
func formatQuantity(v float64, unit string) string {
	v = math.Round(v*1e6) / 1e6
	return strconv.FormatFloat(v, 'f', -1, 64) + unit
}

// lengthIn converts millimeters to unit, millimeters when unknown.
func lengthIn(mm float64, unit string) float64 {
	if fn, ok := fromMillimeters[strings.ToLower(unit)]; ok {
		return fn(mm)
	}
	return mm
}

// temperatureIn converts Kelvin to unit, Celsius when unknown.
func temperatureIn(kelvin float64, unit string) float64 {
	if fn, ok := fromKelvin[strings.ToUpper(unit)]; ok {
		return fn(kelvin)
	}
	return fromKelvin["C"](kelvin)
}
