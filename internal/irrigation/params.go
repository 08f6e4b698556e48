package irrigation

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Defaults applied to valve parameters that were never configured.
const (
	DefaultObservedDays       = 3
	DefaultOvershootDays      = 3
	DefaultEvaporationFactor  = 1.0
	DefaultVolumePerMinute    = "1mm"
	DefaultMinimalTemperature = "5C"
)

// Key-value store paths.
const (
	keyValves          = "irrigation/valves"
	keyHistory         = "irrigation/history"
	keyForecastTrigger = "irrigation/triggers/forecast-updates"
)

var (
	volumeSetting      = regexp.MustCompile(`(?i)^\d+\s?(in|mm)$`)
	temperatureSetting = regexp.MustCompile(`(?i)^\d+\s?[FC]$`)
)

// Store is the persistence the irrigation package needs.
type Store interface {
	Get(ctx context.Context, path string, out any) (bool, error)
	Set(ctx context.Context, path string, value any) error
}

// ValveParams is the persisted parameter set of one valve. Absent fields
// take the package defaults.
type ValveParams struct {
	EntityID           string   `json:"entityId"`
	ObservedDays       *int     `json:"observed-days,omitempty"`
	OvershootDays      *int     `json:"overshoot-days,omitempty"`
	EvaporationFactor  *float64 `json:"evaporation-factor,omitempty"`
	VolumePerMinute    string   `json:"volume-per-minute,omitempty"`
	MinimalTemperature string   `json:"minimal-temperature,omitempty"`
}

// Valve is a valve's parameter set with defaults applied and units
// converted to millimeters and Kelvin.
type Valve struct {
	EntityID          string
	ObservedDays      int
	OvershootDays     int
	EvaporationFactor float64

	// VolumePerMinute and MinimalTemperature keep the operator's text so
	// payloads can answer in the same units.
	VolumePerMinute    string
	MinimalTemperature string

	VolumeMM      float64 // mm per minute
	MinimalKelvin float64
}

// ParseValveParams applies defaults and converts units.
//
// Returns:
//   - Valve: The resolved parameters
//   - error: ErrInvalidParameter for negative values, unknown units or a
//     non-positive volume
func ParseValveParams(p ValveParams) (Valve, error) {
	v := Valve{
		EntityID:           p.EntityID,
		ObservedDays:       DefaultObservedDays,
		OvershootDays:      DefaultOvershootDays,
		EvaporationFactor:  DefaultEvaporationFactor,
		VolumePerMinute:    DefaultVolumePerMinute,
		MinimalTemperature: DefaultMinimalTemperature,
	}
	if p.ObservedDays != nil {
		v.ObservedDays = *p.ObservedDays
	}
	if p.OvershootDays != nil {
		v.OvershootDays = *p.OvershootDays
	}
	if p.EvaporationFactor != nil {
		v.EvaporationFactor = *p.EvaporationFactor
	}
	if p.VolumePerMinute != "" {
		v.VolumePerMinute = p.VolumePerMinute
	}
	if p.MinimalTemperature != "" {
		v.MinimalTemperature = p.MinimalTemperature
	}

	if v.ObservedDays < 0 || v.OvershootDays < 0 || v.EvaporationFactor < 0 {
		return Valve{}, fmt.Errorf("%w: %s: negative days or factor", ErrInvalidParameter, p.EntityID)
	}

	var ok bool
	if v.VolumeMM, ok = ToMillimeters(v.VolumePerMinute); !ok || v.VolumeMM <= 0 {
		return Valve{}, fmt.Errorf("%w: %s: volume per minute %q", ErrInvalidParameter, p.EntityID, v.VolumePerMinute)
	}
	if v.MinimalKelvin, ok = ToKelvin(v.MinimalTemperature); !ok {
		return Valve{}, fmt.Errorf("%w: %s: minimal temperature %q", ErrInvalidParameter, p.EntityID, v.MinimalTemperature)
	}
	return v, nil
}

// ValveSettings is the operator-facing form of a valve's parameters.
type ValveSettings struct {
	IrrigationVolumePerMinute string   `json:"irrigationVolumePerMinute"`
	MinimalTemperature        string   `json:"minimalTemperature"`
	ObservedDays              *int     `json:"observedDays"`
	OvershootDays             *int     `json:"overshootDays"`
	EvaporationFactor         *float64 `json:"evaporationFactor"`
}

// FieldError names the setting that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidParameter
}

// Validate checks that every setting is present and well formed.
func (s ValveSettings) Validate() error {
	switch {
	case !volumeSetting.MatchString(s.IrrigationVolumePerMinute):
		return &FieldError{Field: "irrigationVolumePerMinute", Message: "must look like 3mm or 1in"}
	case !temperatureSetting.MatchString(s.MinimalTemperature):
		return &FieldError{Field: "minimalTemperature", Message: "must look like 5C or 41F"}
	case s.ObservedDays == nil || *s.ObservedDays < 0:
		return &FieldError{Field: "observedDays", Message: "must be a number >= 0"}
	case s.OvershootDays == nil || *s.OvershootDays < 0:
		return &FieldError{Field: "overshootDays", Message: "must be a number >= 0"}
	case s.EvaporationFactor == nil || *s.EvaporationFactor < 0:
		return &FieldError{Field: "evaporationFactor", Message: "must be a number >= 0"}
	}
	return nil
}

// Params validates s and normalizes it into the persisted form: spaces
// removed, lengths lower case, temperatures upper case.
func (s ValveSettings) Params(entityID string) (ValveParams, error) {
	if err := s.Validate(); err != nil {
		return ValveParams{}, err
	}
	return ValveParams{
		EntityID:           entityID,
		ObservedDays:       s.ObservedDays,
		OvershootDays:      s.OvershootDays,
		EvaporationFactor:  s.EvaporationFactor,
		VolumePerMinute:    strings.ToLower(strings.ReplaceAll(s.IrrigationVolumePerMinute, " ", "")),
		MinimalTemperature: strings.ToUpper(strings.ReplaceAll(s.MinimalTemperature, " ", "")),
	}, nil
}

// Settings returns v in the operator's units.
func (v Valve) Settings() ValveSettings {
	observed, overshoot, factor := v.ObservedDays, v.OvershootDays, v.EvaporationFactor
	return ValveSettings{
		IrrigationVolumePerMinute: FromMillimeters(v.VolumeMM, Unit(v.VolumePerMinute)),
		MinimalTemperature:        FromKelvin(v.MinimalKelvin, Unit(v.MinimalTemperature)),
		ObservedDays:              &observed,
		OvershootDays:             &overshoot,
		EvaporationFactor:         &factor,
	}
}

// LoadValveParams returns the stored parameters of one valve, or an empty
// set carrying only the entity id when none were saved.
func LoadValveParams(ctx context.Context, s Store, entityID string) (ValveParams, error) {
	all, err := loadAllValveParams(ctx, s)
	if err != nil {
		return ValveParams{}, err
	}
	for _, p := range all {
		if p.EntityID == entityID {
			return p, nil
		}
	}
	return ValveParams{EntityID: entityID}, nil
}

// SaveValveParams stores p, replacing any earlier entry of the same valve
// and keeping the others.
func SaveValveParams(ctx context.Context, s Store, p ValveParams) error {
	all, err := loadAllValveParams(ctx, s)
	if err != nil {
		return err
	}
	all = slices.DeleteFunc(all, func(old ValveParams) bool {
		return old.EntityID == p.EntityID || old.EntityID == ""
	})
	all = append([]ValveParams{p}, all...)

	if err := s.Set(ctx, keyValves, all); err != nil {
		return fmt.Errorf("saving valve parameters: %w", err)
	}
	return nil
}

func loadAllValveParams(ctx context.Context, s Store) ([]ValveParams, error) {
	var all []ValveParams
	if _, err := s.Get(ctx, keyValves, &all); err != nil {
		return nil, fmt.Errorf("loading valve parameters: %w", err)
	}
	return all, nil
}

// maxObservedDays is the longest history window any configured valve needs.
func maxObservedDays(ctx context.Context, s Store) (int, error) {
	all, err := loadAllValveParams(ctx, s)
	if err != nil {
		return 0, err
	}
	longest := DefaultObservedDays
	for _, p := range all {
		if p.ObservedDays != nil && *p.ObservedDays > longest {
			longest = *p.ObservedDays
		}
	}
	return longest, nil
}

// ForecastTrigger reports whether forecast updates re-run the valve check.
func ForecastTrigger(ctx context.Context, s Store) (bool, error) {
	var on bool
	if _, err := s.Get(ctx, keyForecastTrigger, &on); err != nil {
		return false, fmt.Errorf("loading forecast trigger: %w", err)
	}
	return on, nil
}

// SetForecastTrigger enables or disables forecast-triggered checks.
func SetForecastTrigger(ctx context.Context, s Store, on bool) error {
	if err := s.Set(ctx, keyForecastTrigger, on); err != nil {
		return fmt.Errorf("saving forecast trigger: %w", err)
	}
	return nil
}
