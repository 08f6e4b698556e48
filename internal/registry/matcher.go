package registry

import (
	"reflect"
	"regexp"
	"time"
)

// Matcher tests a single field value.
type Matcher interface {
	Match(value any) bool
}

// Filter maps field names to matchers. A record matches when every
// matcher matches; evaluation stops at the first mismatch.
//
// Field names follow the JSON names of the record: "id", "name",
// "deviceId", "deviceClass" for entities, "entity_id", "state",
// "attributes" for states, and so on.
type Filter map[string]Matcher

// Exact matches values equal to v. Numbers compare by value regardless of
// their Go type, and nil equals the empty string.
func Exact(v any) Matcher { return exactMatcher{want: v} }

// Predicate matches values for which fn returns true.
func Predicate(fn func(value any) bool) Matcher { return predicateMatcher(fn) }

// Nested applies f to a map-valued field such as "attributes".
func Nested(f Filter) Matcher { return nestedMatcher(f) }

// Pattern matches string values against a regular expression.
func Pattern(re *regexp.Regexp) Matcher { return patternMatcher{re: re} }

// Present matches non-empty values.
func Present() Matcher { return presentMatcher{} }

type exactMatcher struct{ want any }

func (m exactMatcher) Match(v any) bool { return looseEqual(v, m.want) }

type predicateMatcher func(any) bool

func (m predicateMatcher) Match(v any) bool { return m(v) }

type nestedMatcher Filter

func (m nestedMatcher) Match(v any) bool {
	fields, ok := v.(map[string]any)
	if !ok {
		return len(m) == 0
	}
	return Filter(m).match(fields)
}

type patternMatcher struct{ re *regexp.Regexp }

func (m patternMatcher) Match(v any) bool {
	s, ok := v.(string)
	return ok && m.re != nil && m.re.MatchString(s)
}

type presentMatcher struct{}

func (presentMatcher) Match(v any) bool { return !isEmpty(v) }

// match applies f to a record's fields.
func (f Filter) match(fields map[string]any) bool {
	for name, m := range f {
		if m == nil {
			continue
		}
		if !m.Match(fields[name]) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case time.Time:
		return x.IsZero()
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// Record field views used by filters.

func (a Area) fields() map[string]any {
	return map[string]any{"id": a.ID, "name": a.Name}
}

func (d Device) fields() map[string]any {
	return map[string]any{"id": d.ID, "name": d.Name, "areaId": d.AreaID}
}

func (e Entity) fields() map[string]any {
	return map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"deviceId":    e.DeviceID,
		"deviceClass": e.DeviceClass,
		"stateClass":  e.StateClass,
		"state":       e.State,
		"lastUpdated": e.LastUpdated,
		"lastChanged": e.LastChanged,
	}
}

func (s *State) fields() map[string]any {
	return map[string]any{
		"entity_id":    s.EntityID,
		"state":        s.State,
		"attributes":   s.Attributes,
		"last_changed": s.LastChanged,
		"last_updated": s.LastUpdated,
		"deviceId":     s.DeviceID,
		"areaId":       s.AreaID,
		"deviceName":   s.DeviceName,
		"areaName":     s.AreaName,
	}
}

// MatchesFilter reports whether state satisfies f. Use Nested on the
// "attributes" field to filter on attribute values. A nil state never matches.
func MatchesFilter(state *State, f Filter) bool {
	if state == nil {
		return false
	}
	return f.match(state.fields())
}
