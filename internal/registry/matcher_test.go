package registry

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestMatchers(t *testing.T) {
	tests := []struct {
		name  string
		m     Matcher
		value any
		want  bool
	}{
		{"exact string", Exact("on"), "on", true},
		{"exact string mismatch", Exact("on"), "off", false},
		{"exact number across types", Exact(21), 21.0, true},
		{"exact number mismatch", Exact(21), 21.5, false},
		{"exact nil equals empty", Exact(""), nil, true},
		{"exact time", Exact(epochTime()), epochTime().In(time.FixedZone("x", 3600)), true},
		{"predicate true", Predicate(func(v any) bool { s, _ := v.(string); return strings.HasPrefix(s, "sensor.") }), "sensor.temp", true},
		{"predicate false", Predicate(func(v any) bool { s, _ := v.(string); return strings.HasPrefix(s, "sensor.") }), "switch.valve", false},
		{"pattern", Pattern(regexp.MustCompile(`^switch\.`)), "switch.valve", true},
		{"pattern mismatch", Pattern(regexp.MustCompile(`^switch\.`)), "sensor.temp", false},
		{"pattern non-string", Pattern(regexp.MustCompile(`.*`)), 4, false},
		{"pattern nil regexp", Pattern(nil), "x", false},
		{"present", Present(), "on", true},
		{"present zero number", Present(), 0, true},
		{"present empty string", Present(), "", false},
		{"present nil", Present(), nil, false},
		{"present zero time", Present(), time.Time{}, false},
		{"nested", Nested(Filter{"unit": Exact("mm")}), map[string]any{"unit": "mm"}, true},
		{"nested mismatch", Nested(Filter{"unit": Exact("mm")}), map[string]any{"unit": "in"}, false},
		{"nested missing key", Nested(Filter{"unit": Present()}), map[string]any{}, false},
		{"nested non-map", Nested(Filter{"unit": Exact("mm")}), "mm", false},
		{"empty nested non-map", Nested(Filter{}), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Match(tt.value); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestMatchesFilter(t *testing.T) {
	door := &State{
		EntityID:   "binary_sensor.door",
		State:      "on",
		Attributes: map[string]any{"device_class": "door", "battery": 80},
		AreaID:     "kitchen",
	}

	tests := []struct {
		name   string
		state  *State
		filter Filter
		want   bool
	}{
		{"nil state", nil, Filter{}, false},
		{"nil state with clauses", nil, Filter{"state": Exact("on")}, false},
		{"empty filter", door, Filter{}, true},
		{"nil matcher ignored", door, Filter{"state": nil}, true},
		{"all clauses match", door, Filter{
			"state":      Exact("on"),
			"areaId":     Exact("kitchen"),
			"attributes": Nested(Filter{"device_class": Exact("door")}),
		}, true},
		{"one clause mismatches", door, Filter{
			"state":      Exact("on"),
			"areaId":     Exact("garden"),
			"attributes": Nested(Filter{"device_class": Exact("door")}),
		}, false},
		{"nested clause mismatches", door, Filter{
			"state":      Exact("on"),
			"attributes": Nested(Filter{"battery": Predicate(func(v any) bool { f, _ := toFloat(v); return f < 20 })}),
		}, false},
		{"unknown field", door, Filter{"unknown": Present()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesFilter(tt.state, tt.filter); got != tt.want {
				t.Errorf("MatchesFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_StopsAtFirstMismatch(t *testing.T) {
	var calls int
	counting := Predicate(func(any) bool { calls++; return false })
	f := Filter{"state": counting, "entity_id": counting}

	if MatchesFilter(&State{EntityID: "switch.valve", State: "off"}, f) {
		t.Fatal("MatchesFilter() = true with failing clauses")
	}
	if calls != 1 {
		t.Errorf("matchers evaluated = %d, want 1", calls)
	}
}

func TestGetEntities_Filter(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"nil filter", nil, []string{"binary_sensor.door", "sensor.orphan"}},
		{"by device", Filter{"deviceId": Exact("d1")}, []string{"binary_sensor.door"}},
		{"by pattern", Filter{"id": Pattern(regexp.MustCompile(`^sensor\.`))}, []string{"sensor.orphan"}},
		{"by predicate", Filter{"name": Predicate(func(v any) bool { return v == "Door" })}, []string{"binary_sensor.door"}},
		{"with state", Filter{"state": Present()}, []string{"binary_sensor.door"}},
		{"conflicting clauses", Filter{"deviceId": Exact("d1"), "name": Exact("Orphan")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.GetEntities(tt.filter)
			ids := make([]string, 0, len(got))
			for id := range got {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("GetEntities() = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestGetStates_Filter(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	got := r.GetStates(Filter{
		"areaName":   Exact("Kitchen"),
		"attributes": Nested(Filter{"device_class": Exact("door")}),
	})
	if len(got) != 1 || got[0].EntityID != "binary_sensor.door" {
		t.Errorf("GetStates(kitchen doors) = %v", got)
	}

	if got := r.GetStates(Filter{"areaName": Exact("Garden")}); len(got) != 0 {
		t.Errorf("GetStates(garden) = %v, want none", got)
	}
}

func epochTime() time.Time {
	return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
}
