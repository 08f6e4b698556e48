package irrigation

import (
	"math"
	"testing"
)

func TestToKelvin(t *testing.T) {
	tests := []struct {
		in     []string
		want   float64
		wantOK bool
	}{
		{[]string{"5C"}, 278.15, true},
		{[]string{"0 C"}, 273.15, true},
		{[]string{"21.5°C"}, 294.65, true},
		{[]string{"-3C"}, 270.15, true},
		{[]string{"41F"}, 278.15, true},
		{[]string{"32", "°F"}, 273.15, true},
		{[]string{"12", "°C"}, 285.15, true},
		{[]string{"5K"}, 0, false},
		{[]string{"warm"}, 0, false},
		{[]string{""}, 0, false},
		{[]string{"5c"}, 0, false},
	}

	for _, tt := range tests {
		got, ok := ToKelvin(tt.in...)
		if ok != tt.wantOK {
			t.Errorf("ToKelvin(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ToKelvin(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToMillimeters(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"5mm", 5, true},
		{"1in", 25.4, true},
		{"2.5 in", 63.5, true},
		{"0mm", 0, true},
		{"3cm", 0, false},
		{"mm", 0, false},
	}

	for _, tt := range tests {
		got, ok := ToMillimeters(tt.in)
		if ok != tt.wantOK || (ok && math.Abs(got-tt.want) > 1e-9) {
			t.Errorf("ToMillimeters(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}

	// Idempotent for millimeters.
	mm, _ := ToMillimeters("5mm")
	again, _ := ToMillimeters(FromMillimeters(mm, "mm"))
	if again != 5 {
		t.Errorf("mm round trip = %v, want 5", again)
	}
}

func TestTemperatureRoundTrip(t *testing.T) {
	for _, in := range []string{"5C", "-12.5C", "41F", "100F", "-40F"} {
		k, ok := ToKelvin(in)
		if !ok {
			t.Fatalf("ToKelvin(%q) failed", in)
		}
		back := FromKelvin(k, Unit(in))
		k2, ok := ToKelvin(back)
		if !ok || math.Abs(k-k2) > 1e-6 {
			t.Errorf("%q -> %v K -> %q -> %v K", in, k, back, k2)
		}
	}
}

func TestFromUnits(t *testing.T) {
	if got := FromKelvin(278.15, "C"); got != "5C" {
		t.Errorf("FromKelvin(278.15, C) = %q", got)
	}
	if got := FromKelvin(278.15, "°F"); got != "41F" {
		t.Errorf("FromKelvin(278.15, °F) = %q", got)
	}
	if got := FromMillimeters(25.4, "in"); got != "1in" {
		t.Errorf("FromMillimeters(25.4, in) = %q", got)
	}
	if got := FromMillimeters(3, "furlong"); got != "3mm" {
		t.Errorf("FromMillimeters(3, furlong) = %q, want mm fallback", got)
	}
	if got := Unit("3 mm"); got != "mm" {
		t.Errorf("Unit(3 mm) = %q", got)
	}
}
