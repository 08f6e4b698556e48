package irrigation

import "testing"

// deficitBalance is two dry past days (-6) and a forecast day at -1.
func deficitBalance(futureMinK float64) Balance {
	past := HydroRecords{
		"2026-06-08": {Evaporation: 3},
		"2026-06-09": {Evaporation: 3},
	}
	future := HydroRecords{
		"2026-06-11": {Precipitation: 1, Evaporation: 2, Temperature: TemperatureRange{Min: futureMinK, Max: 300}},
	}
	return Balance{
		PastHydro:   past.Balance(),
		FutureHydro: future.Balance(),
		Past:        past,
		Future:      future,
		Today:       "2026-06-10",
		Since:       "2026-06-08",
		Until:       "2026-06-11",
	}
}

func testValve(t *testing.T) Valve {
	t.Helper()
	v, err := ParseValveParams(ValveParams{
		EntityID:           "switch.garden_valve",
		ObservedDays:       intPtr(2),
		OvershootDays:      intPtr(1),
		EvaporationFactor:  floatPtr(1),
		VolumePerMinute:    "2mm",
		MinimalTemperature: "5C",
	})
	if err != nil {
		t.Fatalf("ParseValveParams() error = %v", err)
	}
	return v
}

func TestDecide(t *testing.T) {
	v := testValve(t)

	tests := []struct {
		name        string
		balance     func() Balance
		wantSeconds int
		wantReason  string
	}{
		{
			name:        "deficit irrigates",
			balance:     func() Balance { return deficitBalance(290) },
			wantSeconds: 210,
			wantReason:  ReasonIrrigate,
		},
		{
			name:        "cold forecast day",
			balance:     func() Balance { return deficitBalance(276.15) },
			wantSeconds: 0,
			wantReason:  ReasonTemperature,
		},
		{
			name:        "minimal temperature met exactly",
			balance:     func() Balance { return deficitBalance(v.MinimalKelvin) },
			wantSeconds: 210,
			wantReason:  ReasonIrrigate,
		},
		{
			name: "zero balance does not irrigate",
			balance: func() Balance {
				b := deficitBalance(290)
				b.PastIrrigation = 7
				return b
			},
			wantSeconds: 0,
			wantReason:  ReasonBalance,
		},
		{
			name: "rounds up to whole seconds",
			balance: func() Balance {
				b := deficitBalance(290)
				b.PastIrrigation = 6.99
				return b
			},
			wantSeconds: 1,
			wantReason:  ReasonIrrigate,
		},
		{
			name: "missing first observed day",
			balance: func() Balance {
				b := deficitBalance(290)
				delete(b.Past, "2026-06-08")
				return b
			},
			wantReason: ReasonHistory,
		},
		{
			name: "forecast short of last overshoot day",
			balance: func() Balance {
				b := deficitBalance(290)
				b.Until = "2026-06-12"
				return b
			},
			wantReason: ReasonHistory,
		},
		{
			name: "zero observed days never irrigates",
			balance: func() Balance {
				b := deficitBalance(290)
				b.Past, b.PastHydro, b.Since = HydroRecords{}, 0, b.Today
				b.FutureHydro = -50
				return b
			},
			wantReason: ReasonHistory,
		},
		{
			name: "already irrigated today",
			balance: func() Balance {
				b := deficitBalance(290)
				b.Irrigation = map[string]IrrigationRecord{"2026-06-10": {Irrigation: 0.5}}
				return b
			},
			wantReason: ReasonIrrigatedToday,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(v, tt.balance())
			if d.Seconds != tt.wantSeconds || d.Reason != tt.wantReason {
				t.Errorf("Decide() = %d s (%s), want %d s (%s); level %v",
					d.Seconds, d.Reason, tt.wantSeconds, tt.wantReason, d.Level)
			}
		})
	}
}
