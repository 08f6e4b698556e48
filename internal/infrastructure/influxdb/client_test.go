package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
)

// fakeWriter records points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func newFakeClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_PingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: srv.URL})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_WritesLineProtocol(t *testing.T) {
	var (
		mu   sync.Mutex
		body strings.Builder
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			raw, _ := io.ReadAll(r.Body)
			mu.Lock()
			body.Write(raw)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     srv.URL,
		Token:   "token",
		Org:     "home",
		Bucket:  "companion",
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	c.WriteIrrigationRun("switch.garden_valve", 210, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body.String(), "irrigation_run,entity_id=switch.garden_valve seconds=210i") {
		t.Errorf("write body = %q", body.String())
	}
}

func TestWriteIrrigationRun(t *testing.T) {
	c, w := newFakeClient()
	at := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	c.WriteIrrigationRun("switch.garden_valve", 210, at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementIrrigationRun || !p.Time().Equal(at) {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}
	if tags(p)["entity_id"] != "switch.garden_valve" {
		t.Errorf("tags = %v", tags(p))
	}
	if fields(p)["seconds"] != int64(210) {
		t.Errorf("fields = %v", fields(p))
	}
}

func TestWriteHydro(t *testing.T) {
	c, w := newFakeClient()
	day := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	c.WriteHydro(HydroPoint{Day: day, EvaporationMM: 4.2, PrecipitationMM: 1, TemperatureMin: 285.15, TemperatureMax: 298.15})

	p := w.points[0]
	if p.Name() != MeasurementHydro || !p.Time().Equal(day) || len(p.TagList()) != 0 {
		t.Errorf("point = %s at %v tags %v", p.Name(), p.Time(), tags(p))
	}
	f := fields(p)
	if f["evaporation_mm"] != 4.2 || f["precipitation_mm"] != 1.0 || f["temperature_max_k"] != 298.15 {
		t.Errorf("fields = %v", f)
	}
}

func TestWriteStateMetric(t *testing.T) {
	c, w := newFakeClient()
	at := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	c.WriteStateMetric("sensor.outdoor_temperature", "sensor", "°C", 21.5, at)
	c.WriteStateMetric("counter.cycles", "counter", "", 3, at)

	if got := tags(w.points[0]); got["unit"] != "°C" || got["domain"] != "sensor" {
		t.Errorf("tags = %v", got)
	}
	if _, ok := tags(w.points[1])["unit"]; ok {
		t.Error("empty unit written as tag")
	}
	if fields(w.points[0])["value"] != 21.5 {
		t.Errorf("fields = %v", fields(w.points[0]))
	}
}

func TestClose_StopsWrites(t *testing.T) {
	c, w := newFakeClient()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	c.WriteIrrigationRun("switch.garden_valve", 1, time.Now())
	c.Flush()

	if len(w.points) != 0 || w.flushes != 1 {
		t.Errorf("points = %d, flushes = %d; want 0 and the one from Close", len(w.points), w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newFakeClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("429 too many requests")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Error("callback not called")
	}
}
