package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the /api/system response.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Supervised    bool           `json:"supervised"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Hub           HubMetrics     `json:"hub"`
	Irrigation    *ValveMetrics  `json:"irrigation,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HubMetrics describes the shared hub connection.
type HubMetrics struct {
	Connected  bool   `json:"connected"`
	ClientName string `json:"client_name,omitempty"`
}

// ValveMetrics summarises the irrigation valves.
type ValveMetrics struct {
	Valves int `json:"valves"`
}

// handleSystem returns a JSON snapshot of the process and its connections.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Supervised:    s.connections.Supervised(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if hubStatus, err := s.connections.Status(r.Context()); err == nil {
		status.Hub = HubMetrics{Connected: hubStatus.Connected, ClientName: hubStatus.ClientName}
	} else {
		s.logger.Warn("reading hub status failed", "error", err)
	}

	if s.irrigation != nil {
		if valves, err := s.irrigation.ValvePayloads(r.Context()); err == nil {
			status.Irrigation = &ValveMetrics{Valves: len(valves)}
		}
	}

	writeJSON(w, http.StatusOK, status)
}
