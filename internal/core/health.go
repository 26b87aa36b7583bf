package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus is the JSON body served at /health.
type HealthStatus struct {
	Status         string `json:"status"` // "healthy", "degraded"
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Port           int    `json:"port"`
	Sessions       int    `json:"sessions"`
	Frames         int    `json:"frames"`
	BucketsWritten uint64 `json:"buckets_written"`
	UpdateCounter  uint64 `json:"update_counter"`
	MQTTConnected  bool   `json:"mqtt_connected"`
}

// HealthCheck snapshots the service state.
func (r *Receiver) HealthCheck() HealthStatus {
	r.mu.RLock()
	running := r.running
	started := r.started
	r.mu.RUnlock()

	stats := r.store.Stats()
	hs := HealthStatus{
		Status:         "healthy",
		Port:           r.Port(),
		Sessions:       stats.Sessions,
		Frames:         stats.Frames,
		BucketsWritten: stats.BucketsWritten,
		UpdateCounter:  r.store.UpdateCounter(),
	}
	if running {
		hs.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if r.emitter != nil {
		hs.MQTTConnected = r.emitter.IsConnected()
		if !hs.MQTTConnected {
			hs.Status = "degraded"
		}
	}
	if !running {
		hs.Status = "degraded"
	}
	return hs
}

// StartHealthServer serves /health on the given port. Non-blocking.
func (r *Receiver) StartHealthServer(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.HealthCheck()); err != nil {
			slog.Error("health encode failed", "error", err)
		}
	})

	go func() {
		slog.Info("health endpoint up", "port", port)
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			slog.Error("health server stopped", "error", err)
		}
	}()
}
