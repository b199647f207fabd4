package server

import (
	"net/http"
	"time"

	"reelstream/internal/streamer"
	"reelstream/internal/tools"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Database   string                 `json:"database"`
	Tools      map[string]bool        `json:"tools"`
	ActiveJobs int                    `json:"activeJobs"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns liveness plus database and tool checks. Missing
// tools degrade the service without making it unhealthy.
func (ms *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Tools:     ms.toolStatus(),
		Details:   make(map[string]interface{}),
	}

	if err := ms.db.Ping(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	for name, ok := range health.Tools {
		if !ok && health.Status == "healthy" {
			health.Status = "degraded"
			health.Details["missing_tool"] = name
		}
	}

	for _, job := range ms.svc.Jobs.All() {
		if job.Status == streamer.StatusPending || job.Status == streamer.StatusRunning {
			health.ActiveJobs++
		}
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	ms.respondJSON(w, status, health)
}

func (ms *Server) toolStatus() map[string]bool {
	t := ms.config.Tools
	return map[string]bool{
		"ffmpeg":     tools.Available(t.Ffmpeg),
		"mediainfo":  tools.Available(t.Mediainfo),
		"mkvinfo":    tools.Available(t.Mkvinfo),
		"mkvextract": tools.Available(t.Mkvextract),
		"file":       tools.Available(t.File),
	}
}
