package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/monocle-dev/relay/internal/monitors"
	"github.com/monocle-dev/relay/internal/scheduler"
)

type StatsProvider interface {
	InstanceID() string
	Stats() (clients, rooms int)
}

type JobReporter interface {
	Status() []scheduler.JobStatus
}

// HealthCheck reports liveness, the local socket counts and, when jobs is
// set, the state of the background jobs.
func HealthCheck(stats StatsProvider, jobs JobReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clients, rooms := stats.Stats()
		body := gin.H{
			"status":      "ok",
			"message":     "Relay is running",
			"instance_id": stats.InstanceID(),
			"clients":     clients,
			"rooms":       rooms,
			"timestamp":   time.Now().Format(time.RFC3339),
		}
		if jobs != nil {
			body["jobs"] = jobs.Status()
		}
		c.JSON(http.StatusOK, body)
	}
}

// ReadinessCheck probes the relay's dependencies and answers 503 when any
// of them is down.
func ReadinessCheck(checks map[string]monitors.Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := monitors.RunAll(c.Request.Context(), checks, 0)

		status, code := "ready", http.StatusOK
		if !monitors.Healthy(results) {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"checks":    results,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
