package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// componentStatus is one entry in the detailed health report.
type componentStatus struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// healthReady is the cheap liveness probe: up as long as the database
// answers.
func (s *Server) healthReady(c *gin.Context) {
	if err := s.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// healthDetailed reports per-component status. Any unhealthy critical
// component (database, agent, memory) turns the response into a 503.
func (s *Server) healthDetailed(c *gin.Context) {
	components := map[string]componentStatus{}
	healthy := true

	dbStatus := componentStatus{Status: "ok", Critical: true}
	if err := s.db.Ping(c.Request.Context()); err != nil {
		dbStatus.Status = "unhealthy"
		dbStatus.Detail = "ping failed"
		healthy = false
	}
	components["database"] = dbStatus

	agentStatus := componentStatus{Status: "ok", Critical: true}
	if s.sessions == nil {
		agentStatus.Status = "unhealthy"
		agentStatus.Detail = "agent runtime not initialised"
		healthy = false
	}
	components["agent"] = agentStatus

	memStatus := componentStatus{Status: "ok", Critical: true}
	if s.mem == nil {
		memStatus.Status = "unhealthy"
		memStatus.Detail = "memory service not initialised"
		healthy = false
	}
	components["memory"] = memStatus

	schedStatus := componentStatus{Status: "ok", Critical: false}
	if s.sched == nil {
		schedStatus.Status = "unhealthy"
		schedStatus.Detail = "scheduler not running"
	}
	components["scheduler"] = schedStatus

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
