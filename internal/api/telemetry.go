package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// telemetryUsage returns a snapshot of token counts and estimated cost.
func (s *Server) telemetryUsage(c *gin.Context) {
	c.JSON(http.StatusOK, s.tel.Snapshot())
}

// telemetryReset clears the accumulator and restarts its uptime clock.
func (s *Server) telemetryReset(c *gin.Context) {
	s.tel.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
