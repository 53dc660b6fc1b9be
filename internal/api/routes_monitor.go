package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

// handleProcessStats returns the connector's resource use and traffic totals.
func (s *Server) handleProcessStats(c *gin.Context) {
	stats, err := util.GetProcessStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	in, out := s.sessions.Traffic()
	c.JSON(http.StatusOK, gin.H{
		"process":     stats,
		"clients":     s.sessions.Count(),
		"packets_in":  in,
		"packets_out": out,
	})
}
