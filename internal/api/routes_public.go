package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": util.Version,
	})
}

// handleInfo returns host information and the connector's listener settings.
func (s *Server) handleInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	sysInfo := util.GetSystemInfo()

	types := protocol.Types()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}

	c.JSON(http.StatusOK, gin.H{
		"version":      util.Version,
		"server_id":    s.sessions.ServerID(),
		"game_port":    srv.Port,
		"max_players":  srv.MaxPlayers,
		"clients":      s.sessions.Count(),
		"death_link":   srv.DeathLinkEnabled,
		"packet_types": names,
		"system":       sysInfo,
	})
}
