package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
)

// handleGetConfig returns the configuration with the API token redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.API
	if apiCfg.Token != "" {
		apiCfg.Token = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"server":    s.cfg.GetServer(),
		"slot_data": s.cfg.GetSlotData(),
		"api":       apiCfg,
		"mqtt":      s.cfg.MQTT,
		"database":  s.cfg.Database,
		"timers":    s.cfg.Timers,
		"logging":   s.cfg.Logging,
	})
}

// handleUpdateSlotData updates slot options by field name and saves the
// config. Clients receive the new options on their next connect or when
// slot data is resent.
func (s *Server) handleUpdateSlotData(c *gin.Context) {
	var fields map[string]interface{}
	if !bind(c, &fields) {
		return
	}

	slotData, err := s.cfg.UpdateSlotFields(fields)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	for key, value := range fields {
		s.eventBus.Emit(c.Request.Context(), events.Event{
			Type:   events.EventConfigChanged,
			Source: "api",
			Payload: events.ConfigChangedPayload{
				Section: "slot_data",
				Key:     key,
				Value:   value,
			},
		})
	}

	log.Info().Interface("fields", fields).Msg("API: slot data updated")
	c.JSON(http.StatusOK, gin.H{
		"status":    "updated",
		"slot_data": slotData,
	})
}
