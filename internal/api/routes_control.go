package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/session"
)

type itemRequest struct {
	Name string `json:"name" binding:"required"`
	Kind int32  `json:"kind"`
}

type fillerRequest struct {
	Kind int32 `json:"kind"`
}

type shineRequest struct {
	ID int32 `json:"id"`
}

type shineChecksRequest struct {
	IDs []int32 `json:"ids" binding:"required"`
}

type stageRequest struct {
	Stage    string `json:"stage" binding:"required"`
	StageID  string `json:"stage_id"`
	Scenario *int8  `json:"scenario"`
}

type progressRequest struct {
	World    int32  `json:"world"`
	Scenario *int32 `json:"scenario"`
}

type regionalRequest struct {
	ObjectID string `json:"object_id" binding:"required"`
	Stage    string `json:"stage" binding:"required"`
}

type chatRequest struct {
	Lines []string `json:"lines"`
	Text  string   `json:"text"`
}

// parseClientID reads the :id parameter, writing a 400 when it is not a uuid.
func parseClientID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return uuid.Nil, false
	}
	return id, true
}

// bind decodes the JSON body, writing a 400 on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// sendError maps session and codec errors to HTTP statuses.
func sendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrClientNotFound):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrPayloadOverflow),
		errors.Is(err, protocol.ErrFieldTooLong),
		errors.Is(err, protocol.ErrInvalidEncoding):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("API: send failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleListClients(c *gin.Context) {
	clients := s.sessions.Clients()
	c.JSON(http.StatusOK, gin.H{
		"clients": clients,
		"total":   len(clients),
	})
}

func (s *Server) handleGetClient(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	info, err := s.sessions.Client(id)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGetChecks lists the ledger for a client, connected or not.
// Query parameters: kind (shine, item, filler) and limit.
func (s *Server) handleGetChecks(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "check ledger unavailable"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	checks, err := s.store.Checks(ctx, id, c.Query("kind"), limit)
	if err != nil {
		sendError(c, err)
		return
	}
	counts, err := s.store.Counts(ctx, id)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_id": id,
		"counts":    counts,
		"checks":    checks,
	})
}

func (s *Server) handleSendItem(c *gin.Context) {
	id, ok := parseClientID(c)
	var req itemRequest
	if !ok || !bind(c, &req) {
		return
	}
	if err := s.sessions.SendItem(c.Request.Context(), id, req.Name, req.Kind); err != nil {
		sendError(c, err)
		return
	}
	log.Info().Str("client", id.String()).Str("item", req.Name).Msg("API: item sent")
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendFiller(c *gin.Context) {
	id, ok := parseClientID(c)
	var req fillerRequest
	if !ok || !bind(c, &req) {
		return
	}
	if err := s.sessions.SendFiller(c.Request.Context(), id, req.Kind); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendShine(c *gin.Context) {
	id, ok := parseClientID(c)
	var req shineRequest
	if !ok || !bind(c, &req) {
		return
	}
	if err := s.sessions.SendShine(c.Request.Context(), id, req.ID); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendShineChecks(c *gin.Context) {
	id, ok := parseClientID(c)
	var req shineChecksRequest
	if !ok || !bind(c, &req) {
		return
	}
	packets, err := s.sessions.SendShineChecks(c.Request.Context(), id, req.IDs)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "packets": packets})
}

func (s *Server) handleChangeStage(c *gin.Context) {
	id, ok := parseClientID(c)
	var req stageRequest
	if !ok || !bind(c, &req) {
		return
	}
	scenario := protocol.DefaultScenario
	if req.Scenario != nil {
		scenario = *req.Scenario
	}
	if err := s.sessions.SendChangeStage(c.Request.Context(), id, req.Stage, req.StageID, scenario); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendProgress(c *gin.Context) {
	id, ok := parseClientID(c)
	var req progressRequest
	if !ok || !bind(c, &req) {
		return
	}
	scenario := int32(protocol.DefaultScenario)
	if req.Scenario != nil {
		scenario = *req.Scenario
	}
	if err := s.sessions.SendProgress(c.Request.Context(), id, req.World, scenario); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleRegionalCollect(c *gin.Context) {
	id, ok := parseClientID(c)
	var req regionalRequest
	if !ok || !bind(c, &req) {
		return
	}
	if err := s.sessions.SendRegionalCollect(c.Request.Context(), id, req.ObjectID, req.Stage); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendSlotData(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	if err := s.sessions.SendSlotData(c.Request.Context(), id); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "slot_data": s.cfg.GetSlotData()})
}

// handleSendChat accepts either explicit lines (at most three) or free text,
// which is wrapped into as many messages as needed.
func (s *Server) handleSendChat(c *gin.Context) {
	id, ok := parseClientID(c)
	var req chatRequest
	if !ok || !bind(c, &req) {
		return
	}

	messages := [][]string{req.Lines}
	if len(req.Lines) == 0 {
		messages = session.SplitChat(req.Text)
	}
	for _, lines := range messages {
		if err := s.sessions.SendChat(c.Request.Context(), id, lines...); err != nil {
			sendError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "messages": len(messages)})
}

func (s *Server) handleBroadcastChat(c *gin.Context) {
	var req chatRequest
	if !bind(c, &req) {
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	reached, err := s.sessions.BroadcastChat(c.Request.Context(), req.Text)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "clients": reached})
}

func (s *Server) handleBroadcastDeathLink(c *gin.Context) {
	reached, err := s.sessions.BroadcastDeathLink(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	log.Info().Int("clients", reached).Msg("API: death link broadcast")
	c.JSON(http.StatusOK, gin.H{"status": "sent", "clients": reached})
}
