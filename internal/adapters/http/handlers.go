package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

type handlers struct {
	orch *orch.Orchestrator
}

type RenameRequest struct {
	Name string `json:"name"`
}

type MeResponse struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name,omitempty"`
}

type CreateSessionRequest struct {
	ID       domain.SessionID   `json:"id,omitempty"`
	Title    string             `json:"title"`
	Type     domain.SessionType `json:"type,omitempty"`
	Settings domain.Settings    `json:"settings"`
}

func participant(c *gin.Context) domain.ParticipantID {
	return domain.ParticipantID(c.GetString("client_token"))
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(http.StatusOK, MeResponse{ID: participant(c), Name: c.GetString("display_name")})
}

// rename stores the display name used when the participant next connects.
func (h *handlers) rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	if err := domain.ValidateDisplayName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionKeyName, req.Name)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store"})
		return
	}
	c.JSON(http.StatusOK, MeResponse{ID: participant(c), Name: req.Name})
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Sessions.List())
}

func (h *handlers) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type != "" && !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session type"})
		return
	}
	if req.Settings.MaxParticipants < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxParticipants must not be negative"})
		return
	}
	s, err := h.orch.CreateSession(participant(c), core.SessionSpec{
		ID:       req.ID,
		Title:    req.Title,
		Type:     req.Type,
		Settings: req.Settings,
	})
	if errors.Is(err, app.ErrSessionExists) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

func (h *handlers) getSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if s, ok := h.orch.Sessions.Get(id); ok {
		c.JSON(http.StatusOK, s.Snapshot())
		return
	}
	if snap, ok := h.orch.Sessions.Archived(id); ok {
		c.JSON(http.StatusOK, snap)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

// audit returns the audit trail to participants holding canAudit.
func (h *handlers) audit(c *gin.Context) {
	s, ok := h.orch.Sessions.Get(domain.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.Authorize(participant(c), permission.ActionViewAudit); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, domain.ErrNotParticipant) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Audit())
}
