package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arbedge/opportunity-engine/internal/cache"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/validation"
)

var startTime = time.Now()

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(startTime).Seconds(),
	})
}

// handleListOpportunities is GET /api/v1/opportunities?pair=&user_id=,
// OpportunityEngine.query() (spec.md section 4.6).
func (s *Server) handleListOpportunities(c *gin.Context) {
	pair := c.Query("pair")
	if pair != "" {
		v := validation.NewValidator()
		v.Pair("pair", pair)
		if v.HasErrors() {
			c.JSON(http.StatusBadRequest, gin.H{"error": v.Errors().Error()})
			return
		}
	}
	filter := cache.Filter{Pair: pair}
	userID := c.Query("user_id")

	opportunities, err := s.engine.Query(c.Request.Context(), filter, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opportunities})
}

// handleTick is POST /api/v1/tick, an on-demand OpportunityEngine.tick()
// for operators and tests; the periodic driver in cmd/engine calls Tick
// directly rather than through this route.
func (s *Server) handleTick(c *gin.Context) {
	result, err := s.engine.Tick(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type interactionRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	OpportunityID string `json:"opportunity_id" binding:"required"`
	Kind          string `json:"kind" binding:"required"`
}

// handleRecordInteraction is POST /api/v1/interactions,
// OpportunityEngine.record_interaction() (spec.md section 4.6).
func (s *Server) handleRecordInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := validation.NewValidator()
	v.Required("user_id", req.UserID)
	v.Required("opportunity_id", req.OpportunityID)
	v.OneOf("kind", req.Kind, []string{string(market.InteractionViewed), string(market.InteractionActed), string(market.InteractionIgnored)})
	if v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.Errors().Error()})
		return
	}

	kind, err := parseInteractionKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.RecordInteraction(req.UserID, req.OpportunityID, kind); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func parseInteractionKind(raw string) (market.InteractionKind, error) {
	switch market.InteractionKind(raw) {
	case market.InteractionViewed, market.InteractionActed, market.InteractionIgnored:
		return market.InteractionKind(raw), nil
	default:
		return "", errors.New("invalid interaction kind")
	}
}
