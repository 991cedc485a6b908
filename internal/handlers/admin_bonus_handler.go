package handlers

import (
	"net/http"

	"github.com/creatorfund/backend/internal/services/bonus"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminBonusHandler manages bonus rule configuration
type AdminBonusHandler struct {
	bonuses *bonus.Engine
	logger  logrus.FieldLogger
}

// NewAdminBonusHandler creates a new admin bonus handler
func NewAdminBonusHandler(bonuses *bonus.Engine, logger logrus.FieldLogger) *AdminBonusHandler {
	return &AdminBonusHandler{bonuses: bonuses, logger: logger}
}

// ListRules returns rules in evaluation order
func (h *AdminBonusHandler) ListRules(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	rules, err := h.bonuses.ListRules(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// CreateRule adds a bonus rule
func (h *AdminBonusHandler) CreateRule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var in bonus.RuleInput
	if !bindJSON(c, &in) {
		return
	}

	rule, err := h.bonuses.CreateRule(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

type ruleUpdate struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// UpdateRule activates or deactivates a rule
func (h *AdminBonusHandler) UpdateRule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var body ruleUpdate
	if !bindJSON(c, &body) {
		return
	}

	rule, err := h.bonuses.SetRuleActive(c.Request.Context(), p, id, *body.IsActive)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}
