package handlers

import (
	"net/http"

	"github.com/creatorfund/backend/internal/services/bonus"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EarningsHandler serves the caller's own balance and bonus history
type EarningsHandler struct {
	aggregator *ledger.Aggregator
	bonuses    *bonus.Engine
	logger     logrus.FieldLogger
}

// NewEarningsHandler creates a new earnings handler
func NewEarningsHandler(aggregator *ledger.Aggregator, bonuses *bonus.Engine, logger logrus.FieldLogger) *EarningsHandler {
	return &EarningsHandler{aggregator: aggregator, bonuses: bonuses, logger: logger}
}

// GetBalance returns the cached balance
func (h *EarningsHandler) GetBalance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	balance, err := h.aggregator.GetBalance(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// GetBreakdown recomputes earnings per source without writing the cache
func (h *EarningsHandler) GetBreakdown(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	comp, err := h.aggregator.Compute(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, comp)
}

// Sync recomputes and stores the caller's balance
func (h *EarningsHandler) Sync(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	result, err := h.aggregator.Sync(c.Request.Context(), p.UserID, ledger.TriggerUser)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":            result.Balance,
		"promoted_referrals": result.PromotedReferrals,
	})
}

// ApplyBonuses evaluates referral bonus rules for the caller
func (h *EarningsHandler) ApplyBonuses(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	result, err := h.bonuses.ApplyBonuses(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListBonuses returns the caller's bonus awards
func (h *EarningsHandler) ListBonuses(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	awards, err := h.bonuses.ListAwards(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"awards": awards})
}
