package handlers

import (
	"net/http"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AdminLedgerHandler exposes reconciliation to staff
type AdminLedgerHandler struct {
	reconciler       *reconcile.Service
	authz            security.Authorizer
	concurrency      int
	syntheticOrigins []string
	logger           logrus.FieldLogger
}

// NewAdminLedgerHandler creates a new admin ledger handler. syntheticOrigins is
// the purge filter used when a request names no origins.
func NewAdminLedgerHandler(reconciler *reconcile.Service, authz security.Authorizer, concurrency int, syntheticOrigins []string, logger logrus.FieldLogger) *AdminLedgerHandler {
	return &AdminLedgerHandler{
		reconciler:       reconciler,
		authz:            authz,
		concurrency:      concurrency,
		syntheticOrigins: syntheticOrigins,
		logger:           logger,
	}
}

// Resync recomputes one user's balance
func (h *AdminLedgerHandler) Resync(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.authz.Require(p, security.PermissionLedgerReconcile); err != nil {
		respondError(c, h.logger, err)
		return
	}
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.reconciler.Resync(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":        result.Balance,
		"drift_detected": result.Drift != nil,
	})
}

// SyncAll resyncs every user and returns the per-user report
func (h *AdminLedgerHandler) SyncAll(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.authz.Require(p, security.PermissionLedgerReconcile); err != nil {
		respondError(c, h.logger, err)
		return
	}

	report, err := h.reconciler.SyncAll(c.Request.Context(), reconcile.Options{Concurrency: h.concurrency})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Purge removes revenue produced by synthetic origins
func (h *AdminLedgerHandler) Purge(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var filter reconcile.Filter
	if c.Request.ContentLength > 0 && !bindJSON(c, &filter) {
		return
	}
	if len(filter.Origins) == 0 {
		filter.Origins = h.syntheticOrigins
	}

	report, err := h.reconciler.PurgeSyntheticEntries(c.Request.Context(), p, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type reassignRequest struct {
	Stream         models.Stream `json:"stream" binding:"required"`
	EventID        uuid.UUID     `json:"event_id" binding:"required"`
	NewBeneficiary uuid.UUID     `json:"new_beneficiary" binding:"required"`
}

// Reassign moves one revenue event to another user
func (h *AdminLedgerHandler) Reassign(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var body reassignRequest
	if !bindJSON(c, &body) {
		return
	}
	if body.EventID == uuid.Nil {
		respondError(c, h.logger, apperrors.NewValidationError("event_id", "is required"))
		return
	}

	result, err := h.reconciler.ReassignRevenue(c.Request.Context(), p, body.Stream, body.EventID, body.NewBeneficiary)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reassignment": result,
		"from_balance": result.From.Balance,
		"to_balance":   result.To.Balance,
	})
}
