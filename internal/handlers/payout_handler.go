package handlers

import (
	"net/http"

	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/services/payout"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PayoutHandler handles payout requests for users and admins
type PayoutHandler struct {
	payouts *payout.Service
	logger  logrus.FieldLogger
}

// NewPayoutHandler creates a new payout handler
func NewPayoutHandler(payouts *payout.Service, logger logrus.FieldLogger) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, logger: logger}
}

// Create opens a payout request for the caller
func (h *PayoutHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var in payout.CreateInput
	if !bindJSON(c, &in) {
		return
	}

	req, err := h.payouts.Create(c.Request.Context(), p.UserID, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

// List returns the caller's payout requests
func (h *PayoutHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	requests, err := h.payouts.ListForUser(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": requests})
}

// AdminList pages through payout requests filtered by status
func (h *PayoutHandler) AdminList(c *gin.Context) {
	status := models.PayoutStatus(c.Query("status"))
	switch status {
	case "", models.PayoutStatusPending, models.PayoutStatusApproved, models.PayoutStatusPaid, models.PayoutStatusRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status", "code": "validation_error"})
		return
	}

	page, pageSize := utils.ParsePagination(c.Query("page"), c.Query("page_size"))
	requests, total, err := h.payouts.ListByStatus(c.Request.Context(), status, page, pageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payouts": requests,
		"pagination": gin.H{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// AdminAttention lists approved requests whose transfer failed
func (h *PayoutHandler) AdminAttention(c *gin.Context) {
	requests, err := h.payouts.ListNeedingAttention(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": requests})
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// Approve moves a pending request to approved
func (h *PayoutHandler) Approve(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var body reviewRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}

	req, err := h.payouts.Approve(c.Request.Context(), p, id, body.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// Reject closes a request and releases its reservation
func (h *PayoutHandler) Reject(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var body reviewRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}

	req, err := h.payouts.Reject(c.Request.Context(), p, id, body.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// MarkPaid transfers the funds and completes the request
func (h *PayoutHandler) MarkPaid(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	req, err := h.payouts.MarkPaid(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, req)
}
