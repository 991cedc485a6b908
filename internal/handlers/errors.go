package handlers

import (
	"errors"
	"net/http"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/middleware"
	"github.com/creatorfund/backend/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// respondError maps ledger error kinds to HTTP responses
func respondError(c *gin.Context, logger logrus.FieldLogger, err error) {
	var (
		validation *apperrors.ValidationError
		transition *apperrors.InvalidStateTransitionError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "code": "validation_error", "field": validation.Field})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "code": "insufficient_balance"})
	case errors.Is(err, apperrors.ErrConflictingInFlightRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "conflicting_in_flight_request"})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "invalid_state_transition", "current_state": transition.Current})
	case errors.Is(err, apperrors.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "concurrent_modification"})
	case errors.Is(err, apperrors.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied", "code": "permission_denied"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, apperrors.ErrExternalTransportFailure):
		logger.WithError(err).Warn("payout transport failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payout processor unavailable, request flagged for review", "code": "external_transport_failure"})
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// principal returns the authenticated caller or writes 401
func principal(c *gin.Context) (security.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok || p.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return security.Principal{}, false
	}
	return p, true
}

// uuidParam parses a path parameter or writes 400
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": "validation_error"})
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "code": "validation_error"})
		return false
	}
	return true
}
