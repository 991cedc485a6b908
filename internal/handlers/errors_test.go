package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRespondErrorStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
	}{
		{apperrors.NewValidationError("amount", "must be positive"), http.StatusBadRequest},
		{fmt.Errorf("requested 5: %w", apperrors.ErrInsufficientBalance), http.StatusPaymentRequired},
		{apperrors.ErrConflictingInFlightRequest, http.StatusConflict},
		{&apperrors.InvalidStateTransitionError{Current: "paid", Target: "approved"}, http.StatusConflict},
		{apperrors.ErrConcurrentModification, http.StatusConflict},
		{fmt.Errorf("x: %w", apperrors.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("payout request: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{&apperrors.TransportError{Attempts: 3, Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("database on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, logger.Discard(), tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRespondErrorIncludesCurrentState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	respondError(c, logger.Discard(), &apperrors.InvalidStateTransitionError{Current: "pending", Target: "paid"})
	assert.Contains(t, w.Body.String(), `"current_state":"pending"`)
}
