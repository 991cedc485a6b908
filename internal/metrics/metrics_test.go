package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPayoutTransition(t *testing.T) {
	before := testutil.ToFloat64(payoutTransitions.WithLabelValues("approve", "error"))

	RecordPayoutTransition("approve", errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(payoutTransitions.WithLabelValues("approve", "error")))
}

func TestHandlerExposesLedgerMetrics(t *testing.T) {
	RecordBalanceSync("test", time.Now(), nil)
	RecordDriftCorrection()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "earnings_ledger_balance_syncs_total")
	assert.Contains(t, rec.Body.String(), "earnings_ledger_drift_corrections_total")
}
