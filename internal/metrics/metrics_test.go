package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordReconciliation(t *testing.T) {
	before := testutil.ToFloat64(Reconciliations.WithLabelValues("poll", "repeat"))
	RecordReconciliation("poll", false, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(Reconciliations.WithLabelValues("poll", "repeat")))

	before = testutil.ToFloat64(Reconciliations.WithLabelValues("webhook", "error"))
	RecordReconciliation("webhook", true, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(Reconciliations.WithLabelValues("webhook", "error")))
}

func TestRecordProviderCall(t *testing.T) {
	before := testutil.ToFloat64(ProviderCalls.WithLabelValues("balance", "ok"))
	RecordProviderCall("balance", 10*time.Millisecond, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(ProviderCalls.WithLabelValues("balance", "ok")))
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/webhook", "200"))
	RecordAPIRequest("POST", "/webhook", 200, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/webhook", "200")))
}
