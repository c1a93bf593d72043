package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ExpiredTotal.WithLabelValues("bid"))
	IncExpired("bid", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(ExpiredTotal.WithLabelValues("bid")))

	before = testutil.ToFloat64(OperationsTotal.WithLabelValues("accept_bid", "ok"))
	IncOperation("accept_bid", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("accept_bid", "ok")))

	before = testutil.ToFloat64(CacheAccess.WithLabelValues("catalog", "hit"))
	IncCache("catalog", "hit")
	assert.Equal(t, before+1, testutil.ToFloat64(CacheAccess.WithLabelValues("catalog", "hit")))
}

func TestSetLastSweep(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	SetLastSweep(at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(LastSweepTimestamp))
}

func TestObserveDuration(t *testing.T) {
	ObserveDuration(OperationDuration, time.Now(), "submit_bid")
	ObserveDuration(SweepDuration, time.Now())
	ObserveDuration(OperationsTotal, time.Now(), "ignored", "ok")

	assert.GreaterOrEqual(t, testutil.CollectAndCount(OperationDuration), 1)
	assert.Equal(t, 1, testutil.CollectAndCount(SweepDuration))
}
