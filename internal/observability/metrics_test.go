package observability

import (
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("peer-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordCallSent("reliable")
	RecordCallReceived("unreliable")
	RecordCallRelayed(2)
	RecordCallExecuted()
	RecordConnectionEvent("connection_established")
	SetRegisteredObjects(3)

	before := testutil.ToFloat64(callsDropped.WithLabelValues(DropMalformed))
	RecordCallDropped(DropMalformed)
	if got := testutil.ToFloat64(callsDropped.WithLabelValues(DropMalformed)); got != before+1 {
		t.Fatalf("unexpected dropped count got=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(registeredObjects); got != 3 {
		t.Fatalf("unexpected registered objects=%v", got)
	}
}
