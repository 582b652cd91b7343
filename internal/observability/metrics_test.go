package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("rfidctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordExchange("send_receive", true, 3*time.Millisecond)
	RecordKeepalive(false)
	RecordConnectionEvent("connected")

	before := testutil.ToFloat64(tagLines.WithLabelValues("poll", "parsed"))
	RecordTagLine("poll", "parsed")
	if got := testutil.ToFloat64(tagLines.WithLabelValues("poll", "parsed")); got != before+1 {
		t.Fatalf("unexpected tag line count: %v", got)
	}

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}
