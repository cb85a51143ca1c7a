package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/ready", 200, 12*time.Millisecond)
	SetSessionsByState(map[string]int{"open": 2, "qr_pending": 1})
	RecordReconnectScheduled()
	RecordQRExpiration()
	RecordInboundMessage("published")
	RecordPollVote(true)
	RecordPollVote(false)
	RecordBackupOp("backup", true)
}
