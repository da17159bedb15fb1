package observability

import (
	"testing"
	"time"

	"github.com/danmuck/matchctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("match-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSessionAccepted("match-a")
	RecordAcceptError("match-a")
	RecordPair("match-a")
	RecordPruned("match-a", 0)
	RecordSendFailure("match-a", "peer_address")
	SetQueueSize("match-a", 3)
}

func TestRendezvousCountersAccumulate(t *testing.T) {
	testlog.Start(t)
	node := "match-counters"

	RecordPair(node)
	RecordPair(node)
	RecordPruned(node, 3)
	SetQueueSize(node, 5)
	SetQueueSize(node, 1)

	if got := testutil.ToFloat64(pairsFormed.WithLabelValues(node)); got != 2 {
		t.Fatalf("expected 2 pairs, got %v", got)
	}
	if got := testutil.ToFloat64(sessionsPruned.WithLabelValues(node)); got != 3 {
		t.Fatalf("expected 3 pruned, got %v", got)
	}
	if got := testutil.ToFloat64(queueSize.WithLabelValues(node)); got != 1 {
		t.Fatalf("expected queue gauge 1, got %v", got)
	}
}
