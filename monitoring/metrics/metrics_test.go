package metrics

import (
	"testing"

	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

func TestRecordProxyCallAggregates(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	RecordProxyCall(Sample{Adapter: "youtube", Action: "list", Outcome: "allowed", StatusClass: "2xx", LatencyMs: 40})
	RecordProxyCall(Sample{Adapter: "youtube", Action: "list", Outcome: "allowed", StatusClass: "2xx", LatencyMs: 60})
	RecordProxyCall(Sample{Adapter: "youtube", Action: "list", Outcome: "denied", DenyReason: "rate_limited", LatencyMs: 1})

	snap := Snapshot()
	require.Equal(t, 2, len(snap))

	assert.Equal(t, "allowed", snap[0].Outcome)
	assert.Equal(t, int64(2), snap[0].Count)
	assert.Equal(t, int64(100), snap[0].TotalLatencyMs)

	assert.Equal(t, "denied", snap[1].Outcome)
	assert.Equal(t, "rate_limited", snap[1].DenyReason)
	assert.Equal(t, int64(1), snap[1].Count)
}

func TestSnapshotStableOrder(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	RecordProxyCall(Sample{Adapter: "vimeo", Action: "search", Outcome: "allowed", StatusClass: "2xx"})
	RecordProxyCall(Sample{Adapter: "youtube", Action: "list", Outcome: "error", StatusClass: "5xx"})
	RecordProxyCall(Sample{Adapter: "youtube", Action: "list", Outcome: "allowed", StatusClass: "2xx"})

	snap := Snapshot()
	require.Equal(t, 3, len(snap))
	assert.Equal(t, "vimeo", snap[0].Adapter)
	assert.Equal(t, "allowed", snap[1].Outcome)
	assert.Equal(t, "error", snap[2].Outcome)
}
