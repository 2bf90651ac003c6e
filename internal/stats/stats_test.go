package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawsim/pkg/types"
)

func TestDurationStats(t *testing.T) {
	min, avg, max, p99 := DurationStats([]time.Duration{30, 10, 20})
	assert.Equal(t, time.Duration(10), min)
	assert.Equal(t, time.Duration(20), avg)
	assert.Equal(t, time.Duration(30), max)
	assert.Equal(t, time.Duration(30), p99)

	min, avg, max, p99 = DurationStats(nil)
	assert.Zero(t, min+avg+max+p99)
}

func TestCollector_LossRatio(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.LossRatio())
	for i := 0; i < 4; i++ {
		c.RecordGenerated()
	}
	c.RecordDelivery(types.DeliveryRecord{Size: 10, GeneratedAt: time.Millisecond, ReceivedAt: 3 * time.Millisecond})
	assert.InDelta(t, 0.75, c.LossRatio(), 1e-9)
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, c.DeliveryDelays)
}

func TestCollector_SnapshotIsIndependent(t *testing.T) {
	c := NewCollector()
	c.RecordFrame("Beacon", 40)
	c.RecordGatePhase("SlotActive")
	snap := c.Snapshot()

	c.RecordFrame("Beacon", 40)
	c.RecordGatePhase("SlotActive")
	assert.Equal(t, uint64(1), snap.FrameStats["Beacon"].Transmitted)
	assert.Equal(t, uint64(1), snap.GatePhaseCounts["SlotActive"])
	assert.Equal(t, uint64(2), c.TotalFrames())
}

func TestCollector_AssociationCounters(t *testing.T) {
	c := NewCollector()
	c.RecordAssociated(120 * time.Millisecond)
	c.RecordDeassociated()
	c.RecordDeassociated()
	c.RecordRefused()
	assert.Equal(t, uint64(1), c.Associations)
	assert.Equal(t, uint64(0), c.AssociatedNow)
	assert.Equal(t, uint64(1), c.Refusals)
}

func TestCollector_MirrorsIntoMetrics(t *testing.T) {
	m := NewMetrics("test")
	c := NewCollector().WithMetrics(m)
	c.RecordFrame("Beacon", 40)
	c.RecordFrame("Beacon", 40)
	c.RecordAssociated(time.Millisecond)
	c.RecordQueueDrops(3)
	c.RecordAccessDelay(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("Beacon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkEventsTotal.WithLabelValues("up")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DataTotal.WithLabelValues("dropped_queue_full")))

	path := filepath.Join(t.TempDir(), "rawsim.prom")
	require.NoError(t, m.WriteTextfile(path))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rawsim_frames_transmitted_total{run_id="test",type="Beacon"} 2`)
}

func TestReporter_FormatAndExport(t *testing.T) {
	c := NewCollector()
	c.RecordFrame("Beacon", 40)
	c.RecordGenerated()
	c.RecordDelivery(types.DeliveryRecord{Size: 100, ReceivedAt: time.Millisecond})
	c.RecordAccessDelay(500 * time.Microsecond)
	c.RecordGatePhase("OutGroup")
	c.Finish(time.Second)

	path := filepath.Join(t.TempDir(), "stats.json")
	id := uuid.New()
	r := NewReporter(c, 0, path, id)
	var out bytes.Buffer
	r.SetOutput(&out)
	r.PrintFinalReport()

	report := out.String()
	assert.Contains(t, report, id.String())
	assert.Contains(t, report, "Beacon:")
	assert.Contains(t, report, "Delivered: 1")
	assert.Contains(t, report, "OutGroup:")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(report), "="))

	require.NoError(t, r.ExportJSON())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, id.String(), doc["run_id"])
	assert.Equal(t, 1000.0, doc["sim_duration_ms"])
	data := doc["data"].(map[string]interface{})
	assert.Equal(t, 1.0, data["delivered"])
}

func TestReporter_NoExportFile(t *testing.T) {
	r := NewReporter(NewCollector(), 0, "", uuid.Nil)
	assert.NoError(t, r.ExportJSON())
}
