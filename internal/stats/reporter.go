package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
	runID       uuid.UUID
	out         io.Writer
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, intervalSec int, exportFile string, runID uuid.UUID) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
		runID:       runID,
		out:         os.Stdout,
	}
}

// SetOutput redirects the console report.
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// StartPeriodicReport prints a report every interval of wall time until ctx
// is done.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprintln(r.out, r.FormatReport())
			}
		}
	}()
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	fmt.Fprintln(r.out, r.FormatReport())
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func durationBlock(ds []time.Duration) map[string]interface{} {
	min, avg, max, p99 := DurationStats(ds)
	return map[string]interface{}{
		"count": len(ds),
		"min":   millis(min),
		"avg":   millis(avg),
		"max":   millis(max),
		"p99":   millis(p99),
	}
}

// ExportJSON exports statistics to the configured JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()
	export := map[string]interface{}{
		"run_id":           r.runID.String(),
		"start_time":       snap.StartTime.Format(time.RFC3339),
		"end_time":         snap.EndTime.Format(time.RFC3339),
		"wall_duration_ms": millis(snap.Duration()),
		"sim_duration_ms":  millis(snap.SimDuration),
		"frames":           map[string]interface{}{},
		"association": map[string]interface{}{
			"associations":   snap.Associations,
			"deassociations": snap.Deassociations,
			"refusals":       snap.Refusals,
			"associated_now": snap.AssociatedNow,
			"latency_ms":     durationBlock(snap.AssocLatencies),
		},
		"data": map[string]interface{}{
			"generated":            snap.Generated,
			"dropped_unassociated": snap.TxDropped,
			"dropped_queue_full":   snap.QueueDropped,
			"delivered":            snap.Delivered,
			"delivered_bytes":      snap.DeliveredBytes,
			"loss_ratio":           snap.LossRatio(),
			"access_delay_ms":      durationBlock(snap.AccessDelays),
			"delivery_delay_ms":    durationBlock(snap.DeliveryDelays),
		},
		"gate_phases": snap.GatePhaseCounts,
		"rx_drops":    snap.RxDrops,
	}

	frames := export["frames"].(map[string]interface{})
	for name, s := range snap.FrameStats {
		frames[name] = map[string]interface{}{
			"transmitted": s.Transmitted,
			"bytes":       s.Bytes,
		}
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== RAW Simulation Statistics (run %s, simulated: %s) ===\n",
		r.runID, snap.SimDuration))

	sb.WriteString("Frames:\n")
	for _, name := range sortedKeys(snap.FrameStats) {
		s := snap.FrameStats[name]
		sb.WriteString(fmt.Sprintf("  %-22s tx=%-7d bytes=%d\n", name+":", s.Transmitted, s.Bytes))
	}

	sb.WriteString("Association:\n")
	sb.WriteString(fmt.Sprintf("  Associated: %d  |  Deassociated: %d  |  Refused: %d  |  Now: %d\n",
		snap.Associations, snap.Deassociations, snap.Refusals, snap.AssociatedNow))
	if len(snap.AssocLatencies) > 0 {
		min, avg, max, _ := DurationStats(snap.AssocLatencies)
		sb.WriteString(fmt.Sprintf("  Latency Min: %s  |  Avg: %s  |  Max: %s\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond), max.Round(time.Microsecond)))
	}

	sb.WriteString("Uplink Data:\n")
	sb.WriteString(fmt.Sprintf("  Generated: %d  |  Delivered: %d  |  Dropped (unassociated): %d  |  Dropped (queue): %d  |  Loss: %.2f%%\n",
		snap.Generated, snap.Delivered, snap.TxDropped, snap.QueueDropped, snap.LossRatio()*100))
	if len(snap.AccessDelays) > 0 {
		min, avg, max, p99 := DurationStats(snap.AccessDelays)
		sb.WriteString(fmt.Sprintf("  Access Delay Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond),
			max.Round(time.Microsecond), p99.Round(time.Microsecond)))
	}
	if snap.SimDuration > 0 {
		sb.WriteString(fmt.Sprintf("  Throughput: %.1f kbit/s\n",
			float64(snap.DeliveredBytes)*8/snap.SimDuration.Seconds()/1000))
	}

	if len(snap.GatePhaseCounts) > 0 {
		sb.WriteString("Gate Phases:\n")
		for _, name := range sortedKeys(snap.GatePhaseCounts) {
			sb.WriteString(fmt.Sprintf("  %-22s %d\n", name+":", snap.GatePhaseCounts[name]))
		}
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
