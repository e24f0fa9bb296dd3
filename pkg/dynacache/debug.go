package dynacache

// debug.go exposes the Manager's Prometheus metrics as a flat JSON
// snapshot at /debug/dynacache/snapshot, mirroring the teacher's expected
// arena-cache debug endpoint shape (cmd/arena-cache-inspect/main.go fetches
// exactly this kind of map[string]any payload). Prometheus remains the
// source of truth for long-term monitoring; this handler exists purely so
// the CLI inspector has something to poll without standing up a full
// scrape pipeline.
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// SnapshotHandler returns an http.Handler serving a flat
// {metric_name: total_value} JSON object summed across all label
// combinations (dynacache only labels by region, and the CLI inspector
// only wants totals). Returns a handler that always responds 503 if reg is
// nil (metrics disabled).
func SnapshotHandler(reg *prometheus.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			http.Error(w, "dynacache: metrics not enabled", http.StatusServiceUnavailable)
			return
		}
		families, err := reg.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snap := make(map[string]float64, len(families))
		for _, f := range families {
			var total float64
			for _, m := range f.GetMetric() {
				total += metricValue(m)
			}
			snap[f.GetName()] = total
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	})
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	default:
		return 0
	}
}
