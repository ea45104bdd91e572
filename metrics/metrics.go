// Package metrics exposes fingerprinting throughput to Prometheus.
package metrics

import (
	"landmark-stream/shazam"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landmark_bytes_total",
		Help: "PCM bytes written into fingerprinters",
	})
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landmark_frames_total",
		Help: "Spectral frames analysed",
	})
	FingerprintsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landmark_fingerprints_total",
		Help: "Landmark hashes emitted",
	})
	CompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landmark_compactions_total",
		Help: "PCM buffer compactions",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "landmark_active_sessions",
		Help: "Fingerprinting sessions currently open",
	})
)

// Tracker reports the growth of one fingerprinter's Stats since the
// previous call.
type Tracker struct {
	last shazam.Stats
}

// Observe adds the difference between s and the previous observation to
// the counters.
func (t *Tracker) Observe(s shazam.Stats) {
	BytesTotal.Add(float64(s.Bytes - t.last.Bytes))
	FramesTotal.Add(float64(s.Frames - t.last.Frames))
	FingerprintsTotal.Add(float64(s.Fingerprints - t.last.Fingerprints))
	CompactionsTotal.Add(float64(s.Compactions - t.last.Compactions))
	t.last = s
}

// SessionStarted bumps the active session gauge and returns the matching
// decrement.
func SessionStarted() func() {
	ActiveSessions.Inc()
	return ActiveSessions.Dec
}
