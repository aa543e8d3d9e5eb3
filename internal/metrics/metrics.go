package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "segment_replay"

// #region collectors
var (
	metricTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Number of playback ticks evaluated while playing.",
	})
	metricSegmentsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_matched_total",
		Help:      "Segments whose key frame criteria matched.",
	})
	metricSegmentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_completed_total",
		Help:      "Segments removed from the window after criteria and action completed.",
	})
	metricStalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stall_warnings_total",
		Help:      "Rate limited stall warnings logged by the playback controller.",
	})
	metricLoops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loops_total",
		Help:      "Completed iterations of a looping plan.",
	})
	metricWindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_segments",
		Help:      "Segments currently in the lookahead window.",
	})
	metricPlaying = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "playing",
		Help:      "1 while a plan is playing, 0 otherwise.",
	})
	metricCVRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cv_requests_total",
		Help:      "CV service requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
	metricCVLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cv_request_seconds",
		Help:      "CV service request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
	metricCVInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cv_in_flight",
		Help:      "Outstanding CV evaluation requests per evaluator.",
	}, []string{"evaluator"})
)
// #endregion collectors

// #region recorders
func RecordTick() {
	metricTicks.Inc()
}

func RecordSegmentMatched() {
	metricSegmentsMatched.Inc()
}

func RecordSegmentCompleted() {
	metricSegmentsCompleted.Inc()
}

func RecordStall() {
	metricStalls.Inc()
}

func RecordLoop() {
	metricLoops.Inc()
}

func SetWindowSize(n int) {
	metricWindowSize.Set(float64(n))
}

func SetPlaying(playing bool) {
	if playing {
		metricPlaying.Set(1)
		return
	}
	metricPlaying.Set(0)
}

// RecordCVRequest counts one CV call. outcome is "ok", "error" or "cancelled".
func RecordCVRequest(endpoint, outcome string, elapsed time.Duration) {
	metricCVRequests.WithLabelValues(endpoint, outcome).Inc()
	metricCVLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func SetCVInFlight(evaluator string, n int) {
	metricCVInFlight.WithLabelValues(evaluator).Set(float64(n))
}
// #endregion recorders
