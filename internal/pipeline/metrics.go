package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for calibration and detection scans.
type Metrics struct {
	CalibrationsTotal *prometheus.CounterVec   // outcomes of calibration, by status
	DetectionsTotal   *prometheus.CounterVec   // outcomes of detection, by status
	AnomaliesTotal    *prometheus.CounterVec   // newly persisted anomalies, by metric
	ScanDuration      *prometheus.HistogramVec // wall time of a scan, by scan
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	calibrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_calibrations_total",
		Help: "Calibration outcomes per metric and host pair",
	}, []string{"status"})

	detections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_detections_total",
		Help: "Detection outcomes per metric and host pair",
	}, []string{"status"})

	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_anomalies_total",
		Help: "Anomalies persisted by detection",
	}, []string{"metric"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tailwatch_scan_duration_seconds",
		Help:    "Duration of calibration and detection scans",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"scan"})

	reg.MustRegister(calibrations, detections, anomalies, duration)

	return &Metrics{
		CalibrationsTotal: calibrations,
		DetectionsTotal:   detections,
		AnomaliesTotal:    anomalies,
		ScanDuration:      duration,
	}
}
