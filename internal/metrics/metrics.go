// Package metrics defines the Prometheus collectors for validation runs.
// They are registered with the default registry; mount promhttp.Handler()
// to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// File results as used for the "result" label of FilesTotal.
const (
	ResultChecked    = "checked"
	ResultSkipped    = "skipped"
	ResultIncomplete = "incomplete"
	ResultFailed     = "failed"
)

var (
	RunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "station_check_runs_total",
			Help: "Total number of validation runs over the stations directory",
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "station_check_last_run_timestamp",
			Help: "Unix timestamp of the last completed validation run",
		},
	)

	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_check_files_total",
			Help: "Station files handled by the validator, by result",
		},
		[]string{"result"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_check_verdicts_total",
			Help: "Verdicts written to station files",
		},
		[]string{"verdict"},
	)

	FormatViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "station_check_format_violations_total",
			Help: "Lines dropped because they appeared out of place",
		},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "station_check_probe_duration_seconds",
			Help:    "Duration of stream probes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	CatalogueStations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "station_check_catalogue_stations",
			Help: "Stations currently in the catalogue, by verdict",
		},
		[]string{"verdict"},
	)
)
