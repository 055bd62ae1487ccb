// Package metrics records the outcome of a deployment run in Prometheus format.
// Metrics are written once per run to a file for node_exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/deploy"
)

// Recorder collects the metrics of one deployment run.
type Recorder struct {
	registry *prometheus.Registry
	started  time.Time
	now      func() time.Time

	transitions *prometheus.CounterVec
	success     prometheus.Gauge
	exitCode    prometheus.Gauge
	duration    prometheus.Gauge
	gasUsed     prometheus.Gauge
	blockNumber prometheus.Gauge
	lastRun     prometheus.Gauge
}

// NewRecorder creates a recorder for a run against network deploying contract.
func NewRecorder(network, contract string) *Recorder {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"network": network, "contract": contract}
	factory := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		now:      time.Now,

		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "popdeploy_stage_transitions_total",
				Help:        "Deployment stage transitions by target stage",
				ConstLabels: labels,
			},
			[]string{"stage"},
		),
		success: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_success",
			Help:        "1 if the last deployment was confirmed, 0 otherwise",
			ConstLabels: labels,
		}),
		exitCode: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_exit_code",
			Help:        "Exit code of the last deployment run",
			ConstLabels: labels,
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_duration_seconds",
			Help:        "Wall time of the last deployment run",
			ConstLabels: labels,
		}),
		gasUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_gas_used",
			Help:        "Gas used by the last confirmed deployment",
			ConstLabels: labels,
		}),
		blockNumber: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_block_number",
			Help:        "Inclusion block of the last confirmed deployment",
			ConstLabels: labels,
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "popdeploy_deployment_last_run_timestamp_seconds",
			Help:        "Unix time the last deployment run finished",
			ConstLabels: labels,
		}),
	}
	r.started = r.now()
	return r
}

// Transition counts a stage transition. It matches deploy.TransitionFunc.
func (r *Recorder) Transition(_, to deploy.Stage) {
	r.transitions.WithLabelValues(to.String()).Inc()
}

// Finish records the outcome of the run.
func (r *Recorder) Finish(result *popdeploy.DeploymentResult, err error) {
	end := r.now()
	r.duration.Set(end.Sub(r.started).Seconds())
	r.lastRun.Set(float64(end.Unix()))
	r.exitCode.Set(float64(popdeploy.ExitCode(err)))

	if err != nil || result == nil {
		r.success.Set(0)
		return
	}
	r.success.Set(1)
	r.blockNumber.Set(float64(result.BlockNumber()))
	if result.Receipt != nil {
		r.gasUsed.Set(float64(result.Receipt.GasUsed))
	}
}

// WriteFile writes the metrics to path atomically.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
