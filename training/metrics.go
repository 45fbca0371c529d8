package training

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "textclf"

// Metrics holds the training gauges in a private registry so a run can be
// written out as a textfile without a scrape endpoint.
type Metrics struct {
	registry *prometheus.Registry

	epoch        prometheus.Gauge
	trainLoss    prometheus.Gauge
	learningRate prometheus.Gauge
	bestValLoss  prometheus.Gauge
	steps        prometheus.Counter
	splitLoss    *prometheus.GaugeVec
	splitAcc     *prometheus.GaugeVec
	gradNorm     prometheus.Histogram
}

func NewMetrics(runID string) *Metrics {
	constLabels := prometheus.Labels{}
	if runID != "" {
		constLabels["run_id"] = runID
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	m := &Metrics{
		registry:     prometheus.NewRegistry(),
		epoch:        gauge("train", "epoch", "Last completed epoch"),
		trainLoss:    gauge("train", "loss", "Mean training loss of the last epoch"),
		learningRate: gauge("train", "learning_rate", "Learning rate after the last scheduler step"),
		bestValLoss:  gauge("validation", "best_loss", "Lowest validation loss seen"),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "train",
			Name:        "steps_total",
			Help:        "Optimizer steps taken",
			ConstLabels: constLabels,
		}),
		splitLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "eval_loss",
			Help:        "Mean loss on an evaluation split",
			ConstLabels: constLabels,
		}, []string{"split"}),
		splitAcc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "eval_accuracy",
			Help:        "Accuracy on an evaluation split",
			ConstLabels: constLabels,
		}, []string{"split"}),
		gradNorm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "train",
			Name:        "grad_norm",
			Help:        "Global gradient norm before clipping",
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 8),
			ConstLabels: constLabels,
		}),
	}
	m.registry.MustRegister(
		m.epoch, m.trainLoss, m.learningRate, m.bestValLoss,
		m.steps, m.splitLoss, m.splitAcc, m.gradNorm,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveStep(gradNorm float64) {
	m.steps.Inc()
	m.gradNorm.Observe(gradNorm)
}

func (m *Metrics) ObserveEpoch(s EpochStats, bestValLoss float64) {
	m.epoch.Set(float64(s.Epoch))
	m.trainLoss.Set(s.TrainLoss)
	m.learningRate.Set(s.LearningRate)
	m.bestValLoss.Set(bestValLoss)
	m.ObserveEval("validation", Result{Loss: s.ValLoss, Accuracy: s.ValAccuracy})
}

func (m *Metrics) ObserveEval(split string, r Result) {
	m.splitLoss.WithLabelValues(split).Set(r.Loss)
	m.splitAcc.WithLabelValues(split).Set(r.Accuracy)
}

// WriteFile writes the registry in the Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
