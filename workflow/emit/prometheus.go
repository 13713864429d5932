package emit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/corvidai/agentflow-go/workflow"
)

// PrometheusEmitter translates workflow.Events into a small set of
// counters and gauges namespaced "agentflow_", suitable for scraping
// alongside a host's own metrics:
//
//   - agentflow_executor_invocations_total{executor_id}: incremented on
//     ExecutorInvoked.
//   - agentflow_executor_failures_total{executor_id}: incremented on
//     ExecutorFailure.
//   - agentflow_supersteps_total: incremented on SuperStepCompleted.
//   - agentflow_pending_requests: gauge set from
//     SuperStepCompletedEvent.Meta["hasPendingRequests"].
//   - agentflow_warnings_total: incremented on WorkflowWarning (route-miss
//     envelope drops).
type PrometheusEmitter struct {
	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	supersteps  prometheus.Counter
	pendingReqs prometheus.Gauge
	warnings    prometheus.Counter
}

// NewPrometheusEmitter registers its metrics on registry and returns a
// ready-to-use PrometheusEmitter.
func NewPrometheusEmitter(registry prometheus.Registerer) *PrometheusEmitter {
	factory := promauto.With(registry)
	return &PrometheusEmitter{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "executor_invocations_total",
			Help:      "Number of executor handler invocations.",
		}, []string{"executor_id"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "executor_failures_total",
			Help:      "Number of executor handler failures.",
		}, []string{"executor_id"}),
		supersteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "supersteps_total",
			Help:      "Number of completed supersteps across all runs.",
		}),
		pendingReqs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "pending_requests",
			Help:      "1 if the most recently completed superstep left external requests outstanding, else 0.",
		}),
		warnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "warnings_total",
			Help:      "Number of WorkflowWarning events raised (dropped envelopes, etc).",
		}),
	}
}

func (p *PrometheusEmitter) Emit(event workflow.Event) {
	switch event.Kind {
	case workflow.EventExecutorInvoked:
		p.invocations.WithLabelValues(event.ExecutorID).Inc()
	case workflow.EventExecutorFailure:
		p.failures.WithLabelValues(event.ExecutorID).Inc()
	case workflow.EventSuperStepCompleted:
		p.supersteps.Inc()
		if pending, _ := event.Meta["hasPendingRequests"].(bool); pending {
			p.pendingReqs.Set(1)
		} else {
			p.pendingReqs.Set(0)
		}
	case workflow.EventWorkflowWarning:
		p.warnings.Inc()
	}
}

// EmitBatch applies Emit to every event in order.
func (p *PrometheusEmitter) EmitBatch(ctx context.Context, events []workflow.Event) error {
	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Emit(e)
	}
	return nil
}

// Flush is a no-op: Prometheus metrics are pulled by a scraper, not
// pushed, so there is nothing to flush.
func (p *PrometheusEmitter) Flush(context.Context) error { return nil }
