package scheduler

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	enqueued      prometheus.Counter
	dequeued      prometheus.Counter
	acked         prometheus.Counter
	failed        *prometheus.CounterVec
	dead          prometheus.Counter
	leasesExpired prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, readyDepth func() float64) (*metrics, error) {
	m := &metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedq_tasks_enqueued_total",
			Help: "Tasks accepted by the scheduler",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedq_tasks_dequeued_total",
			Help: "Lease grants handed to workers",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedq_tasks_acked_total",
			Help: "Tasks acknowledged as succeeded",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedq_tasks_failed_total",
			Help: "Failed attempts reported by workers",
		}, []string{"kind"}),
		dead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedq_tasks_dead_total",
			Help: "Tasks moved to the dead-letter set",
		}),
		leasesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedq_leases_expired_total",
			Help: "Leases reclaimed after their visibility timeout",
		}),
	}

	ready := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "schedq_ready_tasks",
		Help: "Tasks currently indexed as ready, delayed included",
	}, readyDepth)

	collectors := []prometheus.Collector{
		m.enqueued,
		m.dequeued,
		m.acked,
		m.failed,
		m.dead,
		m.leasesExpired,
		ready,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}
