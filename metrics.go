package kstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// producerMetrics counts record outcomes across dispatch rounds. With a nil
// registerer the counters still work but are not exported anywhere.
type producerMetrics struct {
	sent    prometheus.Counter
	failed  prometheus.Counter
	retried prometheus.Counter
	dropped prometheus.Counter
}

func newProducerMetrics(r prometheus.Registerer, stream string) *producerMetrics {
	f := promauto.With(r)
	labels := prometheus.Labels{"stream": stream}
	return &producerMetrics{
		sent: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "producer",
			Name:        "records_sent_total",
			Help:        "Records acknowledged by the stream service.",
			ConstLabels: labels,
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "producer",
			Name:        "records_failed_total",
			Help:        "Record dispatch attempts that failed.",
			ConstLabels: labels,
		}),
		retried: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "producer",
			Name:        "records_retried_total",
			Help:        "Failed records returned to the dispatch pipeline.",
			ConstLabels: labels,
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "producer",
			Name:        "records_dropped_total",
			Help:        "Records dropped after exhausting their attempt budget.",
			ConstLabels: labels,
		}),
	}
}

type consumerMetrics struct {
	fetched prometheus.Counter
	read    prometheus.Counter
	shards  prometheus.Counter
}

func newConsumerMetrics(r prometheus.Registerer, stream string) *consumerMetrics {
	f := promauto.With(r)
	labels := prometheus.Labels{"stream": stream}
	return &consumerMetrics{
		fetched: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "consumer",
			Name:        "records_fetched_total",
			Help:        "Records pulled from the stream service.",
			ConstLabels: labels,
		}),
		read: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "consumer",
			Name:        "records_read_total",
			Help:        "Records handed to callers of the read API.",
			ConstLabels: labels,
		}),
		shards: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "kstream",
			Subsystem:   "consumer",
			Name:        "shards_discovered_total",
			Help:        "Shards discovered by the resharding loop.",
			ConstLabels: labels,
		}),
	}
}
