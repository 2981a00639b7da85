package collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce        sync.Once
	bufferDepthGauge   prometheus.Gauge
	droppedEventsTotal prometheus.Counter
	flushFailuresTotal prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		bufferDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plugboard",
			Subsystem: "collector",
			Name:      "buffered_events",
			Help:      "Events currently held in the collector buffer",
		})
		droppedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plugboard",
			Subsystem: "collector",
			Name:      "dropped_events_total",
			Help:      "Events dropped because the buffer was full",
		})
		flushFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plugboard",
			Subsystem: "collector",
			Name:      "flush_failures_total",
			Help:      "Batch writes that failed and were requeued",
		})

		bufferDepthGauge = registerGauge(bufferDepthGauge)
		droppedEventsTotal = registerCounter(droppedEventsTotal)
		flushFailuresTotal = registerCounter(flushFailuresTotal)
	})
}

func registerGauge(g prometheus.Gauge) prometheus.Gauge {
	if err := prometheus.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
	}
	return g
}

func registerCounter(c prometheus.Counter) prometheus.Counter {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}
