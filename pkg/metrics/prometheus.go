package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver turns every event into a labelled counter increment.
type PrometheusObserver struct {
	events *prometheus.CounterVec
}

func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asrbridge",
		Name:      "events_total",
		Help:      "Bridge events by name and component.",
	}, []string{"event", "component"})
	if reg != nil {
		if err := reg.Register(events); err != nil {
			return nil, err
		}
	}
	return &PrometheusObserver{events: events}, nil
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	v := ev.Value
	if v <= 0 {
		v = 1
	}
	p.events.WithLabelValues(ev.Name, ev.Tags["component"]).Add(v)
}

// Collector exposes the underlying vector, mainly for tests.
func (p *PrometheusObserver) Collector() *prometheus.CounterVec {
	return p.events
}
