package metric

import "time"

type (
	Labels map[string]any

	Metrics interface {
		With(Labels) Metrics
		WithLabel(name string, value any) Metrics
		Increment(name string)
		Count(name string, n int)
		Gauge(name string, n int)
		Duration(name string, duration time.Duration)
	}
)
