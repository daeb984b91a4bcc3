package observability

import (
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
	gauges     map[observability.MetricKey]observability.Gauge
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if m == nil || m.counters == nil {
		return observability.NopCounter()
	}
	if c, ok := m.counters[name]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if m == nil || m.histograms == nil {
		return observability.NopHistogram()
	}
	if h, ok := m.histograms[name]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

func (m *registeredMetrics) Gauge(name observability.MetricKey) observability.Gauge {
	if m == nil || m.gauges == nil {
		return observability.NopGauge()
	}
	if g, ok := m.gauges[name]; ok && g != nil {
		return g
	}
	return observability.NopGauge()
}

// Instruments groups the metric instruments handed to New.
type Instruments struct {
	Counters   map[observability.MetricKey]observability.Counter
	Histograms map[observability.MetricKey]observability.Histogram
	Gauges     map[observability.MetricKey]observability.Gauge
}

// New assembles an Observability provider backed by the supplied tracer, logger, and metric instruments.
func New(tracer observability.Tracer, logger observability.Logger, inst Instruments) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if len(inst.Counters) > 0 || len(inst.Histograms) > 0 || len(inst.Gauges) > 0 {
		m := &registeredMetrics{
			counters:   make(map[observability.MetricKey]observability.Counter, len(inst.Counters)),
			histograms: make(map[observability.MetricKey]observability.Histogram, len(inst.Histograms)),
			gauges:     make(map[observability.MetricKey]observability.Gauge, len(inst.Gauges)),
		}
		for k, v := range inst.Counters {
			if v == nil {
				continue
			}
			m.counters[k] = v
		}
		for k, v := range inst.Histograms {
			if v == nil {
				continue
			}
			m.histograms[k] = v
		}
		for k, v := range inst.Gauges {
			if v == nil {
				continue
			}
			m.gauges[k] = v
		}
		metrics = m
	}

	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}
}

// StandardInstruments registers every metric the service emits on reg.
func StandardInstruments(reg prometrics.Registry) Instruments {
	return Instruments{
		Counters: map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests: reg.Counter(string(observability.MUsecaseRequests),
				"Total number of use case invocations.", "use_case", "outcome"),
			observability.MHTTPRequests: reg.Counter(string(observability.MHTTPRequests),
				"Total number of HTTP requests.", "method", "route", "status"),
			observability.MExternalRequests: reg.Counter(string(observability.MExternalRequests),
				"Calls made to payment providers and brokers.", "peer", "endpoint", "outcome"),
			observability.MPaymentTransitions: reg.Counter(string(observability.MPaymentTransitions),
				"Applied payment intent state transitions.", "from", "to"),
			observability.MPaymentInvalidTransitions: reg.Counter(string(observability.MPaymentInvalidTransitions),
				"Rejected payment intent state transitions (defects).", "from", "to"),
		},
		Histograms: map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration: reg.Histogram(string(observability.MUsecaseDuration),
				"Duration of use case execution in seconds.", nil, "use_case"),
			observability.MHTTPRequestDuration: reg.Histogram(string(observability.MHTTPRequestDuration),
				"Duration of HTTP requests in seconds.", nil, "method", "route", "status"),
			observability.MExternalRequestDuration: reg.Histogram(string(observability.MExternalRequestDuration),
				"Duration of provider and broker calls in seconds.", nil, "peer", "endpoint"),
		},
		Gauges: map[observability.MetricKey]observability.Gauge{
			observability.MPaymentActivePollers: reg.Gauge(string(observability.MPaymentActivePollers),
				"Confirmation pollers currently running."),
		},
	}
}

func (p *provider) Tracer() observability.Tracer {
	return p.tracer
}

func (p *provider) Logger() observability.Logger {
	return p.logger
}

func (p *provider) Metrics() observability.Metrics {
	if p.metrics == nil {
		return observability.NopMetrics()
	}
	return p.metrics
}
