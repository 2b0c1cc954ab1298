package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "apiclient"

// Metrics records client activity as Prometheus collectors.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	retries   *prometheus.CounterVec
	refreshes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered by another client
// on the same registry are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Logical API calls by method and final status code or error kind.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of logical API calls including retries and refreshes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Retried attempts by the error kind that caused them.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_refreshes_total",
			Help:      "Credential refresh callback executions by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error

	m.requests, err = register(reg, m.requests)
	if err != nil {
		return nil, err
	}

	m.duration, err = register(reg, m.duration)
	if err != nil {
		return nil, err
	}

	m.retries, err = register(reg, m.retries)
	if err != nil {
		return nil, err
	}

	m.refreshes, err = register(reg, m.refreshes)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	return collector, fmt.Errorf("registering metrics collector: %w", err)
}

// ObserveCall records the outcome of a logical call. status is the HTTP
// status when a response was received; otherwise kind labels the failure.
func (m *Metrics) ObserveCall(method string, status int, kind ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}

	label := string(kind)
	if status > 0 {
		label = strconv.Itoa(status)
	}

	m.requests.WithLabelValues(method, label).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRetry records one retried attempt.
func (m *Metrics) ObserveRetry(kind ErrorKind) {
	if m == nil {
		return
	}

	m.retries.WithLabelValues(string(kind)).Inc()
}

// ObserveRefresh records one refresh callback execution.
func (m *Metrics) ObserveRefresh(success bool) {
	if m == nil {
		return
	}

	result := "failure"
	if success {
		result = "success"
	}

	m.refreshes.WithLabelValues(result).Inc()
}
