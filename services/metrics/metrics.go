// Package metricsvc exposes Prometheus collectors for the API, alerts and audio detection.
package metricsvc

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/audio"
)

const namespace = "smarthomecloud"

type Metrics struct {
	registry *prometheus.Registry

	alertsCreated   *prometheus.CounterVec
	audioDetections *prometheus.CounterVec
	audioConfidence prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	devicesOffline  prometheus.Counter
	rulesRun        *prometheus.CounterVec
}

var _ audio.Recorder = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created, by type, severity and source.",
		}, []string{"type", "severity", "source"}),
		audioDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_detections_total",
			Help:      "Audio samples classified, by top class and whether an alert was raised.",
		}, []string{"class", "alerted"}),
		audioConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_detection_confidence",
			Help:      "Confidence of the top audio class.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		devicesOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_marked_offline_total",
			Help:      "Devices switched offline by the watchdog.",
		}),
		rulesRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_rules_run_total",
			Help:      "Automation rule executions, by trigger.",
		}, []string{"trigger"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alertsCreated,
		m.audioDetections,
		m.audioConfidence,
		m.httpRequests,
		m.httpDuration,
		m.devicesOffline,
		m.rulesRun,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CountAlert is an alert.Listener.
func (m *Metrics) CountAlert(_ context.Context, a alert.Alert) error {
	m.alertsCreated.WithLabelValues(a.Type, a.Severity, a.Source).Inc()
	return nil
}

func (m *Metrics) ObserveAudioDetection(class string, confidence float64, alerted bool) {
	m.audioDetections.WithLabelValues(class, strconv.FormatBool(alerted)).Inc()
	m.audioConfidence.Observe(confidence)
}

func (m *Metrics) AddDevicesOffline(n int) {
	m.devicesOffline.Add(float64(n))
}

func (m *Metrics) AddRulesRun(trigger string, n int) {
	m.rulesRun.WithLabelValues(trigger).Add(float64(n))
}

// Middleware records every request under its route pattern, keeping label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			code := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					code = he.Code
				} else if code < http.StatusBadRequest {
					code = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(code)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
