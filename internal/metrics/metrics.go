// Package metrics exposes Prometheus collectors for the attendance service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce  sync.Once
	scansTotal    *prometheus.CounterVec
	qrIssuedTotal prometheus.Counter
	corrections   prometheus.Counter
	rateLimited   *prometheus.CounterVec
)

// Register initialises and registers the collectors once.
func Register() {
	registerOnce.Do(func() {
		scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "QR scans by outcome.",
		}, []string{"outcome"})
		qrIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_qr_issued_total",
			Help: "QR codes issued by teachers.",
		})
		corrections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_corrections_total",
			Help: "Manual attendance status corrections.",
		})
		rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"})
		prometheus.MustRegister(scansTotal, qrIssuedTotal, corrections, rateLimited)
	})
}

// Observer reports attendance outcomes to Prometheus.
type Observer struct{}

// NewObserver registers the collectors and returns an observer.
func NewObserver() Observer {
	Register()
	return Observer{}
}

func (Observer) ScanOutcome(code string) { scansTotal.WithLabelValues(code).Inc() }
func (Observer) QRIssued()               { qrIssuedTotal.Inc() }
func (Observer) Correction()             { corrections.Inc() }

// RateLimited counts a rejected request for route.
func RateLimited(route string) {
	Register()
	rateLimited.WithLabelValues(route).Inc()
}
