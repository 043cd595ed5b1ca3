// Package health exposes the liveness and readiness of a channel host over HTTP.
package health

import (
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// LivenessCheck reports whether the receive loop is running.
	LivenessCheck = "receive-loop"
	// ReadinessCheck reports whether the status byte decodes.
	ReadinessCheck = "status-byte"

	metricsNamespace = "polyglot"
	readyTimeout     = time.Second
)

// Prober is implemented by *plugin.Host.
type Prober interface {
	Alive() error
	Ready() error
}

// NewHandler returns a handler serving /live and /ready for p. When reg is
// not nil every check is also exported as the gauge
// polyglot_healthcheck_status{check="..."}, 0 meaning healthy. Registering
// two handlers on the same registry panics.
func NewHandler(p Prober, reg prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, metricsNamespace)
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck(LivenessCheck, p.Alive)
	h.AddReadinessCheck(ReadinessCheck, healthcheck.Timeout(p.Ready, readyTimeout))
	return h
}
