package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	alive error
	ready error
}

func (p *fakeProber) Alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProber) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakeProber) set(alive, ready error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive, p.ready = alive, ready
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Healthy(t *testing.T) {
	h := NewHandler(&fakeProber{}, nil)
	assert.Equal(t, http.StatusOK, get(h, "/live").Code)
	assert.Equal(t, http.StatusOK, get(h, "/ready").Code)
}

func TestHandler_Failing(t *testing.T) {
	p := &fakeProber{}
	h := NewHandler(p, nil)

	p.set(nil, errors.New("malformed status"))
	assert.Equal(t, http.StatusOK, get(h, "/live").Code)
	rec := get(h, "/ready?full=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), ReadinessCheck)
	assert.Contains(t, rec.Body.String(), "malformed status")

	p.set(errors.New("loop exited"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/ready").Code, "readiness includes liveness")
}

func TestHandler_Metrics(t *testing.T) {
	p := &fakeProber{}
	reg := prometheus.NewRegistry()
	NewHandler(p, reg)
	p.set(errors.New("loop exited"), nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "polyglot_healthcheck_status" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "check" {
					got[lp.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{LivenessCheck: 1, ReadinessCheck: 0}, got)
}
