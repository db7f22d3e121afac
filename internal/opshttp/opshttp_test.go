package opshttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/reapergt/poller/internal/opsfeed"
)

type fakeHealth struct {
	ok     bool
	reason string
}

func (f fakeHealth) Healthy() (bool, string) { return f.ok, f.reason }

func TestHealthzReturnsOKWhenNoHealthChecker(t *testing.T) {
	s := New(opsfeed.New(0, zerolog.Nop()), nil, 0, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthzReturnsUnhealthyStatus(t *testing.T) {
	s := New(opsfeed.New(0, zerolog.Nop()), fakeHealth{ok: false, reason: "high memory"}, 0, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "high memory")
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(opsfeed.New(0, zerolog.Nop()), nil, 0, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}
