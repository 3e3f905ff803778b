package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/registry"
)

func TestRequestMetrics(t *testing.T) {
	m := New()

	m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsInFlight))

	m.RequestFinished("GET", "/hello", http.StatusOK, 20*time.Millisecond)
	m.RequestFinished("GET", "", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, -1.0, testutil.ToFloat64(m.RequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/hello", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	m.Rejected("filter")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("filter")))
}

func TestRegistryObserver(t *testing.T) {
	m := New()
	var observer registry.Observer = m

	observer.EntryAdded(&registry.Entry{Source: registry.SourceFactory})
	observer.DiscoveryFailed(errors.NewDiscoveryError(errors.CodeConstructorFailed, "boom", nil))
	m.SetRoutes(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Components.WithLabelValues("factory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryErrors.WithLabelValues("discovery", errors.CodeConstructorFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Routes))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetRoutes(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "switchyard_routing_routes 2"))
}
