package di

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/registry"
	"github.com/conneroisu/switchyard/internal/testutils"
)

type TestService interface {
	GetName() string
}

type TestImplementation struct {
	name string
}

func (t *TestImplementation) GetName() string { return t.name }

func TestServiceContainer_BasicRegistration(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	container.Register("test", func(r DependencyResolver) (interface{}, error) {
		return &TestImplementation{name: "test-service"}, nil
	})

	svc, err := container.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "test-service", svc.(TestService).GetName())
	assert.True(t, container.Has("test"))
	assert.False(t, container.Has("missing"))

	_, err = container.Get("missing")
	assert.Error(t, err)
}

func TestServiceContainer_SingletonBehavior(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	var calls int32
	container.RegisterSingleton("single", func(r DependencyResolver) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return &TestImplementation{name: "once"}, nil
	})
	container.Register("transient", func(r DependencyResolver) (interface{}, error) {
		return &TestImplementation{name: "many"}, nil
	})

	var wg sync.WaitGroup
	results := make([]interface{}, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = container.MustGet("single")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	a := container.MustGet("transient")
	b := container.MustGet("transient")
	assert.NotSame(t, a, b)
}

func TestServiceContainer_CircularDependency(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	container.RegisterSingleton("a", func(r DependencyResolver) (interface{}, error) {
		return r.Get("b")
	})
	container.RegisterSingleton("b", func(r DependencyResolver) (interface{}, error) {
		return r.Get("a")
	})

	_, err := container.Get("a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")

	// A failed singleton can be retried once its dependency is fixed.
	container.RegisterSingleton("b", func(r DependencyResolver) (interface{}, error) {
		return &TestImplementation{name: "b"}, nil
	})
	_, err = container.Get("a")
	assert.NoError(t, err)
}

func TestServiceContainer_Tags(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	container.RegisterSingleton("x", func(r DependencyResolver) (interface{}, error) {
		return &TestImplementation{name: "x"}, nil
	}).WithTag("group")
	container.RegisterSingleton("y", func(r DependencyResolver) (interface{}, error) {
		return &TestImplementation{name: "y"}, nil
	}).WithTag("group", "other").DependsOn("x")
	container.RegisterInstance("z", &TestImplementation{name: "z"})

	svcs, err := container.GetByTag("group")
	require.NoError(t, err)
	require.Len(t, svcs, 2)
	assert.Equal(t, "x", svcs[0].(TestService).GetName())
	assert.Equal(t, "y", svcs[1].(TestService).GetName())

	def, ok := container.GetServiceDefinition("y")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, def.Dependencies)
	assert.Equal(t, []string{"x", "y", "z"}, container.ListServices())
}

type closer struct {
	name  string
	order *[]string
}

func (c *closer) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

type failingShutdown struct{}

func (failingShutdown) Shutdown(context.Context) error { return fmt.Errorf("stuck") }

func TestServiceContainer_ShutdownReverseOrder(t *testing.T) {
	container := NewServiceContainer(nil, nil)
	var order []string
	container.RegisterSingleton("first", func(r DependencyResolver) (interface{}, error) {
		return &closer{name: "first", order: &order}, nil
	})
	container.RegisterSingleton("second", func(r DependencyResolver) (interface{}, error) {
		if _, err := r.Get("first"); err != nil {
			return nil, err
		}
		return &closer{name: "second", order: &order}, nil
	})
	container.RegisterSingleton("stuck", func(r DependencyResolver) (interface{}, error) {
		return failingShutdown{}, nil
	})

	container.MustGet("second")
	container.MustGet("stuck")

	err := container.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
	assert.Equal(t, []string{"second", "first"}, order)
}

type Clock struct{}

func (Clock) Now() string { return "noon" }

type AppConfig struct{}

func (AppConfig) Clock() *Clock { return &Clock{} }

type TimeController struct {
	Clock  *Clock         `inject:""`
	Config *config.Config `inject:""`
	Log    logging.Logger `inject:""`
}

func (c *TimeController) Now() string { return c.Clock.Now() + " on " + c.Config.Server.Host }

func appCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	require.NoError(t, catalog.Component[AppConfig](c).In("testapp").Configuration().Register())
	require.NoError(t, catalog.Component[TimeController](c).In("testapp").Controller().Get("Now", "/now").Register())
	return c
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testutils.CreateTestConfig(t, "testapp")
}

func TestBoot(t *testing.T) {
	cfg := testConfig(t)
	testutils.CreateStaticFile(t, cfg.Static.Root, "about.html", "about")

	container := NewServiceContainer(cfg, appCatalog(t))
	require.NoError(t, container.Boot())
	require.NoError(t, container.Boot())

	reg, err := container.Registry()
	require.NoError(t, err)
	assert.True(t, reg.Sealed())

	ctrl, ok := registry.Get[*TimeController](reg)
	require.True(t, ok)
	require.NotNil(t, ctrl.Clock)
	assert.Same(t, cfg, ctrl.Config)
	assert.NotNil(t, ctrl.Log)

	reports := container.DiscoveryReports()
	require.Len(t, reports, 1)
	assert.NoError(t, reports[0].Err())
	assert.Equal(t, 1, container.RouteReport().Routes)

	handler, err := container.Handler()
	require.NoError(t, err)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/now", http.StatusOK, "noon on 127.0.0.1"},
		{"/about.html", http.StatusOK, "about"},
		{"/later", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, cfg.Metrics.Path, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "switchyard_routing_routes 1")
	assert.Contains(t, rec.Body.String(), `switchyard_http_requests_total{route="/now",status="200",verb="GET"} 1`)
}

func TestBootWithoutMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	container := NewServiceContainer(cfg, appCatalog(t))
	require.NoError(t, container.Boot())
	handler, err := container.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBootRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "chatty"

	container := NewServiceContainer(cfg, appCatalog(t))
	assert.Error(t, container.Boot())
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	container := NewServiceContainer(cfg, appCatalog(t))
	require.NoError(t, container.Boot())
	srv, err := container.Server()
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- container.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/now")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "noon on 127.0.0.1"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, srv.IsShutdown())
}
