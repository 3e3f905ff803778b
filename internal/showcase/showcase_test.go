package showcase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/di"
	"github.com/conneroisu/switchyard/internal/registry"
	"github.com/conneroisu/switchyard/internal/testutils"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func boot(t *testing.T, strategy string) (*di.ServiceContainer, http.Handler) {
	t.Helper()
	cfg := testutils.CreateTestConfig(t, Namespace)
	cfg.Binding.Strategy = strategy
	if strategy == config.StrategySource {
		cfg.Binding.SourceDirs = []string{"."}
	}

	cat := catalog.New()
	require.NoError(t, Register(cat))

	container := di.NewServiceContainer(cfg, cat)
	require.NoError(t, container.Boot())
	t.Cleanup(func() { _ = container.Shutdown(context.Background()) })

	handler, err := container.Handler()
	require.NoError(t, err)
	return container, handler
}

func TestRegister(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, Register(cat))

	assert.Contains(t, cat.Markers(), TagRepository)
	d, ok := cat.Lookup(catalog.IDFor[Store]())
	require.True(t, ok)
	assert.True(t, d.Has(TagRepository))
	assert.True(t, cat.IsComponent(d))

	assert.Error(t, Register(cat), "registering twice duplicates every type")
}

func TestWiring(t *testing.T) {
	container, _ := boot(t, config.StrategyDeclared)
	reg, err := container.Registry()
	require.NoError(t, err)

	store, ok := registry.Get[*Store](reg)
	require.True(t, ok)
	require.NotNil(t, store.Clock)

	users, ok := registry.Get[*UserController](reg)
	require.True(t, ok)
	assert.Same(t, store, users.Store)
	assert.NotNil(t, users.Logger)

	auth, ok := registry.Get[*AuthFilter](reg)
	require.True(t, ok)
	assert.True(t, auth.Tokens.Allows(DefaultAdminToken))

	assert.Equal(t, 8, container.RouteReport().Routes)
	assert.Empty(t, container.RouteReport().Errors)
}

func TestApplication(t *testing.T) {
	for _, strategy := range []string{config.StrategyDeclared, config.StrategySource} {
		t.Run(strategy, func(t *testing.T) {
			_, h := boot(t, strategy)

			rec := testutils.Serve(h, http.MethodGet, "/hello?name=Ada", "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "Hello, Ada.", rec.Body.String())
			assert.Equal(t, "true", rec.Header().Get("X-Visit-Counted"))
			assert.NotEmpty(t, rec.Header().Get("X-Response-Time"))

			rec = testutils.Serve(h, http.MethodGet, "/greet?name=ada&excited=true", "")
			require.Equal(t, http.StatusOK, rec.Code)
			var g Greeting
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
			assert.Equal(t, "HELLO, ADA!", g.Message)

			rec = testutils.Serve(h, http.MethodGet, "/page?name=%3Cb%3E", "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "Hello, &lt;b&gt;.")
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

			rec = testutils.Serve(h, http.MethodGet, "/", "")
			assert.Contains(t, rec.Body.String(), "switchyard is running")
		})
	}
}

func TestUsers(t *testing.T) {
	_, h := boot(t, config.StrategyDeclared)

	form := url.Values{"name": {"Ada"}, "email": {"ada@example.com"}}
	rec := testutils.Serve(h, http.MethodPost, "/users", form.Encode())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/users/1", rec.Header().Get("Location"))

	var created User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, User{ID: 1, Name: "Ada", Email: "ada@example.com", Created: created.Created}, created)

	rec = testutils.Serve(h, http.MethodGet, "/users/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ada"`)

	rec = testutils.Serve(h, http.MethodGet, "/users", "")
	var all []User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	tests := []struct {
		name   string
		method string
		target string
		form   string
		status int
	}{
		{"unknown user", http.MethodGet, "/users/9", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/users/abc", "", http.StatusBadRequest},
		{"no name", http.MethodPost, "/users", "email=x", http.StatusBadRequest},
		{"wrong verb", http.MethodDelete, "/users", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, testutils.Serve(h, tt.method, tt.target, tt.form).Code)
		})
	}
}

func TestAdmin(t *testing.T) {
	_, h := boot(t, config.StrategyDeclared)

	rec := testutils.Serve(h, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	testutils.Serve(h, http.MethodGet, "/hello?name=x", "")

	rec = testutils.Serve(h, http.MethodGet, "/admin/stats.yaml", "", AdminTokenHeader, DefaultAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "yaml")

	var stats Stats
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Users)
	assert.Equal(t, 1, stats.Visits["/hello"])
	assert.Equal(t, 1, stats.Visits["/admin/stats"])
	assert.Equal(t, 1, stats.Visits["/admin/stats.yaml"])
}

func TestAdminTokensFromEnv(t *testing.T) {
	t.Setenv(AdminTokenEnv, " a , b ,")
	tokens, err := AppConfig{}.AdminTokens()
	require.NoError(t, err)
	assert.True(t, tokens.Allows("a"))
	assert.True(t, tokens.Allows("b"))
	assert.False(t, tokens.Allows(DefaultAdminToken))
	assert.False(t, tokens.Allows(""))

	t.Setenv(AdminTokenEnv, ",")
	_, err = AppConfig{}.AdminTokens()
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	noon := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewStore()
	require.NoError(t, err)
	s.Clock = fixedClock{noon}

	_, err = s.AddUser("", "")
	assert.Error(t, err)

	u, err := s.AddUser("Grace", "")
	require.NoError(t, err)
	assert.Equal(t, noon, u.Created)

	s.Visit("/a")
	s.Visit("/a")
	visits := s.Visits()
	visits["/a"] = 0
	assert.Equal(t, 2, s.Visits()["/a"])
}

func TestGreeter(t *testing.T) {
	g := &Greeter{Salutation: "Hi"}
	assert.Equal(t, "Hi, stranger.", g.Greet("", false))
	assert.Equal(t, "HI, BOB!", g.Greet("bob", true))
}
