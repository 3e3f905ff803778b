// Package testutils holds helpers shared by package tests.
package testutils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/switchyard/internal/config"
)

// CreateTestConfig returns the default configuration bound to 127.0.0.1 on
// an ephemeral port, discovering namespaces, with a fresh static root and
// quiet logging.
func CreateTestConfig(t *testing.T, namespaces ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Discovery.Namespaces = namespaces
	cfg.Binding.Strategy = config.StrategyDeclared
	cfg.Logging.Level = "error"
	cfg.Static.Root = t.TempDir()
	return cfg
}

// CreateStaticFile writes content to name under root, creating parent
// directories.
func CreateStaticFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Serve sends a request with method, target and an optional form body to h.
func Serve(h http.Handler, method, target, form string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if form != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
