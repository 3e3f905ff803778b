package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/switchyard/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestNewPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { New(nil, http.NotFoundHandler(), nil) })
	assert.Panics(t, func() { New(testConfig(), nil, nil) })
}

func TestStartServesAndShutsDown(t *testing.T) {
	s := New(testConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}), nil)
	require.NoError(t, s.Listen())
	addr := s.Addr()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ = io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, s.IsShutdown())
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, s.Listen())
}

func TestListenFailsOnBusyPort(t *testing.T) {
	first := New(testConfig(), http.NotFoundHandler(), nil)
	require.NoError(t, first.Listen())
	defer first.Shutdown(context.Background())

	_, p, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Server.Port = port
	second := New(cfg, http.NotFoundHandler(), nil)
	assert.Error(t, second.Listen())
}

func TestConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConnections = 1

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s := New(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
	}), nil)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	get := func(done chan<- struct{}) {
		resp, err := client.Get("http://" + s.Addr() + "/slow")
		if err == nil {
			resp.Body.Close()
		}
		if done != nil {
			close(done)
		}
	}

	go get(nil)
	<-entered

	second := make(chan struct{})
	go get(second)

	select {
	case <-second:
		t.Fatal("second connection served while the limit was reached")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second connection never served")
	}
}
