package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/conneroisu/switchyard/internal/binding"
	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/registry"
	"github.com/conneroisu/switchyard/internal/routing"
	"github.com/conneroisu/switchyard/internal/staticfs"
	"github.com/conneroisu/switchyard/internal/web"
)

type Journal struct {
	mu     sync.Mutex
	events []string
}

func (j *Journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type Item struct {
	ID   int    `json:"id" yaml:"id" msgpack:"id"`
	Name string `json:"name" yaml:"name" msgpack:"name"`
}

type Shop struct{}

func (s *Shop) Item(id int) (*Item, error) {
	if id == 0 {
		return nil, errors.NewNotFound(errors.CodeRouteNotFound, "no such item")
	}
	return &Item{ID: id, Name: "widget"}, nil
}

func (s *Shop) Create(resp *web.Response, item Item) *Item {
	resp.SetStatus(http.StatusCreated)
	return &item
}

func (s *Shop) Hello(name string) string { return "hello " + name }

func (s *Shop) Page() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>page</p>")
		return err
	})
}

func (s *Shop) Raw() []byte { return []byte{1, 2, 3} }

func (s *Shop) Broken() (string, error) { return "", fmt.Errorf("database unavailable") }

func (s *Shop) Boom() string { panic("boom") }

func (s *Shop) Nothing() *Item { return nil }

func (s *Shop) Report() map[string]int { return map[string]int{"items": 2} }

func (s *Shop) Feed() string { return "feed" }

type Guard struct {
	Journal *Journal `inject:""`
}

func (g *Guard) Before(req *web.Request, resp *web.Response) error {
	g.Journal.add("guard.before")
	if req.Header("X-Panic") != "" {
		panic("filter exploded")
	}
	if req.Header("X-Deny") != "" {
		return fmt.Errorf("denied")
	}
	if req.Header("X-Unauthorized") != "" {
		resp.SetStatus(http.StatusUnauthorized)
		return fmt.Errorf("no credentials")
	}
	return nil
}

func (g *Guard) After(req *web.Request, resp *web.Response) { g.Journal.add("guard.after") }

type Audit struct {
	Journal *Journal `inject:""`
}

func (a *Audit) Before(req *web.Request, resp *web.Response) error {
	a.Journal.add("audit.before")
	return nil
}

func (a *Audit) After(req *web.Request, resp *web.Response) {
	a.Journal.add("audit.after")
	resp.SetHeader("X-Audited", "yes")
}

type Timer struct {
	Journal *Journal `inject:""`
}

func (t *Timer) PreHandle(req *web.Request, resp *web.Response) bool {
	t.Journal.add("timer.pre")
	return req.Query("stop") == ""
}

func (t *Timer) PostHandle(req *web.Request, resp *web.Response) { t.Journal.add("timer.post") }

type Tracer struct {
	Journal *Journal `inject:""`
}

func (t *Tracer) PreHandle(req *web.Request, resp *web.Response) bool {
	t.Journal.add("tracer.pre")
	return true
}

func (t *Tracer) PostHandle(req *web.Request, resp *web.Response) { t.Journal.add("tracer.post") }

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	finished []string
	rejected []string
}

func (f *fakeRecorder) RequestStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeRecorder) RequestFinished(verb, route string, status int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, fmt.Sprintf("%s %s %d", verb, route, status))
}

func (f *fakeRecorder) Rejected(stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, stage)
}

func buildTable(t *testing.T) (*routing.Table, *Journal) {
	t.Helper()
	c := catalog.New()
	require.NoError(t, catalog.Component[Shop](c).In("shop").Controller().
		Get("Item", "/items/{id}").Params("Item", "id").
		Post("Create", "/items").Params("Create", "item").
		Get("Hello", "/hello").Params("Hello", "name").
		Get("Page", "/page").
		Get("Raw", "/raw").
		Get("Broken", "/broken").
		Get("Boom", "/boom").
		Get("Nothing", "/nothing").
		Get("Report", "/report").Produces("Report", web.ContentTypeYAML).
		Get("Feed", "/feed.json").
		Register())
	require.NoError(t, catalog.Component[Guard](c).In("shop").Filter(1, "/*").Register())
	require.NoError(t, catalog.Component[Audit](c).In("shop").Filter(2, "/items/*", "/*").Register())
	require.NoError(t, catalog.Component[Timer](c).In("shop").Interceptor(0, "/*").Register())

	journal := &Journal{}
	reg := registry.New(c)
	require.NoError(t, reg.Provide(journal))
	require.NoError(t, reg.Discover(context.Background(), "shop").Err())
	reg.Seal()

	table, report := routing.Build(reg, binding.NewDeclared(), nil)
	require.Empty(t, report.Errors)
	return table, journal
}

func newPipeline(t *testing.T, opts ...Option) (*Pipeline, *Journal) {
	t.Helper()
	table, journal := buildTable(t)
	return New(table, binding.NewDeclared(), opts...), journal
}

func do(p *Pipeline, method, target string, body io.Reader, header ...string) (*httptest.ResponseRecorder, *Outcome) {
	r := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	out := p.Dispatch(rec, r)
	return rec, out
}

func TestDispatchJSON(t *testing.T) {
	p, journal := newPipeline(t)

	rec, out := do(p, http.MethodGet, "/items/3", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, web.ContentTypeJSON, rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":3,"name":"widget"}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Audited"))
	assert.NotEmpty(t, rec.Header().Get(web.RequestIDHeader))

	assert.Equal(t, StateResponded, out.State)
	assert.Equal(t, "received>filtered>routed>bound>invoked>responded", out.TraceString())
	assert.Equal(t, "/items/{id}", out.Route)
	assert.NoError(t, out.Err)

	want := []string{"guard.before", "audit.before", "timer.pre", "timer.post", "audit.after", "guard.after"}
	if diff := cmp.Diff(want, journal.Events()); diff != "" {
		t.Errorf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestRepresentations(t *testing.T) {
	p, _ := newPipeline(t)

	tests := []struct {
		name        string
		target      string
		contentType string
		check       func(t *testing.T, body []byte)
	}{
		{
			name:        "json suffix",
			target:      "/items/4.json",
			contentType: web.ContentTypeJSON,
			check: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"id":4,"name":"widget"}`, string(body))
			},
		},
		{
			name:        "yaml suffix",
			target:      "/items/4.yaml",
			contentType: web.ContentTypeYAML,
			check: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), "name: widget")
			},
		},
		{
			name:        "msgpack suffix",
			target:      "/items/4.msgpack",
			contentType: web.ContentTypeMsgPack,
			check: func(t *testing.T, body []byte) {
				var item Item
				require.NoError(t, msgpack.Unmarshal(body, &item))
				assert.Equal(t, Item{ID: 4, Name: "widget"}, item)
			},
		},
		{
			name:        "declared content type",
			target:      "/report",
			contentType: web.ContentTypeYAML,
			check: func(t *testing.T, body []byte) {
				assert.Equal(t, "items: 2\n", string(body))
			},
		},
		{
			name:        "suffix outranks declared type",
			target:      "/report.json",
			contentType: web.ContentTypeJSON,
			check: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"items":2}`, string(body))
			},
		},
		{
			name:        "string",
			target:      "/hello?name=ada",
			contentType: web.ContentTypePlain,
			check: func(t *testing.T, body []byte) {
				assert.Equal(t, "hello ada", string(body))
			},
		},
		{
			name:        "component",
			target:      "/page",
			contentType: web.ContentTypeHTML,
			check: func(t *testing.T, body []byte) {
				assert.Equal(t, "<p>page</p>", string(body))
			},
		},
		{
			name:        "bytes",
			target:      "/raw",
			contentType: web.ContentTypeBinary,
			check: func(t *testing.T, body []byte) {
				assert.Equal(t, []byte{1, 2, 3}, body)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(p, http.MethodGet, tt.target, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, StateResponded, out.State)
			tt.check(t, rec.Body.Bytes())
		})
	}
}

func TestCompoundFromForm(t *testing.T) {
	p, _ := newPipeline(t)

	form := url.Values{"id": {"9"}, "name": {"gizmo"}}
	r := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	p.Dispatch(rec, r)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":9,"name":"gizmo"}`, rec.Body.String())
}

func TestFailures(t *testing.T) {
	p, _ := newPipeline(t)

	tests := []struct {
		name      string
		method    string
		target    string
		status    int
		kind      errors.Kind
		closeConn bool
	}{
		{"binding parse", http.MethodGet, "/items/abc", http.StatusBadRequest, errors.KindBinding, false},
		{"binding missing", http.MethodGet, "/hello", http.StatusBadRequest, errors.KindBinding, false},
		{"no route", http.MethodGet, "/nope", http.StatusNotFound, errors.KindNotFound, false},
		{"handler not found", http.MethodGet, "/items/0", http.StatusNotFound, errors.KindNotFound, false},
		{"verb not allowed", http.MethodDelete, "/hello", http.StatusMethodNotAllowed, errors.KindMethodNotAllowed, false},
		{"handler error", http.MethodGet, "/broken", http.StatusInternalServerError, errors.KindHandler, true},
		{"handler panic", http.MethodGet, "/boom", http.StatusInternalServerError, errors.KindHandler, true},
		{"nil result", http.MethodGet, "/nothing", http.StatusInternalServerError, errors.KindHandler, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(p, tt.method, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.kind, errors.KindOf(out.Err))
			if tt.closeConn {
				assert.Equal(t, "close", rec.Header().Get("Connection"))
				assert.Equal(t, http.StatusText(http.StatusInternalServerError), rec.Body.String())
			} else {
				assert.Empty(t, rec.Header().Get("Connection"))
			}
		})
	}
}

func TestMethodNotAllowedSetsAllow(t *testing.T) {
	p, _ := newPipeline(t)

	rec, _ := do(p, http.MethodPut, "/items", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}

func TestAfterHooksRunOnFailure(t *testing.T) {
	p, journal := newPipeline(t)

	rec, _ := do(p, http.MethodGet, "/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Audited"))
	assert.Contains(t, journal.Events(), "guard.after")
	assert.Contains(t, journal.Events(), "timer.post")
}

func TestShortCircuit(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		header  []string
		status  int
		stage   string
		journal []string
	}{
		{
			name:    "filter error",
			target:  "/hello?name=x",
			header:  []string{"X-Deny", "1"},
			status:  http.StatusForbidden,
			stage:   StageFilter,
			journal: []string{"guard.before"},
		},
		{
			name:    "filter keeps its status",
			target:  "/hello?name=x",
			header:  []string{"X-Unauthorized", "1"},
			status:  http.StatusUnauthorized,
			stage:   StageFilter,
			journal: []string{"guard.before"},
		},
		{
			name:    "interceptor refuses",
			target:  "/hello?name=x&stop=1",
			status:  http.StatusForbidden,
			stage:   StageInterceptor,
			journal: []string{"guard.before", "audit.before", "timer.pre"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			p, journal := newPipeline(t, WithRecorder(rec))

			resp, out := do(p, http.MethodGet, tt.target, nil, tt.header...)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, errors.KindRejected, errors.KindOf(out.Err))
			assert.Equal(t, []State{StateReceived, StateFailed}, out.Trace)
			assert.Equal(t, []string{tt.stage}, rec.rejected)
			assert.Empty(t, resp.Header().Get("X-Audited"))
			if diff := cmp.Diff(tt.journal, journal.Events()); diff != "" {
				t.Errorf("journal mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBoundaryRecoversPanics(t *testing.T) {
	rec := &fakeRecorder{}
	var outcomes []*Outcome
	p, _ := newPipeline(t, WithRecorder(rec), WithOutcomes(func(o *Outcome) { outcomes = append(outcomes, o) }))

	resp, out := do(p, http.MethodGet, "/hello?name=x", nil, "X-Panic", "1")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "close", resp.Header().Get("Connection"))
	assert.Equal(t, errors.KindTransport, errors.KindOf(out.Err))
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []string{"GET  500"}, rec.finished)
	require.Len(t, outcomes, 1)
	assert.Same(t, out, outcomes[0])
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
}

func TestSuffixOnLiteralRoute(t *testing.T) {
	p, _ := newPipeline(t)

	rec, out := do(p, http.MethodGet, "/feed.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "feed", rec.Body.String())
	assert.Equal(t, "/feed.json", out.Route)

	rec, out = do(p, http.MethodGet, "/items/7.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7,"name":"widget"}`, rec.Body.String())
	assert.Equal(t, "/items/{id}", out.Route)
}

func TestInterceptorsUnwindInReverse(t *testing.T) {
	c := catalog.New()
	require.NoError(t, catalog.Component[Shop](c).In("shop").Controller().
		Get("Hello", "/hello").Params("Hello", "name").
		Register())
	require.NoError(t, catalog.Component[Timer](c).In("shop").Interceptor(0, "/*").Register())
	require.NoError(t, catalog.Component[Tracer](c).In("shop").Interceptor(1, "/hello").Register())

	journal := &Journal{}
	reg := registry.New(c)
	require.NoError(t, reg.Provide(journal))
	require.NoError(t, reg.Discover(context.Background(), "shop").Err())
	reg.Seal()
	table, report := routing.Build(reg, binding.NewDeclared(), nil)
	require.Empty(t, report.Errors)

	p := New(table, binding.NewDeclared())
	rec, _ := do(p, http.MethodGet, "/hello?name=x", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	want := []string{"timer.pre", "tracer.pre", "tracer.post", "timer.post"}
	if diff := cmp.Diff(want, journal.Events()); diff != "" {
		t.Errorf("interceptor order mismatch (-want +got):\n%s", diff)
	}
}

func TestHeadFallsBackToGet(t *testing.T) {
	p, _ := newPipeline(t)

	rec, out := do(p, http.MethodHead, "/hello?name=x", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, StateResponded, out.State)
}

func TestRequestIDIsKept(t *testing.T) {
	p, _ := newPipeline(t)

	rec, out := do(p, http.MethodGet, "/hello?name=x", nil, web.RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(web.RequestIDHeader))
	assert.Equal(t, "abc-123", out.RequestID)
}

func TestStaticSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))
	root, err := staticfs.New(config.StaticConfig{Root: dir, Cache: true}, nil)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	p, journal := newPipeline(t, WithStatic(root), WithRecorder(rec))

	resp, out := do(p, http.MethodGet, "/index.html", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, web.ContentTypeHTML, resp.Header().Get("Content-Type"))
	assert.Equal(t, "<h1>home</h1>", resp.Body.String())
	assert.Equal(t, "received>filtered>routed>responded", out.TraceString())
	assert.Contains(t, journal.Events(), "guard.after")

	resp, out = do(p, http.MethodGet, "/missing.html", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, StateFailed, out.State)

	resp, _ = do(p, http.MethodGet, "/../../etc/passwd.html", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	assert.Equal(t, []string{"GET static 200", "GET static 404", "GET static 404"}, rec.finished)
}

func TestServeConcurrently(t *testing.T) {
	p, _ := newPipeline(t)
	srv := httptest.NewServer(p)
	defer srv.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("%s/items/%d", srv.URL, id))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			want := fmt.Sprintf(`{"id":%d,"name":"widget"}`, id)
			if resp.StatusCode != http.StatusOK || string(body) != want {
				errs <- fmt.Errorf("item %d: %d %s", id, resp.StatusCode, body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSplitRepresentation(t *testing.T) {
	tests := []struct {
		path   string
		base   string
		suffix string
		ok     bool
	}{
		{"/report.yaml", "/report", ".yaml", true},
		{"/report.YML", "/report", ".yml", true},
		{"/report.msgpack", "/report", ".msgpack", true},
		{"/report", "/report", "", false},
		{"/.json", "/.json", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			base, suffix, ok := splitRepresentation(tt.path)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.base, base)
				assert.Equal(t, tt.suffix, suffix)
			}
		})
	}
}
