package binding

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

type Address struct {
	City string
	Zip  int `param:"zip_code"`
}

type UserForm struct {
	Name    string
	Age     int
	Tags    []string
	Address Address
	Secret  string `param:"-"`
	private string
}

type Node struct {
	Value string
	Next  *Node
}

type handlers struct{}

func (h *handlers) Show(id int, verbose *bool) string { return fmt.Sprint(id, verbose) }

func (h *handlers) Create(req *web.Request, form UserForm, resp *web.Response) string {
	return form.Name
}

func (h *handlers) Since(ctx context.Context, since time.Duration, at time.Time) string {
	return since.String()
}

func (h *handlers) Cyclic(n Node) string { return n.Value }

func (h *handlers) Bad(m map[string]string) string { return "" }

func (h *handlers) Unnamed(int) string { return "" }

func (h *handlers) Pointer(form *UserForm) string { return form.Name }

func ref(name string, declared ...string) MethodRef {
	return MethodRef{
		Owner:    reflect.TypeOf(handlers{}),
		Name:     name,
		Func:     reflect.ValueOf(&handlers{}).MethodByName(name),
		Declared: declared,
	}
}

func request(t *testing.T, method, target string, vars map[string]string, form url.Values) (*web.Request, *web.Response) {
	t.Helper()
	var raw *http.Request
	if form != nil {
		raw = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		raw.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		raw = httptest.NewRequest(method, target, nil)
	}
	req := web.NewRequest(raw)
	req.SetPathVars(vars)
	return req, web.NewResponse(httptest.NewRecorder(), req)
}

func sourceBinder(t *testing.T, opts ...Option) Binder {
	t.Helper()
	idx, err := NewSourceIndex([]string{"."}, IncludeTests())
	require.NoError(t, err)
	return NewSource(idx, opts...)
}

func TestBindScalars(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Show", "id", "verbose"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "verbose"}, plan.Names())
	assert.Equal(t, StrategyDeclared, plan.Strategy)

	req, resp := request(t, http.MethodGet, "/users/42", map[string]string{"id": "42"}, nil)
	args, err := b.Bind(plan, req, resp)
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, 42, args[0].Interface())
	assert.Nil(t, args[1].Interface().(*bool), "absent pointer parameters stay nil")

	req, resp = request(t, http.MethodGet, "/users?id=7&verbose=true", nil, nil)
	args, err = b.Bind(plan, req, resp)
	require.NoError(t, err)
	assert.Equal(t, 7, args[0].Interface())
	assert.True(t, *args[1].Interface().(*bool))
}

func TestBindErrors(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Show", "id", "verbose"))
	require.NoError(t, err)

	req, resp := request(t, http.MethodGet, "/users", nil, nil)
	_, err = b.Bind(plan, req, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NewBindingError(errors.CodeMissingParam, "", nil)))
	assert.Equal(t, http.StatusBadRequest, errors.StatusOf(err))

	req, resp = request(t, http.MethodGet, "/users?id=abc", nil, nil)
	_, err = b.Bind(plan, req, resp)
	assert.True(t, errors.Is(err, errors.NewBindingError(errors.CodeInvalidParam, "", nil)))
}

func TestBindCaseInsensitive(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Show", "id", "verbose"))
	require.NoError(t, err)

	req, resp := request(t, http.MethodGet, "/users?ID=9&Verbose=false", nil, nil)
	args, err := b.Bind(plan, req, resp)
	require.NoError(t, err)
	assert.Equal(t, 9, args[0].Interface())
	assert.False(t, *args[1].Interface().(*bool))
}

func TestBindCompound(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Create", "form"))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "form", ""}, plan.Names())
	assert.Equal(t, KindCompound, plan.Params[1].Kind)

	form := url.Values{
		"Name":     {"Ada"},
		"Tags":     {"x", "y"},
		"city":     {"London"},
		"zip_code": {"12345"},
		"Secret":   {"hunter2"},
	}
	req, resp := request(t, http.MethodPost, "/users", nil, form)
	args, err := b.Bind(plan, req, resp)
	require.NoError(t, err)

	assert.Same(t, req, args[0].Interface())
	assert.Same(t, resp, args[2].Interface())
	assert.Equal(t, UserForm{
		Name:    "Ada",
		Tags:    []string{"x", "y"},
		Address: Address{City: "London", Zip: 12345},
	}, args[1].Interface(), "missing fields stay zero")
}

func TestBindCompoundPointerAndInvalidField(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Pointer", "form"))
	require.NoError(t, err)

	req, resp := request(t, http.MethodGet, "/?Name=Bo", nil, nil)
	args, err := b.Bind(plan, req, resp)
	require.NoError(t, err)
	assert.Equal(t, "Bo", args[0].Interface().(*UserForm).Name)

	req, resp = request(t, http.MethodGet, "/?Age=old", nil, nil)
	_, err = b.Bind(plan, req, resp)
	assert.Equal(t, errors.KindBinding, errors.KindOf(err))
}

func TestBindContextDurationTime(t *testing.T) {
	b := NewDeclared()
	plan, err := b.Prepare(ref("Since", "since", "at"))
	require.NoError(t, err)

	req, resp := request(t, http.MethodGet, "/?since=1m30s&at=2024-01-02T03:04:05Z", nil, nil)
	args, err := b.Bind(plan, req, resp)
	require.NoError(t, err)

	assert.Equal(t, req.Context(), args[0].Interface())
	assert.Equal(t, 90*time.Second, args[1].Interface())
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), args[2].Interface().(time.Time).UTC())
}

func TestPrepareRejections(t *testing.T) {
	tests := []struct {
		name   string
		binder Binder
		ref    MethodRef
		code   string
	}{
		{"cyclic", NewDeclared(), ref("Cyclic", "n"), errors.CodeCyclicParam},
		{"too deep", NewDeclared(WithMaxDepth(1)), ref("Create", "form"), errors.CodeDepthExceeded},
		{"unsupported type", NewDeclared(), ref("Bad", "m"), errors.CodeInvalidParam},
		{"too few names", NewDeclared(), ref("Show", "id"), errors.CodeParamNames},
		{"no names", NewDeclared(), ref("Show"), errors.CodeParamNames},
		{"unnamed in source", sourceBinder(t), ref("Unnamed"), errors.CodeParamNames},
		{"not a method", NewDeclared(), MethodRef{Name: "Missing"}, errors.CodeMissingMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.binder.Prepare(tt.ref)
			require.Error(t, err)
			assert.Equal(t, errors.KindConfig, errors.KindOf(err))
			var fe *errors.FrameworkError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestSourceIndex(t *testing.T) {
	idx, err := NewSourceIndex([]string{"."}, IncludeTests())
	require.NoError(t, err)
	assert.Contains(t, idx.Keys(), "binding.handlers.Show")
	assert.Positive(t, idx.Files())

	names, err := idx.Names(ref("Create"))
	require.NoError(t, err)
	assert.Equal(t, []string{"req", "form", "resp"}, names)

	_, err = idx.Names(MethodRef{Owner: reflect.TypeOf(handlers{}), Name: "Nope"})
	assert.Error(t, err)

	withoutTests, err := NewSourceIndex([]string{"."})
	require.NoError(t, err)
	assert.NotContains(t, withoutTests.Keys(), "binding.handlers.Show")

	_, err = NewSourceIndex([]string{"does-not-exist"})
	assert.Error(t, err)
}

func TestStrategiesAgree(t *testing.T) {
	declared := NewDeclared()
	source := sourceBinder(t)

	dPlan, err := declared.Prepare(ref("Show", "id", "verbose"))
	require.NoError(t, err)
	sPlan, err := source.Prepare(ref("Show"))
	require.NoError(t, err)
	assert.Equal(t, dPlan.Names(), sPlan.Names())

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("both strategies bind the same arguments", prop.ForAll(
		func(id int, verbose bool) bool {
			target := fmt.Sprintf("/?id=%d&verbose=%t", id, verbose)
			req, resp := request(t, http.MethodGet, target, nil, nil)

			a, errA := declared.Bind(dPlan, req, resp)
			b, errB := source.Bind(sPlan, req, resp)
			if errA != nil || errB != nil {
				return false
			}
			return a[0].Interface() == b[0].Interface() &&
				*a[1].Interface().(*bool) == *b[1].Interface().(*bool)
		},
		gen.Int(),
		gen.Bool(),
	))
	properties.TestingRun(t)
}

func TestSelect(t *testing.T) {
	b, err := Select(config.BindingConfig{Strategy: config.StrategyDeclared, MaxDepth: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyDeclared, b.Strategy())

	b, err = Select(config.BindingConfig{Strategy: config.StrategyAuto}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyDeclared, b.Strategy())

	b, err = Select(config.BindingConfig{Strategy: config.StrategyAuto, SourceDirs: []string{"does-not-exist"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyDeclared, b.Strategy())

	b, err = Select(config.BindingConfig{Strategy: config.StrategyAuto, SourceDirs: []string{"."}}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategySource, b.Strategy())

	_, err = Select(config.BindingConfig{Strategy: config.StrategySource}, nil)
	assert.Error(t, err)

	_, err = Select(config.BindingConfig{Strategy: "bytecode"}, nil)
	assert.Error(t, err)
}
