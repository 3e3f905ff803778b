package showcase

import (
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/web"
)

// AdminTokenHeader carries the admin token.
const AdminTokenHeader = "X-Admin-Token"

// VisitFilter counts visits per path.
type VisitFilter struct {
	Store *Store `inject:""`
}

func (f *VisitFilter) Before(req *web.Request, resp *web.Response) error {
	f.Store.Visit(req.Path())
	return nil
}

func (f *VisitFilter) After(req *web.Request, resp *web.Response) {
	resp.SetHeader("X-Visit-Counted", "true")
}

// AuthFilter guards /admin.
type AuthFilter struct {
	Tokens *AdminTokens `inject:""`
}

func (f *AuthFilter) Before(req *web.Request, resp *web.Response) error {
	if f.Tokens.Allows(req.Header(AdminTokenHeader)) {
		return nil
	}
	resp.SetStatus(http.StatusUnauthorized).SetHeader("WWW-Authenticate", `Token realm="admin"`)
	return fmt.Errorf("missing or invalid admin token")
}

const startedAttr = "showcase.started"

// TimingInterceptor adds X-Response-Time to every response.
type TimingInterceptor struct {
	Logger logging.Logger `inject:""`
}

func (t *TimingInterceptor) PreHandle(req *web.Request, resp *web.Response) bool {
	req.Set(startedAttr, time.Now())
	return true
}

func (t *TimingInterceptor) PostHandle(req *web.Request, resp *web.Response) {
	v, ok := req.Get(startedAttr)
	if !ok {
		return
	}
	elapsed := time.Since(v.(time.Time))
	resp.SetHeader("X-Response-Time", elapsed.String())
	t.Logger.Debug(req.Context(), "handled", "path", req.Path(), "elapsed", elapsed)
}
