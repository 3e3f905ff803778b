package showcase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/web"
)

// Greeting is the structured reply of /greet.
type Greeting struct {
	Message string    `json:"message" yaml:"message" msgpack:"message"`
	At      time.Time `json:"at" yaml:"at" msgpack:"at"`
}

// HelloController serves greetings.
type HelloController struct {
	Greeter *Greeter `inject:""`
	Clock   Clock    `inject:""`
}

func (h *HelloController) Hello(name string) string {
	return h.Greeter.Greet(name, false)
}

func (h *HelloController) Greet(ctx context.Context, name string, excited bool) (*Greeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Greeting{Message: h.Greeter.Greet(name, excited), At: h.Clock.Now().UTC()}, nil
}

func (h *HelloController) Index() templ.Component {
	return greetingPage("switchyard is running")
}

func (h *HelloController) Page(name string) templ.Component {
	return greetingPage(h.Greeter.Greet(name, false))
}

// UserController manages users.
type UserController struct {
	Store  *Store         `inject:""`
	Logger logging.Logger `inject:""`
}

func (u *UserController) Show(id int) (*User, error) {
	user, ok := u.Store.User(id)
	if !ok {
		return nil, errors.NewNotFound(errors.CodeRouteNotFound, fmt.Sprintf("user %d not found", id))
	}
	return user, nil
}

func (u *UserController) List() []User { return u.Store.Users() }

func (u *UserController) Create(req *web.Request, resp *web.Response, form NewUser) (*User, error) {
	user, err := u.Store.AddUser(form.Name, form.Email)
	if err != nil {
		return nil, err
	}
	u.Logger.Info(req.Context(), "user created", "id", user.ID)
	resp.SetStatus(http.StatusCreated).SetHeader("Location", fmt.Sprintf("/users/%d", user.ID))
	return user, nil
}

// Stats is the admin summary.
type Stats struct {
	Users  int            `json:"users" yaml:"users" msgpack:"users"`
	Visits map[string]int `json:"visits" yaml:"visits" msgpack:"visits"`
	Uptime string         `json:"uptime" yaml:"uptime" msgpack:"uptime"`
}

// AdminController reports application statistics.
type AdminController struct {
	Store *Store `inject:""`
	Clock Clock  `inject:""`

	started time.Time
}

func NewAdminController() (*AdminController, error) {
	return &AdminController{started: time.Now()}, nil
}

func (a *AdminController) Stats() Stats {
	return Stats{
		Users:  len(a.Store.Users()),
		Visits: a.Store.Visits(),
		Uptime: a.Clock.Now().Sub(a.started).Round(time.Second).String(),
	}
}
