package showcase

import (
	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

// Namespace holds every showcase component.
const Namespace = "showcase"

// TagRepository marks storage components.
const TagRepository catalog.Tag = "repository"

// Register adds the showcase components to c.
func Register(c *catalog.Catalog) error {
	c.DefineMarker(TagRepository)

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(catalog.Component[AppConfig](c).In(Namespace).Configuration().Register())
	add(catalog.Component[Store](c).In(Namespace).Tag(TagRepository).Constructor(NewStore).Register())

	add(catalog.Component[HelloController](c).In(Namespace).Controller().
		Get("Index", "/").
		Get("Hello", "/hello").Params("Hello", "name").
		Get("Greet", "/greet").Params("Greet", "name", "excited").
		Get("Page", "/page").Params("Page", "name").
		Register())
	add(catalog.Component[UserController](c).In(Namespace).Controller().
		Get("List", "/users").
		Get("Show", "/users/{id}").Params("Show", "id").
		Route("Create", web.POST, "/users").Params("Create", "form").
		Register())
	add(catalog.Component[AdminController](c).In(Namespace).Controller().
		Constructor(NewAdminController).
		Get("Stats", "/admin/stats").
		Register())

	add(catalog.Component[VisitFilter](c).In(Namespace).Filter(0, "/*").Register())
	add(catalog.Component[AuthFilter](c).In(Namespace).Filter(10, "/admin/*").Register())
	add(catalog.Component[TimingInterceptor](c).In(Namespace).Interceptor(0, "/*").Register())

	return errors.Join(errs...)
}
