package showcase

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func greetingPage(message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!doctype html><html><head><title>switchyard</title></head><body><h1>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, templ.EscapeString(message)); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</h1></body></html>`)
		return err
	})
}
