package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/switchyard/internal/web"
)

// Representation suffixes. A request for /report.yaml resolves the /report
// route and renders its result as YAML.
var representations = map[string]string{
	".json":    web.ContentTypeJSON,
	".yaml":    web.ContentTypeYAML,
	".yml":     web.ContentTypeYAML,
	".msgpack": web.ContentTypeMsgPack,
}

// splitRepresentation strips a representation suffix from path.
func splitRepresentation(path string) (string, string, bool) {
	lower := strings.ToLower(path)
	for suffix := range representations {
		if strings.HasSuffix(lower, suffix) && len(path) > len(suffix)+1 {
			return path[:len(path)-len(suffix)], suffix, true
		}
	}
	return path, "", false
}

// render stages result on resp. suffix is the representation suffix of the
// request path, produces the content type declared on the route.
func render(ctx context.Context, result any, suffix, produces string, resp *web.Response) error {
	switch v := result.(type) {
	case templ.Component:
		var buf bytes.Buffer
		if err := v.Render(ctx, &buf); err != nil {
			return fmt.Errorf("render component: %w", err)
		}
		resp.SetContentType(web.ContentTypeHTML).SetBytes(buf.Bytes())
		return nil
	case string:
		ct := web.ContentTypePlain
		if produces != "" {
			ct = produces
		}
		resp.SetContentType(ct).SetContent(v)
		return nil
	case []byte:
		ct := web.ContentTypeBinary
		if produces != "" {
			ct = produces
		}
		resp.SetContentType(ct).SetBytes(v)
		return nil
	}

	contentType := web.ContentTypeJSON
	if ct, ok := representations[suffix]; ok {
		contentType = ct
	} else if produces != "" {
		contentType = produces
	}

	data, err := encode(result, contentType)
	if err != nil {
		return err
	}
	resp.SetContentType(contentType).SetBytes(data)
	return nil
}

func encode(v any, contentType string) ([]byte, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mediaType) {
	case "application/yaml", "application/x-yaml", "text/yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return data, nil
	case "application/msgpack", "application/x-msgpack":
		data, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode msgpack: %w", err)
		}
		return data, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return data, nil
	}
}
