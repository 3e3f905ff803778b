package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
)

// Content types produced by the framework.
const (
	ContentTypeHTML    = "text/html; charset=utf-8"
	ContentTypePlain   = "text/plain; charset=utf-8"
	ContentTypeJSON    = "application/json; charset=utf-8"
	ContentTypeYAML    = "application/yaml; charset=utf-8"
	ContentTypeMsgPack = "application/msgpack"
	ContentTypeBinary  = "application/octet-stream"
)

// ErrAlreadySent is returned by Send after the response was written.
var ErrAlreadySent = errors.New("response already sent")

// Response accumulates the outbound response until Send.
type Response struct {
	w           http.ResponseWriter
	req         *Request
	status      int
	header      http.Header
	cookies     []*http.Cookie
	contentType string
	body        []byte
	reader      io.Reader
	closeConn   bool
	sent        atomic.Bool
}

// NewResponse creates a response bound to w for req.
func NewResponse(w http.ResponseWriter, req *Request) *Response {
	return &Response{
		w:           w,
		req:         req,
		status:      http.StatusOK,
		header:      make(http.Header),
		contentType: ContentTypePlain,
	}
}

// Status returns the response status code.
func (r *Response) Status() int { return r.status }

// SetStatus sets the response status code.
func (r *Response) SetStatus(status int) *Response {
	r.status = status
	return r
}

// Header returns the mutable response header set.
func (r *Response) Header() http.Header { return r.header }

// SetHeader sets a header, replacing existing values.
func (r *Response) SetHeader(name, value string) *Response {
	r.header.Set(name, value)
	return r
}

// AddHeader appends a header value.
func (r *Response) AddHeader(name, value string) *Response {
	r.header.Add(name, value)
	return r
}

// AddCookie adds a cookie to the response.
func (r *Response) AddCookie(cookie *http.Cookie) *Response {
	if cookie != nil {
		r.cookies = append(r.cookies, cookie)
	}
	return r
}

// SetCookie adds a name=value cookie.
func (r *Response) SetCookie(name, value string) *Response {
	return r.AddCookie(&http.Cookie{Name: name, Value: value, Path: "/"})
}

// Cookies returns the cookies queued on the response.
func (r *Response) Cookies() []*http.Cookie { return r.cookies }

// ContentType returns the content type that Send will write.
func (r *Response) ContentType() string { return r.contentType }

// SetContentType sets the Content-Type header.
func (r *Response) SetContentType(contentType string) *Response {
	r.contentType = contentType
	return r
}

// SetContent sets a text payload.
func (r *Response) SetContent(content string) *Response {
	r.body = []byte(content)
	r.reader = nil
	return r
}

// SetBytes sets a byte payload.
func (r *Response) SetBytes(content []byte) *Response {
	r.body = content
	r.reader = nil
	return r
}

// SetReader streams the payload from src at send time. A src implementing
// io.Closer is closed after the write.
func (r *Response) SetReader(src io.Reader) *Response {
	r.reader = src
	r.body = nil
	return r
}

// Body returns the buffered payload.
func (r *Response) Body() []byte { return r.body }

// CloseConnection asks the transport to close the connection after Send.
func (r *Response) CloseConnection() *Response {
	r.closeConn = true
	return r
}

// KeepAlive reports whether the connection stays open after Send.
func (r *Response) KeepAlive() bool {
	if r.closeConn {
		return false
	}
	return r.req == nil || r.req.KeepAlive()
}

// IsSent reports whether Send has been called.
func (r *Response) IsSent() bool { return r.sent.Load() }

// Prepare stages an error body without sending it.
func (r *Response) Prepare(status int, message string) *Response {
	r.status = status
	r.contentType = ContentTypePlain
	r.body = []byte(message)
	r.reader = nil
	return r
}

// SendError stages an error body and sends it.
func (r *Response) SendError(status int, message string) error {
	if r.IsSent() {
		return ErrAlreadySent
	}
	return r.Prepare(status, message).Send()
}

// Send writes the response to the transport. Only the first call writes;
// later calls return ErrAlreadySent.
func (r *Response) Send() error {
	if !r.sent.CompareAndSwap(false, true) {
		return ErrAlreadySent
	}

	h := r.w.Header()
	for name, values := range r.header {
		h[name] = append([]string(nil), values...)
	}
	h.Set("Content-Type", r.contentType)
	for _, cookie := range r.cookies {
		http.SetCookie(r.w, cookie)
	}
	if !r.KeepAlive() {
		h.Set("Connection", "close")
	}

	if r.reader != nil {
		if closer, ok := r.reader.(io.Closer); ok {
			defer closer.Close()
		}
		r.w.WriteHeader(r.status)
		if _, err := io.Copy(r.w, r.reader); err != nil {
			return fmt.Errorf("write response stream: %w", err)
		}
		return nil
	}

	h.Set("Content-Length", strconv.Itoa(len(r.body)))
	r.w.WriteHeader(r.status)
	if len(r.body) == 0 || (r.req != nil && r.req.Verb() == HEAD) {
		return nil
	}
	if _, err := io.Copy(r.w, bytes.NewReader(r.body)); err != nil {
		return fmt.Errorf("write response body: %w", err)
	}
	return nil
}
