// Package httpresp is the response-builder collaborator (spec section 6):
// Init(root, path, keepAlive, status); Make(write_buf); exposes the mapped
// file pointer/length and an idempotent Unmap.
package httpresp

import (
	"fmt"
	"strconv"

	"github.com/arcflow-systems/webd/internal/iobuf"
	"github.com/arcflow-systems/webd/internal/staticfile"
)

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// errorBodies are the fixed inline error pages served for non-2xx statuses
// that have no corresponding file on disk (spec section 6: "A request
// producing status >= 400 may be served from a fixed error page").
var errorBodies = map[int]string{
	400: "<html><body><h1>400 Bad Request</h1></body></html>",
	403: "<html><body><h1>403 Forbidden</h1></body></html>",
	404: "<html><body><h1>404 Not Found</h1></body></html>",
	500: "<html><body><h1>500 Internal Server Error</h1></body></html>",
}

// Response builds one HTTP response: a header block plus either an inline
// short body or a memory-mapped static file.
type Response struct {
	root      string
	path      string
	keepAlive bool
	status    int
	mapping   *staticfile.Mapping
	inline    []byte
	noMap     bool // true for responses with a pre-built inline body, e.g. the login form
}

// New mirrors the collaborator's Init entry point: status 200 maps path as
// a static file, any other status serves a fixed error page.
func New(root, path string, keepAlive bool, status int) *Response {
	return &Response{root: root, path: path, keepAlive: keepAlive, status: status}
}

// NewInline builds a response whose body is already known (e.g. the result
// of the login-form handler), skipping the static-file mapper entirely.
func NewInline(keepAlive bool, status int, body []byte) *Response {
	return &Response{keepAlive: keepAlive, status: status, inline: body, noMap: true}
}

// Make serializes the status line, headers, and body into buf, mapping the
// static file (if any) as a side effect. Status codes >= 400 with no file
// on disk fall back to the fixed error body; unknown paths and status >= 500
// degrade to 404, per spec section 6.
func (r *Response) Make(buf *iobuf.Buffer) {
	if r.noMap {
		header := fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: %s\r\nContent-Length: %d\r\n\r\n",
			r.status, textFor(r.status), connFor(r.keepAlive), len(r.inline))
		buf.Append([]byte(header))
		buf.Append(r.inline)
		return
	}

	if r.status >= 500 {
		r.status = 404
	}

	var body []byte
	if r.status == 200 {
		m, err := staticfile.Map(r.root, r.path)
		if err != nil {
			r.status = 404
		} else {
			r.mapping = m
		}
	}
	if r.mapping == nil {
		if eb, ok := errorBodies[r.status]; ok {
			body = []byte(eb)
		} else {
			body = []byte(errorBodies[404])
		}
	}

	contentLength := len(body)
	if r.mapping != nil {
		contentLength = r.mapping.Len()
	}

	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: %s\r\nContent-Length: %s\r\n\r\n",
		r.status, textFor(r.status), connFor(r.keepAlive), strconv.Itoa(contentLength))

	buf.Append([]byte(header))
	if r.mapping == nil {
		buf.Append(body)
	}
}

func textFor(status int) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Unknown"
}

func connFor(keepAlive bool) string {
	if keepAlive {
		return "keep-alive"
	}
	return "close"
}

// FileLen is 0 when no static file is mapped for this response.
func (r *Response) FileLen() int {
	if r.mapping == nil {
		return 0
	}
	return r.mapping.Len()
}

// FilePtr exposes the mapped region, or nil.
func (r *Response) FilePtr() []byte {
	if r.mapping == nil {
		return nil
	}
	return r.mapping.Bytes()
}

// Mapping returns the underlying static-file mapping so the connection can
// hold a reference for a later Unmap.
func (r *Response) Mapping() *staticfile.Mapping { return r.mapping }
