// Package httpparse is the request-parser collaborator (spec section 6):
// parse(read_buf) -> {complete, incomplete, malformed}, exposing path,
// method, keep-alive, and an optional urlencoded form body on completion.
// It never blocks and never touches the socket directly; it only consumes
// bytes already sitting in an iobuf.Buffer.
package httpparse

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/arcflow-systems/webd/internal/iobuf"
)

// Status is the outcome of one Parse call.
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
	StatusMalformed
)

// Request is the subset of an HTTP/1.1 request the core cares about.
type Request struct {
	Method    string
	Path      string
	Version   string
	KeepAlive bool
	Headers   map[string]string
	Form      url.Values
}

// Parse scans buf for one complete HTTP/1.1 request. On StatusComplete or
// StatusMalformed it advances buf's read cursor past the consumed bytes; on
// StatusIncomplete it leaves buf untouched so a later call, after more bytes
// arrive, can re-parse from the start of the same data.
func Parse(buf *iobuf.Buffer) (Status, *Request) {
	data := buf.Peek()

	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		if len(data) > maxHeaderSize {
			buf.RetrieveAll()
			return StatusMalformed, nil
		}
		return StatusIncomplete, nil
	}

	headerBlock := data[:headerEnd]
	lines := strings.Split(string(headerBlock), "\r\n")
	if len(lines) == 0 {
		buf.Retrieve(headerEnd + 4)
		return StatusMalformed, nil
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		buf.Retrieve(headerEnd + 4)
		return StatusMalformed, nil
	}

	req := &Request{
		Method:  requestLine[0],
		Path:    requestLine[1],
		Version: requestLine[2],
		Headers: make(map[string]string, len(lines)-1),
	}
	if req.Method != "GET" && req.Method != "POST" && req.Method != "HEAD" {
		buf.Retrieve(headerEnd + 4)
		return StatusMalformed, nil
	}
	if req.Path == "" || req.Path[0] != '/' {
		buf.Retrieve(headerEnd + 4)
		return StatusMalformed, nil
	}
	if req.Path == "/" {
		req.Path = "/index.html"
	}

	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.TrimSpace(strings.ToLower(k))] = strings.TrimSpace(v)
	}

	req.KeepAlive = req.Version == "HTTP/1.1"
	if conn, ok := req.Headers["connection"]; ok {
		req.KeepAlive = strings.EqualFold(conn, "keep-alive")
	}

	consumed := headerEnd + 4
	if req.Method == "POST" {
		contentLength := contentLengthOf(req.Headers)
		if contentLength < 0 || contentLength > maxBodySize {
			buf.Retrieve(consumed)
			return StatusMalformed, nil
		}
		if len(data) < consumed+contentLength {
			return StatusIncomplete, nil
		}
		body := data[consumed : consumed+contentLength]
		if strings.EqualFold(req.Headers["content-type"], "application/x-www-form-urlencoded") {
			form, err := url.ParseQuery(string(body))
			if err != nil {
				buf.Retrieve(consumed + contentLength)
				return StatusMalformed, nil
			}
			req.Form = form
		}
		consumed += contentLength
	}

	buf.Retrieve(consumed)
	return StatusComplete, req
}

const (
	maxHeaderSize = 8 * 1024
	maxBodySize   = 1 * 1024 * 1024
)

func contentLengthOf(headers map[string]string) int {
	v, ok := headers["content-length"]
	if !ok {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
		if n > maxBodySize {
			return n
		}
	}
	return n
}
