package httpcap

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

// httpResult is the worker's outbound-response vocabulary, translated
// from either a guest Response or a typed HTTP error.
type httpResult struct {
	status  int
	headers []httpmsg.Pair
	body    []byte
}

// toHTTPResult classifies an InvokeResult into the response the worker
// writes back. A guest Response's headers are validated as they're
// encoded; an unencodable header name or value becomes a 500.
func toHTTPResult(r httpmsg.InvokeResult, log *logrus.Entry) httpResult {
	if r.Err != nil {
		return httpResult{status: r.Err.HTTPStatus(), body: []byte(r.Err.HTTPBody())}
	}

	resp := r.Response
	for _, h := range resp.Headers {
		if !validHeaderName(h.Name) || !validHeaderValue(h.Value) {
			log.WithField("header", h.Name).Warn("guest response has unencodable header")
			return httpResult{status: 500, body: []byte("Internal server error")}
		}
	}
	return httpResult{status: resp.Status, headers: resp.Headers, body: resp.Body}
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("()<>@,;:\\\"/[]?={}", c) >= 0 {
			return false
		}
	}
	return true
}

func validHeaderValue(value string) bool {
	for _, r := range value {
		if r == '\r' || r == '\n' || r == 0 {
			return false
		}
	}
	return true
}

// writeResponse encodes an httpResult as a plain HTTP/1.1 response onto
// conn. Write failures are not retried.
func writeResponse(w io.Writer, r httpResult) {
	text := http.StatusText(r.status)
	if text == "" {
		text = "Unknown"
	}
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.status, text)
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(r.body))
	for _, h := range r.headers {
		fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprint(w, "Connection: close\r\n\r\n")
	_, _ = w.Write(r.body)
}
