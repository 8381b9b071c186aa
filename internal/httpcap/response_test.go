package httpcap

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

func testLogEntry() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func TestToHTTPResult_TypedErrorMapsToFixedStatus(t *testing.T) {
	r := httpmsg.InvokeResult{Err: &httpmsg.TypedError{Kind: httpmsg.KindTimeoutError, Message: "slow"}}
	got := toHTTPResult(r, testLogEntry())
	assert.Equal(t, 408, got.status)
	assert.Equal(t, "slow", string(got.body))
}

func TestToHTTPResult_GuestResponsePassesThrough(t *testing.T) {
	r := httpmsg.InvokeResult{Response: &httpmsg.Response{
		Status:  200,
		Headers: []httpmsg.Pair{{Name: "X-Test", Value: "1"}},
		Body:    []byte("hi"),
	}}
	got := toHTTPResult(r, testLogEntry())
	assert.Equal(t, 200, got.status)
	assert.Equal(t, []byte("hi"), got.body)
	assert.Equal(t, []httpmsg.Pair{{Name: "X-Test", Value: "1"}}, got.headers)
}

func TestToHTTPResult_UnencodableHeaderIs500(t *testing.T) {
	r := httpmsg.InvokeResult{Response: &httpmsg.Response{
		Status:  200,
		Headers: []httpmsg.Pair{{Name: "Bad\r\nHeader", Value: "x"}},
		Body:    []byte("hi"),
	}}
	got := toHTTPResult(r, testLogEntry())
	assert.Equal(t, 500, got.status)
}

func TestWriteResponse_ProducesWellFormedStatusLine(t *testing.T) {
	var buf bytes.Buffer
	writeResponse(&buf, httpResult{status: 200, body: []byte("hi")})
	out := buf.String()
	require.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, out, "Content-Length: 2\r\n")
	require.Contains(t, out, "hi")
}
