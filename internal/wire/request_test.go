package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_HeaderOrderAndCase(t *testing.T) {
	raw := []byte("GET /api/posts?post_id=3 HTTP/1.1\r\n" +
		"host: localhost:8080\r\n" +
		"X-Custom-ID:  abc  \r\n" +
		"Cookie: theme=dark; token=deadbeef\r\n" +
		"X-Empty:\r\n" +
		"X-Bare\r\n" +
		": no-name\r\n" +
		"\r\n")

	req, err := ParseRequest(raw)
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, MethodGet, req.MethodKind())
	assert.Equal(t, "/api/posts?post_id=3", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, Headers{
		{Name: "host", Value: "localhost:8080"},
		{Name: "X-Custom-ID", Value: "abc"},
		{Name: "Cookie", Value: "theme=dark; token=deadbeef"},
		{Name: "X-Empty", Value: ""},
		{Name: "X-Bare", Value: ""},
	}, req.Headers)

	_, ok := req.GetHeader("Host")
	assert.False(t, ok, "header names are matched as received")
	assert.Equal(t, "deadbeef", req.Cookie("token"))
	assert.Equal(t, "", req.Cookie("missing"))
	assert.Empty(t, req.Body)
}

func TestParseRequest_BinaryBodyPassesThrough(t *testing.T) {
	body := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x00, 0xff, 0xfe, '\n', '\r', '\n'}
	raw := append([]byte("POST /api/upload HTTP/1.1\r\nContent-Length: 12\r\n\r\n"), body...)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, MethodPost, req.MethodKind())
	assert.True(t, bytes.Equal(body, req.Body))
	// the body aliases the framed buffer rather than a decoded copy
	assert.Same(t, &raw[len(raw)-len(body)], &req.Body[0])
}

func TestParseRequest_BodyWithoutContentLengthIsEmpty(t *testing.T) {
	req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nHost: x\r\n\r\nstray"))
	require.NoError(t, err)
	assert.Empty(t, req.Body)
}

func TestParseRequest_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty input", "", ErrEmptyRequest},
		{"blank first line", "\r\n", ErrEmptyRequest},
		{"two tokens", "GET /\r\n\r\n", ErrMalformedStartLine},
		{"one token", "GET\r\n\r\n", ErrMalformedStartLine},
		{"four tokens", "GET / HTTP/1.1 extra\r\n\r\n", ErrMalformedStartLine},
		{"short body", "POST / HTTP/1.1\r\nContent-Length: 9\r\n\r\nabc", ErrTruncatedRequest},
		{"lengths disagree, larger first", "POST / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 0\r\n\r\n", ErrConflictingLength},
		{"lengths disagree, larger last", "POST / HTTP/1.1\r\nContent-Length: 0\r\nContent-Length: 5\r\n\r\nhello", ErrConflictingLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tc.raw))
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	code, ok := StatusFor(ErrMalformedStartLine)
	assert.True(t, ok)
	assert.Equal(t, 400, code)
}

func TestParseRequest_RepeatedEqualContentLength(t *testing.T) {
	req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nContent-Length: 3\r\ncontent-length: 3\r\n\r\nabc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), req.Body)
}

func TestParseRequest_OtherMethod(t *testing.T) {
	req, err := ParseRequest([]byte("DELETE /api/posts HTTP/1.1\n\n"))
	require.NoError(t, err)
	assert.Equal(t, MethodOther, req.MethodKind())
	assert.True(t, strings.HasPrefix(req.Path, "/api"))
}
