package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type MethodKind int

const (
	MethodOther MethodKind = iota
	MethodGet
	MethodPost
)

// Header is one header line. Names keep the case they arrived with.
type Header struct {
	Name  string
	Value string
}

// Headers keeps header lines in arrival order.
type Headers []Header

// Get returns the first value whose name matches exactly.
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value, true
		}
	}
	return "", false
}

type Request struct {
	Method  string
	Path    string
	Version string
	Headers Headers
	Body    []byte
}

func (r *Request) MethodKind() MethodKind {
	switch r.Method {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	default:
		return MethodOther
	}
}

func (r *Request) GetHeader(name string) (string, bool) {
	return r.Headers.Get(name)
}

// Cookie returns the named cookie from the Cookie header.
func (r *Request) Cookie(name string) string {
	raw, ok := r.Headers.Get("Cookie")
	if !ok {
		return ""
	}
	for pair := range strings.SplitSeq(raw, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(pair), "=")
		if found && k == name {
			return v
		}
	}
	return ""
}

// ParseRequest splits a framed message into request line, headers and body.
// The body is a subslice of raw, never a re-encoded copy.
func ParseRequest(raw []byte) (*Request, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyRequest
	}

	// Raw data "GET /submit HTTP/1.1\r\nHost: localhost\r\nContent-Length: 13\r\n\r\nHello, World!"
	pos := 0
	nextLine := func() (string, bool) {
		if pos >= len(raw) {
			return "", false
		}
		end := bytes.IndexByte(raw[pos:], '\n')
		var line []byte
		if end < 0 {
			line = raw[pos:]
			pos = len(raw)
		} else {
			line = raw[pos : pos+end]
			pos += end + 1
		}
		return strings.TrimSuffix(string(line), "\r"), true
	}

	// 1. Request line
	requestLine, _ := nextLine()
	if strings.TrimSpace(requestLine) == "" {
		return nil, ErrEmptyRequest
	}
	parts := strings.Fields(requestLine)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedStartLine, requestLine)
	}
	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Version: parts[2],
	}

	// 2. Headers up to the blank separator
	for {
		line, ok := nextLine()
		if !ok || line == "" {
			break
		}
		name, value, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		req.Headers = append(req.Headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}

	// 3. Body, straight from the raw buffer
	declared, ok, err := declaredLength(req.Headers)
	if err != nil {
		return nil, err
	}
	if !ok || declared == 0 {
		return req, nil
	}
	rest := raw[pos:]
	if int64(len(rest)) < declared {
		return nil, fmt.Errorf("%w: body has %d of %d bytes", ErrTruncatedRequest, len(rest), declared)
	}
	req.Body = rest[:declared]
	return req, nil
}

// declaredLength applies the same rule as the framer: unparsable values
// count as 0 and repeated headers must agree.
func declaredLength(h Headers) (int64, bool, error) {
	var (
		length int64
		seen   bool
	)
	for _, hdr := range h {
		if !strings.EqualFold(hdr.Name, "Content-Length") {
			continue
		}
		n, err := strconv.ParseInt(hdr.Value, 10, 64)
		if err != nil || n < 0 {
			n = 0
		}
		if seen && n != length {
			return 0, false, fmt.Errorf("%w: %d and %d", ErrConflictingLength, length, n)
		}
		length, seen = n, true
	}
	return length, seen, nil
}
