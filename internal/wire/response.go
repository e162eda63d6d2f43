package wire

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

type Response struct {
	StatusCode int
	StatusText string
	Headers    Headers
	Body       []byte
	// Binary bodies skip template rendering.
	Binary bool
}

func NewResponse(statusCode int, body []byte) *Response {
	return &Response{
		StatusCode: statusCode,
		StatusText: http.StatusText(statusCode),
		Body:       body,
	}
}

// Text builds a plain response whose body is "<code> <reason>".
func Text(statusCode int) *Response {
	resp := NewResponse(statusCode, nil)
	resp.Body = []byte(fmt.Sprintf("%d %s", statusCode, resp.StatusText))
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// Redirect builds a 301 pointing at location.
func Redirect(location string) *Response {
	resp := Text(http.StatusMovedPermanently)
	resp.SetHeader("Location", location)
	return resp
}

// SetHeader replaces the first header with the given name, or appends one.
func (r *Response) SetHeader(key, value string) {
	for i := range r.Headers {
		if r.Headers[i].Name == key {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: key, Value: value})
}

// AddHeader appends without replacing; used for repeated Set-Cookie lines.
func (r *Response) AddHeader(key, value string) {
	r.Headers = append(r.Headers, Header{Name: key, Value: value})
}

// WriteResponse serializes resp onto w. Content-Length and Connection: close
// are filled in here since every connection carries exactly one exchange.
func WriteResponse(w io.Writer, resp *Response) error {
	bw := bufio.NewWriter(w)

	statusText := resp.StatusText
	if statusText == "" {
		statusText = http.StatusText(resp.StatusCode)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.StatusCode, statusText); err != nil {
		return err
	}

	for _, h := range resp.Headers {
		if h.Name == "Content-Length" || h.Name == "Connection" {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("Content-Length: " + strconv.Itoa(len(resp.Body)) + "\r\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("Connection: close\r\n\r\n"); err != nil {
		return err
	}

	if len(resp.Body) > 0 {
		if _, err := bw.Write(resp.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}
