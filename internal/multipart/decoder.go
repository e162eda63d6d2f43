// Package multipart decodes multipart/form-data bodies against the raw
// request buffer. File payloads are sliced out of the original bytes at
// computed offsets; only part headers are ever interpreted as text.
package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedMultipart = errors.New("malformed multipart body")
	ErrMissingBoundary    = errors.New("content type has no boundary parameter")
)

var (
	crlf        = []byte("\r\n")
	blankLine   = []byte("\r\n\r\n")
	closeMarker = []byte("--")
)

// Part is one form field. File parts keep their payload in BinaryValue,
// which aliases the decoded body buffer.
type Part struct {
	FieldName   string
	FileName    string
	HasFileName bool
	IsBinary    bool
	TextValue   string
	BinaryValue []byte
}

// BoundaryFromContentType pulls the boundary= parameter out of a
// multipart/form-data Content-Type value.
func BoundaryFromContentType(ct string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(ct)
	if err == nil {
		if !strings.HasPrefix(mediaType, "multipart/") {
			return "", fmt.Errorf("%w: %s", ErrMalformedMultipart, mediaType)
		}
		if b := params["boundary"]; b != "" {
			return b, nil
		}
		return "", ErrMissingBoundary
	}

	// Lenient fallback for values mime rejects, e.g. unquoted boundaries
	// carrying tspecials.
	_, after, found := strings.Cut(ct, "boundary=")
	if !found {
		return "", ErrMissingBoundary
	}
	b, _, _ := strings.Cut(after, ";")
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", ErrMissingBoundary
	}
	return b, nil
}

// Decode splits body into parts separated by "--" + boundary. Parts that
// are missing a Content-Disposition name, or a header/content separator,
// are skipped. Decode fails only when no delimiter occurs at all.
func Decode(body []byte, boundary string) ([]Part, error) {
	if boundary == "" {
		return nil, ErrMissingBoundary
	}
	delim := []byte("--" + boundary)
	// Later delimiters are always preceded by the CRLF that ends the
	// previous part's content.
	nextDelim := append(append([]byte(nil), crlf...), delim...)

	first := bytes.Index(body, delim)
	if first < 0 {
		return nil, fmt.Errorf("%w: boundary %q not found", ErrMalformedMultipart, boundary)
	}

	var parts []Part
	pos, done := afterDelimiter(body, first+len(delim))
	for !done {
		end := bytes.Index(body[pos:], nextDelim)
		if end < 0 {
			// unterminated trailing part
			break
		}
		start := pos
		stop := pos + end

		if part, ok := decodePart(body, start, stop); ok {
			parts = append(parts, part)
		}
		pos, done = afterDelimiter(body, stop+len(nextDelim))
	}
	return parts, nil
}

// afterDelimiter returns the offset of the next part's headers given the
// offset just past a delimiter, and whether the delimiter was the closing
// one.
func afterDelimiter(body []byte, i int) (int, bool) {
	if i >= len(body) || bytes.HasPrefix(body[i:], closeMarker) {
		return len(body), true
	}
	// transport padding before the line break
	for i < len(body) && (body[i] == ' ' || body[i] == '\t') {
		i++
	}
	switch {
	case bytes.HasPrefix(body[i:], crlf):
		i += len(crlf)
	case i < len(body) && body[i] == '\n':
		i++
	}
	return i, i >= len(body)
}

// decodePart interprets body[start:stop]. Offsets are into the original
// body so binary content is sliced, never re-encoded.
func decodePart(body []byte, start, stop int) (Part, bool) {
	span := body[start:stop]
	sep := bytes.Index(span, blankLine)
	if sep < 0 {
		return Part{}, false
	}
	headers := parseHeaders(string(span[:sep]))
	contentStart := start + sep + len(blankLine)
	content := body[contentStart:stop]

	disposition, ok := headers["content-disposition"]
	if !ok {
		return Part{}, false
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		params = looseParams(disposition)
	}
	name := params["name"]
	if name == "" {
		return Part{}, false
	}

	part := Part{FieldName: name}
	if fn, ok := params["filename"]; ok {
		part.FileName = fn
		part.HasFileName = true
	}

	ct := strings.ToLower(headers["content-type"])
	if strings.HasPrefix(ct, "image/") {
		part.IsBinary = true
		part.BinaryValue = content
		return part, true
	}

	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	part.TextValue = strings.TrimSuffix(text, "\r\n")
	return part, true
}

// parseHeaders reads "Name: value" lines; names are folded to lower case
// since MIME part headers are case-insensitive.
func parseHeaders(block string) map[string]string {
	out := make(map[string]string)
	for line := range strings.SplitSeq(block, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := out[key]; dup {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// looseParams handles dispositions mime.ParseMediaType refuses, such as
// filenames with unescaped quotes or spaces.
func looseParams(disposition string) map[string]string {
	out := make(map[string]string)
	for field := range strings.SplitSeq(disposition, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}
