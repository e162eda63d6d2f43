package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodyBytes   = 10 << 20
)

// Limits bounds how much a single request may buffer. Zero values fall back
// to the defaults above.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

func (l Limits) headerCap() int {
	if l.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return l.MaxHeaderBytes
}

func (l Limits) bodyCap() int64 {
	if l.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return l.MaxBodyBytes
}

// RawMessage is one complete request exactly as it came off the wire.
// Bytes[:HeaderLen] is the request line plus headers including the blank
// separator line; Bytes[HeaderLen:] is the body.
type RawMessage struct {
	Bytes     []byte
	HeaderLen int
}

// Body returns the raw body bytes.
func (m *RawMessage) Body() []byte {
	return m.Bytes[m.HeaderLen:]
}

// Frame reads one request from r: header lines up to and including the
// first empty line, then exactly Content-Length body bytes. It returns the
// buffered message and the number of bytes consumed from r.
func Frame(r *bufio.Reader, lim Limits) (*RawMessage, int, error) {
	var buf bytes.Buffer
	contentLength := int64(0)
	seenLength := false

	// 1. Header block, line by line
	// Example: POST /api/upload HTTP/1.1\r\n Content-Length: 13\r\n \r\n
	for {
		line, err := readLine(r, lim.headerCap()-buf.Len())
		if err != nil {
			return nil, buf.Len(), err
		}
		buf.Write(line)

		if isBlankLine(line) {
			break
		}
		if n, ok := contentLengthOf(line); ok {
			if seenLength && n != contentLength {
				return nil, buf.Len(), fmt.Errorf("%w: %d and %d", ErrConflictingLength, contentLength, n)
			}
			contentLength, seenLength = n, true
		}
	}
	headerLen := buf.Len()

	if contentLength > lim.bodyCap() {
		return nil, headerLen, fmt.Errorf("%w: %d bytes declared", ErrBodyTooLarge, contentLength)
	}

	// 2. Body, raw and unsplit. CopyN keeps reading across TCP segments
	// until the declared length is in hand.
	if contentLength > 0 {
		buf.Grow(int(contentLength))
		n, err := io.CopyN(&buf, r, contentLength)
		if err != nil {
			return nil, headerLen + int(n), truncated(err)
		}
	}

	return &RawMessage{Bytes: buf.Bytes(), HeaderLen: headerLen}, buf.Len(), nil
}

// readLine returns the next '\n'-terminated line, failing once more than
// budget bytes would have been read.
func readLine(r *bufio.Reader, budget int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > budget {
			return nil, ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, truncated(err)
		}
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", ErrTruncatedRequest, err)
}

func isBlankLine(line []byte) bool {
	return len(bytes.TrimRight(line, "\r\n")) == 0
}

// contentLengthOf reports the declared length when line is a
// Content-Length header (name matched case-insensitively). Unparsable or
// negative values count as 0.
func contentLengthOf(line []byte) (int64, bool) {
	name, value, found := strings.Cut(string(line), ":")
	if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, true
	}
	return n, true
}
