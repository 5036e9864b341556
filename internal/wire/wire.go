// Package wire implements the HTTP/1.1 wire format: request-line and
// header serialization, status-line and header-block parsing, and
// chunk-size line parsing. It never touches a socket; callers own
// buffering and suspension.
package wire

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/pollhttp/pollhttp/httperr"
	"github.com/pollhttp/pollhttp/internal/headers"
)

// EncodeLatin1 renders s as ISO-8859-1 bytes, the encoding HTTP/1.1
// headers and status lines are defined over.
func EncodeLatin1(s string) ([]byte, error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}

// DecodeLatin1 decodes raw wire bytes as ISO-8859-1 text.
func DecodeLatin1(b []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", httperr.NewInvalidResponse("decode", "server response cannot be decoded to latin1")
	}
	return string(out), nil
}

// StatusLine is a parsed HTTP response status line.
type StatusLine struct {
	Version string
	Status  int
	Reason  string
}

// ParseStatusLine parses a single status line (without trailing CRLF).
func ParseStatusLine(line string) (StatusLine, error) {
	fields := strings.SplitN(line, " ", 3)
	var version, reason string
	var statusStr string

	switch len(fields) {
	case 3:
		version, statusStr, reason = fields[0], fields[1], fields[2]
	case 2:
		version, statusStr = fields[0], fields[1]
	default:
		version = ""
	}

	if !strings.HasPrefix(version, "HTTP/1") {
		return StatusLine{}, httperr.NewUnsupportedResponse("parse_status", version+" not supported")
	}

	status, err := strconv.Atoi(strings.TrimSpace(statusStr))
	if err != nil || status < 100 || status > 999 {
		return StatusLine{}, httperr.NewInvalidResponse("parse_status", strconv.Quote(statusStr)+" is not a valid status")
	}

	return StatusLine{Version: version, Status: status, Reason: strings.TrimSpace(reason)}, nil
}

// ParseHeaderBlock parses a block of "Key: Value\r\n"-separated header
// lines (without the terminating blank line) into a Headers map,
// honoring RFC 7230 line folding (a continuation line starts with
// whitespace and extends the previous header's value).
func ParseHeaderBlock(block string) (*headers.Headers, error) {
	h := headers.New()
	if block == "" {
		return h, nil
	}

	lines := strings.Split(block, "\r\n")
	var lastKey string

	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, httperr.NewInvalidResponse("parse_header", "header continuation without preceding header")
			}
			prev, _ := h.Get(lastKey)
			h.Set(lastKey, prev+" "+strings.TrimSpace(line))
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, httperr.NewInvalidResponse("parse_header", "malformed header line: "+strconv.Quote(line))
		}
		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		h.Set(key, value)
		lastKey = key
	}

	return h, nil
}

// ChunkSizeLine parses a chunk-size line, stripping chunk-extensions
// (the portion starting at ';'), returning the decoded chunk size.
func ChunkSizeLine(line string) (int64, error) {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		trunc := line
		if len(trunc) > 20 {
			trunc = trunc[:20]
		}
		return 0, httperr.NewInvalidResponse("parse_chunk_size", "cannot read chunk size "+strconv.Quote(trunc))
	}
	return size, nil
}

// RequestLine renders the request line for method and path.
func RequestLine(method, path string) string {
	return method + " " + path + " HTTP/1.1"
}

// SerializeHeaders renders h as CRLF-joined "Key: Value" lines, in the
// order the headers were set, without a trailing CRLF.
func SerializeHeaders(h *headers.Headers) string {
	var b strings.Builder
	first := true
	h.Items(func(k, v string) {
		if !first {
			b.WriteString("\r\n")
		}
		first = false
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	})
	return b.String()
}
