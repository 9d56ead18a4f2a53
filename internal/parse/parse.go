// Package parse tokenizes the first line of a proxy-style HTTP/1.x
// request. Only the request line is interpreted; headers and body are
// opaque to the proxy.
package parse

import (
	"errors"
	"strings"
)

// Request is the descriptor extracted from one request line.
type Request struct {
	Method  string // "GET" or "CONNECT"
	Host    string
	Port    string // empty if the request line carries no port
	Path    string // always begins with "/" for GET, empty for CONNECT
	Version string // third token, e.g. "HTTP/1.0"
}

var (
	ErrTooShort      = errors.New("parse: request shorter than minimum")
	ErrNoRequestLine = errors.New("parse: no request line terminator")
	ErrMalformed     = errors.New("parse: malformed request line")
	ErrMethod        = errors.New("parse: unsupported method")
	ErrNoHost        = errors.New("parse: empty host")
	ErrNoPort        = errors.New("parse: CONNECT without port")
)

const minRequestLen = 4

// Parse extracts a Request from buf. The buffer is never modified.
func Parse(buf []byte) (*Request, error) {
	if len(buf) < minRequestLen {
		return nil, ErrTooShort
	}

	line := string(buf)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	} else {
		return nil, ErrNoRequestLine
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, ErrMalformed
	}
	method, uri, version := fields[0], fields[1], fields[2]

	switch method {
	case "CONNECT":
		host, port, ok := strings.Cut(uri, ":")
		if !ok || port == "" {
			return nil, ErrNoPort
		}
		if host == "" {
			return nil, ErrNoHost
		}
		return &Request{Method: method, Host: host, Port: port, Version: version}, nil

	case "GET":
		authority := uri
		if i := strings.Index(authority, "://"); i >= 0 {
			authority = authority[i+3:]
		}
		path := "/"
		if i := strings.IndexByte(authority, '/'); i >= 0 {
			path = authority[i:]
			authority = authority[:i]
		}
		host, port, _ := strings.Cut(authority, ":")
		if host == "" {
			return nil, ErrNoHost
		}
		return &Request{Method: method, Host: host, Port: port, Path: path, Version: version}, nil
	}

	return nil, ErrMethod
}

// RequestLine serializes the descriptor back to proxy form. Parsing the
// result yields an identical descriptor.
func (r *Request) RequestLine() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	if r.Method == "CONNECT" {
		b.WriteString(r.Host)
		b.WriteByte(':')
		b.WriteString(r.Port)
	} else {
		b.WriteString("http://")
		b.WriteString(r.Host)
		if r.Port != "" {
			b.WriteByte(':')
			b.WriteString(r.Port)
		}
		b.WriteString(r.Path)
	}
	b.WriteByte(' ')
	b.WriteString(r.Version)
	b.WriteString("\r\n")
	return b.String()
}
