package message

import (
	"fmt"
	"strconv"
)

// Method is an HTTP request method token.
type Method string

const (
	GET     Method = "GET"
	HEAD    Method = "HEAD"
	POST    Method = "POST"
	PUT     Method = "PUT"
	PATCH   Method = "PATCH"
	DELETE  Method = "DELETE"
	OPTIONS Method = "OPTIONS"
	CONNECT Method = "CONNECT"
	TRACE   Method = "TRACE"
)

func (m Method) String() string { return string(m) }

// Version is an HTTP protocol version.
type Version struct {
	Major int
	Minor int
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	return v.Major > other.Major || (v.Major == other.Major && v.Minor >= other.Minor)
}

// ParseVersion parses "HTTP/x.y".
func ParseVersion(s string) (Version, error) {
	if len(s) != 8 || s[:5] != "HTTP/" || s[6] != '.' {
		return Version{}, fmt.Errorf("malformed HTTP version %q", s)
	}
	major, minor := s[5], s[7]
	if major < '0' || major > '9' || minor < '0' || minor > '9' {
		return Version{}, fmt.Errorf("malformed HTTP version %q", s)
	}
	return Version{int(major - '0'), int(minor - '0')}, nil
}

// Status is a response status code with its reason phrase.
type Status struct {
	Code   int
	Reason string
}

// NewStatus returns the status for code with the standard reason phrase.
func NewStatus(code int) Status {
	return Status{Code: code, Reason: StatusText(code)}
}

func (s Status) String() string {
	return strconv.Itoa(s.Code) + " " + s.Phrase()
}

// Phrase returns the reason phrase, falling back to the standard text.
func (s Status) Phrase() string {
	if s.Reason != "" {
		return s.Reason
	}
	return StatusText(s.Code)
}

// AllowsBody reports whether a response with this status may carry a body.
func (s Status) AllowsBody() bool {
	return !(s.Code >= 100 && s.Code < 200) && s.Code != 204 && s.Code != 304
}

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Content Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	426: "Upgrade Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the standard reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}
