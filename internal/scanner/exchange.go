package scanner

import (
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Exchange is a leniently parsed view of an asset's stored request and response.
type Exchange struct {
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	RequestBody     string
	ResponseBody    string
	Status          int
	HasRequest      bool
	HasResponse     bool
}

// ParseExchange reads raw HTTP/1.x style messages. Text that is not a message,
// such as an OpenAPI fragment, is kept as a body with no headers.
func ParseExchange(rawRequest, rawResponse string) Exchange {
	ex := Exchange{
		RequestHeaders:  http.Header{},
		ResponseHeaders: http.Header{},
	}
	if rawRequest != "" {
		ex.HasRequest = true
		first, headers, body, ok := splitMessage(rawRequest)
		if ok && len(strings.Fields(first)) >= 2 {
			ex.RequestHeaders = headers
			ex.RequestBody = body
		} else {
			ex.RequestBody = rawRequest
		}
	}
	if rawResponse != "" {
		ex.HasResponse = true
		first, headers, body, ok := splitMessage(rawResponse)
		if ok && strings.HasPrefix(first, "HTTP/") {
			ex.ResponseHeaders = headers
			ex.ResponseBody = body
			if fields := strings.Fields(first); len(fields) >= 2 {
				ex.Status, _ = strconv.Atoi(fields[1])
			}
		} else {
			ex.ResponseBody = rawResponse
		}
	}
	return ex
}

// splitMessage separates the start line, headers and body of a message.
func splitMessage(raw string) (first string, headers http.Header, body string, ok bool) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	head, body, _ := strings.Cut(raw, "\n\n")
	lines := strings.Split(head, "\n")
	first = strings.TrimSpace(lines[0])
	headers = http.Header{}
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found || strings.ContainsAny(name, " \t") || name == "" {
			return first, http.Header{}, raw, false
		}
		headers.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	}
	return first, headers, body, true
}
