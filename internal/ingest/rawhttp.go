package ingest

import (
	"strings"
)

// parseRawHTTP reads a single request message. The request target becomes the
// endpoint and the message is kept verbatim.
func parseRawHTTP(data []byte) (ParseResult, error) {
	line := firstLine(data)
	if !isRequestLine(line) {
		return ParseResult{}, parseErrorf(RawHTTPMessage, "line 1", "malformed request line %q", truncate(line, 80))
	}
	fields := strings.Fields(line)
	return ParseResult{Drafts: []Draft{{
		Method:     fields[0],
		Endpoint:   fields[1],
		RawRequest: string(data),
		Variant:    RawHTTPMessage,
	}}}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
