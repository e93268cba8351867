package ingest

import (
	"strings"
)

// parsePlainText salvages anything that looks like an endpoint from free text:
// absolute URLs, absolute paths, and "VERB target" pairs. Lines without a
// candidate are ignored. It never fails.
func parsePlainText(data []byte) ParseResult {
	var res ParseResult
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && httpVerbs[strings.ToUpper(fields[0])] && looksLikeEndpoint(fields[1]) {
			res.add(Draft{Method: fields[0], Endpoint: fields[1], RawRequest: line, Variant: PlainTextUnknown})
			continue
		}
		for _, f := range fields {
			f = strings.Trim(f, `"'<>(),;`)
			if looksLikeEndpoint(f) {
				res.add(Draft{Method: "GET", Endpoint: f, RawRequest: line, Variant: PlainTextUnknown})
				break
			}
		}
	}
	if len(res.Drafts) == 0 {
		res.skip(-1, "no endpoints recognized in plain text input")
	}
	return res
}

func looksLikeEndpoint(s string) bool {
	if hasHTTPScheme(s) {
		return len(s) > len("http://")
	}
	return len(s) > 1 && s[0] == '/' && s[1] != '/' && !strings.ContainsAny(s, " \t")
}
