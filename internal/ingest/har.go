package ingest

import (
	"encoding/base64"

	"github.com/tidwall/gjson"
)

func parseHAR(data []byte) (ParseResult, error) {
	var res ParseResult
	if err := jsonSyntaxError(HAR, data); err != nil {
		return res, err
	}
	entries := gjson.GetBytes(data, "log.entries")
	if !entries.IsArray() {
		return res, parseErrorf(HAR, "log.entries", "archive has no entries array")
	}

	i := 0
	entries.ForEach(func(_, entry gjson.Result) bool {
		defer func() { i++ }()
		req := entry.Get("request")
		if !req.IsObject() {
			res.skip(i, "entry has no request")
			return true
		}
		method, target := req.Get("method").String(), req.Get("url").String()
		if method == "" || target == "" {
			res.skip(i, "request is missing method or url")
			return true
		}

		draft := Draft{
			Method:     method,
			Endpoint:   target,
			RawRequest: formatRequest(method, target, req.Get("httpVersion").String(), harHeaders(req), req.Get("postData.text").String()),
			Variant:    HAR,
		}
		if resp := entry.Get("response"); resp.IsObject() && resp.Get("status").Int() > 0 {
			body := resp.Get("content.text").String()
			if resp.Get("content.encoding").String() == "base64" {
				decoded, err := base64.StdEncoding.DecodeString(body)
				if err != nil {
					res.skip(i, "response body is not valid base64: %v", err)
					return true
				}
				body = string(decoded)
			}
			draft.RawResponse = formatResponse(resp.Get("httpVersion").String(), int(resp.Get("status").Int()),
				resp.Get("statusText").String(), harHeaders(resp), body)
		}
		res.add(draft)
		return true
	})
	return res, nil
}

func harHeaders(msg gjson.Result) []header {
	var out []header
	msg.Get("headers").ForEach(func(_, h gjson.Result) bool {
		out = append(out, header{Name: h.Get("name").String(), Value: h.Get("value").String()})
		return true
	})
	return out
}
