package ingest

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Leading "{{baseUrl}}" style variables stand in for the host.
var postmanHostVar = regexp.MustCompile(`^\{\{[^}]+\}\}`)

func parsePostman(data []byte) (ParseResult, error) {
	var res ParseResult
	if err := jsonSyntaxError(PostmanCollection, data); err != nil {
		return res, err
	}
	items := gjson.GetBytes(data, "item")
	if !items.IsArray() {
		return res, parseErrorf(PostmanCollection, "item", "collection has no item array")
	}
	index := 0
	walkPostmanItems(items, &index, &res)
	return res, nil
}

// walkPostmanItems flattens folders depth first; index counts leaf items.
func walkPostmanItems(items gjson.Result, index *int, res *ParseResult) {
	items.ForEach(func(_, item gjson.Result) bool {
		if children := item.Get("item"); children.IsArray() {
			walkPostmanItems(children, index, res)
			return true
		}
		i := *index
		*index++

		if !item.IsObject() {
			res.skip(i, "item is not an object")
			return true
		}
		req := item.Get("request")
		if !req.Exists() {
			res.skip(i, "item %q has no request", item.Get("name").String())
			return true
		}

		method := "GET"
		var urlValue gjson.Result
		if req.Type == gjson.String {
			urlValue = req
		} else {
			if m := req.Get("method").String(); m != "" {
				method = m
			}
			urlValue = req.Get("url")
		}
		endpoint := postmanURL(urlValue)
		if endpoint == "" {
			res.skip(i, "item %q has no url", item.Get("name").String())
			return true
		}

		var headers []header
		req.Get("header").ForEach(func(_, h gjson.Result) bool {
			if !h.Get("disabled").Bool() {
				headers = append(headers, header{Name: h.Get("key").String(), Value: h.Get("value").String()})
			}
			return true
		})

		draft := Draft{
			Method:     method,
			Endpoint:   endpoint,
			RawRequest: formatRequest(strings.ToUpper(method), endpoint, "", headers, req.Get("body.raw").String()),
			Variant:    PostmanCollection,
		}
		if resp := item.Get("response.0"); resp.Exists() {
			var respHeaders []header
			resp.Get("header").ForEach(func(_, h gjson.Result) bool {
				respHeaders = append(respHeaders, header{Name: h.Get("key").String(), Value: h.Get("value").String()})
				return true
			})
			draft.RawResponse = formatResponse("", int(resp.Get("code").Int()), resp.Get("status").String(), respHeaders, resp.Get("body").String())
		}
		res.add(draft)
		return true
	})
}

// postmanURL accepts both the string and the object url forms.
func postmanURL(u gjson.Result) string {
	var raw string
	switch {
	case u.Type == gjson.String:
		raw = u.String()
	case u.IsObject():
		raw = u.Get("raw").String()
		if raw == "" {
			raw = postmanURLFromParts(u)
		}
	}
	raw = strings.TrimSpace(raw)
	if stripped := postmanHostVar.ReplaceAllString(raw, ""); stripped != raw {
		raw = stripped
		if raw == "" || raw[0] != '/' {
			raw = "/" + raw
		}
	}
	return raw
}

func postmanURLFromParts(u gjson.Result) string {
	var host, path []string
	u.Get("host").ForEach(func(_, h gjson.Result) bool {
		host = append(host, h.String())
		return true
	})
	u.Get("path").ForEach(func(_, p gjson.Result) bool {
		path = append(path, p.String())
		return true
	})
	if len(host) == 0 && len(path) == 0 {
		return ""
	}
	out := strings.Join(host, ".") + "/" + strings.Join(path, "/")
	if proto := u.Get("protocol").String(); proto != "" && len(host) > 0 {
		out = proto + "://" + out
	}
	return out
}
