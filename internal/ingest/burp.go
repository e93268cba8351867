package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

type burpExport struct {
	XMLName xml.Name   `xml:"items"`
	Items   []burpItem `xml:"item"`
}

type burpItem struct {
	URL      string      `xml:"url"`
	Method   string      `xml:"method"`
	Path     string      `xml:"path"`
	Request  burpEncoded `xml:"request"`
	Response burpEncoded `xml:"response"`
}

type burpEncoded struct {
	Value  string `xml:",chardata"`
	Base64 bool   `xml:"base64,attr"`
}

func (e burpEncoded) decode() (string, error) {
	v := strings.TrimSpace(e.Value)
	if !e.Base64 || v == "" {
		return e.Value, nil
	}
	out, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseBurp(data []byte) (ParseResult, error) {
	var res ParseResult
	var export burpExport
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&export); err != nil {
		var syn *xml.SyntaxError
		if errors.As(err, &syn) {
			return res, newParseError(BurpXML, "line "+strconv.Itoa(syn.Line), err)
		}
		return res, newParseError(BurpXML, "", err)
	}

	for i, item := range export.Items {
		endpoint := strings.TrimSpace(item.URL)
		if endpoint == "" {
			endpoint = strings.TrimSpace(item.Path)
		}
		if endpoint == "" {
			res.skip(i, "item has no url")
			continue
		}
		method := strings.TrimSpace(item.Method)
		request, err := item.Request.decode()
		if err != nil {
			res.skip(i, "request is not valid base64: %v", err)
			continue
		}
		if method == "" {
			method = requestLineMethod(request)
		}
		if method == "" {
			res.skip(i, "item has no method")
			continue
		}
		response, err := item.Response.decode()
		if err != nil {
			res.skip(i, "response is not valid base64: %v", err)
			continue
		}
		res.add(Draft{
			Method:      method,
			Endpoint:    endpoint,
			RawRequest:  request,
			RawResponse: response,
			Variant:     BurpXML,
		})
	}
	return res, nil
}

func requestLineMethod(request string) string {
	line := firstLine([]byte(request))
	if !isRequestLine(line) {
		return ""
	}
	return strings.Fields(line)[0]
}
