package ingest

import (
	"encoding/base64"
	"strings"

	"github.com/google/shlex"
)

var (
	curlDataFlags = map[string]bool{
		"-d": true, "--data": true, "--data-raw": true, "--data-binary": true,
		"--data-ascii": true, "--data-urlencode": true, "--json": true,
	}
	curlFormFlags = map[string]bool{"-F": true, "--form": true, "--form-string": true}

	// Flags whose argument is irrelevant to the request we record.
	curlIgnoredValueFlags = map[string]bool{
		"-o": true, "--output": true, "-x": true, "--proxy": true, "-m": true, "--max-time": true,
		"--connect-timeout": true, "-w": true, "--write-out": true, "--cert": true, "-E": true,
		"--key": true, "--cacert": true, "-T": true, "--upload-file": true, "--resolve": true,
		"-r": true, "--range": true, "-c": true, "--cookie-jar": true, "--retry": true,
	}
)

type curlRequest struct {
	method  string
	url     string
	headers []header
	data    []string
	get     bool
	head    bool
	form    bool
}

func parseCurl(data []byte) (ParseResult, error) {
	text := strings.NewReplacer("\\\r\n", " ", "\\\n", " ").Replace(string(data))
	text = strings.TrimPrefix(strings.TrimSpace(text), "$ ")

	args, err := shlex.Split(text)
	if err != nil {
		return ParseResult{}, newParseError(CurlCommand, "", err)
	}
	if len(args) == 0 || args[0] != "curl" {
		return ParseResult{}, parseErrorf(CurlCommand, "", "command does not start with curl")
	}

	req, err := readCurlArgs(args[1:])
	if err != nil {
		return ParseResult{}, err
	}
	if req.url == "" {
		return ParseResult{}, parseErrorf(CurlCommand, "", "no url in command")
	}

	method := req.method
	target := req.url
	body := strings.Join(req.data, "&")
	switch {
	case method != "":
	case req.head:
		method = "HEAD"
	case req.get:
		method = "GET"
	case len(req.data) > 0 || req.form:
		method = "POST"
	default:
		method = "GET"
	}
	if req.get && body != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + body
		body = ""
	}

	return ParseResult{Drafts: []Draft{{
		Method:     method,
		Endpoint:   target,
		RawRequest: formatRequest(strings.ToUpper(method), target, "", req.headers, body),
		Variant:    CurlCommand,
	}}}, nil
}

func readCurlArgs(args []string) (*curlRequest, error) {
	req := &curlRequest{}
	for i := 0; i < len(args); i++ {
		flag, value, inline := splitCurlFlag(args[i])
		next := func() (string, error) {
			if inline {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", parseErrorf(CurlCommand, flag, "flag %s needs a value", flag)
			}
			i++
			return args[i], nil
		}

		switch {
		case flag == "-X" || flag == "--request":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.method = v
		case flag == "-H" || flag == "--header":
			v, err := next()
			if err != nil {
				return nil, err
			}
			name, val, _ := strings.Cut(v, ":")
			req.headers = append(req.headers, header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(val)})
		case curlDataFlags[flag]:
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.data = append(req.data, v)
			if flag == "--json" {
				req.headers = append(req.headers, header{Name: "Content-Type", Value: "application/json"})
			}
		case curlFormFlags[flag]:
			if _, err := next(); err != nil {
				return nil, err
			}
			req.form = true
		case flag == "--url":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.url = v
		case flag == "-u" || flag == "--user":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.headers = append(req.headers, header{Name: "Authorization", Value: "Basic " + base64.StdEncoding.EncodeToString([]byte(v))})
		case flag == "-A" || flag == "--user-agent":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.headers = append(req.headers, header{Name: "User-Agent", Value: v})
		case flag == "-b" || flag == "--cookie":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.headers = append(req.headers, header{Name: "Cookie", Value: v})
		case flag == "-e" || flag == "--referer":
			v, err := next()
			if err != nil {
				return nil, err
			}
			req.headers = append(req.headers, header{Name: "Referer", Value: v})
		case flag == "-G" || flag == "--get":
			req.get = true
		case flag == "-I" || flag == "--head":
			req.head = true
		case curlIgnoredValueFlags[flag]:
			if _, err := next(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(flag, "-"):
			// Boolean switches such as -s, -k, -L, --compressed.
		case req.url == "":
			req.url = args[i]
		}
	}
	return req, nil
}

// splitCurlFlag separates "--request=POST" and "-XPOST" into flag and value.
func splitCurlFlag(arg string) (flag, value string, inline bool) {
	if !strings.HasPrefix(arg, "-") || arg == "-" {
		return arg, "", false
	}
	if strings.HasPrefix(arg, "--") {
		if name, v, ok := strings.Cut(arg, "="); ok {
			return name, v, true
		}
		return arg, "", false
	}
	if len(arg) > 2 {
		short := arg[:2]
		switch short {
		case "-X", "-H", "-d", "-u", "-A", "-b", "-e", "-o", "-x", "-m", "-w", "-F", "-T":
			return short, arg[2:], true
		}
	}
	return arg, "", false
}
