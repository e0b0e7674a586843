package httptrigger

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

const serverSoftware = "spin-shim/wagi"

// cgiEnv builds the CGI/1.1 environment for one request, plus the X_*
// variables Spin adds for WAGI components.
func cgiEnv(r *http.Request, m Match, base string, body int) map[string]string {
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
		port = "80"
		if r.TLS != nil {
			port = "443"
		}
	}
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	env := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_SOFTWARE":   serverSoftware,
		"SERVER_PROTOCOL":   r.Proto,
		"SERVER_NAME":       host,
		"SERVER_PORT":       port,
		"REQUEST_METHOD":    r.Method,
		"SCRIPT_NAME":       m.Route.Prefix,
		"PATH_INFO":         m.PathInfo,
		"PATH_TRANSLATED":   m.PathInfo,
		"QUERY_STRING":      r.URL.RawQuery,
		"REMOTE_ADDR":       remoteHost,
		"REMOTE_HOST":       remoteHost,
		"REMOTE_USER":       "",
		"AUTH_TYPE":         "",
		"CONTENT_TYPE":      r.Header.Get("Content-Type"),
		"CONTENT_LENGTH":    strconv.Itoa(body),
		"X_MATCHED_ROUTE":   m.Route.Pattern,
		"X_COMPONENT_ROUTE": strings.TrimPrefix(m.Route.Pattern, strings.TrimSuffix(base, "/")),
		"X_RAW_PATH_INFO":   m.PathInfo,
		"X_BASE_PATH":       base,
		"X_FULL_URL":        scheme + "://" + r.Host + r.URL.RequestURI(),
	}

	for name, values := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if key == "HTTP_AUTHORIZATION" || key == "HTTP_CONNECTION" {
			continue
		}
		env[key] = strings.Join(values, ", ")
	}
	return env
}

// cgiArgs expands the executor argv template. The default passes the
// script name followed by the keyword arguments of the query string.
func cgiArgs(exec Executor, r *http.Request, scriptName string) []string {
	template := exec.Args
	if len(template) == 0 {
		template = []string{"${SCRIPT_NAME}", "${ARGS}"}
	}

	var queryArgs []string
	if q := r.URL.RawQuery; q != "" && !strings.Contains(q, "=") {
		for _, a := range strings.Split(q, "+") {
			if a != "" {
				queryArgs = append(queryArgs, a)
			}
		}
	}

	var out []string
	for _, a := range template {
		switch a {
		case "${SCRIPT_NAME}":
			out = append(out, scriptName)
		case "${ARGS}":
			out = append(out, queryArgs...)
		default:
			out = append(out, a)
		}
	}
	// the first entry is argv[0], which the engine supplies
	if len(out) > 0 {
		out = out[1:]
	}
	return out
}

// cgiResponse is a parsed CGI response.
type cgiResponse struct {
	header http.Header
	body   []byte
	status int
}

// parseCGIResponse reads CGI headers, a blank line, then the body. The
// Status header sets the status; a Location without Status redirects.
func parseCGIResponse(out []byte) (*cgiResponse, error) {
	br := bufio.NewReader(bytes.NewReader(out))
	mime, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, err
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}

	resp := &cgiResponse{header: http.Header(mime), body: body, status: http.StatusOK}
	if status := resp.header.Get("Status"); status != "" {
		code, _, _ := strings.Cut(status, " ")
		n, err := strconv.Atoi(code)
		if err != nil || n < 100 || n > 999 {
			return nil, &invalidStatusError{status}
		}
		resp.status = n
		resp.header.Del("Status")
	} else if resp.header.Get("Location") != "" {
		resp.status = http.StatusFound
	}
	return resp, nil
}

type invalidStatusError struct {
	status string
}

func (e *invalidStatusError) Error() string {
	return "invalid CGI status " + strconv.Quote(e.status)
}
