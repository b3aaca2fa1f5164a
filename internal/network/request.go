package network

import (
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Request describes the target of one exchange.
type Request struct {
	URL      *url.URL
	Header   http.Header
	User     string
	Password string
}

// NewRequest parses rawURL into a Request. Only http and https URLs are accepted.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, rawURL)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %s", rawURL)
	}

	return &Request{URL: u, Header: make(http.Header)}, nil
}

// Redirect returns the request to issue for a redirect to target. Headers are kept;
// credentials only survive when the target stays on the same host.
func (r *Request) Redirect(target *url.URL) *Request {
	next := &Request{URL: target, Header: r.Header.Clone()}
	if next.Header == nil {
		next.Header = make(http.Header)
	}

	if r.URL != nil && strings.EqualFold(r.URL.Host, target.Host) {
		next.User = r.User
		next.Password = r.Password
	}

	return next
}

// Upload is the body of a PUT or POST.
type Upload struct {
	Body        io.Reader
	Size        int64 // -1 when unknown
	ContentType string
}

// ParseHeader turns "Name: value" lines into a header.
func ParseHeader(lines []string) (http.Header, error) {
	h := make(http.Header)

	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed header %q, want \"Name: value\"", line)
		}

		h.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	}

	return h, nil
}
