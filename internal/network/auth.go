package network

import (
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// NewBearerTransport sends token as a bearer credential on requests to hosts
// and passes every other request to base untouched, so a redirect to a foreign
// host never carries the token.
func NewBearerTransport(base http.RoundTripper, token string, hosts []string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}

	return &bearerTransport{
		hosts: allowed,
		base:  base,
		authed: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
	}
}

type bearerTransport struct {
	hosts  map[string]struct{}
	base   http.RoundTripper
	authed http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := t.hosts[strings.ToLower(req.URL.Host)]; ok {
		return t.authed.RoundTrip(req)
	}

	return t.base.RoundTrip(req)
}
