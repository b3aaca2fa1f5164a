package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultChunkSize is the largest slice of body handed to one ReadyRead call.
	DefaultChunkSize = 32 * 1024
	// DefaultProgressInterval is how many bytes pass between two progress reports.
	DefaultProgressInterval = 1024 * 1024
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host.
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second
)

type exchangeConfig struct {
	chunkSize        int
	progressInterval int64
	limiter          *rate.Limiter
}

// Manager issues requests and hands back callback-driven replies. Redirects are
// never followed here; they are reported through Reply.RedirectTarget.
type Manager struct {
	client    *http.Client
	transport http.RoundTripper
	timeout   time.Duration
	cfg       exchangeConfig
}

type Option func(*Manager)

// WithTransport sets the round tripper used for every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) {
		m.transport = rt
	}
}

// WithTimeout bounds a whole exchange, body included. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithRateLimit caps the download rate in bytes per second. Zero or less disables it.
func WithRateLimit(bytesPerSecond int) Option {
	return func(m *Manager) {
		if bytesPerSecond > 0 {
			m.cfg.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
		}
	}
}

// WithChunkSize sets the read buffer size of a reply.
func WithChunkSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cfg.chunkSize = n
		}
	}
}

// WithProgressInterval sets how many bytes pass between progress reports.
func WithProgressInterval(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cfg.progressInterval = n
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg: exchangeConfig{
			chunkSize:        DefaultChunkSize,
			progressInterval: DefaultProgressInterval,
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.transport == nil {
		m.transport = http.DefaultTransport
	}

	m.client = &http.Client{
		Transport: m.transport,
		Timeout:   m.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return m
}

// Get starts a GET exchange.
func (m *Manager) Get(ctx context.Context, req *Request, h Handlers) Reply {
	return m.dispatch(ctx, http.MethodGet, req, nil, h)
}

// Put starts a PUT exchange sending body.
func (m *Manager) Put(ctx context.Context, req *Request, body *Upload, h Handlers) Reply {
	return m.dispatch(ctx, http.MethodPut, req, uploadOrEmpty(body), h)
}

// Post starts a POST exchange sending body.
func (m *Manager) Post(ctx context.Context, req *Request, body *Upload, h Handlers) Reply {
	return m.dispatch(ctx, http.MethodPost, req, uploadOrEmpty(body), h)
}

func (m *Manager) dispatch(ctx context.Context, method string, req *Request, up *Upload, h Handlers) Reply {
	r := newReply(ctx, req, h)

	go r.run(m.client, m.cfg, method, up)

	return r
}

func uploadOrEmpty(up *Upload) *Upload {
	if up == nil {
		return &Upload{Size: 0}
	}

	return up
}

// TransportConfig configures NewTransport.
type TransportConfig struct {
	Insecure bool
	Proxy    string
}

// NewTransport builds the base HTTP transport. An invalid proxy URL is an error
// rather than being silently ignored.
func NewTransport(cfg TransportConfig) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}

	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.Proxy, err)
		}

		transport.Proxy = http.ProxyURL(u)
	}

	return transport, nil
}

type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}
