package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/italolelis/qget/internal/progress"
)

// ErrAborted is the error of a reply that was aborted by its owner.
var ErrAborted = errors.New("operation aborted")

// Handlers are the callbacks of one reply. They are invoked sequentially on the
// goroutine running the exchange. Finished is always called exactly once.
type Handlers struct {
	ReadyRead func(Reply)
	Finished  func(Reply)
	Progress  func(done, total int64)
}

// Reply is the handle of an in-flight exchange.
type Reply interface {
	// URL is the URL this reply was requested for.
	URL() *url.URL
	StatusCode() int
	Header() http.Header
	ContentType() string
	// ContentLength is -1 when unknown.
	ContentLength() int64
	// RedirectTarget returns the unresolved Location of a redirect response.
	RedirectTarget() (*url.URL, bool)
	// ReadAll drains the bytes received since the last call.
	ReadAll() []byte
	Err() error
	Abort()
	// Close releases the reply. Pending data is discarded.
	Close()
}

type reply struct {
	req      *Request
	handlers Handlers
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	status        int
	header        http.Header
	contentLength int64
	buf           bytes.Buffer
	err           error
	aborted       bool
	closed        bool
}

func newReply(ctx context.Context, req *Request, h Handlers) *reply {
	ctx, cancel := context.WithCancel(ctx)

	return &reply{
		req:           req,
		handlers:      h,
		ctx:           ctx,
		cancel:        cancel,
		contentLength: -1,
		header:        make(http.Header),
	}
}

func (r *reply) URL() *url.URL {
	return r.req.URL
}

func (r *reply) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

func (r *reply) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.header
}

func (r *reply) ContentType() string {
	return r.Header().Get("Content-Type")
}

func (r *reply) ContentLength() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.contentLength
}

func (r *reply) RedirectTarget() (*url.URL, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false
	}

	loc := r.header.Get("Location")
	if loc == "" {
		return nil, false
	}

	target, err := url.Parse(loc)
	if err != nil {
		return nil, false
	}

	return target, true
}

func (r *reply) ReadAll() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() == 0 {
		return nil
	}

	out := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()

	return out
}

func (r *reply) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

func (r *reply) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()

	r.cancel()
}

func (r *reply) Close() {
	r.mu.Lock()
	r.closed = true
	r.buf.Reset()
	r.mu.Unlock()

	r.cancel()
}

func (r *reply) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	if r.aborted {
		r.err = ErrAborted

		return
	}

	r.err = err
}

func (r *reply) buffer(p []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.buf.Write(p)

	return true
}

func (r *reply) run(client *http.Client, cfg exchangeConfig, method string, up *Upload) {
	defer r.cancel()
	defer func() {
		if r.handlers.Finished != nil {
			r.handlers.Finished(r)
		}
	}()

	var body io.Reader
	if up != nil && up.Body != nil {
		body = up.Body
		if r.handlers.Progress != nil {
			body = progress.NewReader(body, up.Size, cfg.progressInterval, r.handlers.Progress)
		}
	}

	httpReq, err := http.NewRequestWithContext(r.ctx, method, r.req.URL.String(), body)
	if err != nil {
		r.fail(fmt.Errorf("failed to create request: %w", err))

		return
	}

	for name, values := range r.req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	if up != nil {
		if up.Size >= 0 {
			httpReq.ContentLength = up.Size
		}

		if up.ContentType != "" {
			httpReq.Header.Set("Content-Type", up.ContentType)
		}
	}

	if r.req.User != "" {
		httpReq.SetBasicAuth(r.req.User, r.req.Password)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		r.fail(err)

		return
	}
	defer resp.Body.Close()

	r.mu.Lock()
	r.status = resp.StatusCode
	r.header = resp.Header
	r.contentLength = resp.ContentLength
	r.mu.Unlock()

	var src io.Reader = resp.Body
	if cfg.limiter != nil {
		src = &throttledReader{ctx: r.ctx, r: src, limiter: cfg.limiter}
	}

	if up == nil && r.handlers.Progress != nil {
		src = progress.NewReader(src, resp.ContentLength, cfg.progressInterval, r.handlers.Progress)
	}

	r.pump(src, cfg.chunkSize)
}

// pump reads src until EOF, handing every chunk to the ReadyRead handler.
// Without a ReadyRead handler the body is drained and discarded.
func (r *reply) pump(src io.Reader, chunkSize int) {
	chunk := make([]byte, chunkSize)

	for {
		n, err := src.Read(chunk)
		if n > 0 && r.handlers.ReadyRead != nil && r.buffer(chunk[:n]) {
			r.handlers.ReadyRead(r)
		}

		if r.ctx.Err() != nil {
			r.fail(r.ctx.Err())

			return
		}

		if errors.Is(err, io.EOF) {
			return
		}

		if err != nil {
			r.fail(err)

			return
		}
	}
}
