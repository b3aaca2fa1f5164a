package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/italolelis/qget/internal/network"
	"github.com/italolelis/qget/internal/telemetry"
)

const (
	DefaultMaxRedirects    = 10
	DefaultMaxNameAttempts = 1000
	DefaultFileName        = "index.html"
)

// ErrAlreadyStarted is returned by Start on a transfer that was started before.
var ErrAlreadyStarted = errors.New("transfer already started")

type Method int

const (
	Get Method = iota
	Put
	Post
)

func (m Method) String() string {
	switch m {
	case Get:
		return "GET"
	case Put:
		return "PUT"
	case Post:
		return "POST"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps an HTTP method name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "GET", "get", "":
		return Get, nil
	case "PUT", "put":
		return Put, nil
	case "POST", "post":
		return Post, nil
	default:
		return Get, fmt.Errorf("unsupported method %q", s)
	}
}

type State int

const (
	StateIdle State = iota
	StateActive
	StateRedirecting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRedirecting:
		return "redirecting"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Network is the part of network.Manager a transfer drives.
type Network interface {
	Get(ctx context.Context, req *network.Request, h network.Handlers) network.Reply
	Put(ctx context.Context, req *network.Request, body *network.Upload, h network.Handlers) network.Reply
	Post(ctx context.Context, req *network.Request, body *network.Upload, h network.Handlers) network.Reply
}

type Options struct {
	// FS receives output files of downloads. Required for Get.
	FS billy.Filesystem
	// Upload is the body of a Put or Post.
	Upload *network.Upload

	MaxRedirects    int
	MaxNameAttempts int
	DefaultFileName string

	Telemetry *telemetry.Telemetry
}

// Result is a snapshot of a transfer.
type Result struct {
	ID           string
	Method       Method
	URL          string
	FinalURL     string
	OutputFile   string
	Redirects    []string
	StatusCode   int
	BytesWritten int64
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Transfer drives one exchange to completion. Downloads follow redirects and
// persist the body of the final response to a uniquely named file.
type Transfer struct {
	id     string
	method Method
	origin *network.Request
	net    Network
	opts   Options

	mu       sync.Mutex
	ctx      context.Context
	state    State
	current  *network.Request
	reply    network.Reply
	history  *history
	out      *outputFile
	outName  string
	written  int64
	status   int
	finalURL *url.URL
	err      error
	started  time.Time
	finished time.Time
	done     chan struct{}
}

func New(n Network, method Method, req *network.Request, opts Options) (*Transfer, error) {
	if n == nil {
		return nil, errors.New("network is required")
	}

	if req == nil || req.URL == nil {
		return nil, errors.New("request url is required")
	}

	if method == Get && opts.FS == nil {
		return nil, errors.New("output filesystem is required for downloads")
	}

	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	if opts.MaxNameAttempts <= 0 {
		opts.MaxNameAttempts = DefaultMaxNameAttempts
	}

	if opts.DefaultFileName == "" {
		opts.DefaultFileName = DefaultFileName
	}

	return &Transfer{
		id:      uuid.New().String(),
		method:  method,
		origin:  req,
		current: req,
		net:     n,
		opts:    opts,
		ctx:     context.Background(),
		history: newHistory(req.URL),
		done:    make(chan struct{}),
	}, nil
}

func (t *Transfer) ID() string {
	return t.id
}

func (t *Transfer) Method() Method {
	return t.method
}

// Start dispatches the request. It returns immediately; failures surface
// through Result once Done is closed.
func (t *Transfer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return ErrAlreadyStarted
	}

	t.ctx = logctx.WithTransferID(ctx, t.id)
	t.state = StateActive
	t.started = time.Now()

	logctx.LoggerFromContext(t.ctx).DebugContext(t.ctx, "starting transfer",
		"method", t.method.String(), "url", t.origin.URL.Redacted())

	switch t.method {
	case Put:
		t.reply = t.net.Put(t.ctx, t.origin, t.opts.Upload, t.handlers())
	case Post:
		t.reply = t.net.Post(t.ctx, t.origin, t.opts.Upload, t.handlers())
	default:
		t.reply = t.net.Get(t.ctx, t.origin, t.handlers())
	}

	return nil
}

func (t *Transfer) handlers() network.Handlers {
	h := network.Handlers{
		Finished: t.OnFinished,
		Progress: t.OnProgress,
	}

	if t.method == Get {
		h.ReadyRead = t.OnReadyRead
	}

	return h
}

// OnProgress logs transfer progress as a percentage when the total is known.
func (t *Transfer) OnProgress(done, total int64) {
	ctx := t.context()
	logger := logctx.LoggerFromContext(ctx)

	if total > 0 {
		logger.InfoContext(ctx, "progress",
			"percent", done*100/total,
			"done", humanize.Bytes(uint64(done)),
			"total", humanize.Bytes(uint64(total)))

		return
	}

	logger.InfoContext(ctx, "progress", "done", humanize.Bytes(uint64(max(done, 0))))
}

// OnReadyRead persists the bytes the reply has buffered, opening the output
// file on first use.
func (t *Transfer) OnReadyRead(reply network.Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive || reply != t.reply {
		return
	}

	if err := t.consume(reply); err != nil {
		t.err = err
		logctx.LoggerFromContext(t.ctx).ErrorContext(t.ctx, "couldn't write output file", "err", err)

		reply.Abort()
	}
}

// consume writes the buffered bytes of reply to the output file, opening it on
// the first non-empty chunk. Caller holds mu.
func (t *Transfer) consume(reply network.Reply) error {
	if t.err != nil {
		reply.ReadAll()

		return nil
	}

	data := reply.ReadAll()
	if len(data) == 0 {
		return nil
	}

	if t.out == nil {
		logger := logctx.LoggerFromContext(t.ctx)
		logger.DebugContext(t.ctx, "response headers",
			"content_type", reply.ContentType(), "content_length", reply.ContentLength())

		name := OutputName(reply.URL(), t.opts.DefaultFileName)

		f, err := CreateUnique(t.opts.FS, name, t.opts.MaxNameAttempts)
		if err != nil {
			return err
		}

		t.out = &outputFile{fs: t.opts.FS, file: f}
		t.outName = f.Name()

		logger.InfoContext(t.ctx, "saving output", "url", reply.URL().Redacted(), "file", t.outName)
	}

	n, err := t.out.Write(data)
	t.written += int64(n)
	t.opts.Telemetry.RecordBytes(telemetry.DirectionDownload, int64(n))

	return err
}

// OnFinished either follows the redirect carried by reply or completes the transfer.
func (t *Transfer) OnFinished(reply network.Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive || reply != t.reply {
		return
	}

	t.status = reply.StatusCode()
	t.finalURL = reply.URL()

	if t.method != Get {
		if reply.Err() == nil && t.opts.Upload != nil {
			t.opts.Telemetry.RecordBytes(telemetry.DirectionUpload, t.opts.Upload.Size)
		}

		t.finish(reply, nil)

		return
	}

	if t.err == nil && reply.Err() == nil {
		if target, ok := reply.RedirectTarget(); ok {
			t.redirect(reply, reply.URL().ResolveReference(target))

			return
		}
	}

	t.flush(reply)
	t.finish(reply, nil)
}

// redirect follows target or fails the transfer on a loop or when the limit is
// reached. Caller holds mu.
func (t *Transfer) redirect(reply network.Reply, target *url.URL) {
	logger := logctx.LoggerFromContext(t.ctx)

	t.state = StateRedirecting
	logger.InfoContext(t.ctx, "redirected", "from", reply.URL().Redacted(), "to", target.Redacted())

	if t.history.Contains(target) {
		logger.WarnContext(t.ctx, "redirect loop detected", "url", target.Redacted())
		t.opts.Telemetry.RecordRedirect(telemetry.RedirectLoop)

		t.flush(reply)
		t.finish(reply, &RedirectLoopError{URL: target.String()})

		return
	}

	if t.history.Len() >= t.opts.MaxRedirects {
		logger.WarnContext(t.ctx, "too many redirects", "limit", t.opts.MaxRedirects)
		t.opts.Telemetry.RecordRedirect(telemetry.RedirectLimit)

		t.flush(reply)
		t.finish(reply, &TooManyRedirectsError{URL: target.String(), Limit: t.opts.MaxRedirects})

		return
	}

	t.resetOutput()
	reply.Close()

	t.current = t.current.Redirect(target)
	t.state = StateActive
	t.reply = t.net.Get(t.ctx, t.current, t.handlers())
	t.history.Add(target)
	t.opts.Telemetry.RecordRedirect(telemetry.RedirectFollowed)
}

// resetOutput empties the output file before the next response arrives. When
// the file can't be reset it is deleted and reopened on the next data. Caller holds mu.
func (t *Transfer) resetOutput() {
	if t.out == nil {
		return
	}

	err := t.out.Reset()
	if err == nil {
		t.written = 0

		return
	}

	logger := logctx.LoggerFromContext(t.ctx)
	logger.WarnContext(t.ctx, "couldn't reset output file, recreating it", "file", t.outName, "err", err)

	if derr := t.out.Discard(); derr != nil {
		logger.WarnContext(t.ctx, "couldn't remove output file", "file", t.outName, "err", derr)
	}

	t.out = nil
	t.outName = ""
	t.written = 0
}

// flush writes what is left in the reply buffer. Caller holds mu.
func (t *Transfer) flush(reply network.Reply) {
	if t.err != nil || reply.Err() != nil {
		return
	}

	if err := t.consume(reply); err != nil {
		t.err = err
	}
}

// finish closes the output file, records the outcome and signals completion.
// Caller holds mu.
func (t *Transfer) finish(reply network.Reply, err error) {
	if t.state == StateFinished {
		return
	}

	if t.err == nil {
		t.err = err
	}

	if t.err == nil && reply != nil && reply.Err() != nil {
		t.err = &NetworkError{
			Operation:  t.method.String(),
			URL:        reply.URL().Redacted(),
			StatusCode: reply.StatusCode(),
			Err:        reply.Err(),
		}
	}

	if t.out != nil {
		if cerr := t.out.Close(); cerr != nil && t.err == nil {
			t.err = cerr
		}

		t.out = nil
	}

	if reply != nil {
		reply.Close()
	}

	t.state = StateFinished
	t.finished = time.Now()

	logger := logctx.LoggerFromContext(t.ctx)
	if t.err != nil {
		logger.ErrorContext(t.ctx, "transfer failed",
			"method", t.method.String(), "url", t.origin.URL.Redacted(), "err", t.err)
	} else {
		logger.InfoContext(t.ctx, "transfer finished",
			"method", t.method.String(),
			"status", t.status,
			"file", t.outName,
			"size", humanize.Bytes(uint64(t.written)),
			"redirects", t.history.Len(),
			"duration", t.finished.Sub(t.started).Round(time.Millisecond))
	}

	close(t.done)
}

// Abort aborts the in-flight reply. Completion is still signaled exactly once.
// Aborting a transfer that was never started completes it immediately.
func (t *Transfer) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateIdle:
		t.finish(nil, &NetworkError{
			Operation: t.method.String(),
			URL:       t.origin.URL.Redacted(),
			Err:       network.ErrAborted,
		})
	case StateActive, StateRedirecting:
		if t.reply != nil {
			t.reply.Abort()
		}
	}
}

// Done is closed once the transfer completed.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transfer completes or ctx is done, and returns its
// result together with the transfer error or the context error.
func (t *Transfer) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		res := t.Result()

		return res, res.Err
	case <-ctx.Done():
		return t.Result(), ctx.Err()
	}
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Transfer) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := Result{
		ID:           t.id,
		Method:       t.method,
		URL:          t.origin.URL.Redacted(),
		OutputFile:   t.outName,
		Redirects:    t.history.URLs(),
		StatusCode:   t.status,
		BytesWritten: t.written,
		Err:          t.err,
		StartedAt:    t.started,
		FinishedAt:   t.finished,
	}

	if t.finalURL != nil {
		res.FinalURL = t.finalURL.Redacted()
	}

	return res
}

func (t *Transfer) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ctx
}
