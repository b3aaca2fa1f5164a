package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/italolelis/qget/internal/network"
	"github.com/italolelis/qget/internal/telemetry"
	"github.com/italolelis/qget/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// DefaultParallel is the number of transfers run at once when none is configured.
const DefaultParallel = 4

type Options struct {
	FS              billy.Filesystem
	Parallel        int
	MaxRedirects    int
	MaxNameAttempts int
	Telemetry       *telemetry.Telemetry
}

// Manager runs jobs as transfers with bounded parallelism.
type Manager struct {
	net  transfer.Network
	opts Options

	OnTransferFinished chan transfer.Result
	OnTransferFailed   chan transfer.Result
}

func New(n transfer.Network, opts Options) *Manager {
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}

	return &Manager{
		net:                n,
		opts:               opts,
		OnTransferFinished: make(chan transfer.Result),
		OnTransferFailed:   make(chan transfer.Result),
	}
}

func (m *Manager) Close() {
	close(m.OnTransferFinished)
	close(m.OnTransferFailed)
}

// Run executes every job and waits for all of them. Failed transfers never stop
// the others; their errors are joined into the returned error. Results are in
// job order. Every result is also sent on OnTransferFinished or
// OnTransferFailed, so both channels must be drained while Run is active.
func (m *Manager) Run(ctx context.Context, jobs []Job) ([]transfer.Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	results := make([]transfer.Result, len(jobs))

	var wg errgroup.Group

	sem := make(chan struct{}, m.opts.Parallel)

	for i := range jobs {
		job := jobs[i]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = failedResult(job, ctx.Err())
			m.emit(results[i])

			continue
		}

		wg.Go(func() (err error) {
			defer func() { <-sem }() // release the slot

			defer func() {
				if r := recover(); r != nil {
					logger.Error("transfer panic", "url", job.URL, "panic", r, "stack", string(debug.Stack()))
					m.opts.Telemetry.RecordSystemError("manager", "panic")
					results[i] = failedResult(job, fmt.Errorf("transfer panic: %v", r))
					err = results[i].Err
					m.emit(results[i])
				}
			}()

			res := m.runJob(ctx, job)
			results[i] = res
			m.emit(res)

			return res.Err
		})
	}

	if err := wg.Wait(); err != nil {
		return results, aggregate(results)
	}

	if err := ctx.Err(); err != nil {
		return results, aggregate(results)
	}

	return results, nil
}

func (m *Manager) runJob(ctx context.Context, job Job) transfer.Result {
	logger := logctx.LoggerFromContext(ctx)

	method, err := transfer.ParseMethod(job.Method)
	if err != nil {
		return failedResult(job, err)
	}

	req, err := job.Request()
	if err != nil {
		return failedResult(job, err)
	}

	opts := transfer.Options{
		FS:              m.opts.FS,
		MaxRedirects:    m.opts.MaxRedirects,
		MaxNameAttempts: m.opts.MaxNameAttempts,
		Telemetry:       m.opts.Telemetry,
	}

	if method != transfer.Get {
		up, closeInput, err := openInput(job)
		if err != nil {
			return failedResult(job, err)
		}
		defer closeInput()

		opts.Upload = up
	}

	t, err := transfer.New(m.net, method, req, opts)
	if err != nil {
		return failedResult(job, err)
	}

	var res transfer.Result

	_ = m.opts.Telemetry.InstrumentTransfer(ctx, method.String(), func(ctx context.Context) error {
		if err := t.Start(ctx); err != nil {
			return err
		}

		res, _ = t.Wait(ctx)
		if ctx.Err() != nil {
			t.Abort()
			<-t.Done()

			res = t.Result()
		}

		return res.Err
	})

	if res.Err != nil {
		logger.DebugContext(ctx, "transfer did not complete", "transfer_id", res.ID, "err", res.Err)
	}

	return res
}

// emit sends res even after cancellation so interrupted transfers still reach
// the consumers.
func (m *Manager) emit(res transfer.Result) {
	if res.Err != nil {
		m.OnTransferFailed <- res

		return
	}

	m.OnTransferFinished <- res
}

// openInput opens the upload body of job. The content type is the job's or
// sniffed from the file.
func openInput(job Job) (*network.Upload, func(), error) {
	if job.Input == "" {
		return nil, nil, fmt.Errorf("%s %s needs an input file", job.Method, job.URL)
	}

	f, err := os.Open(job.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, nil, fmt.Errorf("failed to stat input: %w", err)
	}

	contentType := job.ContentType
	if contentType == "" {
		mtype, err := mimetype.DetectFile(job.Input)
		if err != nil {
			f.Close()

			return nil, nil, fmt.Errorf("failed to detect content type of %s: %w", job.Input, err)
		}

		contentType = mtype.String()
	}

	up := &network.Upload{Body: f, Size: info.Size(), ContentType: contentType}

	return up, func() { f.Close() }, nil
}

func failedResult(job Job, err error) transfer.Result {
	method, _ := transfer.ParseMethod(job.Method)

	return transfer.Result{Method: method, URL: job.URL, Err: err}
}

func aggregate(results []transfer.Result) error {
	var errs []error

	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", res.Method, res.URL, res.Err))
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%d of %d transfers failed: %w", len(errs), len(results), errors.Join(errs...))
}
