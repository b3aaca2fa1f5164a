package progress

import (
	"errors"
	"io"
)

// percentStep is how often, in percent of the total, a known-size transfer reports.
const percentStep = 10

// Reader wraps an io.Reader and reports progress via a callback.
//
// A report is emitted every interval bytes, whenever a new percentStep boundary is
// crossed (when Total > 0), and once at EOF so the final count is always seen.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(done int64, total int64)

	done       int64 // cumulative total
	sinceLast  int64 // bytes since last report
	lastStep   int64
	interval   int64
	reportedAt int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(done int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		interval:   interval,
		reportedAt: -1,
	}
}

// Done returns the number of bytes read so far.
func (pr *Reader) Done() int64 {
	return pr.done
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.done += int64(n)
		pr.sinceLast += int64(n)
	}

	if pr.shouldReport(n, err) {
		pr.report()
	}

	return n, err
}

func (pr *Reader) shouldReport(n int, err error) bool {
	if pr.OnProgress == nil {
		return false
	}

	if errors.Is(err, io.EOF) {
		return pr.reportedAt != pr.done
	}

	if n == 0 {
		return false
	}

	if pr.interval > 0 && pr.sinceLast >= pr.interval {
		return true
	}

	return pr.Total > 0 && pr.done*100/pr.Total/percentStep > pr.lastStep
}

func (pr *Reader) report() {
	if pr.Total > 0 {
		pr.lastStep = pr.done * 100 / pr.Total / percentStep
	}

	pr.sinceLast = 0
	pr.reportedAt = pr.done
	pr.OnProgress(pr.done, pr.Total)
}
