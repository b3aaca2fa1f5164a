package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// OutputName derives the local file name from the last segment of the URL path.
// An empty segment, "." or ".." yields fallback.
func OutputName(u *url.URL, fallback string) string {
	p := u.Path
	name := p[strings.LastIndex(p, "/")+1:]

	switch name {
	case "", ".", "..":
		return fallback
	}

	return name
}

// CreateUnique exclusively creates the first unused name among name, name.1,
// name.2 ... probing at most attempts names.
func CreateUnique(fs billy.Filesystem, name string, attempts int) (billy.File, error) {
	lastErr := os.ErrExist

	for i := 0; i < attempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d", name, i)
		}

		if _, err := fs.Stat(candidate); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			lastErr = err

			continue
		}

		f, err := fs.OpenFile(candidate, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}

		lastErr = err
	}

	return nil, &OutputFileError{Name: name, Attempts: attempts, Err: lastErr}
}

// outputFile is the file bound to a download.
type outputFile struct {
	fs   billy.Filesystem
	file billy.File
}

func (o *outputFile) Name() string {
	return o.file.Name()
}

func (o *outputFile) Write(p []byte) (int, error) {
	n, err := o.file.Write(p)
	if err != nil {
		return n, &OutputFileError{Name: o.Name(), Err: err}
	}

	return n, nil
}

// Reset empties the file so it can receive the body of a redirect target.
func (o *outputFile) Reset() error {
	if _, err := o.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", o.Name(), err)
	}

	if err := o.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", o.Name(), err)
	}

	return nil
}

// Discard closes and removes the file.
func (o *outputFile) Discard() error {
	cerr := o.file.Close()

	if err := o.fs.Remove(o.Name()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", o.Name(), err)
	}

	return cerr
}

func (o *outputFile) Close() error {
	if err := o.file.Close(); err != nil {
		return &OutputFileError{Name: o.Name(), Err: err}
	}

	return nil
}
