package transfer

import "fmt"

// OutputFileError represents a download whose bytes could not be persisted:
// no unused name was found within the attempt budget, or writing to the chosen
// file failed.
type OutputFileError struct {
	Name     string // Base name the search started from, or the file being written
	Attempts int    // Names tried before giving up, 0 for write failures
	Err      error  // Underlying error, if any
}

func (e *OutputFileError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("couldn't open output file %s after %d attempts", e.Name, e.Attempts)
	}

	return fmt.Sprintf("output file error for %s: %v", e.Name, e.Err)
}

func (e *OutputFileError) Unwrap() error {
	return e.Err
}

// RedirectLoopError represents a redirect to a URL already visited by the transfer.
type RedirectLoopError struct {
	URL string // The redirect target that closed the loop
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("redirect loop detected at %s", e.URL)
}

// TooManyRedirectsError represents a redirect chain that reached the configured limit.
type TooManyRedirectsError struct {
	URL   string // The redirect target that was not followed
	Limit int    // The configured limit
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("too many redirects (limit %d), not following %s", e.Limit, e.URL)
}

// NetworkError represents a transport failure of an exchange, including aborts.
type NetworkError struct {
	Operation  string // The method of the failed exchange (e.g., "GET", "PUT")
	URL        string // The URL of the failed exchange
	StatusCode int    // HTTP status code, if a response arrived (0 otherwise)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s %s (HTTP %d): %v", e.Operation, e.URL, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("network error during %s %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
