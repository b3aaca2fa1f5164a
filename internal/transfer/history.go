package transfer

import "net/url"

// history is the ordered list of redirect targets followed by one transfer plus
// a set for loop checks. The origin URL is in the set but not in the list, so it
// never counts toward the redirect limit.
type history struct {
	targets []string
	seen    map[string]struct{}
}

func newHistory(origin *url.URL) *history {
	h := &history{seen: make(map[string]struct{})}
	if origin != nil {
		h.seen[historyKey(origin)] = struct{}{}
	}

	return h
}

func (h *history) Contains(u *url.URL) bool {
	_, ok := h.seen[historyKey(u)]

	return ok
}

func (h *history) Add(u *url.URL) {
	key := historyKey(u)
	h.targets = append(h.targets, key)
	h.seen[key] = struct{}{}
}

// Len is the number of redirects followed so far.
func (h *history) Len() int {
	return len(h.targets)
}

func (h *history) URLs() []string {
	return append([]string(nil), h.targets...)
}

// historyKey identifies a URL for loop detection; fragments never reach the server.
func historyKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""

	return c.String()
}
