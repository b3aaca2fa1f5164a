package network_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/qget/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects callbacks of one reply and lets the test wait for Finished.
type recorder struct {
	mu       sync.Mutex
	body     strings.Builder
	reads    int
	progress [][2]int64
	finished chan network.Reply
}

func newRecorder() *recorder {
	return &recorder{finished: make(chan network.Reply, 1)}
}

func (rec *recorder) handlers(withRead bool) network.Handlers {
	h := network.Handlers{
		Finished: func(r network.Reply) {
			rec.mu.Lock()
			rec.body.Write(r.ReadAll())
			rec.mu.Unlock()
			rec.finished <- r
		},
		Progress: func(done, total int64) {
			rec.mu.Lock()
			rec.progress = append(rec.progress, [2]int64{done, total})
			rec.mu.Unlock()
		},
	}

	if withRead {
		h.ReadyRead = func(r network.Reply) {
			rec.mu.Lock()
			rec.reads++
			rec.body.Write(r.ReadAll())
			rec.mu.Unlock()
		}
	}

	return h
}

func (rec *recorder) wait(t *testing.T) network.Reply {
	t.Helper()

	select {
	case r := <-rec.finished:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("reply did not finish")

		return nil
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/files/data.bin", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, strings.Repeat("a", 100))
	})
	r.Get("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/data.bin", http.StatusFound)
	})
	r.Get("/auth", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
		_, _ = io.WriteString(w, "welcome "+r.Header.Get("X-Trace"))
	})
	r.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	r.Put("/upload", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Received-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-Received-Length", strconv.FormatInt(r.ContentLength, 10))
		_, _ = io.WriteString(w, "got "+string(body))
	})
	r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return ts
}

func mustRequest(t *testing.T, raw string) *network.Request {
	t.Helper()

	req, err := network.NewRequest(raw)
	require.NoError(t, err)

	return req
}

func TestManager_GetDeliversBodyInChunks(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager(network.WithChunkSize(16), network.WithProgressInterval(50))

	rec := newRecorder()
	m.Get(context.Background(), mustRequest(t, ts.URL+"/files/data.bin"), rec.handlers(true))
	r := rec.wait(t)

	require.NoError(t, r.Err())
	assert.Equal(t, http.StatusOK, r.StatusCode())
	assert.Equal(t, "application/octet-stream", r.ContentType())
	assert.Equal(t, int64(100), r.ContentLength())
	assert.Equal(t, strings.Repeat("a", 100), rec.body.String())
	assert.GreaterOrEqual(t, rec.reads, 100/16)

	require.NotEmpty(t, rec.progress)
	assert.Equal(t, [2]int64{100, 100}, rec.progress[len(rec.progress)-1])

	_, redirected := r.RedirectTarget()
	assert.False(t, redirected)
}

func TestManager_DoesNotFollowRedirects(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager()

	rec := newRecorder()
	m.Get(context.Background(), mustRequest(t, ts.URL+"/moved"), rec.handlers(true))
	r := rec.wait(t)

	require.NoError(t, r.Err())
	assert.Equal(t, http.StatusFound, r.StatusCode())

	target, ok := r.RedirectTarget()
	require.True(t, ok)
	assert.Equal(t, "/files/data.bin", target.String())
	assert.Equal(t, ts.URL+"/files/data.bin", r.URL().ResolveReference(target).String())
}

func TestManager_SendsCredentialsAndHeaders(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager()

	req := mustRequest(t, ts.URL+"/auth")
	req.User = "alice"
	req.Password = "secret"
	req.Header.Set("X-Trace", "t-1")

	rec := newRecorder()
	m.Get(context.Background(), req, rec.handlers(true))
	r := rec.wait(t)

	require.NoError(t, r.Err())
	assert.Equal(t, http.StatusOK, r.StatusCode())
	assert.Equal(t, "welcome t-1", rec.body.String())
}

func TestManager_Abort(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager()

	rec := newRecorder()
	h := rec.handlers(false)
	h.ReadyRead = func(r network.Reply) {
		r.Abort()
	}

	m.Get(context.Background(), mustRequest(t, ts.URL+"/slow"), h)
	r := rec.wait(t)

	assert.ErrorIs(t, r.Err(), network.ErrAborted)
}

func TestManager_ContextCancelled(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager()

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	h := rec.handlers(false)
	h.ReadyRead = func(network.Reply) { cancel() }

	m.Get(ctx, mustRequest(t, ts.URL+"/slow"), h)
	r := rec.wait(t)

	require.Error(t, r.Err())
	assert.NotErrorIs(t, r.Err(), network.ErrAborted)
}

func TestManager_Upload(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager(network.WithProgressInterval(1))

	t.Run("put", func(t *testing.T) {
		rec := newRecorder()
		body := &network.Upload{Body: strings.NewReader("hello"), Size: 5, ContentType: "text/plain"}
		m.Put(context.Background(), mustRequest(t, ts.URL+"/upload"), body, rec.handlers(false))
		r := rec.wait(t)

		require.NoError(t, r.Err())
		assert.Equal(t, "text/plain", r.Header().Get("X-Received-Type"))
		assert.Equal(t, "5", r.Header().Get("X-Received-Length"))
		// without a ReadyRead handler the response body is discarded
		assert.Empty(t, rec.body.String())
		require.NotEmpty(t, rec.progress)
		assert.Equal(t, [2]int64{5, 5}, rec.progress[len(rec.progress)-1])
	})

	t.Run("post", func(t *testing.T) {
		rec := newRecorder()
		body := &network.Upload{Body: strings.NewReader("form=1"), Size: 6}
		m.Post(context.Background(), mustRequest(t, ts.URL+"/upload"), body, rec.handlers(true))
		r := rec.wait(t)

		require.NoError(t, r.Err())
		assert.Equal(t, http.StatusCreated, r.StatusCode())
		assert.Equal(t, "form=1", rec.body.String())
	})
}

func TestManager_ConnectionError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	rec := newRecorder()
	network.NewManager().Get(context.Background(), mustRequest(t, addr+"/gone"), rec.handlers(true))
	r := rec.wait(t)

	assert.Error(t, r.Err())
	assert.Zero(t, r.StatusCode())
}

func TestManager_RateLimit(t *testing.T) {
	ts := newTestServer(t)
	m := network.NewManager(network.WithRateLimit(1000))

	rec := newRecorder()
	m.Get(context.Background(), mustRequest(t, ts.URL+"/files/data.bin"), rec.handlers(true))
	r := rec.wait(t)

	require.NoError(t, r.Err())
	assert.Len(t, rec.body.String(), 100)
}
