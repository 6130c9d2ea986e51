package core

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobstore "github.com/ericselin/tableserve/pkg/blob-store"
)

func newSiteServer(t *testing.T, extra ...string) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resources", "LOGO"), []byte("PNG-bytes"), 0o644))
	blobs, err := blobstore.NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return CreateServer(Config{Routes: openSite(t, extra...), Blobs: blobs})
}

func get(s http.Handler, method, target string, header map[string]string) *http.Response {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec.Result()
}

func body(t *testing.T, rsp *http.Response) string {
	t.Helper()
	b := new(strings.Builder)
	_, err := b.ReadFrom(rsp.Body)
	require.NoError(t, err)
	return b.String()
}

func TestServeEncodedVariant(t *testing.T) {
	s := newSiteServer(t)

	rsp := get(s, "GET", "/app.js?cb=1", map[string]string{"Accept-Encoding": "gzip, br;q=0.5"})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "gzip", rsp.Header.Get("Content-Encoding"))
	assert.Equal(t, "6", rsp.Header.Get("Content-Length"))
	assert.Equal(t, `"v1"`, rsp.Header.Get("ETag"))
	assert.Equal(t, "Accept-Encoding", rsp.Header.Get("Vary"))
	assert.Equal(t, "public, max-age=1000000", rsp.Header.Get("Cache-Control"))
	assert.Equal(t, "text/javascript", rsp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rsp.Header.Get("Server-Timing"), "query;dur="))
	assert.Equal(t, "gz:app", body(t, rsp))

	rsp = get(s, "GET", "/app.js", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get("Content-Encoding"))
	assert.Equal(t, `console.log("app")`, body(t, rsp))
}

func TestServeNotModified(t *testing.T) {
	s := newSiteServer(t)
	rsp := get(s, "GET", "/app.js", map[string]string{
		"Accept-Encoding": "gzip",
		"If-None-Match":   `"v1"`,
	})
	assert.Equal(t, http.StatusNotModified, rsp.StatusCode)
	assert.Equal(t, `"v1"`, rsp.Header.Get("ETag"))
	assert.Empty(t, body(t, rsp))

	// more than one validator disables matching
	rsp = get(s, "GET", "/app.js", map[string]string{
		"Accept-Encoding": "gzip",
		"If-None-Match":   `"v1", "v0"`,
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "gz:app", body(t, rsp))
}

func TestServeNotFound(t *testing.T) {
	s := newSiteServer(t)
	rsp := get(s, "GET", "/nope", map[string]string{"If-None-Match": `"nf"`})
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get("ETag"))
	assert.Equal(t, "text/html", rsp.Header.Get("Content-Type"))
	assert.Equal(t, "not found", body(t, rsp))
}

func TestServeRedirectsAndGone(t *testing.T) {
	s := newSiteServer(t)

	rsp := get(s, "GET", "/old", nil)
	assert.Equal(t, http.StatusMovedPermanently, rsp.StatusCode)
	assert.Equal(t, "/new", rsp.Header.Get("Location"))
	assert.Empty(t, body(t, rsp))

	rsp = get(s, "GET", "/moved", nil)
	assert.Equal(t, http.StatusFound, rsp.StatusCode)
	assert.Equal(t, "https://example.com/", rsp.Header.Get("Location"))
	assert.Empty(t, rsp.Header.Get("Cache-Control"))

	rsp = get(s, "GET", "/removed", nil)
	assert.Equal(t, http.StatusGone, rsp.StatusCode)
	assert.Equal(t, "public, max-age=100", rsp.Header.Get("Cache-Control"))
}

func TestServeExternalBody(t *testing.T) {
	s := newSiteServer(t)
	rsp := get(s, "GET", "/logo.png", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "9", rsp.Header.Get("Content-Length"))
	assert.Equal(t, "public, max-age=31536000, immutable", rsp.Header.Get("Cache-Control"))
	assert.Equal(t, "PNG-bytes", body(t, rsp))
}

func TestServeHeadHasNoBody(t *testing.T) {
	s := newSiteServer(t)
	rsp := get(s, "HEAD", "/app.js", map[string]string{"Accept-Encoding": "gzip"})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "6", rsp.Header.Get("Content-Length"))
	assert.Empty(t, body(t, rsp))
}

func TestServeMissingBlobFails(t *testing.T) {
	s := newSiteServer(t,
		`INSERT INTO uris VALUES ('/lost', 'RESOURCE', 'LONG')`,
		`INSERT INTO resources VALUES ('/lost', 'text/plain', '"l"')`,
		`INSERT INTO encodings VALUES ('/lost', '', 'FILESYSTEM', CAST('resources/LOST' AS BLOB), 4)`,
	)
	rsp := get(s, "GET", "/lost", nil)
	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get("ETag"))
}

func TestServeCorruptRowFails(t *testing.T) {
	s := newSiteServer(t, `INSERT INTO uris VALUES ('/bad', 'RESOURCE', 'LONG')`)
	rsp := get(s, "GET", "/bad", nil)
	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
}

type brokenRoutes struct{}

func (brokenRoutes) Open(ctx context.Context) (Snapshot, error) {
	return nil, errors.New("database is gone")
}

func (brokenRoutes) Close() error { return nil }

func TestServeProviderFailure(t *testing.T) {
	s := CreateServer(Config{Routes: brokenRoutes{}})
	rsp := get(s, "GET", "/app.js", nil)
	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
	assert.NotEmpty(t, rsp.Header.Get("Server-Timing"))
}

func TestServeMissingSentinelFails(t *testing.T) {
	m, err := LoadMemRoutes(strings.NewReader(memFixture), DefaultSentinel)
	require.NoError(t, err)
	s := CreateServer(Config{Routes: m, Sentinel: "/404"})
	rsp := get(s, "GET", "/nope", nil)
	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
}

func TestServeMemRoutes(t *testing.T) {
	m, err := LoadMemRoutes(strings.NewReader(memFixture), DefaultSentinel)
	require.NoError(t, err)
	s := CreateServer(Config{Routes: m})

	rsp := get(s, "GET", "/app.js", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "console.log(1)", body(t, rsp))

	// identity is smaller than the gzip variant
	rsp = get(s, "GET", "/app.js", map[string]string{"Accept-Encoding": "gzip"})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "console.log(1)", body(t, rsp))
}

func TestServeRedirectIgnoresNegotiation(t *testing.T) {
	s := newSiteServer(t)
	header := map[string]string{
		"Accept-Encoding": "gzip, br",
		"If-None-Match":   `"v1"`,
	}

	rsp := get(s, "GET", "/old", header)
	assert.Equal(t, http.StatusMovedPermanently, rsp.StatusCode)
	assert.Equal(t, "/new", rsp.Header.Get("Location"))
	assert.Empty(t, rsp.Header.Get("ETag"))
	assert.Empty(t, rsp.Header.Get("Content-Encoding"))
	assert.Empty(t, body(t, rsp))

	rsp = get(s, "GET", "/moved", header)
	assert.Equal(t, http.StatusFound, rsp.StatusCode)
	assert.Equal(t, "https://example.com/", rsp.Header.Get("Location"))
	assert.Empty(t, body(t, rsp))
}

// trackedRoutes hands out snapshots that remember being closed.
type trackedRoutes struct {
	RouteProvider
	closes int
}

func (r *trackedRoutes) Open(ctx context.Context) (Snapshot, error) {
	snap, err := r.RouteProvider.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &trackedSnapshot{Snapshot: snap, routes: r}, nil
}

func (r *trackedRoutes) closed() bool { return r.closes > 0 }

type trackedSnapshot struct {
	Snapshot
	routes *trackedRoutes
}

func (s *trackedSnapshot) Close() error {
	s.routes.closes++
	return s.Snapshot.Close()
}

// trackedBlobs notes whether the snapshot was closed when the body was first read.
type trackedBlobs struct {
	routes       *trackedRoutes
	closedAtRead bool
	read         bool
}

func (b *trackedBlobs) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return io.NopCloser(&trackedReader{blobs: b, r: strings.NewReader("big content")}), nil
}

func (b *trackedBlobs) Close() error { return nil }

type trackedReader struct {
	blobs *trackedBlobs
	r     io.Reader
}

func (t *trackedReader) Read(p []byte) (int, error) {
	if !t.blobs.read {
		t.blobs.read = true
		t.blobs.closedAtRead = t.blobs.routes.closed()
	}
	return t.r.Read(p)
}

func TestServeReleasesSnapshotBeforeBody(t *testing.T) {
	m, err := LoadMemRoutes(strings.NewReader(memFixture+`
  - path: /big
    action: SERVE
    cache: LONG
    type: text/plain
    variants:
      - {encoding: "", file: resources/BIG, length: 11}
`), DefaultSentinel)
	require.NoError(t, err)
	routes := &trackedRoutes{RouteProvider: m}
	blobs := &trackedBlobs{routes: routes}
	s := CreateServer(Config{Routes: routes, Blobs: blobs})

	rsp := get(s, "GET", "/big", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "big content", body(t, rsp))
	assert.True(t, blobs.read)
	assert.True(t, blobs.closedAtRead, "snapshot still open while streaming the body")
	assert.Equal(t, 1, routes.closes)

	routes.closes = 0
	rsp = get(s, "GET", "/old", nil)
	assert.Equal(t, http.StatusMovedPermanently, rsp.StatusCode)
	assert.Equal(t, 1, routes.closes)
}
