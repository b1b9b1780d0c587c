package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSettings(t *testing.T) {
	cases := map[string]Config{
		"endpoint": {AccessKey: "a", SecretKey: "s", Bucket: "b"},
		"keys":     {Endpoint: "localhost:9000", Bucket: "b"},
		"bucket":   {Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			assert.True(t, domain.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestStore_Keys(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "site", Prefix: "/releases/"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.region)

	assert.Equal(t, "releases/css/app.min.css", s.key("css/app.min.css"))
	assert.Equal(t, "releases/cache/optimize-image/abc", s.key("cache", "optimize-image", "abc"))

	bare, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "site"})
	require.NoError(t, err)
	assert.Equal(t, "index.html", bare.key("/index.html"))
}

func TestContentType(t *testing.T) {
	assert.Contains(t, contentType("a.css"), "text/css")
	assert.Equal(t, "image/png", contentType("logo.png"))
	assert.Equal(t, "application/octet-stream", contentType("LICENSE"))
}

type object struct {
	data        []byte
	contentType string
}

// bucketServer is an in-memory, path-style S3 endpoint.
type bucketServer struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]object
	deny    bool
}

func newBucketServer() *bucketServer {
	return &bucketServer{buckets: make(map[string]bool), objects: make(map[string]object)}
}

func (b *bucketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		switch r.Method {
		case http.MethodPut:
			b.buckets[bucket] = true
		case http.MethodHead, http.MethodGet:
			if !b.buckets[bucket] {
				s3Error(w, r, http.StatusNotFound, "NoSuchBucket")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	id := bucket + "/" + key
	switch r.Method {
	case http.MethodPut:
		if b.deny {
			s3Error(w, r, http.StatusForbidden, "AccessDenied")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s3Error(w, r, http.StatusBadRequest, "IncompleteBody")
			return
		}
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			if body, err = decodeChunked(body); err != nil {
				s3Error(w, r, http.StatusBadRequest, "IncompleteBody")
				return
			}
		}
		b.objects[id] = object{data: body, contentType: r.Header.Get("Content-Type")}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := b.objects[id]
		if !ok {
			s3Error(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func s3Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><Resource>%s</Resource><RequestId>kiln</RequestId></Error>`,
		code, code, r.URL.Path)
}

// decodeChunked strips aws-chunked framing from a streaming-signed upload.
func decodeChunked(body []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(body))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(size, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newTestStore(t *testing.T, prefix string) (*Store, *bucketServer) {
	t.Helper()
	backend := newBucketServer()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	s, err := New(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "kiln",
		SecretKey: "kiln-secret",
		Bucket:    "site",
		Prefix:    prefix,
	})
	require.NoError(t, err)
	return s, backend
}

func TestSink_Write(t *testing.T) {
	s, backend := newTestStore(t, "releases")

	records := []domain.FileRecord{
		domain.NewRecord("css/app.min.css", []byte("a{}"), time.Time{}),
		domain.NewRecord("index.html", []byte("<html></html>"), time.Time{}),
	}
	require.NoError(t, Sink{Store: s}.Write(context.Background(), records))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.True(t, backend.buckets["site"], "bucket is created on first use")

	css := backend.objects["site/releases/css/app.min.css"]
	assert.Equal(t, "a{}", string(css.data))
	assert.Contains(t, css.contentType, "text/css")
	assert.Equal(t, "<html></html>", string(backend.objects["site/releases/index.html"].data))
}

func TestSink_WriteFailureIsIOError(t *testing.T) {
	s, backend := newTestStore(t, "")
	backend.mu.Lock()
	backend.deny = true
	backend.mu.Unlock()

	err := Sink{Store: s}.Write(context.Background(), []domain.FileRecord{
		domain.NewRecord("index.html", []byte("x"), time.Time{}),
	})

	var ioErr *domain.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "upload", ioErr.Op)
	assert.Equal(t, "s3://site/index.html", ioErr.Path)
}

func TestCache_Contract(t *testing.T) {
	s, _ := newTestStore(t, "kiln")
	ports.RunBuildCacheContract(t, Cache{Store: s})
}
