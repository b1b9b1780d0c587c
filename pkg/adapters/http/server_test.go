package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/reload"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *reload.Hub, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html><body><h1>hi</h1></body></html>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "css"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "css/app.min.css"), []byte("body{color:red}"), 0644))

	hub := reload.NewHub()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "kiln_up 1\n") })
	srv := httptest.NewServer(NewServer(root, hub, WithMetrics(metrics)).Handler())
	t.Cleanup(srv.Close)
	return srv, hub, root
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeStatic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	t.Run("HTML Gets Client", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/index.html")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `<html><body><h1>hi</h1><script src="/__kiln/client.js"></script></body></html>`, body)
	})

	t.Run("Directory Index", func(t *testing.T) {
		_, body := get(t, srv.URL+"/")
		assert.Contains(t, body, "/__kiln/client.js")
	})

	t.Run("Assets Untouched", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/css/app.min.css")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "body{color:red}", body)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	})

	t.Run("Missing", func(t *testing.T) {
		resp, _ := get(t, srv.URL+"/nope.js")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestInjectClient(t *testing.T) {
	assert.Equal(t, `<p>x</p><script src="/__kiln/client.js"></script>`, string(InjectClient([]byte("<p>x</p>"))))
	assert.Equal(t, `<BODY><script src="/__kiln/client.js"></script></BODY>`, string(InjectClient([]byte("<BODY></BODY>"))))

	once := InjectClient([]byte("<body></body>"))
	assert.Equal(t, string(once), string(InjectClient(once)))
}

func TestHealthClientAndMetrics(t *testing.T) {
	srv, hub, _ := newTestServer(t)
	hub.Subscribe()

	resp, body := get(t, srv.URL+"/__kiln/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["clients"])

	resp, body = get(t, srv.URL+"/__kiln/client.js")
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "/__kiln/events")

	_, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, "kiln_up 1\n", body)
}

func TestSubscribeEvents(t *testing.T) {
	srv, hub, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/__kiln/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	hub.Broadcast(domain.Signal{Kind: domain.SignalStyleUpdate, Paths: []string{"css/app.min.css"}})

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var sig domain.Signal
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &sig))
		assert.Equal(t, domain.SignalStyleUpdate, sig.Kind)
		assert.Equal(t, []string{"css/app.min.css"}, sig.Paths)
		return
	}
	t.Fatal("stream ended without a signal")
}

func TestSubscribeSocket(t *testing.T) {
	srv, hub, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/__kiln/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(domain.Signal{Kind: domain.SignalBuildError, Message: "styles failed"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sig domain.Signal
	require.NoError(t, conn.ReadJSON(&sig))
	assert.Equal(t, domain.SignalBuildError, sig.Kind)
	assert.Equal(t, "styles failed", sig.Message)

	conn.Close()
	hub.Broadcast(domain.Signal{Kind: domain.SignalFullReload})
	require.Eventually(t, func() bool {
		hub.Broadcast(domain.Signal{Kind: domain.SignalFullReload})
		return hub.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
