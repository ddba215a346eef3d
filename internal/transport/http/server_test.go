package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/client"
	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/infra/database"
	"github.com/cocaine/cocaine-framework-go/internal/infra/metrics"
	"github.com/cocaine/cocaine-framework-go/internal/infra/repository/journal"
	httpauth "github.com/cocaine/cocaine-framework-go/internal/transport/http/util/auth"
	"github.com/cocaine/cocaine-framework-go/internal/worker"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxyConfig = `
services:
  echo:
    endpoints: ["inproc://echo"]
  storage:
    endpoints: ["inproc://storage"]
`

type fixture struct {
	srv     *httptest.Server
	metrics *metrics.Metrics
	journal journal.Repo
}

func newFixture(t *testing.T, auth *httpauth.Authenticator) *fixture {
	t.Helper()
	mux := worker.NewMux()
	worker.RegisterDefaults(mux, "echo")
	worker.RegisterDefaults(mux, "storage")
	mux.Handle("echo", "fail", func(context.Context, []byte, worker.Emitter) error {
		return dealer.NewClientError(dealer.CodeInternal, "worker crashed")
	})
	mux.Handle("echo", "late-fail", func(_ context.Context, _ []byte, emit worker.Emitter) error {
		emit([]byte("partial"))
		return dealer.NewClientError(dealer.CodeInternal, "worker crashed")
	})

	local := func(config.ServiceConfig, config.TransportConfig) (client.Backend, error) {
		return worker.NewLocal(mux, 64), nil
	}
	d, err := client.New(proxyConfig, client.WithBackendFactory(config.TransportZMQ, local))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	repo, err := journal.NewRepoSQLite(database.Config{DBPath: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	m := metrics.New()
	gw := dealer.NewGateway(d, dealer.WithJournal(repo), dealer.WithObserver(m))
	s := NewServer(Options{
		Gateway:     gw,
		Services:    d.Services(),
		MaxBodySize: 1 << 10,
		Metrics:     m,
		Journal:     repo,
		Auth:        auth,
	})
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, metrics: m, journal: repo}
}

type envelope struct {
	Code     int             `json:"code"`
	Category string          `json:"category"`
	Error    string          `json:"error"`
	Data     json.RawMessage `json:"data"`
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestProxyStreamsChunks(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/dealer/echo/chunks", "application/octet-stream", strings.NewReader("ab\n\ncd"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(body))
	assert.Equal(t, "3", resp.Trailer.Get("X-Dealer-Chunks"))
	assert.Empty(t, resp.Trailer.Get("X-Dealer-Error"))

	id := resp.Header.Get("X-Dealer-Request")
	require.NotEmpty(t, id)
	require.Eventually(t, func() bool {
		entry, err := f.journal.Get(context.Background(), id)
		return err == nil && entry.State == string(dealer.StateCompleted)
	}, time.Second, 10*time.Millisecond)
}

func TestProxyEmptyResponse(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/dealer/echo/repeat", "text/plain", strings.NewReader("0"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
	assert.Equal(t, "0", resp.Trailer.Get("X-Dealer-Chunks"))
}

func TestProxyErrorStatus(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		path     string
		body     string
		status   int
		category string
	}{
		{"/dealer/nope/ping", "", http.StatusNotFound, "unresolved_location"},
		{"/dealer/echo/missing", "", http.StatusNotFound, "unresolved_location"},
		{"/dealer/echo/repeat", "many", http.StatusBadRequest, "malformed_request"},
		{"/dealer/echo/fail", "", http.StatusBadGateway, "transport"},
		{"/dealer/echo/ping?timeout=-1", "", http.StatusBadRequest, ""},
		{"/dealer/echo/ping?urgent=maybe", "", http.StatusBadRequest, ""},
		{"/dealer/echo/ping", strings.Repeat("x", 2<<10), http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Post(f.srv.URL+tt.path, "text/plain", strings.NewReader(tt.body))
			require.NoError(t, err)
			env := decode(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.status, env.Code)
			assert.Equal(t, tt.category, env.Category)
		})
	}
}

func TestProxyFailureAfterFirstChunk(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/dealer/echo/late-fail", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "partial", string(body))
	assert.Contains(t, resp.Trailer.Get("X-Dealer-Error"), "worker crashed")
}

func TestParseOverridesAppliesToPolicy(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/dealer/storage/ping?urgent=true&timeout=1.5&max_retries=2", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	entry, err := f.journal.Get(context.Background(), resp.Header.Get("X-Dealer-Request"))
	require.NoError(t, err)
	assert.True(t, entry.Urgent)
	assert.Equal(t, int64(1500), entry.TimeoutMs)
	assert.Equal(t, 2, entry.MaxRetries)
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/echo/chunks"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("x\n\ny")))

	var got []string
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.Equal(t, websocket.BinaryMessage, kind)
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{"x", "", "y"}, got)
}

func TestWebSocketFailureClosesWithError(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/nope/ping"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, nil))

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
	assert.True(t, strings.HasPrefix(ce.Text, "unresolved_location"))
}

func TestStatusMetricsAndJournal(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/dealer/echo/ping", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/status")
	require.NoError(t, err)
	env := decode(t, resp)
	var status statusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, []string{"echo", "storage"}, status.Services)

	resp, err = http.Get(f.srv.URL + "/journal?service=echo")
	require.NoError(t, err)
	env = decode(t, resp)
	var entries []journal.EntryDAO
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "ping", entries[0].Handle)

	resp, err = http.Get(f.srv.URL + "/journal?limit=zero")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, decode(t, resp).Code)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `dealer_sends_total{outcome="ok",service="echo"} 1`)
}

func TestAuthMiddleware(t *testing.T) {
	auth, err := httpauth.NewAuthenticator("s3cret", time.Hour)
	require.NoError(t, err)
	f := newFixture(t, auth)

	post := func(path, token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader("hi"))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("/dealer/echo/ping", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post("/dealer/echo/ping", "garbage").StatusCode)

	storageOnly, err := auth.GenerateToken("ci", "storage")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, post("/dealer/echo/ping", storageOnly).StatusCode)
	assert.Equal(t, http.StatusOK, post("/dealer/storage/ping", storageOnly).StatusCode)

	resp, err := http.Get(f.srv.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, decode(t, resp).Code)
}
