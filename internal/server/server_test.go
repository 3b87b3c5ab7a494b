package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmark/flowmark/internal/config"
	"github.com/flowmark/flowmark/internal/host"
	"github.com/flowmark/flowmark/internal/hub"
	"github.com/flowmark/flowmark/internal/server"
	"github.com/flowmark/flowmark/internal/store"
	"github.com/flowmark/flowmark/internal/store/inmem"
	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/log"
	"github.com/flowmark/flowmark/pkg/workflow"
)

type testEnv struct {
	host  *host.Host
	store store.Store
	hub   *hub.Hub
	srv   *httptest.Server
}

type failingPinger struct {
	*inmem.Store
}

func (f *failingPinger) Ping(context.Context) error {
	return context.DeadlineExceeded
}

func counterDef() *workflow.Definition {
	return &workflow.Definition{
		Name: "counter",
		Receives: []*workflow.ReceivePoint{
			{
				Method:            "POST",
				Template:          "counter",
				CanCreateInstance: true,
				Handler: func(
					_ context.Context, inv *workflow.Invocation,
				) (any, error) {
					count, _ := inv.State["count"].(float64)
					count++
					inv.State["count"] = count
					return map[string]any{"count": count}, nil
				},
			},
		},
	}
}

func newTestEnv(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.NewDefaultConfig()
	cfg.WorkflowTimeout = 5 * time.Second

	hb := hub.New()
	t.Cleanup(hb.Close)

	h, err := host.New(cfg, counterDef(), st, hb, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), time.Second,
		)
		defer cancel()
		_ = h.Close(ctx)
	})

	s := server.NewServer(h, hb, st)
	srv := httptest.NewServer(s.SetupRoutes())
	t.Cleanup(srv.Close)
	t.Cleanup(s.CloseWebSockets)

	return &testEnv{host: h, store: st, hub: hb, srv: srv}
}

func (e *testEnv) request(
	t *testing.T, method, path, cookie string, payload any,
) (int, http.Header, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, data
}

func (e *testEnv) createInstance(t *testing.T) string {
	t.Helper()
	status, header, _ := e.request(t, http.MethodPost, "/counter", "", nil)
	require.Equal(t, http.StatusOK, status)
	cookie := header.Get("Set-Cookie")
	require.Contains(t, cookie, "WorkflowInstance=")
	return strings.TrimPrefix(cookie, "WorkflowInstance=")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, inmem.New())

	status, _, data := env.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, api.HealthStatusHealthy, health.Status)
	assert.Equal(t, "flowmark", health.Service)
}

func TestHealthUnreachableStore(t *testing.T) {
	env := newTestEnv(t, &failingPinger{Store: inmem.New()})

	status, _, data := env.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, api.HealthStatusUnhealthy, health.Status)
}

func TestListInstances(t *testing.T) {
	env := newTestEnv(t, inmem.New())
	id := env.createInstance(t)

	status, _, data := env.request(
		t, http.MethodGet, "/engine/instances", "", nil,
	)
	require.Equal(t, http.StatusOK, status)

	var list api.InstancesListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, api.InstanceID(id), list.Instances[0].ID)
	assert.NotEmpty(t, list.Instances[0].Bookmarks)
}

func TestGetInstance(t *testing.T) {
	env := newTestEnv(t, inmem.New())
	id := env.createInstance(t)

	status, _, data := env.request(
		t, http.MethodGet, "/engine/instances/"+id, "", nil,
	)
	require.Equal(t, http.StatusOK, status)

	var snap api.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, api.InstanceID(id), snap.ID)
	assert.Equal(t, float64(1), snap.State["count"])
}

func TestGetInstanceNotFound(t *testing.T) {
	env := newTestEnv(t, inmem.New())

	status, _, _ := env.request(
		t, http.MethodGet, "/engine/instances/missing", "", nil,
	)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTerminateInstance(t *testing.T) {
	env := newTestEnv(t, inmem.New())
	id := env.createInstance(t)

	status, _, _ := env.request(
		t, http.MethodDelete, "/engine/instances/"+id, "", nil,
	)
	require.Equal(t, http.StatusNoContent, status)

	status, _, _ = env.request(
		t, http.MethodGet, "/engine/instances/"+id, "", nil,
	)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestQueryInstances(t *testing.T) {
	env := newTestEnv(t, inmem.New())
	id := env.createInstance(t)

	status, _, data := env.request(
		t, http.MethodPost, "/engine/instances/query", "",
		api.QueryInstancesRequest{Path: "count", Value: "1"},
	)
	require.Equal(t, http.StatusOK, status)

	var result api.QueryInstancesResponse
	require.NoError(t, json.Unmarshal(data, &result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, api.InstanceID(id), result.Instances[0])
}

func TestQueryInstancesRequiresPath(t *testing.T) {
	env := newTestEnv(t, inmem.New())

	status, _, _ := env.request(
		t, http.MethodPost, "/engine/instances/query", "",
		api.QueryInstancesRequest{Value: "1"},
	)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDispatchThroughRouter(t *testing.T) {
	env := newTestEnv(t, inmem.New())

	status, header, data := env.request(
		t, http.MethodPost, "/counter", "", nil,
	)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, header.Get("Set-Cookie"), "WorkflowInstance=")
	assert.JSONEq(t, `{"count":1}`, string(data))

	cookie := header.Get("Set-Cookie")
	status, _, data = env.request(t, http.MethodPost, "/counter", cookie, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"count":2}`, string(data))
}

func TestWebSocketStreamsLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, inmem.New())

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/engine/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	env.createInstance(t)

	require.NoError(t,
		conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev api.InstanceEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, api.EventTypeInstanceCreated, ev.Type)
	assert.NotEmpty(t, ev.InstanceID)
}
