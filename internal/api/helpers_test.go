package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/api"
	"github.com/libevm/shlop-app-sub002/internal/clock"
	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/game"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/session"
	"github.com/libevm/shlop-app-sub002/internal/world"
)

const (
	startMap = "100000000"
	otherMap = "100000001"
	adminKey = "test-admin-key"
	origin   = "http://localhost:3000"
)

// testEnv is a running loop, hub and router behind an httptest server.
type testEnv struct {
	cfg    config.AppConfig
	tokens *session.TokenStore
	store  *persist.MemoryStore
	hub    *api.Hub
	loop   *game.Loop
	server *httptest.Server
}

func newTestEnv(t *testing.T, tweak ...func(*config.AppConfig)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Session.StartMap = startMap
	cfg.Server.AdminKey = adminKey
	for _, fn := range tweak {
		fn(&cfg)
	}

	cat, err := world.New([]world.Map{
		{ID: startMap, Portals: []world.Portal{{Name: "sp", Type: world.PortalSpawn, X: 10, Y: 20}}},
		{ID: otherMap, Portals: []world.Portal{{Name: "sp", Type: world.PortalSpawn, X: -5, Y: 0}}},
	}, nil, nil, world.LootTable{})
	require.NoError(t, err)

	logger := zap.NewNop()
	store := persist.NewMemoryStore()
	saver := persist.NewAsyncSaver(store, time.Second, logger)
	d := game.NewDispatcher(cfg, game.Deps{
		Maps:     cat,
		NPCs:     cat,
		Reactors: cat,
		Saver:    saver,
		Logger:   logger,
	})

	tokens := session.NewTokenStore(cfg.Session.TokenTTL, clock.Real{})
	auth := session.NewAuthenticator(tokens, saver, time.Second, logger)
	hub := api.NewHub(api.HubConfigFrom(cfg), auth, journal.New(journal.DefaultOptions(), logger), logger)
	loop := game.NewLoop(d, hub, cfg.Sweep, 64, logger)
	hub.Bind(loop)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(stopped)
	}()

	router := api.NewRouter(api.RouterConfig{
		Loop:     loop,
		Tokens:   tokens,
		Hub:      hub,
		AdminKey: cfg.Server.AdminKey,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: 1000, // High limit for tests
			Burst:             1000,
		},
	})
	ts := httptest.NewServer(router)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = hub.Shutdown(shutdownCtx)
		ts.Close()
		cancel()
		<-stopped
		_ = saver.Wait(shutdownCtx)
	})

	return &testEnv{cfg: cfg, tokens: tokens, store: store, hub: hub, loop: loop, server: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), http.Header{"Origin": {origin}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// login dials, authenticates as name and waits for the change_map directive.
func (e *testEnv) login(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	token, _ := e.tokens.Issue(name)
	conn := e.dial(t)
	send(t, conn, map[string]any{"type": "auth", "token": token})
	readUntil(t, conn, "change_map")
	return conn
}

// enter logs in and completes the map handshake.
func (e *testEnv) enter(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	conn := e.login(t, name)
	send(t, conn, map[string]any{"type": "map_ready"})
	readUntil(t, conn, "map_state")
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)

		var event map[string]any
		require.NoError(t, json.Unmarshal(data, &event))
		if event["type"] == typ {
			return event
		}
	}
}

// closeCode reads until the server closes conn and returns the close code.
func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			return ce.Code
		}
	}
}

func doRequest(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(api.AdminKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
