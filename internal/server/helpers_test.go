package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/teamchat/internal/access"
	"github.com/Tyrowin/teamchat/internal/realtime"
	"github.com/Tyrowin/teamchat/internal/server"
)

const (
	testOrigin       = "http://localhost:8080"
	testPublishToken = "publish-secret"
)

// stubVerifier grants tokens listed in principals. Channel 13 is forbidden
// for everyone and the token "db-down" simulates an unavailable database.
type stubVerifier struct {
	principals map[string]access.Principal
}

func (v stubVerifier) Verify(_ context.Context, req access.Request) (access.Principal, error) {
	if req.SessionToken == "db-down" {
		return access.Principal{}, errors.New("connection refused")
	}
	p, ok := v.principals[req.SessionToken]
	if !ok {
		return access.Principal{}, access.ErrUnauthenticated
	}
	if req.ChannelID == 13 {
		return access.Principal{}, access.ErrForbidden
	}
	return p, nil
}

func defaultPrincipals() map[string]access.Principal {
	return map[string]access.Principal{
		"tok-1": {SubscriberID: 1, DisplayName: "Ada"},
		"tok-2": {SubscriberID: 2, DisplayName: "Bo"},
		"tok-3": {SubscriberID: 3, DisplayName: "Cy"},
	}
}

type testEnv struct {
	registry *realtime.Registry
	handler  *server.Handler
	server   *httptest.Server
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T, customize func(cfg *server.Config)) *testEnv {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(cfg)
	}

	registry := realtime.NewRegistry(realtime.WithSendTimeout(time.Second))
	clock := clockwork.NewFakeClock()
	handler := server.NewHandler(registry, stubVerifier{principals: defaultPrincipals()}, cfg,
		server.WithClock(clock))

	publisher := server.NewPublisher(registry, testPublishToken, nil)

	ts := httptest.NewServer(server.SetupRoutes(handler, publisher, nil))
	t.Cleanup(func() {
		_ = handler.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testEnv{registry: registry, handler: handler, server: ts, clock: clock}
}

func (e *testEnv) wsURL(workspace, channel string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/workspaces/" + workspace + "/channels/" + channel
}

func (e *testEnv) dialRaw(t *testing.T, url, token, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	if token != "" {
		header.Set("Cookie", (&http.Cookie{Name: server.SessionCookie, Value: token}).String())
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// subscribe dials channel and waits for the connected frame, so the
// subscription is registered when it returns.
func (e *testEnv) subscribe(t *testing.T, channel, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := e.dialRaw(t, e.wsURL("1", channel), token, testOrigin)
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, realtime.TypeConnected, frame["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read error: %v", err)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}
