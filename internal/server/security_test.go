package server_test

import (
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/teamchat/internal/server"
)

func TestSubscriptionRejectedBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		workspace  string
		channel    string
		token      string
		wantStatus int
	}{
		{name: "missing session", workspace: "1", channel: "42", wantStatus: http.StatusForbidden},
		{name: "unknown session", workspace: "1", channel: "42", token: "nope", wantStatus: http.StatusForbidden},
		{name: "forbidden channel", workspace: "1", channel: "13", token: "tok-1", wantStatus: http.StatusForbidden},
		{name: "verifier unavailable", workspace: "1", channel: "42", token: "db-down", wantStatus: http.StatusServiceUnavailable},
		{name: "non-integer channel", workspace: "1", channel: "general", token: "tok-1", wantStatus: http.StatusBadRequest},
		{name: "non-integer workspace", workspace: "acme", channel: "42", token: "tok-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := env.dialRaw(t, env.wsURL(tt.workspace, tt.channel), tt.token, testOrigin)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	assert.Zero(t, env.registry.Stats().Connections)
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{name: "allowed origin", allowed: []string{testOrigin}, origin: testOrigin, wantOK: true},
		{name: "case-insensitive host", allowed: []string{testOrigin}, origin: "HTTP://LOCALHOST:8080", wantOK: true},
		{name: "foreign origin", allowed: []string{testOrigin}, origin: "http://evil.example", wantOK: false},
		{name: "missing origin", allowed: []string{testOrigin}, origin: "", wantOK: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://anything.example", wantOK: true},
		{name: "malformed origin", allowed: []string{"*"}, origin: "not a url", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *server.Config) {
				cfg.AllowedOrigins = tt.allowed
			})

			conn, resp, err := env.dialRaw(t, env.wsURL("1", "1"), "tok-1", tt.origin)
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, "connected", readFrame(t, conn)["type"])
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Zero(t, env.registry.RoomSize(1))
		})
	}
}

func TestPlainHTTPToSocketRouteIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/ws/workspaces/1/channels/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/ws/workspaces/1/channels/1", http.NoBody)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
