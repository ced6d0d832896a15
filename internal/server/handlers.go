// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/teamchat/internal/access"
	"github.com/Tyrowin/teamchat/internal/realtime"
)

// SessionCookie is the cookie carrying the web session token.
const SessionCookie = "session_token"

// Handler serves channel subscriptions over WebSocket.
type Handler struct {
	registry *realtime.Registry
	verifier access.Verifier
	upgrader websocket.Upgrader
	cfg      ClientConfig
	clock    clockwork.Clock
	logger   *slog.Logger

	// ctx is cancelled by Shutdown; every client is closed when it ends.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock replaces the clock driving keepalive pings and rate limiting.
func WithClock(clock clockwork.Clock) HandlerOption {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHandlerLogger sets the logger for the handler and its clients.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler that verifies every subscription with verifier
// before registering it in registry.
func NewHandler(registry *realtime.Registry, verifier access.Verifier, cfg *Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		verifier: verifier,
		cfg:      sanitizeClientConfig(cfg.Client),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	origins := newOriginPolicy(cfg.AllowedOrigins, h.logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	return h
}

// ServeWebSocket handles GET /ws/workspaces/{workspaceID}/channels/{channelID}.
// Access is decided before the upgrade: a denial is answered with 403 and a
// verifier failure with 503.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.isClosing() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	req, err := parseSubscription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger := h.logger.With(
		"workspace_id", req.WorkspaceID,
		"channel_id", req.ChannelID,
		"remote_addr", r.RemoteAddr)

	principal, err := h.verifier.Verify(r.Context(), req)
	switch {
	case access.IsDenied(err):
		logger.Info("WebSocket subscription denied", "reason", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case err != nil:
		logger.Error("Access verification failed", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	if !h.track() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, ClientOptions{
		Registry:     h.registry,
		ChannelID:    req.ChannelID,
		SubscriberID: principal.SubscriberID,
		Name:         principal.DisplayName,
		Addr:         r.RemoteAddr,
		Config:       h.cfg,
		Clock:        h.clock,
		Logger:       h.logger,
	})

	client.Run(h.ctx)
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// track counts a connection as active unless shutdown has begun.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

func parseSubscription(r *http.Request) (access.Request, error) {
	workspaceID, err := strconv.ParseInt(chi.URLParam(r, "workspaceID"), 10, 64)
	if err != nil {
		return access.Request{}, fmt.Errorf("invalid workspace id: %q", chi.URLParam(r, "workspaceID"))
	}
	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		return access.Request{}, fmt.Errorf("invalid channel id: %q", chi.URLParam(r, "channelID"))
	}

	req := access.Request{
		WorkspaceID: workspaceID,
		ChannelID:   realtime.ChannelID(channelID),
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		req.SessionToken = cookie.Value
	}
	return req, nil
}

// Shutdown stops accepting subscriptions, closes every registered connection
// and waits for the client goroutines to finish or for timeout to elapse.
func (h *Handler) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating realtime shutdown...")
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.cancel()
	h.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Realtime shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Realtime shutdown timeout reached, some connections may still be running")
		return context.DeadlineExceeded
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "teamchat realtime server is running!")
}

// TestPageHandler serves an HTML page that subscribes to a channel socket. The
// browser must already hold a session cookie for the target workspace.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		slog.Error("Error writing HTML response", "error", err)
	}
}

var errMissingUpgrade = errors.New("missing websocket upgrade")

// requireUpgrade rejects plain HTTP requests to the socket endpoint before
// access verification runs.
func requireUpgrade(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, errMissingUpgrade.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>teamchat realtime test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #frames {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="number"] { width: 100px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>teamchat realtime test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="number" id="workspace" placeholder="workspace" value="1">
        <input type="number" id="channel" placeholder="channel" value="1">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button id="pingButton" onclick="send({type: 'ping'})" disabled>Ping</button>
        <button id="typingButton" onclick="send({type: 'typing'})" disabled>Typing</button>
    </div>

    <div id="frames"></div>

    <script>
        let ws = null;
        const framesDiv = document.getElementById('frames');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');
        const pingButton = document.getElementById('pingButton');
        const typingButton = document.getElementById('typingButton');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            framesDiv.appendChild(line);
            framesDiv.scrollTop = framesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            pingButton.disabled = !connected;
            typingButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const workspace = document.getElementById('workspace').value;
            const channel = document.getElementById('channel').value;
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/workspaces/' + workspace + '/channels/' + channel);

            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) { addLine(event.data, 'green'); };
            ws.onclose = function(event) {
                addLine('Connection closed (' + event.code + ')');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() { addLine('Connection error'); };
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                const text = JSON.stringify(frame);
                ws.send(text);
                addLine(text, 'blue');
            }
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }
    </script>
</body>
</html>`
