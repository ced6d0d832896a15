package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/teamchat/internal/realtime"
)

// PublishRoute is the endpoint the web application posts message events to.
const PublishRoute = "/internal/channels/{channelID}/events"

// maxEventBytes caps a publish request body.
const maxEventBytes = 1 << 20

// Event is a message lifecycle event published by the web application after
// it has committed the change.
type Event struct {
	Type           string `json:"type" validate:"oneof=new_message message_updated message_deleted"`
	MessageID      int64  `json:"message_id" validate:"gt=0"`
	SubscriberID   int64  `json:"subscriber_id" validate:"required_if=Type new_message"`
	SubscriberName string `json:"subscriber_name"`
	HTML           string `json:"html"`
}

// Publisher turns published events into channel notifications.
type Publisher struct {
	registry *realtime.Registry
	token    string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher that accepts requests bearing token.
func NewPublisher(registry *realtime.Registry, token string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{registry: registry, token: token, logger: logger}
}

// ServeHTTP handles POST /internal/channels/{channelID}/events. Delivery is
// best effort, so an accepted event is answered with 202 whatever happened to
// individual subscribers.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		http.Error(w, "bad channel id", http.StatusBadRequest)
		return
	}

	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch := realtime.ChannelID(channelID)
	switch ev.Type {
	case realtime.TypeNewMessage:
		p.registry.NotifyNewMessage(r.Context(), ch, realtime.NewMessage{
			MessageID:  ev.MessageID,
			AuthorID:   realtime.SubscriberID(ev.SubscriberID),
			AuthorName: ev.SubscriberName,
			HTML:       ev.HTML,
		})
	case realtime.TypeMessageUpdated:
		p.registry.NotifyMessageUpdated(r.Context(), ch, ev.MessageID, ev.HTML)
	case realtime.TypeMessageDeleted:
		p.registry.NotifyMessageDeleted(r.Context(), ch, ev.MessageID)
	}

	p.logger.Debug("Published event",
		"channel_id", channelID,
		"type", ev.Type,
		"message_id", ev.MessageID)
	w.WriteHeader(http.StatusAccepted)
}

func (p *Publisher) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || p.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(p.token)) == 1
}
