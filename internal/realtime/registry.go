// Package realtime owns the live channel subscriptions of the process and fans
// message events out to them.
//
// A Registry groups connections by channel and then by subscriber. Rooms are
// created on first Connect and removed as soon as their last subscriber leaves.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChannelID identifies a chat channel.
type ChannelID int64

// SubscriberID identifies the principal behind a connection.
type SubscriberID int64

// DefaultSendTimeout bounds a single per-connection send during a broadcast.
const DefaultSendTimeout = 2 * time.Second

// errNotReady reports a connection whose connected frame was still pending
// when the send timeout elapsed.
var errNotReady = errors.New("connection not ready")

// member is one registered connection. ready is closed once the connected
// frame has been handed to conn, so broadcasts never overtake it.
type member struct {
	conn  Conn
	ready chan struct{}
}

type room map[SubscriberID]*member

// Stats is a point-in-time view of the registry size.
type Stats struct {
	Rooms       int
	Connections int
}

// Registry is the in-process connection registry. The zero value is not
// usable; construct one with NewRegistry.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[ChannelID]room
	logger      *slog.Logger
	observer    Observer
	sendTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle and failure events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver attaches an Observer that is notified of registry events.
func WithObserver(observer Observer) Option {
	return func(r *Registry) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithSendTimeout bounds each per-connection send.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[ChannelID]room),
		logger:      slog.Default(),
		observer:    nopObserver{},
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers conn under (channelID, subscriberID), replacing any
// connection already registered for that pair. The replaced connection is not
// closed. A connected frame is sent to conn once it is registered and is
// always the first frame conn receives.
func (r *Registry) Connect(ctx context.Context, channelID ChannelID, subscriberID SubscriberID, conn Conn) {
	m, replaced, size := r.add(channelID, subscriberID, conn)

	r.observer.Connected(channelID)
	r.logger.Info("Subscriber connected",
		"channel_id", channelID,
		"subscriber_id", subscriberID,
		"replaced", replaced,
		"room_size", size)

	ack, err := encodeFrame(ConnectedFrame{ChannelID: channelID, SubscriberID: subscriberID})
	if err != nil {
		close(m.ready)
		r.logger.Error("Failed to encode connected frame", "channel_id", channelID, "error", err)
		return
	}

	res := r.send(ctx, conn, ack)
	close(m.ready)
	if res.Status == SendFatal {
		r.logger.Warn("Connected frame could not be delivered",
			"channel_id", channelID,
			"subscriber_id", subscriberID,
			"error", res.Err)
		r.evict(channelID, subscriberID, conn)
	}
}

func (r *Registry) add(channelID ChannelID, subscriberID SubscriberID, conn Conn) (*member, bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[channelID]
	if !ok {
		members = make(room)
		r.rooms[channelID] = members
	}
	_, replaced := members[subscriberID]
	m := &member{conn: conn, ready: make(chan struct{})}
	members[subscriberID] = m
	return m, replaced, len(members)
}

// Disconnect removes (channelID, subscriberID) only if conn is the connection
// currently registered for that pair, then closes conn. It is a no-op when the
// pair is absent or has been replaced by a newer connection.
func (r *Registry) Disconnect(channelID ChannelID, subscriberID SubscriberID, conn Conn) {
	r.disconnect(channelID, subscriberID, conn, false)
}

func (r *Registry) disconnect(channelID ChannelID, subscriberID SubscriberID, conn Conn, evicted bool) {
	removed, remaining := r.remove(channelID, subscriberID, conn)
	if !removed {
		return
	}
	if evicted {
		r.observer.Evicted(channelID)
	}

	if err := conn.Close(); err != nil {
		r.logger.Debug("Error closing connection",
			"channel_id", channelID,
			"subscriber_id", subscriberID,
			"error", err)
	}

	r.observer.Disconnected(channelID)
	r.logger.Info("Subscriber disconnected",
		"channel_id", channelID,
		"subscriber_id", subscriberID,
		"evicted", evicted,
		"room_size", remaining)
}

func (r *Registry) remove(channelID ChannelID, subscriberID SubscriberID, conn Conn) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[channelID]
	if !ok {
		return false, 0
	}
	current, ok := members[subscriberID]
	if !ok || current.conn != conn {
		return false, len(members)
	}

	delete(members, subscriberID)
	if len(members) == 0 {
		delete(r.rooms, channelID)
	}
	return true, len(members)
}

// BroadcastOption adjusts a single Broadcast call.
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	exclude    SubscriberID
	hasExclude bool
}

// Excluding skips the connection registered under subscriberID.
func Excluding(subscriberID SubscriberID) BroadcastOption {
	return func(o *broadcastOptions) {
		o.exclude = subscriberID
		o.hasExclude = true
	}
}

type target struct {
	subscriberID SubscriberID
	*member
}

// Broadcast delivers payload to every connection in the channel's room,
// optionally excluding one subscriber. Delivery is best effort: failures are
// handled here and never reported to the caller. Targets are sent to
// concurrently, so a stalled connection costs at most one send timeout and
// never delays the others. Connections whose send fails fatally are
// disconnected after the pass.
func (r *Registry) Broadcast(ctx context.Context, channelID ChannelID, payload []byte, opts ...BroadcastOption) {
	var o broadcastOptions
	for _, opt := range opts {
		opt(&o)
	}

	targets := r.snapshot(channelID, o)
	if len(targets) == 0 {
		return
	}

	results := make([]SendResult, len(targets))
	if len(targets) == 1 {
		results[0] = r.deliver(ctx, targets[0], payload)
	} else {
		var wg sync.WaitGroup
		for i, t := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = r.deliver(ctx, t, payload)
			}()
		}
		wg.Wait()
	}

	var dead []target
	for i, t := range targets {
		res := results[i]
		switch res.Status {
		case SendOK:
			r.observer.Delivered(channelID)
		case SendRetriable:
			r.observer.SendFailed(channelID, SendRetriable)
			r.logger.Warn("Dropped frame for subscriber",
				"channel_id", channelID,
				"subscriber_id", t.subscriberID,
				"error", res.Err)
		default:
			r.observer.SendFailed(channelID, SendFatal)
			r.logger.Warn("Failed to send to subscriber",
				"channel_id", channelID,
				"subscriber_id", t.subscriberID,
				"error", res.Err)
			dead = append(dead, t)
		}
	}

	for _, t := range dead {
		r.evict(channelID, t.subscriberID, t.conn)
	}
}

func (r *Registry) snapshot(channelID ChannelID, o broadcastOptions) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[channelID]
	targets := make([]target, 0, len(members))
	for subscriberID, m := range members {
		if o.hasExclude && subscriberID == o.exclude {
			continue
		}
		targets = append(targets, target{subscriberID: subscriberID, member: m})
	}
	return targets
}

// deliver waits for the target's connected frame to be queued, then sends.
func (r *Registry) deliver(ctx context.Context, t target, payload []byte) SendResult {
	select {
	case <-t.ready:
	default:
		timer := time.NewTimer(r.sendTimeout)
		defer timer.Stop()
		select {
		case <-t.ready:
		case <-timer.C:
			return Retriable(errNotReady)
		}
	}
	return r.send(ctx, t.conn, payload)
}

// send runs one Send with the registry's timeout. Delivery is detached from the
// caller's cancellation: a request finishing must not look like a dead peer.
func (r *Registry) send(ctx context.Context, conn Conn, payload []byte) (res SendResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Fatal(fmt.Errorf("send panicked: %v", rec))
		}
	}()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.sendTimeout)
	defer cancel()

	return conn.Send(sendCtx, payload)
}

func (r *Registry) evict(channelID ChannelID, subscriberID SubscriberID, conn Conn) {
	r.disconnect(channelID, subscriberID, conn, true)
}

// RoomSize returns the number of subscribers in the channel's room.
func (r *Registry) RoomSize(channelID ChannelID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[channelID])
}

// Lookup returns the connection registered for (channelID, subscriberID).
func (r *Registry) Lookup(channelID ChannelID, subscriberID SubscriberID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rooms[channelID][subscriberID]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Stats returns the current number of rooms and connections.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Rooms: len(r.rooms)}
	for _, members := range r.rooms {
		s.Connections += len(members)
	}
	return s
}

// CloseAll closes every registered connection and empties the registry.
// It is used during server shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[ChannelID]room)
	r.mu.Unlock()

	closed := 0
	for channelID, members := range rooms {
		for subscriberID, m := range members {
			if err := m.conn.Close(); err != nil {
				r.logger.Debug("Error closing connection during shutdown",
					"channel_id", channelID,
					"subscriber_id", subscriberID,
					"error", err)
			}
			r.observer.Disconnected(channelID)
			closed++
		}
	}

	r.logger.Info("Closed all realtime connections", "count", closed)
	return closed
}
