package realtime

import (
	"context"
	"fmt"
)

// SendStatus classifies the outcome of a single Send on a Conn.
type SendStatus int

const (
	// SendOK means the frame was accepted by the transport.
	SendOK SendStatus = iota
	// SendRetriable means the frame was dropped but the connection is still usable.
	SendRetriable
	// SendFatal means the connection is dead and must be evicted.
	SendFatal
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendRetriable:
		return "retriable"
	case SendFatal:
		return "fatal"
	default:
		return fmt.Sprintf("SendStatus(%d)", int(s))
	}
}

// SendResult is returned by Conn.Send instead of a bare error so that the
// eviction policy is decided by Status alone.
type SendResult struct {
	Status SendStatus
	Err    error
}

// Delivered reports a successful send.
func Delivered() SendResult {
	return SendResult{Status: SendOK}
}

// Retriable reports a dropped frame on a connection that should be kept.
func Retriable(err error) SendResult {
	return SendResult{Status: SendRetriable, Err: err}
}

// Fatal reports a dead connection.
func Fatal(err error) SendResult {
	return SendResult{Status: SendFatal, Err: err}
}

// Conn is a live, message-oriented, bidirectional transport handle owned by
// the Registry while it is registered.
//
// Implementations must be comparable (typically a pointer) because the
// Registry compares handles by identity, and Close must be idempotent.
type Conn interface {
	Send(ctx context.Context, payload []byte) SendResult
	Close() error
}
