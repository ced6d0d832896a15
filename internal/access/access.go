// Package access decides whether a session may subscribe to a channel's
// realtime stream.
//
// The checks mirror the web application's rules: a valid session, membership
// of the workspace, a channel that belongs to the workspace, and for private
// channels an explicit channel membership.
package access

import (
	"context"
	"errors"

	"github.com/Tyrowin/teamchat/internal/realtime"
)

var (
	// ErrUnauthenticated means the session token is missing, unknown or expired.
	ErrUnauthenticated = errors.New("access: unauthenticated")
	// ErrForbidden means the user may not read the channel, or it does not exist
	// in the workspace.
	ErrForbidden = errors.New("access: forbidden")
	// ErrUnavailable means the decision could not be made right now.
	ErrUnavailable = errors.New("access: verifier unavailable")
)

// IsDenied reports whether err is a definitive denial rather than a failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrForbidden)
}

// Request is one subscription attempt.
type Request struct {
	SessionToken string
	WorkspaceID  int64
	ChannelID    realtime.ChannelID
}

// Principal is the verified identity behind a subscription.
type Principal struct {
	SubscriberID realtime.SubscriberID
	DisplayName  string
}

// Verifier authorizes subscription attempts.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req Request) (Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, req Request) (Principal, error) {
	return f(ctx, req)
}
