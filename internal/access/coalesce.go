package access

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCoalesceTimeout bounds a shared verification.
const DefaultCoalesceTimeout = 5 * time.Second

// CoalescingVerifier collapses concurrent identical requests into one call to
// the wrapped verifier. Reconnect storms from the same browser then cost a
// single database round trip.
type CoalescingVerifier struct {
	next    Verifier
	group   singleflight.Group
	timeout time.Duration
}

// NewCoalescingVerifier wraps next. A non-positive timeout uses DefaultCoalesceTimeout.
func NewCoalescingVerifier(next Verifier, timeout time.Duration) *CoalescingVerifier {
	if timeout <= 0 {
		timeout = DefaultCoalesceTimeout
	}
	return &CoalescingVerifier{next: next, timeout: timeout}
}

// Verify joins an in-flight verification of the same request or starts one.
// The shared call is detached from any single caller's cancellation.
func (v *CoalescingVerifier) Verify(ctx context.Context, req Request) (Principal, error) {
	ch := v.group.DoChan(requestKey(req), func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return v.next.Verify(callCtx, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Principal{}, res.Err
		}
		return res.Val.(Principal), nil
	case <-ctx.Done():
		return Principal{}, ctx.Err()
	}
}

func requestKey(req Request) string {
	return strconv.FormatInt(req.WorkspaceID, 10) + "/" +
		strconv.FormatInt(int64(req.ChannelID), 10) + "/" +
		req.SessionToken
}
