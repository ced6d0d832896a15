package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/teamchat/internal/realtime"
)

const sessionUserQuery = `
SELECT id, display_name
FROM users
WHERE session_token = $1
  AND session_expires_at IS NOT NULL
  AND session_expires_at > now()`

const channelAccessQuery = `
SELECT c.is_private,
       EXISTS (SELECT 1 FROM memberships m
               WHERE m.workspace_id = c.workspace_id AND m.user_id = $3),
       EXISTS (SELECT 1 FROM channel_memberships cm
               WHERE cm.channel_id = c.id AND cm.user_id = $3)
FROM channels c
WHERE c.id = $2 AND c.workspace_id = $1`

// Querier is the subset of pgxpool.Pool used by PostgresVerifier.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// PostgresVerifier checks access against the application database.
type PostgresVerifier struct {
	db Querier
}

// NewPostgresVerifier creates a verifier that reads from db.
func NewPostgresVerifier(db Querier) *PostgresVerifier {
	return &PostgresVerifier{db: db}
}

// Verify resolves the session to a user and checks channel access.
func (v *PostgresVerifier) Verify(ctx context.Context, req Request) (Principal, error) {
	if req.SessionToken == "" {
		return Principal{}, ErrUnauthenticated
	}

	var (
		userID int64
		name   string
	)
	err := v.db.QueryRow(ctx, sessionUserQuery, req.SessionToken).Scan(&userID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, fmt.Errorf("lookup session: %w", err)
	}

	var isPrivate, isMember, isChannelMember bool
	err = v.db.QueryRow(ctx, channelAccessQuery, req.WorkspaceID, int64(req.ChannelID), userID).
		Scan(&isPrivate, &isMember, &isChannelMember)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, fmt.Errorf("%w: channel %d not in workspace %d", ErrForbidden, req.ChannelID, req.WorkspaceID)
	}
	if err != nil {
		return Principal{}, fmt.Errorf("lookup channel access: %w", err)
	}

	if !isMember {
		return Principal{}, fmt.Errorf("%w: not a member of workspace %d", ErrForbidden, req.WorkspaceID)
	}
	if isPrivate && !isChannelMember {
		return Principal{}, fmt.Errorf("%w: not a member of private channel %d", ErrForbidden, req.ChannelID)
	}

	return Principal{SubscriberID: realtime.SubscriberID(userID), DisplayName: name}, nil
}

// Connect opens a connection pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
