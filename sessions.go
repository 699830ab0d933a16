package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionRevoker is the revoke-sessions collaborator contract. Disable,
// merge finalization, and GDPR erasure revoke every live session for an
// account.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, accountID uuid.UUID) error
}

// SessionRevokerFunc adapts a function to the SessionRevoker interface.
type SessionRevokerFunc func(ctx context.Context, accountID uuid.UUID) error

// RevokeAll implements SessionRevoker.
func (f SessionRevokerFunc) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	if f == nil {
		return nil
	}
	return f(ctx, accountID)
}

type noopSessionRevoker struct{}

func (noopSessionRevoker) RevokeAll(context.Context, uuid.UUID) error { return nil }

func normalizeSessionRevoker(s SessionRevoker) SessionRevoker {
	if s == nil {
		return noopSessionRevoker{}
	}
	return s
}

const sessionKeyPrefix = "acctsess"

// RedisSessionStore tracks live sessions per account in Redis and revokes
// them wholesale.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore builds a store on the given client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		prefix: sessionKeyPrefix,
	}
}

func (s *RedisSessionStore) key(accountID uuid.UUID, sessionID string) string {
	return s.prefix + ":" + accountID.String() + ":" + sessionID
}

// Track records a live session with a TTL.
func (s *RedisSessionStore) Track(ctx context.Context, accountID uuid.UUID, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(accountID, sessionID), "1", ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track session")
	}
	return nil
}

// Live returns the ids of the account's live sessions.
func (s *RedisSessionStore) Live(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	pattern := s.prefix + ":" + accountID.String() + ":*"
	prefix := s.prefix + ":" + accountID.String() + ":"

	var ids []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to scan sessions")
	}
	return ids, nil
}

// RevokeAll deletes every live session for the account.
func (s *RedisSessionStore) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":"+accountID.String()+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to scan sessions for revocation")
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke sessions")
	}
	return nil
}

var _ SessionRevoker = (*RedisSessionStore)(nil)
