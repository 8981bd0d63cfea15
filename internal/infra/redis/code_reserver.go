package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeReserver claims join codes in Redis so several service instances never
// hand out the same code to two active sessions.
//
// A reservation is stored as SET quiz:code:{code} {sessionID} NX EX ttl. The TTL
// bounds how long a code stays claimed if an instance dies without releasing it.
// Live rooms keep their claim by calling Refresh more often than the TTL.
type CodeReserver struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCodeReserver(client redis.UniversalClient, ttl time.Duration) *CodeReserver {
	return &CodeReserver{client: client, ttl: ttl}
}

func (r *CodeReserver) Reserve(ctx context.Context, code, sessionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(code), sessionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", code, err)
	}
	return ok, nil
}

func (r *CodeReserver) Release(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, r.key(code)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", code, err)
	}
	return nil
}

// refreshScript extends the key only while it still names the same session.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

func (r *CodeReserver) Refresh(ctx context.Context, code, sessionID string) (bool, error) {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(code)}, sessionID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis refresh %s: %w", code, err)
	}
	return n == 1, nil
}

// Owner returns the session holding code, or "" when it is free.
func (r *CodeReserver) Owner(ctx context.Context, code string) (string, error) {
	id, err := r.client.Get(ctx, r.key(code)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", code, err)
	}
	return id, nil
}

func (r *CodeReserver) key(code string) string {
	return "quiz:code:" + code
}
