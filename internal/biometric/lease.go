package biometric

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// Leaser serializes upload-and-process rounds per program.
type Leaser interface {
	// Acquire takes the program lease or returns sentinel.ErrAlreadyProcessing.
	Acquire(ctx context.Context, programID domain.ProgramID) (release func(), err error)
}

// RedisLeaser implements the lease as a SET NX key with a TTL, so a crashed
// round frees the program automatically.
type RedisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client, ttl: 30 * time.Minute}
}

func (l *RedisLeaser) Acquire(ctx context.Context, programID domain.ProgramID) (func(), error) {
	key := "biometric:lease:" + programID.String()
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinel.ErrAlreadyProcessing
	}
	return func() {
		// Best effort; the TTL reclaims the lease if this never runs.
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}

// MemoryLeaser is a single-process Leaser for tests.
type MemoryLeaser struct {
	held map[domain.ProgramID]bool
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{held: make(map[domain.ProgramID]bool)}
}

func (l *MemoryLeaser) Acquire(_ context.Context, programID domain.ProgramID) (func(), error) {
	if l.held[programID] {
		return nil, sentinel.ErrAlreadyProcessing
	}
	l.held[programID] = true
	return func() { delete(l.held, programID) }, nil
}
