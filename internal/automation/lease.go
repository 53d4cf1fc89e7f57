package automation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived per-enrollment leases so overlapping pollers
// never execute the same enrollment twice.
type Locker interface {
	TryAcquire(ctx context.Context, enrollmentID uuid.UUID) (release func(), ok bool)
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[uuid.UUID]struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, enrollmentID uuid.UUID) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[enrollmentID]; taken {
		return nil, false
	}
	l.held[enrollmentID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, enrollmentID)
		l.mu.Unlock()
	}, true
}

// RedisLocker leases enrollments across worker instances with SET NX and a
// TTL. The TTL bounds how long a crashed worker can hold an enrollment.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	ownerID string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, ownerID: uuid.New().String()}
}

func (l *RedisLocker) key(enrollmentID uuid.UUID) string {
	return "lifecycle:enrollment-lease:" + enrollmentID.String()
}

// TryAcquire takes the lease or reports it held. A Redis error counts as not
// acquired: the enrollment stays due and the next pass retries it.
func (l *RedisLocker) TryAcquire(ctx context.Context, enrollmentID uuid.UUID) (func(), bool) {
	key := l.key(enrollmentID)
	ok, err := l.client.SetNX(ctx, key, l.ownerID, l.ttl).Result()
	if err != nil {
		log.Printf("[Lease] acquire %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			log.Printf("[Lease] release %s: %v", key, err)
		}
	}, true
}
