// internal/identity/resolver.go
// Maps external identity-provider subjects to internal numeric user ids

package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/skillsphere/messaging-service/internal/platform"
)

var (
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityUnavailable = errors.New("identity service unavailable")
)

// UserDirectory is the slice of the User service the resolver needs
type UserDirectory interface {
	GetByExternalSubject(ctx context.Context, subject string) (*platform.User, error)
}

// Resolver maps an external subject to an internal user id. The mapping is
// immutable once created upstream, so entries are memoized for the process
// lifetime; Redis acts as a shared second layer so restarts warm-start.
// Redis failures degrade to an upstream lookup, they never fail resolution.
type Resolver struct {
	users UserDirectory
	redis *redis.Client

	mu    sync.RWMutex
	cache map[string]int64
}

// NewResolver creates a resolver. The redis client may be nil.
func NewResolver(users UserDirectory, redisClient *redis.Client) *Resolver {
	return &Resolver{
		users: users,
		redis: redisClient,
		cache: make(map[string]int64),
	}
}

// Resolve returns the internal user id for an external subject. A subject
// that is already a valid numeric id is returned directly.
func (r *Resolver) Resolve(ctx context.Context, subject string) (int64, error) {
	// Fast path: already an internal numeric id
	if id, err := strconv.ParseInt(subject, 10, 64); err == nil && id > 0 {
		return id, nil
	}

	r.mu.RLock()
	id, ok := r.cache[subject]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	if id, ok := r.lookupRedis(ctx, subject); ok {
		r.store(subject, id, false)
		return id, nil
	}

	user, err := r.users.GetByExternalSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return 0, ErrIdentityNotFound
		}
		return 0, ErrIdentityUnavailable
	}

	r.store(subject, user.ID, true)
	return user.ID, nil
}

func (r *Resolver) lookupRedis(ctx context.Context, subject string) (int64, bool) {
	if r.redis == nil {
		return 0, false
	}

	val, err := r.redis.Get(ctx, redisKey(subject)).Result()
	if err != nil {
		return 0, false
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (r *Resolver) store(subject string, id int64, writeRedis bool) {
	r.mu.Lock()
	r.cache[subject] = id
	r.mu.Unlock()

	if writeRedis && r.redis != nil {
		// No TTL: the mapping is immutable upstream
		r.redis.Set(context.Background(), redisKey(subject), strconv.FormatInt(id, 10), 0)
	}
}

func redisKey(subject string) string {
	return "identity:subject:" + subject
}
