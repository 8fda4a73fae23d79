package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript takes the lease for a new run unless one is active.
// KEYS: sequence, active lease. ARGV: lease TTL in milliseconds.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
local id = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], id, 'PX', ARGV[1])
return id
`)

// releaseScript deletes the lease only if it still belongs to ARGV[1]
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisRunState is the shared run mutex for coordinators running in several
// processes. Run ids increase monotonically; an expired lease frees the mutex
// after a crash.
type RedisRunState struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRunState creates a run state with an existing Redis client
func NewRedisRunState(client redis.UniversalClient, keyPrefix string) *RedisRunState {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisRunState{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisRunState) seqKey(name string) string {
	return s.keyPrefix + "worker:" + name + ":run_seq"
}

func (s *RedisRunState) activeKey(name string) string {
	return s.keyPrefix + "worker:" + name + ":active_run"
}

// TryClaim starts a run of the named worker. ok is false when another run is active.
func (s *RedisRunState) TryClaim(ctx context.Context, name string, ttl time.Duration) (int64, bool, error) {
	id, err := claimScript.Run(ctx, s.client,
		[]string{s.seqKey(name), s.activeKey(name)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim run for %s: %w", name, err)
	}
	return id, id > 0, nil
}

// Release ends runID if it still owns the lease
func (s *RedisRunState) Release(ctx context.Context, name string, runID int64) error {
	if err := releaseScript.Run(ctx, s.client,
		[]string{s.activeKey(name)}, strconv.FormatInt(runID, 10)).Err(); err != nil {
		return fmt.Errorf("failed to release run %d for %s: %w", runID, name, err)
	}
	return nil
}

// ActiveRun returns the id of the running batch, 0 when idle
func (s *RedisRunState) ActiveRun(ctx context.Context, name string) (int64, error) {
	id, err := s.client.Get(ctx, s.activeKey(name)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read active run for %s: %w", name, err)
	}
	return id, nil
}

type memoryLease struct {
	runID     int64
	expiresAt time.Time
}

// InMemoryRunState is the run mutex for a single process
type InMemoryRunState struct {
	mu     sync.Mutex
	seq    map[string]int64
	active map[string]memoryLease
	now    func() time.Time
}

// NewInMemoryRunState creates an idle run state
func NewInMemoryRunState() *InMemoryRunState {
	return &InMemoryRunState{
		seq:    make(map[string]int64),
		active: make(map[string]memoryLease),
		now:    time.Now,
	}
}

// TryClaim starts a run of the named worker. ok is false when another run is active.
func (s *InMemoryRunState) TryClaim(_ context.Context, name string, ttl time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lease, ok := s.active[name]; ok && now.Before(lease.expiresAt) {
		return 0, false, nil
	}
	s.seq[name]++
	id := s.seq[name]
	s.active[name] = memoryLease{runID: id, expiresAt: now.Add(ttl)}
	return id, true, nil
}

// Release ends runID if it still owns the lease
func (s *InMemoryRunState) Release(_ context.Context, name string, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lease, ok := s.active[name]; ok && lease.runID == runID {
		delete(s.active, name)
	}
	return nil
}

// ActiveRun returns the id of the running batch, 0 when idle
func (s *InMemoryRunState) ActiveRun(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.active[name]
	if !ok || !s.now().Before(lease.expiresAt) {
		return 0, nil
	}
	return lease.runID, nil
}
