package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "shipsync:"

// entry is the stored form of a queued message. The dedup key and id are kept next
// to the message so the Lua scripts can maintain the key set and in-flight hash
// without knowing the message layout.
type entry struct {
	ID      string                `json:"id"`
	Key     string                `json:"key"`
	Message *shipping.SyncMessage `json:"message"`
}

func encodeEntry(msg *shipping.SyncMessage) (string, error) {
	data, err := json.Marshal(entry{ID: msg.ID, Key: msg.DedupKey(), Message: msg})
	if err != nil {
		return "", fmt.Errorf("failed to encode sync message %s: %w", msg.ID, err)
	}
	return string(data), nil
}

// entryID reads only the envelope id, for entries whose message no longer decodes
func entryID(raw string) string {
	var header struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal([]byte(raw), &header)
	return header.ID
}

func decodeEntry(raw string) (*entry, error) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("failed to decode queue entry: %w", err)
	}
	if e.Message == nil {
		return nil, errors.New("failed to decode queue entry: missing message")
	}
	return &e, nil
}

// enqueueScript appends the entry only when its dedup key is not already queued.
// KEYS: list, key set. ARGV: dedup key, entry.
var enqueueScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// dequeueScript pops up to ARGV[1] entries, releases their dedup keys and records
// them as in-flight. An entry without a readable envelope goes to the quarantine
// list instead. KEYS: list, key set, in-flight hash, quarantine list.
var dequeueScript = redis.NewScript(`
local out = {}
local n = tonumber(ARGV[1])
while #out < n do
  local raw = redis.call('LPOP', KEYS[1])
  if not raw then
    break
  end
  local ok, e = pcall(cjson.decode, raw)
  if ok and type(e) == 'table' and type(e.id) == 'string' and type(e.key) == 'string' then
    redis.call('SREM', KEYS[2], e.key)
    redis.call('HSET', KEYS[3], e.id, raw)
    out[#out + 1] = raw
  else
    redis.call('RPUSH', KEYS[4], raw)
  end
end
return out
`)

// quarantineScript moves an in-flight entry to the quarantine list.
// KEYS: in-flight hash, quarantine list. ARGV: id, entry.
var quarantineScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

// requeueScript pushes entries back to the front preserving ARGV order and clears
// them from in-flight. When the dedup key was queued again meanwhile only one copy
// is kept: the requeued entry replaces the waiting one if it carries a higher retry
// count, otherwise it is dropped. KEYS: list, key set, in-flight hash.
var requeueScript = redis.NewScript(`
local pushed = 0
for i = #ARGV, 1, -1 do
  local e = cjson.decode(ARGV[i])
  redis.call('HDEL', KEYS[3], e.id)
  if redis.call('SADD', KEYS[2], e.key) == 1 then
    redis.call('LPUSH', KEYS[1], ARGV[i])
    pushed = pushed + 1
  else
    local retries = tonumber(e.message.retryCount) or 0
    for _, raw in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
      local ok, w = pcall(cjson.decode, raw)
      if ok and type(w) == 'table' and w.key == e.key and w.id ~= e.id then
        local waiting = 0
        if type(w.message) == 'table' then
          waiting = tonumber(w.message.retryCount) or 0
        end
        if retries > waiting then
          redis.call('LREM', KEYS[1], 1, raw)
          redis.call('LPUSH', KEYS[1], ARGV[i])
          pushed = pushed + 1
        end
        break
      end
    end
  end
end
return pushed
`)

// RedisQueueStore implements shipping.QueueStore on Redis lists, sets and hashes.
// Each mutating operation is a single Lua script so producers on other processes
// observe a consistent dedup state.
type RedisQueueStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// StoreOption configures a RedisQueueStore
type StoreOption func(*RedisQueueStore)

// WithLogger sets the logger used to report quarantined entries
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *RedisQueueStore) {
		s.logger = logger.Named("queue")
	}
}

// NewRedisQueueStore creates a queue store with an existing Redis client
func NewRedisQueueStore(client redis.UniversalClient, keyPrefix string, opts ...StoreOption) *RedisQueueStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	s := &RedisQueueStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisQueueStore) listKey(class shipping.QueueClass) string {
	return s.keyPrefix + "queue:" + string(class)
}

func (s *RedisQueueStore) dedupKey(class shipping.QueueClass) string {
	return s.keyPrefix + "queue:" + string(class) + ":keys"
}

func (s *RedisQueueStore) inflightKey(class shipping.QueueClass) string {
	return s.keyPrefix + "queue:" + string(class) + ":inflight"
}

func (s *RedisQueueStore) quarantineKey(class shipping.QueueClass) string {
	return s.keyPrefix + "queue:" + string(class) + ":quarantine"
}

func (s *RedisQueueStore) keys(class shipping.QueueClass) []string {
	return []string{s.listKey(class), s.dedupKey(class), s.inflightKey(class)}
}

// Enqueue appends msg unless an equivalent message is already waiting
func (s *RedisQueueStore) Enqueue(ctx context.Context, class shipping.QueueClass, msg *shipping.SyncMessage) (bool, error) {
	if err := prepareForEnqueue(class, msg); err != nil {
		return false, err
	}
	raw, err := encodeEntry(msg)
	if err != nil {
		return false, err
	}

	added, err := enqueueScript.Run(ctx, s.client,
		[]string{s.listKey(class), s.dedupKey(class)}, msg.DedupKey(), raw).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue to %s: %w", class, err)
	}
	return added == 1, nil
}

// DequeueBatch pops up to n messages from the front into the in-flight set. Entries
// that cannot be decoded are moved to the quarantine list and left out of the batch,
// so one corrupt entry never holds back the others.
func (s *RedisQueueStore) DequeueBatch(ctx context.Context, class shipping.QueueClass, n int) ([]*shipping.SyncMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	keys := append(s.keys(class), s.quarantineKey(class))
	raws, err := dequeueScript.Run(ctx, s.client, keys, n).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue from %s: %w", class, err)
	}

	msgs := make([]*shipping.SyncMessage, 0, len(raws))
	for _, raw := range raws {
		e, err := decodeEntry(raw)
		if err != nil {
			s.quarantine(ctx, class, raw, err)
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return msgs, nil
}

// quarantine takes an undecodable entry out of the in-flight set. If that fails the
// entry stays in-flight, where RestoreInflight will surface it again.
func (s *RedisQueueStore) quarantine(ctx context.Context, class shipping.QueueClass, raw string, cause error) {
	id := entryID(raw)
	err := quarantineScript.Run(ctx, s.client,
		[]string{s.inflightKey(class), s.quarantineKey(class)}, id, raw).Err()
	if err != nil {
		s.logger.Error("failed to quarantine undecodable queue entry",
			zap.String("queue", class.String()),
			zap.String("entry_id", id),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("undecodable queue entry quarantined",
		zap.String("queue", class.String()),
		zap.String("entry_id", id),
		zap.Error(cause),
	)
}

// QuarantineLength returns the number of entries set aside as undecodable
func (s *RedisQueueStore) QuarantineLength(ctx context.Context, class shipping.QueueClass) (int64, error) {
	n, err := s.client.LLen(ctx, s.quarantineKey(class)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read quarantine length of %s: %w", class, err)
	}
	return n, nil
}

// Requeue returns msgs to the front of the queue in the given order
func (s *RedisQueueStore) Requeue(ctx context.Context, class shipping.QueueClass, msgs []*shipping.SyncMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	args := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := encodeEntry(msg)
		if err != nil {
			return err
		}
		args = append(args, raw)
	}
	if err := requeueScript.Run(ctx, s.client, s.keys(class), args...).Err(); err != nil {
		return fmt.Errorf("failed to requeue to %s: %w", class, err)
	}
	return nil
}

// RemoveInflight finalizes msg
func (s *RedisQueueStore) RemoveInflight(ctx context.Context, class shipping.QueueClass, msg *shipping.SyncMessage) error {
	if err := s.client.HDel(ctx, s.inflightKey(class), msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to remove in-flight message %s: %w", msg.ID, err)
	}
	return nil
}

// Length returns the number of waiting messages
func (s *RedisQueueStore) Length(ctx context.Context, class shipping.QueueClass) (int64, error) {
	n, err := s.client.LLen(ctx, s.listKey(class)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", class, err)
	}
	return n, nil
}

// OldestEnqueuedAt returns the enqueue time of the front message
func (s *RedisQueueStore) OldestEnqueuedAt(ctx context.Context, class shipping.QueueClass) (*time.Time, error) {
	raw, err := s.client.LIndex(ctx, s.listKey(class), 0).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to peek %s: %w", class, err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	oldest := e.Message.EnqueuedAt
	return &oldest, nil
}

// InflightCount returns the number of dequeued, unfinalized messages
func (s *RedisQueueStore) InflightCount(ctx context.Context, class shipping.QueueClass) (int64, error) {
	n, err := s.client.HLen(ctx, s.inflightKey(class)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight messages of %s: %w", class, err)
	}
	return n, nil
}

// RestoreInflight puts every in-flight message back at the front, oldest first.
// It is an operator action for messages stranded by a crashed worker and must not
// run while a batch for the class is in progress.
func (s *RedisQueueStore) RestoreInflight(ctx context.Context, class shipping.QueueClass) (int, error) {
	raws, err := s.client.HVals(ctx, s.inflightKey(class)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight messages of %s: %w", class, err)
	}
	if len(raws) == 0 {
		return 0, nil
	}

	msgs := make([]*shipping.SyncMessage, 0, len(raws))
	for _, raw := range raws {
		e, err := decodeEntry(raw)
		if err != nil {
			s.quarantine(ctx, class, raw, err)
			continue
		}
		msgs = append(msgs, e.Message)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].EnqueuedAt.Before(msgs[j].EnqueuedAt)
	})

	if err := s.Requeue(ctx, class, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Close closes the Redis client
func (s *RedisQueueStore) Close() error {
	return s.client.Close()
}

// prepareForEnqueue validates the boundary and fills in a missing id and timestamp
func prepareForEnqueue(class shipping.QueueClass, msg *shipping.SyncMessage) error {
	if !class.IsValid() {
		return fmt.Errorf("%w: %q", shipping.ErrUnknownQueueClass, class)
	}
	if msg == nil {
		return shipping.ErrInvalidSyncMessage
	}
	if !msg.Reason.IsValid() {
		return fmt.Errorf("%w: %q", shipping.ErrUnknownSyncReason, msg.Reason)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	return nil
}

var _ shipping.QueueStore = (*RedisQueueStore)(nil)
