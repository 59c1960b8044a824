package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each record is one HASH; each
// distinct Value attribute has one ZSET scored by update time, serving
// the secondary-index query. Every mutation runs as a single Lua script,
// so the condition check, the hash write and the index maintenance are
// atomic. Index keys are derived in-script from the record's Value, so
// Redis Cluster is not supported.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	closed atomic.Bool
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis connection to use.
	Client redis.UniversalClient

	// Prefix namespaces every key this store writes. Default: "trackkit:".
	Prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis store: nil client")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "trackkit:"
	}
	return &RedisStore{rdb: cfg.Client, prefix: prefix}, nil
}

func (s *RedisStore) recKey(key string) string   { return s.prefix + "rec:" + key }
func (s *RedisStore) idxKey(value string) string { return s.prefix + "idx:" + value }

// redisRecord is the flat hash representation. Times are integer
// microseconds so the Lua scripts can compare them as numbers without
// losing precision to the double mantissa.
type redisRecord struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	Status       int    `json:"status"`
	Retry        int    `json:"retry"`
	Lock         string `json:"lock"`
	LockTimeUS   int64  `json:"lock_time_us"`
	CreateTimeUS int64  `json:"create_time_us"`
	UpdateTimeUS int64  `json:"update_time_us"`
	Data         string `json:"data"`
	Errors       string `json:"errors"`
}

func toRedisRecord(r *Record) *redisRecord {
	return &redisRecord{
		Key:          r.Key,
		Value:        r.Value,
		Status:       r.Status,
		Retry:        r.Retry,
		Lock:         r.Lock,
		LockTimeUS:   r.LockTime.UnixMicro(),
		CreateTimeUS: r.CreateTime.UnixMicro(),
		UpdateTimeUS: r.UpdateTime.UnixMicro(),
		Data:         string(r.Data),
		Errors:       string(r.Errors),
	}
}

func (rr *redisRecord) toRecord() *Record {
	r := &Record{
		Key:        rr.Key,
		Value:      rr.Value,
		Status:     rr.Status,
		Retry:      rr.Retry,
		Lock:       rr.Lock,
		LockTime:   time.UnixMicro(rr.LockTimeUS).UTC(),
		CreateTime: time.UnixMicro(rr.CreateTimeUS).UTC(),
		UpdateTime: time.UnixMicro(rr.UpdateTimeUS).UTC(),
	}
	if rr.Data != "" {
		r.Data = json.RawMessage(rr.Data)
	}
	if rr.Errors != "" {
		r.Errors = json.RawMessage(rr.Errors)
	}
	return r
}

func recordFromHash(m map[string]string) (*Record, error) {
	status, err := strconv.Atoi(m["status"])
	if err != nil {
		return nil, fmt.Errorf("bad status field %q: %w", m["status"], err)
	}
	retry, err := strconv.Atoi(m["retry"])
	if err != nil {
		return nil, fmt.Errorf("bad retry field %q: %w", m["retry"], err)
	}
	lockUS, _ := strconv.ParseInt(m["lock_time_us"], 10, 64)
	createUS, _ := strconv.ParseInt(m["create_time_us"], 10, 64)
	updateUS, _ := strconv.ParseInt(m["update_time_us"], 10, 64)
	rr := &redisRecord{
		Key:          m["key"],
		Value:        m["value"],
		Status:       status,
		Retry:        retry,
		Lock:         m["lock"],
		LockTimeUS:   lockUS,
		CreateTimeUS: createUS,
		UpdateTimeUS: updateUS,
		Data:         m["data"],
		Errors:       m["errors"],
	}
	return rr.toRecord(), nil
}

// putScript replaces the record hash and moves its index entry.
// KEYS[1] = record hash, ARGV[1] = key prefix, ARGV[2] = record JSON.
var putScript = redis.NewScript(`
	local prefix = ARGV[1]
	local rec = cjson.decode(ARGV[2])
	local old_value = redis.call('HGET', KEYS[1], 'value')
	if old_value then
		redis.call('ZREM', prefix .. 'idx:' .. old_value, rec.key)
	end
	redis.call('HSET', KEYS[1],
		'key', rec.key,
		'value', rec.value,
		'status', rec.status,
		'retry', rec.retry,
		'lock', rec.lock,
		'lock_time_us', rec.lock_time_us,
		'create_time_us', rec.create_time_us,
		'update_time_us', rec.update_time_us,
		'data', rec.data,
		'errors', rec.errors)
	redis.call('ZADD', prefix .. 'idx:' .. rec.value, rec.update_time_us, rec.key)
	return 'OK'
`)

// updateScript is the conditional write. It evaluates the same predicate
// as Condition.Matches against the current hash, applies the mutation and
// maintains the index, all in one atomic step.
// KEYS[1] = record hash, ARGV[1] = key prefix,
// ARGV[2] = condition JSON, ARGV[3] = mutation JSON.
var updateScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 'NF'
	end
	local prefix = ARGV[1]
	local cond = cjson.decode(ARGV[2])
	local mut = cjson.decode(ARGV[3])

	local status = tonumber(redis.call('HGET', KEYS[1], 'status'))
	local lock = redis.call('HGET', KEYS[1], 'lock')
	local lock_time_us = tonumber(redis.call('HGET', KEYS[1], 'lock_time_us'))

	if cond.status_in then
		local ok = false
		for _, s in ipairs(cond.status_in) do
			if status == s then
				ok = true
				break
			end
		end
		if not ok then
			return 'CF'
		end
	end
	if cond.lock_is and lock ~= cond.lock_is then
		return 'CF'
	end
	if cond.acquire then
		local free = lock == '` + NotLocked + `'
			or lock == cond.acquire.token
			or lock_time_us < cond.acquire.stale_before_us
		if not free then
			return 'CF'
		end
	end

	if mut.value then
		local old_value = redis.call('HGET', KEYS[1], 'value')
		local member = redis.call('HGET', KEYS[1], 'key')
		redis.call('ZREM', prefix .. 'idx:' .. old_value, member)
		redis.call('HSET', KEYS[1], 'value', mut.value)
	end
	if mut.status then redis.call('HSET', KEYS[1], 'status', mut.status) end
	if mut.retry then redis.call('HSET', KEYS[1], 'retry', mut.retry) end
	if mut.lock then redis.call('HSET', KEYS[1], 'lock', mut.lock) end
	if mut.lock_time_us then redis.call('HSET', KEYS[1], 'lock_time_us', mut.lock_time_us) end
	if mut.update_time_us then redis.call('HSET', KEYS[1], 'update_time_us', mut.update_time_us) end
	if mut.data then redis.call('HSET', KEYS[1], 'data', mut.data) end
	if mut.errors then redis.call('HSET', KEYS[1], 'errors', mut.errors) end

	local value = redis.call('HGET', KEYS[1], 'value')
	local member = redis.call('HGET', KEYS[1], 'key')
	local score = redis.call('HGET', KEYS[1], 'update_time_us')
	redis.call('ZADD', prefix .. 'idx:' .. value, tonumber(score), member)
	return redis.call('HGETALL', KEYS[1])
`)

// deleteScript removes the record hash and its index entry.
// KEYS[1] = record hash, ARGV[1] = key prefix.
var deleteScript = redis.NewScript(`
	local value = redis.call('HGET', KEYS[1], 'value')
	if value then
		local member = redis.call('HGET', KEYS[1], 'key')
		redis.call('ZREM', ARGV[1] .. 'idx:' .. value, member)
	end
	redis.call('DEL', KEYS[1])
	return 'OK'
`)

// redisCondition mirrors Condition for cjson.
type redisCondition struct {
	StatusIn []int         `json:"status_in,omitempty"`
	LockIs   *string       `json:"lock_is,omitempty"`
	Acquire  *redisAcquire `json:"acquire,omitempty"`
}

type redisAcquire struct {
	Token         string `json:"token"`
	StaleBeforeUS int64  `json:"stale_before_us"`
}

// redisMutation mirrors Mutation for cjson.
type redisMutation struct {
	Value        *string `json:"value,omitempty"`
	Status       *int    `json:"status,omitempty"`
	Retry        *int    `json:"retry,omitempty"`
	Lock         *string `json:"lock,omitempty"`
	LockTimeUS   *int64  `json:"lock_time_us,omitempty"`
	UpdateTimeUS *int64  `json:"update_time_us,omitempty"`
	Data         *string `json:"data,omitempty"`
	Errors       *string `json:"errors,omitempty"`
}

// Put creates or replaces a record unconditionally.
func (s *RedisStore) Put(ctx context.Context, r *Record) error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(toRedisRecord(r))
	if err != nil {
		return fmt.Errorf("redis store: encode record %s: %w", r.Key, err)
	}
	if err := putScript.Run(ctx, s.rdb, []string{s.recKey(r.Key)}, s.prefix, payload).Err(); err != nil {
		return fmt.Errorf("redis store: put %s: %w", r.Key, err)
	}
	return nil
}

// Get retrieves a record by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	m, err := s.rdb.HGetAll(ctx, s.recKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: get %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(m)
}

// Update applies the mutation iff the condition holds.
func (s *RedisStore) Update(ctx context.Context, key string, m Mutation, c Condition) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rc := redisCondition{StatusIn: c.StatusIn, LockIs: c.LockIs}
	if c.Acquire != nil {
		rc.Acquire = &redisAcquire{
			Token:         c.Acquire.Token,
			StaleBeforeUS: c.Acquire.StaleBefore.UnixMicro(),
		}
	}
	condJSON, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("redis store: encode condition: %w", err)
	}

	rm := redisMutation{
		Value:  m.Value,
		Status: m.Status,
		Retry:  m.Retry,
		Lock:   m.Lock,
	}
	if m.LockTime != nil {
		us := m.LockTime.UnixMicro()
		rm.LockTimeUS = &us
	}
	if m.UpdateTime != nil {
		us := m.UpdateTime.UnixMicro()
		rm.UpdateTimeUS = &us
	}
	if m.Data != nil {
		d := string(m.Data)
		rm.Data = &d
	}
	if m.Errors != nil {
		e := string(m.Errors)
		rm.Errors = &e
	}
	mutJSON, err := json.Marshal(rm)
	if err != nil {
		return nil, fmt.Errorf("redis store: encode mutation: %w", err)
	}

	res, err := updateScript.Run(ctx, s.rdb, []string{s.recKey(key)}, s.prefix, condJSON, mutJSON).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: update %s: %w", key, err)
	}

	switch v := res.(type) {
	case string:
		switch v {
		case "NF":
			return nil, ErrNotFound
		case "CF":
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("redis store: unexpected script reply %q", v)
	case []interface{}:
		// HGETALL reply: flat field/value list.
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			fields[fmt.Sprint(v[i])] = fmt.Sprint(v[i+1])
		}
		return recordFromHash(fields)
	default:
		return nil, fmt.Errorf("redis store: unexpected script reply type %T", res)
	}
}

// Query reads the index ZSET in score order and loads each record.
func (s *RedisStore) Query(ctx context.Context, value string, order Order, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	var keys []string
	var err error
	if order == NewestFirst {
		keys, err = s.rdb.ZRevRange(ctx, s.idxKey(value), 0, stop).Result()
	} else {
		keys, err = s.rdb.ZRange(ctx, s.idxKey(value), 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: query %s: %w", value, err)
	}

	out := make([]*Record, 0, len(keys))
	for _, k := range keys {
		m, err := s.rdb.HGetAll(ctx, s.recKey(k)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis store: load %s: %w", k, err)
		}
		if len(m) == 0 {
			// Record deleted between index read and load; skip.
			continue
		}
		rec, err := recordFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("redis store: load %s: %w", k, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Scan returns keys starting with prefix using incremental SCAN.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var keys []string
	match := s.recKey(prefix) + "*"
	iter := s.rdb.Scan(ctx, 0, match, 256).Iterator()
	strip := len(s.prefix + "rec:")
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan %s: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes a record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	if err := deleteScript.Run(ctx, s.rdb, []string{s.recKey(key)}, s.prefix).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", key, err)
	}
	return nil
}

// Close marks the store closed. The Redis client is owned by the caller
// and is not closed here.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}
