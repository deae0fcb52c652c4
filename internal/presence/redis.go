package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "presence:user:"
	onlineSetKey  = "presence:online"
)

// RedisRegistry shares presence between gateway instances.
//
// TODO: connection counts of an instance that dies without closing its sockets
// are never released; track counts per instance id with a heartbeat TTL.
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry constructs a RedisRegistry.
func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}

// connectScript bumps the connection count and marks the user online in one step.
var connectScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], 'conns', 1)
redis.call('SADD', KEYS[2], ARGV[1])
return n
`)

// removeScript releases one connection. It returns -1 when none was held and
// drops the user from the online set only when the count reaches zero.
var removeScript = redis.NewScript(`
local n = tonumber(redis.call('HGET', KEYS[1], 'conns') or '0')
if n <= 0 then
  return -1
end
n = redis.call('HINCRBY', KEYS[1], 'conns', -1)
if n == 0 then
  redis.call('SREM', KEYS[2], ARGV[1])
end
return n
`)

func (r *RedisRegistry) Connect(ctx context.Context, userID string) (Entry, bool, error) {
	conns, err := connectScript.Run(ctx, r.rdb, []string{userKey(userID), onlineSetKey}, userID).Int64()
	if err != nil {
		return Entry{}, false, fmt.Errorf("presence connect: %w", err)
	}
	e, _, err := r.Get(ctx, userID)
	if err != nil {
		return Entry{}, false, err
	}
	return e, conns == 1, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, userID string) (Entry, bool, error) {
	conns, err := removeScript.Run(ctx, r.rdb, []string{userKey(userID), onlineSetKey}, userID).Int64()
	if err != nil {
		return Entry{}, false, fmt.Errorf("presence remove: %w", err)
	}
	e, ok, err := r.Get(ctx, userID)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		e = Entry{UserID: userID}
	}
	return e, conns == 0, nil
}

func (r *RedisRegistry) Upsert(ctx context.Context, userID, name, email string) (Entry, error) {
	fields := map[string]any{}
	if name != "" {
		fields["name"] = name
	}
	if email != "" {
		fields["email"] = email
	}
	if len(fields) > 0 {
		if err := r.rdb.HSet(ctx, userKey(userID), fields).Err(); err != nil {
			return Entry{}, fmt.Errorf("presence upsert: %w", err)
		}
	}
	e, _, err := r.Get(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	e.UserID = userID
	return e, nil
}

func (r *RedisRegistry) Get(ctx context.Context, userID string) (Entry, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("presence get: %w", err)
	}
	if len(vals) == 0 {
		return Entry{}, false, nil
	}
	return entryFromHash(userID, vals), true, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Entry, error) {
	ids, err := r.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, userKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	out := make([]Entry, 0, len(ids))
	for i, id := range ids {
		e := entryFromHash(id, cmds[i].Val())
		if e.Online {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func entryFromHash(userID string, vals map[string]string) Entry {
	conns, _ := strconv.Atoi(vals["conns"])
	return Entry{
		UserID:      userID,
		Name:        vals["name"],
		Email:       vals["email"],
		Connections: conns,
		Online:      conns > 0,
	}
}
