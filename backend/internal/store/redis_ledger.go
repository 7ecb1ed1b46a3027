package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/medicinisto/message-responses-integration/backend/internal/cache"
	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
)

const (
	partField    = "__part"
	senderPrefix = "sender:"
)

// redisLedger persists one hash per entity. Appends run as a Lua script
// inside the single-threaded script engine, so two racing submissions
// for the same entity both land and neither overwrites the other.
type redisLedger struct {
	rdb redis.UniversalClient
}

var _ LedgerStore = (*redisLedger)(nil)

func NewRedisLedger(rdb redis.UniversalClient) LedgerStore {
	return &redisLedger{rdb: rdb}
}

func (r *redisLedger) Get(ctx context.Context, key EntityKey) (*EntityRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, cache.EntityKey(key.MessageID, key.NodeOrRoot())).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &EntityRecord{Responses: make(map[string][]crdt.Operation)}
	for field, raw := range fields {
		if field == partField {
			rec.InitialPartID = raw
			continue
		}
		senderID, ok := strings.CutPrefix(field, senderPrefix)
		if !ok {
			continue
		}
		var ops []crdt.Operation
		if err := json.Unmarshal([]byte(raw), &ops); err != nil {
			return nil, fmt.Errorf("decode ops for sender %s: %w", senderID, err)
		}
		rec.Responses[senderID] = ops
	}
	return rec, nil
}

func (r *redisLedger) Put(ctx context.Context, key EntityKey, rec *EntityRecord) error {
	// 已存在则整体放弃（bulk 导入重投递时为无害 no-op）
	const putScript = `
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], "__part", ARGV[1])
	for i = 2, #ARGV, 2 do
		redis.call("HSET", KEYS[1], "sender:" .. ARGV[i], ARGV[i + 1])
	end
	return 1
	`
	argv := make([]interface{}, 0, 1+2*len(rec.Responses))
	argv = append(argv, rec.InitialPartID)
	for senderID, ops := range rec.Responses {
		encoded, err := json.Marshal(ops)
		if err != nil {
			return err
		}
		argv = append(argv, senderID, string(encoded))
	}

	created, err := r.rdb.Eval(ctx, putScript,
		[]string{cache.EntityKey(key.MessageID, key.NodeOrRoot())}, argv...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrEntityExists
	}
	return nil
}

func (r *redisLedger) UpdateAppend(ctx context.Context, key EntityKey, senderID string, ops []crdt.Operation) (*EntityRecord, error) {
	if len(ops) == 0 {
		return r.Get(ctx, key)
	}

	// 拼接 JSON 数组文本（去掉旧 "]" 和新 "["），不经过 cjson 解码，
	// 既原子又保证已存储的负载字节不被改写。
	const appendScript = `
	local cur = redis.call("HGET", KEYS[1], ARGV[1])
	if not cur or cur == "" or cur == "[]" then
		redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	else
		local merged = string.sub(cur, 1, -2) .. "," .. string.sub(ARGV[2], 2)
		redis.call("HSET", KEYS[1], ARGV[1], merged)
	end
	return 1
	`
	encoded, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	err = r.rdb.Eval(ctx, appendScript,
		[]string{cache.EntityKey(key.MessageID, key.NodeOrRoot())},
		senderPrefix+senderID, string(encoded)).Err()
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, key)
}
