package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ghuser/entitlements/pkg/cache"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

const defaultKeyPrefix = "mode"

// ModeStore keeps the mode history in Redis for deployments that share
// mode across servers without a shared database.
//
// Key layout:
//
//	{prefix}:history       sorted set of record ids scored by change time (ms)
//	{prefix}:record:{id}   hash with id, mode, reason, change_time
type ModeStore struct {
	client *cache.RedisClient
	prefix string
}

// NewModeStore returns a ModeStore under the default "mode" key prefix.
func NewModeStore(r *cache.RedisClient) *ModeStore {
	return NewModeStoreWithPrefix(r, defaultKeyPrefix)
}

// NewModeStoreWithPrefix is NewModeStore with a custom key prefix.
func NewModeStoreWithPrefix(r *cache.RedisClient, prefix string) *ModeStore {
	return &ModeStore{client: r, prefix: prefix}
}

// Latest returns the newest record, or nil when the history is empty.
func (s *ModeStore) Latest(ctx context.Context) (*models.ModeRecord, error) {
	ids, err := s.client.Client().ZRevRange(ctx, s.historyKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("mode history: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.client.Client().HGetAll(ctx, s.recordKey(ids[0])).Result()
	if err != nil {
		return nil, fmt.Errorf("mode record get: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("mode record %s: %w", ids[0], goredis.Nil)
	}
	return parseRecord(vals)
}

// Append writes the record hash and its history entry in one MULTI/EXEC.
func (s *ModeStore) Append(ctx context.Context, r models.ModeRecord) error {
	id := r.ID.String()
	pipe := s.client.Client().TxPipeline()
	pipe.HSet(ctx, s.recordKey(id),
		"id", id,
		"mode", string(r.Mode),
		"reason", r.Reason,
		"change_time", r.ChangeTime.UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, s.historyKey(), goredis.Z{
		Score:  float64(r.ChangeTime.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mode record set: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *ModeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func parseRecord(vals map[string]string) (*models.ModeRecord, error) {
	id, err := uuid.Parse(vals["id"])
	if err != nil {
		return nil, fmt.Errorf("mode record parse id: %w", err)
	}
	mode, err := models.ParseMode(vals["mode"])
	if err != nil {
		return nil, fmt.Errorf("mode record parse mode: %w", err)
	}
	changeTime, err := time.Parse(time.RFC3339Nano, vals["change_time"])
	if err != nil {
		return nil, fmt.Errorf("mode record parse change_time: %w", err)
	}
	return &models.ModeRecord{
		ID:         id,
		Mode:       mode,
		Reason:     vals["reason"],
		ChangeTime: changeTime.UTC(),
	}, nil
}

func (s *ModeStore) historyKey() string {
	return s.prefix + ":history"
}

func (s *ModeStore) recordKey(id string) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, id)
}
