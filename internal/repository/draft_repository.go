package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/config"
	"github.com/cqbot/cqbot-backend/internal/model"
)

// DraftRepository persists in-progress answer drafts in Redis, one record
// per user and repository URL. It is a best-effort cache: a missing or
// corrupt entry is never fatal, and corrupt entries are purged on read so
// they cannot keep poisoning reloads.
type DraftRepository struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *DraftRepository {
	return &DraftRepository{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "draft_repository").Logger(),
	}
}

// Save overwrites the draft record for the given user and repository URL.
// Saves are idempotent; the TTL is refreshed on every write.
func (r *DraftRepository) Save(ctx context.Context, login, repoURL string, rec *model.DraftRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := config.CacheKey.DraftKey(login, repoURL)
	return r.rdb.Set(ctx, key, raw, r.ttl).Err()
}

// Load returns the persisted draft record, or nil when none exists.
// Malformed data is treated as absent and the stale entry is removed.
func (r *DraftRepository) Load(ctx context.Context, login, repoURL string) (*model.DraftRecord, error) {
	key := config.CacheKey.DraftKey(login, repoURL)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var rec model.DraftRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Purging corrupt draft record")
		_ = r.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &rec, nil
}

// Clear removes the draft record. Called when an answer batch is accepted
// upstream and on full workflow reset.
func (r *DraftRepository) Clear(ctx context.Context, login, repoURL string) error {
	return r.rdb.Del(ctx, config.CacheKey.DraftKey(login, repoURL)).Err()
}
