package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	scheduleKeyPrefix = "scheduling:schedule:"
	versionKeyPrefix  = "scheduling:schedule-version:"
)

// CachedScheduleRepo caches default-schedule snapshots in Redis. Appointments,
// provider lists and not-found results always go to the underlying
// repository. Keys embed a per-provider version so Invalidate only needs one
// INCR to orphan every cached window.
type CachedScheduleRepo struct {
	ScheduleRepository
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedScheduleRepo wraps next with a Redis snapshot cache. Redis
// failures are logged and fall through to next.
func NewCachedScheduleRepo(next ScheduleRepository, rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *CachedScheduleRepo {
	return &CachedScheduleRepo{
		ScheduleRepository: next,
		rdb:                rdb,
		ttl:                ttl,
		logger:             logger.With().Str("component", "schedule_cache").Logger(),
	}
}

func (c *CachedScheduleRepo) version(ctx context.Context, providerID uuid.UUID) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKeyPrefix+providerID.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func scheduleKey(providerID uuid.UUID, version int64, from, to Date) string {
	return fmt.Sprintf("%s%s:v%d:%s:%s", scheduleKeyPrefix, providerID, version, from, to)
}

func (c *CachedScheduleRepo) GetActiveDefaultSchedule(ctx context.Context, providerID uuid.UUID, from, to Date) (*ProviderSchedule, error) {
	version, err := c.version(ctx, providerID)
	if err != nil {
		c.logger.Warn().Err(err).Str("provider_id", providerID.String()).Msg("schedule cache version read failed")
		return c.ScheduleRepository.GetActiveDefaultSchedule(ctx, providerID, from, to)
	}
	key := scheduleKey(providerID, version, from, to)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var sched ProviderSchedule
		if err := json.Unmarshal(raw, &sched); err == nil {
			return &sched, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable schedule cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("schedule cache read failed")
	}

	sched, err := c.ScheduleRepository.GetActiveDefaultSchedule(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(sched); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("schedule cache write failed")
		}
	}
	return sched, nil
}

// Invalidate orphans every cached snapshot for the provider.
func (c *CachedScheduleRepo) Invalidate(ctx context.Context, providerID uuid.UUID) error {
	if err := c.rdb.Incr(ctx, versionKeyPrefix+providerID.String()).Err(); err != nil {
		return fmt.Errorf("invalidate schedule cache: %w", err)
	}
	return nil
}
