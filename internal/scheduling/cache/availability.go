// Package cache holds the read-through availability cache in front of the
// scheduling repositories. Entries are invalidated on every schedule
// mutation after commit; a stale or unavailable cache only costs a
// recomputation, never correctness.
package cache

import (
	"context"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

const (
	nsSchedule     = "schedule"
	nsRBTDay       = "rbtday"
	nsAvailability = "avail"
)

// Store is the subset of the Redis client the availability cache needs.
type Store interface {
	Get(ctx context.Context, namespace, key string, dest any) (bool, error)
	Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	DeleteByPattern(ctx context.Context, namespace, pattern string) error
}

// AvailabilityCache caches per-client weekly schedules, per-RBT day
// timelines and RBT availability declarations. Every method degrades to
// a miss on failure; cache errors are logged and never propagated.
type AvailabilityCache struct {
	store  Store
	cfg    config.CacheConfig
	logger *logger.Logger
}

// New creates the availability cache with the configured TTLs.
func New(store Store, cfg config.CacheConfig, log *logger.Logger) *AvailabilityCache {
	return &AvailabilityCache{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("availability-cache"),
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// GetClientSchedule fetches a client's cached sessions for the week
// starting at weekStart. Returns false on miss or failure.
func (c *AvailabilityCache) GetClientSchedule(ctx context.Context, clientID string, weekStart time.Time) ([]domain.Session, bool) {
	var sessions []domain.Session
	key := clientID + ":" + dateKey(weekStart)

	hit, err := c.store.Get(ctx, nsSchedule, key, &sessions)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("client schedule cache read failed")
		return nil, false
	}
	return sessions, hit
}

// SetClientSchedule caches a client's sessions for one week.
func (c *AvailabilityCache) SetClientSchedule(ctx context.Context, clientID string, weekStart time.Time, sessions []domain.Session) {
	key := clientID + ":" + dateKey(weekStart)
	if err := c.store.Set(ctx, nsSchedule, key, sessions, c.cfg.ScheduleTTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("client schedule cache write failed")
	}
}

// GetRBTDay fetches an RBT's cached sessions for one calendar day.
func (c *AvailabilityCache) GetRBTDay(ctx context.Context, rbtID string, day time.Time) ([]domain.Session, bool) {
	var sessions []domain.Session
	key := rbtID + ":" + dateKey(day)

	hit, err := c.store.Get(ctx, nsRBTDay, key, &sessions)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("rbt day cache read failed")
		return nil, false
	}
	return sessions, hit
}

// SetRBTDay caches an RBT's sessions for one calendar day.
func (c *AvailabilityCache) SetRBTDay(ctx context.Context, rbtID string, day time.Time, sessions []domain.Session) {
	key := rbtID + ":" + dateKey(day)
	if err := c.store.Set(ctx, nsRBTDay, key, sessions, c.cfg.RBTDayTTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("rbt day cache write failed")
	}
}

// GetAvailability fetches an RBT's cached recurring availability.
func (c *AvailabilityCache) GetAvailability(ctx context.Context, rbtID string) ([]domain.AvailabilitySlot, bool) {
	var slots []domain.AvailabilitySlot

	hit, err := c.store.Get(ctx, nsAvailability, rbtID, &slots)
	if err != nil {
		c.logger.Warn().Err(err).Str("rbt_id", rbtID).Msg("availability cache read failed")
		return nil, false
	}
	return slots, hit
}

// SetAvailability caches an RBT's recurring availability.
func (c *AvailabilityCache) SetAvailability(ctx context.Context, rbtID string, slots []domain.AvailabilitySlot) {
	if err := c.store.Set(ctx, nsAvailability, rbtID, slots, c.cfg.AvailabilityTTL); err != nil {
		c.logger.Warn().Err(err).Str("rbt_id", rbtID).Msg("availability cache write failed")
	}
}

// GetAvailableRBTs fetches the cached set of free team members for one
// (team, start, end) triple.
func (c *AvailabilityCache) GetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time) ([]string, bool) {
	var ids []string
	key := teamSlotKey(teamID, start, end)

	hit, err := c.store.Get(ctx, nsAvailability, key, &ids)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("available-rbt cache read failed")
		return nil, false
	}
	return ids, hit
}

// SetAvailableRBTs caches the free team members for one time slot.
func (c *AvailabilityCache) SetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time, rbtIDs []string) {
	key := teamSlotKey(teamID, start, end)
	if err := c.store.Set(ctx, nsAvailability, key, rbtIDs, c.cfg.AvailabilityTTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("available-rbt cache write failed")
	}
}

// InvalidateTeamSlots drops every available-RBT entry for one team.
func (c *AvailabilityCache) InvalidateTeamSlots(ctx context.Context, teamID string) {
	if err := c.store.DeleteByPattern(ctx, nsAvailability, teamID+":*"); err != nil {
		c.logger.Warn().Err(err).Str("team_id", teamID).Msg("team slot invalidation failed")
	}
}

func teamSlotKey(teamID string, start, end time.Time) string {
	return teamID + ":" + start.UTC().Format(time.RFC3339) + ":" + end.UTC().Format(time.RFC3339)
}

// InvalidateSession drops every entry a session mutation can stale: the
// client's weekly schedules and the RBT's day timeline. Called after the
// database transaction commits, before the broadcast.
func (c *AvailabilityCache) InvalidateSession(ctx context.Context, s *domain.Session) {
	if err := c.store.DeleteByPattern(ctx, nsSchedule, s.ClientID+":*"); err != nil {
		c.logger.Warn().Err(err).Str("client_id", s.ClientID).Msg("schedule invalidation failed")
	}
	key := s.RBTID + ":" + dateKey(s.StartTime)
	if err := c.store.Delete(ctx, nsRBTDay, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("rbt day invalidation failed")
	}
}

// InvalidateReschedule extends InvalidateSession to also drop the RBT day
// entries of the old placement, which may be a different RBT or day.
func (c *AvailabilityCache) InvalidateReschedule(ctx context.Context, old, updated *domain.Session) {
	c.InvalidateSession(ctx, old)
	c.InvalidateSession(ctx, updated)
}

// InvalidateRBT drops everything keyed on one RBT: day timelines and
// availability declarations. Used when an RBT declares unavailability or
// roster membership changes.
func (c *AvailabilityCache) InvalidateRBT(ctx context.Context, rbtID string) {
	if err := c.store.DeleteByPattern(ctx, nsRBTDay, rbtID+":*"); err != nil {
		c.logger.Warn().Err(err).Str("rbt_id", rbtID).Msg("rbt day invalidation failed")
	}
	if err := c.store.Delete(ctx, nsAvailability, rbtID); err != nil {
		c.logger.Warn().Err(err).Str("rbt_id", rbtID).Msg("availability invalidation failed")
	}
}

// InvalidateClient drops a client's weekly schedule entries. Used on team
// mutations.
func (c *AvailabilityCache) InvalidateClient(ctx context.Context, clientID string) {
	if err := c.store.DeleteByPattern(ctx, nsSchedule, clientID+":*"); err != nil {
		c.logger.Warn().Err(err).Str("client_id", clientID).Msg("schedule invalidation failed")
	}
}
