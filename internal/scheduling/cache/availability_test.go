package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schedcache "github.com/brightsteps/scheduling-backend/internal/scheduling/cache"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
)

type fakeStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	deleted []string
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, ns, key string, dest any) (bool, error) {
	if f.failAll {
		return false, errors.New("redis down")
	}
	raw, ok := f.data[ns+":"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeStore) Set(_ context.Context, ns, key string, value any, ttl time.Duration) error {
	if f.failAll {
		return errors.New("redis down")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[ns+":"+key] = raw
	f.ttls[ns+":"+key] = ttl
	return nil
}

func (f *fakeStore) Delete(_ context.Context, ns, key string) error {
	if f.failAll {
		return errors.New("redis down")
	}
	delete(f.data, ns+":"+key)
	f.deleted = append(f.deleted, ns+":"+key)
	return nil
}

func (f *fakeStore) DeleteByPattern(_ context.Context, ns, pattern string) error {
	if f.failAll {
		return errors.New("redis down")
	}
	f.deleted = append(f.deleted, ns+":"+pattern)
	prefix := ns + ":" + pattern[:len(pattern)-1]
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.data, k)
		}
	}
	return nil
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		ScheduleTTL:     30 * time.Minute,
		AvailabilityTTL: 30 * time.Minute,
		RBTDayTTL:       5 * time.Minute,
	}
}

func TestAvailabilityCache_ClientScheduleRoundTrip(t *testing.T) {
	store := newFakeStore()
	c := schedcache.New(store, testCacheConfig(), logger.New("cache-test", "test"))

	weekStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	sessions := []domain.Session{{ID: "sess-1", ClientID: "client-1", RBTID: "rbt-1"}}

	_, hit := c.GetClientSchedule(context.Background(), "client-1", weekStart)
	assert.False(t, hit)

	c.SetClientSchedule(context.Background(), "client-1", weekStart, sessions)

	got, hit := c.GetClientSchedule(context.Background(), "client-1", weekStart)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "sess-1", got[0].ID)
	assert.Equal(t, 30*time.Minute, store.ttls["schedule:client-1:2025-03-10"])
}

func TestAvailabilityCache_RBTDayUsesShortTTL(t *testing.T) {
	store := newFakeStore()
	c := schedcache.New(store, testCacheConfig(), logger.New("cache-test", "test"))

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	c.SetRBTDay(context.Background(), "rbt-1", day, []domain.Session{{ID: "sess-1"}})

	assert.Equal(t, 5*time.Minute, store.ttls["rbtday:rbt-1:2025-03-10"])
}

func TestAvailabilityCache_InvalidateSession(t *testing.T) {
	store := newFakeStore()
	c := schedcache.New(store, testCacheConfig(), logger.New("cache-test", "test"))

	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	weekStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	c.SetClientSchedule(context.Background(), "client-1", weekStart, []domain.Session{{ID: "sess-1"}})
	c.SetRBTDay(context.Background(), "rbt-1", day, []domain.Session{{ID: "sess-1"}})

	c.InvalidateSession(context.Background(), &domain.Session{
		ID: "sess-1", ClientID: "client-1", RBTID: "rbt-1", StartTime: day,
	})

	_, hit := c.GetClientSchedule(context.Background(), "client-1", weekStart)
	assert.False(t, hit)
	_, hit = c.GetRBTDay(context.Background(), "rbt-1", day)
	assert.False(t, hit)
}

func TestAvailabilityCache_FailuresDegradeToMiss(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	c := schedcache.New(store, testCacheConfig(), logger.New("cache-test", "test"))

	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// None of these may panic or surface the store error.
	_, hit := c.GetRBTDay(context.Background(), "rbt-1", day)
	assert.False(t, hit)
	c.SetRBTDay(context.Background(), "rbt-1", day, nil)
	c.InvalidateSession(context.Background(), &domain.Session{ClientID: "c", RBTID: "r", StartTime: day})
	c.InvalidateRBT(context.Background(), "rbt-1")
	c.InvalidateClient(context.Background(), "client-1")
}
