package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/engine"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

// memStore is an in-memory implementation of every persistence port,
// with the same transactional semantics the real repositories give:
// entity writes append their audit event atomically.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	teams    map[string]domain.Team
	rbts     map[string]domain.RBT
	clients  map[string]domain.Client
	slots    []domain.AvailabilitySlot
	log      []domain.ScheduleEvent

	failSessionCreate error
	nextID            int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]domain.Session{},
		teams:    map[string]domain.Team{},
		rbts:     map[string]domain.RBT{},
		clients:  map[string]domain.Client{},
	}
}

func (m *memStore) mintID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) appendEvent(event *domain.ScheduleEvent) error {
	if event.ID == "" {
		event.ID = m.mintID("evt")
	}
	for _, e := range m.log {
		if e.ID == event.ID {
			return errors.Conflict("schedule event already exists")
		}
	}
	event.CreatedAt = time.Now().UTC()
	m.log = append(m.log, *event)
	return nil
}

// --- SessionStore ---

func (m *memStore) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.NotFound("session")
	}
	return &s, nil
}

func (m *memStore) FindByClientID(ctx context.Context, clientID string, from, to time.Time) ([]domain.Session, error) {
	return m.filterSessions(func(s *domain.Session) bool {
		return s.ClientID == clientID && !s.StartTime.Before(from) && s.StartTime.Before(to)
	}), nil
}

func (m *memStore) FindByRBTID(ctx context.Context, rbtID string, from, to time.Time) ([]domain.Session, error) {
	return m.filterSessions(func(s *domain.Session) bool {
		return s.RBTID == rbtID && !s.StartTime.Before(from) && s.StartTime.Before(to)
	}), nil
}

func (m *memStore) FindActiveByDateRange(ctx context.Context, from, to time.Time) ([]domain.Session, error) {
	return m.filterSessions(func(s *domain.Session) bool {
		active := s.Status == domain.SessionScheduled || s.Status == domain.SessionConfirmed
		return active && !s.StartTime.Before(from) && s.StartTime.Before(to)
	}), nil
}

func (m *memStore) CheckConflicts(ctx context.Context, clientID, rbtID string, start, end time.Time, excludeSessionID *string) ([]domain.Session, error) {
	return m.filterSessions(func(s *domain.Session) bool {
		if excludeSessionID != nil && s.ID == *excludeSessionID {
			return false
		}
		if s.ClientID != clientID && s.RBTID != rbtID {
			return false
		}
		return s.BlocksPlacement() && s.Overlaps(start, end)
	}), nil
}

func (m *memStore) filterSessions(keep func(*domain.Session) bool) []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sessions {
		s := s
		if keep(&s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memStore) Create(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSessionCreate != nil {
		return m.failSessionCreate
	}
	if s.ID == "" {
		s.ID = m.mintID("sess")
	}
	if s.Status == "" {
		s.Status = domain.SessionScheduled
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = *s
	return m.appendEvent(event)
}

func (m *memStore) Update(ctx context.Context, s *domain.Session, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return errors.NotFound("session")
	}
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = *s
	if event != nil {
		return m.appendEvent(event)
	}
	return nil
}

// --- TeamStore ---

func (m *memStore) FindTeamByID(ctx context.Context, id string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, errors.NotFound("team")
	}
	return &t, nil
}

func (m *memStore) FindActiveByClientID(ctx context.Context, clientID string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.ClientID == clientID && t.IsActive {
			t := t
			return &t, nil
		}
	}
	return nil, errors.NotFound("active team for client")
}

func (m *memStore) FindActiveByRBTID(ctx context.Context, rbtID string) ([]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Team
	for _, t := range m.teams {
		if t.IsActive && t.HasMember(rbtID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *memStore) CreateTeam(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = m.mintID("team")
	}
	t.IsActive = true
	m.teams[t.ID] = *t
	return m.appendEvent(event)
}

func (m *memStore) UpdateRoster(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.teams[t.ID]
	if !ok || !existing.IsActive {
		return errors.NotFound("active team")
	}
	m.teams[t.ID] = *t
	return m.appendEvent(event)
}

func (m *memStore) End(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.teams[t.ID]
	if !ok || !existing.IsActive {
		return errors.NotFound("active team")
	}
	t.IsActive = false
	m.teams[t.ID] = *t
	return m.appendEvent(event)
}

// --- RBTStore ---

func (m *memStore) FindRBTByID(ctx context.Context, id string) (*domain.RBT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rbts[id]
	if !ok {
		return nil, errors.NotFound("rbt")
	}
	return &r, nil
}

func (m *memStore) FindByIDs(ctx context.Context, ids []string) ([]domain.RBT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RBT
	for _, id := range ids {
		if r, ok := m.rbts[id]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindActive(ctx context.Context) ([]domain.RBT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RBT
	for _, r := range m.rbts {
		if r.IsActive && r.TerminationDate == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindAvailableForTimeSlot(ctx context.Context, start, end time.Time, timezone string, excludeIDs []string) ([]domain.RBT, error) {
	excluded := map[string]bool{}
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	active, _ := m.FindActive(ctx)
	var out []domain.RBT
	for _, r := range active {
		if excluded[r.ID] {
			continue
		}
		conflicts, _ := m.CheckConflicts(ctx, "", r.ID, start, end, nil)
		if len(conflicts) == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- ClientStore ---

func (m *memStore) FindClientByID(ctx context.Context, id string) (*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, errors.NotFound("client")
	}
	return &c, nil
}

// --- AvailabilityStore ---

func (m *memStore) FindAvailabilityByRBTID(ctx context.Context, rbtID string) ([]domain.AvailabilitySlot, error) {
	return m.FindByRBTIDs(ctx, []string{rbtID})
}

func (m *memStore) FindByRBTIDs(ctx context.Context, rbtIDs []string) ([]domain.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range rbtIDs {
		want[id] = true
	}
	var out []domain.AvailabilitySlot
	for _, s := range m.slots {
		if want[s.RBTID] && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- EventStore ---

func (m *memStore) Append(ctx context.Context, event *domain.ScheduleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEvent(event)
}

func (m *memStore) Query(ctx context.Context, filter domain.EventFilter) ([]domain.ScheduleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduleEvent
	for _, e := range m.log {
		if len(filter.EventTypes) > 0 {
			found := false
			for _, t := range filter.EventTypes {
				if e.EventType == t {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if filter.SessionID != nil && (e.SessionID == nil || *e.SessionID != *filter.SessionID) {
			continue
		}
		if filter.RBTID != nil && (e.RBTID == nil || *e.RBTID != *filter.RBTID) {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// eventsOfType counts log entries of one type.
func (m *memStore) eventsOfType(t domain.EventType) []domain.ScheduleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduleEvent
	for _, e := range m.log {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// port adapters: the memStore method set collides between ports
// (FindByID), so each port gets a thin view.

type sessionPort struct{ *memStore }

type teamPort struct{ *memStore }

func (p teamPort) FindByID(ctx context.Context, id string) (*domain.Team, error) {
	return p.FindTeamByID(ctx, id)
}

func (p teamPort) Create(ctx context.Context, t *domain.Team, event *domain.ScheduleEvent) error {
	return p.CreateTeam(ctx, t, event)
}

type rbtPort struct{ *memStore }

func (p rbtPort) FindByID(ctx context.Context, id string) (*domain.RBT, error) {
	return p.FindRBTByID(ctx, id)
}

type clientPort struct{ *memStore }

func (p clientPort) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	return p.FindClientByID(ctx, id)
}

type availabilityPort struct{ *memStore }

func (p availabilityPort) FindByRBTID(ctx context.Context, rbtID string) ([]domain.AvailabilitySlot, error) {
	return p.FindAvailabilityByRBTID(ctx, rbtID)
}

// fakeBroadcaster records every update.
type fakeBroadcaster struct {
	mu      sync.Mutex
	updates []broadcast
}

type broadcast struct {
	routingKey string
	update     messaging.ScheduleUpdate
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, routingKey string, update messaging.ScheduleUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, broadcast{routingKey: routingKey, update: update})
}

func (b *fakeBroadcaster) ofType(t string) []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcast
	for _, u := range b.updates {
		if u.update.Type == t {
			out = append(out, u)
		}
	}
	return out
}

// fakeCache records invalidations and never hits.
type fakeCache struct {
	mu                  sync.Mutex
	availableSets       map[string][]string
	sessionInvalidates  int
	rbtInvalidates      []string
	clientInvalidates   []string
	teamSlotInvalidates []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{availableSets: map[string][]string{}}
}

func (c *fakeCache) key(teamID string, start, end time.Time) string {
	return teamID + start.String() + end.String()
}

func (c *fakeCache) GetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.availableSets[c.key(teamID, start, end)]
	return ids, ok
}

func (c *fakeCache) SetAvailableRBTs(ctx context.Context, teamID string, start, end time.Time, rbtIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.availableSets[c.key(teamID, start, end)] = rbtIDs
}

func (c *fakeCache) InvalidateSession(ctx context.Context, s *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionInvalidates++
}

func (c *fakeCache) InvalidateReschedule(ctx context.Context, old, updated *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionInvalidates += 2
}

func (c *fakeCache) InvalidateRBT(ctx context.Context, rbtID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rbtInvalidates = append(c.rbtInvalidates, rbtID)
}

func (c *fakeCache) InvalidateClient(ctx context.Context, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientInvalidates = append(c.clientInvalidates, clientID)
}

func (c *fakeCache) InvalidateTeamSlots(ctx context.Context, teamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teamSlotInvalidates = append(c.teamSlotInvalidates, teamID)
}

// fixture wires every service against one memStore.
type fixture struct {
	store     *memStore
	cache     *fakeCache
	broadcast *fakeBroadcaster
	clk       *clock.Fixed
	calendar  *clock.BusinessCalendar

	scheduling     *service.SchedulingService
	cancellation   *service.CancellationService
	unavailability *service.UnavailabilityService
	optimization   *service.OptimizationService
	team           *service.TeamService
}

var (
	// Monday 2025-03-10; the clock sits the previous Friday noon.
	fixtureMonday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	fixtureNow    = time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
)

func fixtureConfig() config.SchedulingConfig {
	return config.SchedulingConfig{
		Timezone:              "UTC",
		BusinessHoursStart:    "09:00",
		BusinessHoursEnd:      "19:00",
		SessionDuration:       3 * time.Hour,
		MaxSessionsPerDay:     2,
		MinBreakBetween:       30 * time.Minute,
		ContinuityRecencyDays: 30,
		Reassignment: config.ReassignmentConfig{
			PrioritizeTeamMembers: true,
			MaintainContinuity:    true,
			AllowTimeChanges:      false,
			MaxDaysToReschedule:   7,
			NotificationLeadTime:  2 * time.Hour,
		},
	}
}

func newFixture(t *testing.T, opts ...func(*config.SchedulingConfig)) *fixture {
	t.Helper()

	cal, err := clock.NewBusinessCalendar("UTC")
	require.NoError(t, err)

	f := &fixture{
		store:     newMemStore(),
		cache:     newFakeCache(),
		broadcast: &fakeBroadcaster{},
		clk:       clock.NewFixed(fixtureNow),
		calendar:  cal,
	}

	cfg := fixtureConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	eng := engine.NewConstraintEngine(cal, f.clk)
	scorer := engine.NewContinuityScorer(f.clk, cfg.ContinuityRecencyDays)
	log := logger.New("service-test", "test")

	sessions := sessionPort{f.store}
	teams := teamPort{f.store}
	rbts := rbtPort{f.store}
	clients := clientPort{f.store}
	availability := availabilityPort{f.store}

	f.scheduling = service.NewSchedulingService(
		sessions, teams, rbts, clients, availability,
		eng, scorer, f.cache, f.broadcast, f.clk, cal, cfg, log)
	f.cancellation = service.NewCancellationService(
		sessions, teams, f.store, scorer, f.cache, f.broadcast, f.clk, log)
	f.unavailability = service.NewUnavailabilityService(
		sessions, teams, rbts, availability, f.store,
		eng, scorer, f.cache, f.broadcast, f.clk, cal, cfg, log)
	f.optimization = service.NewOptimizationService(
		sessions, teams, availability, eng, scorer, f.clk, cal, cfg, log)
	f.team = service.NewTeamService(
		teams, rbts, clients, f.cache, f.broadcast, f.clk, log)

	return f
}

// seedClinic loads the standard cast: client-1 with team {rbt-a
// (primary), rbt-b}, full-week availability for rbt-a/b/c, and rbt-c
// active but teamless.
func (f *fixture) seedClinic() {
	enrolled := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hired := time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)

	f.store.clients["client-1"] = domain.Client{
		User:           domain.User{ID: "client-1", FirstName: "Noah", LastName: "Bright", Role: domain.RoleClientFamily, IsActive: true},
		EnrollmentDate: enrolled,
	}
	f.store.clients["client-2"] = domain.Client{
		User:           domain.User{ID: "client-2", FirstName: "Mia", LastName: "Lane", Role: domain.RoleClientFamily, IsActive: true},
		EnrollmentDate: enrolled,
	}

	for _, id := range []string{"rbt-a", "rbt-b", "rbt-c"} {
		f.store.rbts[id] = domain.RBT{
			User:          domain.User{ID: id, FirstName: "RBT", LastName: id, Role: domain.RoleRBT, IsActive: true},
			LicenseNumber: "LIC-" + id,
			HireDate:      hired,
		}
		for day := 1; day <= 5; day++ {
			f.store.slots = append(f.store.slots, domain.AvailabilitySlot{
				ID: fmt.Sprintf("slot-%s-%d", id, day), RBTID: id,
				DayOfWeek: day, StartTime: "09:00", EndTime: "19:00",
				IsActive:      true,
				EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}

	f.store.teams["team-1"] = domain.Team{
		ID: "team-1", ClientID: "client-1",
		RBTIDs: []string{"rbt-a", "rbt-b"}, PrimaryRBTID: "rbt-a",
		EffectiveDate: enrolled, IsActive: true,
	}
}

func fmtID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// seedSession stores a session directly, bypassing validation.
func (f *fixture) seedSession(id, clientID, rbtID string, start time.Time, status domain.SessionStatus) domain.Session {
	s := domain.Session{
		ID: id, ClientID: clientID, RBTID: rbtID,
		StartTime: start, EndTime: start.Add(3 * time.Hour),
		Status: status, Location: "clinic",
	}
	f.store.sessions[id] = s
	return s
}
