package engine

import (
	"context"
	"sort"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
)

// slotStep is the enumeration granularity for candidate start times.
const slotStep = 30 * time.Minute

// FindAvailableTimeSlots enumerates, for every member of the client's
// team, each candidate slot on the given date that passes the full rule
// set. Candidates start on 30-minute boundaries inside the member's
// declared availability. The result maps RBT id to slots ordered by
// start time; iterate RBTIDsSorted for a deterministic walk.
func (e *ConstraintEngine) FindAvailableTimeSlots(ctx context.Context, date time.Time, sctx *domain.SchedulingContext) (map[string][]domain.TimeSlot, error) {
	result := make(map[string][]domain.TimeSlot)
	if sctx.Team == nil {
		return result, nil
	}

	members := append([]string(nil), sctx.Team.RBTIDs...)
	sort.Strings(members)

	localDate := date.In(e.calendar.Location())
	weekday := domain.ISOWeekday(localDate.Weekday())

	for _, rbtID := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range sctx.Availability {
			slot := &sctx.Availability[i]
			if slot.RBTID != rbtID || slot.DayOfWeek != weekday || !slot.InEffect(date) {
				continue
			}

			starts, err := e.enumerateStarts(localDate, slot, sctx.Constraints.SessionDuration)
			if err != nil {
				continue
			}
			for _, start := range starts {
				candidate := domain.CandidateSession{
					ClientID:  sctx.ClientID,
					RBTID:     rbtID,
					StartTime: start,
					EndTime:   start.Add(sctx.Constraints.SessionDuration),
				}
				if verdict := e.Validate(candidate, sctx, 0); verdict.Valid {
					result[rbtID] = append(result[rbtID], domain.TimeSlot{
						StartTime: candidate.StartTime,
						EndTime:   candidate.EndTime,
					})
				}
			}
		}

		sort.Slice(result[rbtID], func(i, j int) bool {
			return result[rbtID][i].StartTime.Before(result[rbtID][j].StartTime)
		})
	}

	return result, nil
}

// RBTIDsSorted returns the map keys in lexicographic order.
func RBTIDsSorted(slots map[string][]domain.TimeSlot) []string {
	ids := make([]string, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// enumerateStarts yields each 30-minute-aligned start inside the
// availability window that leaves room for a full session.
func (e *ConstraintEngine) enumerateStarts(localDate time.Time, slot *domain.AvailabilitySlot, duration time.Duration) ([]time.Time, error) {
	windowStart, err := e.calendar.At(localDate, slot.StartTime)
	if err != nil {
		return nil, err
	}
	windowEndMin, err := clock.ParseMinutes(slot.EndTime)
	if err != nil {
		return nil, err
	}
	windowEnd, _ := e.calendar.At(localDate, clock.FormatMinutes(windowEndMin))

	var starts []time.Time
	for start := windowStart; !start.Add(duration).After(windowEnd); start = start.Add(slotStep) {
		starts = append(starts, start)
	}
	return starts, nil
}
