// Package engine holds the pure scheduling logic: constraint validation,
// candidate slot enumeration and continuity-of-care scoring. Nothing in
// this package touches the database, cache or broker; callers assemble a
// SchedulingContext and interpret the verdicts.
package engine

import (
	"fmt"
	"time"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
)

const violationPenalty = 20.0

// ConstraintEngine validates candidate sessions against facility policy.
// Evaluation is deterministic: violations are reported in fixed rule
// order, and the same inputs always produce the same verdict.
type ConstraintEngine struct {
	calendar *clock.BusinessCalendar
	clk      clock.Clock
}

// NewConstraintEngine creates an engine bound to the facility calendar.
func NewConstraintEngine(calendar *clock.BusinessCalendar, clk clock.Clock) *ConstraintEngine {
	return &ConstraintEngine{calendar: calendar, clk: clk}
}

// Validate runs every rule against the candidate and returns the typed
// violations plus an informational score. continuityScore (0..100) feeds
// the bonus applied to fully valid placements; Valid alone gates
// placement.
func (e *ConstraintEngine) Validate(candidate domain.CandidateSession, sctx *domain.SchedulingContext, continuityScore float64) domain.ValidationResult {
	cons := sctx.Constraints
	var violations []domain.Violation

	add := func(t domain.ViolationType, desc, fix string) {
		violations = append(violations, domain.Violation{
			Type:                t,
			Description:         desc,
			SuggestedResolution: fix,
		})
	}

	// 1. fixed duration
	if candidate.EndTime.Sub(candidate.StartTime) != cons.SessionDuration {
		add(domain.ViolationDuration,
			fmt.Sprintf("session must be exactly %s, got %s",
				cons.SessionDuration, candidate.EndTime.Sub(candidate.StartTime)),
			fmt.Sprintf("set end time to start + %s", cons.SessionDuration))
	}

	// 2. business hours
	if !e.withinHours(candidate.StartTime, candidate.EndTime, cons) {
		add(domain.ViolationBusinessHours,
			fmt.Sprintf("session must fall between %s and %s facility time",
				cons.BusinessHoursStart, cons.BusinessHoursEnd),
			fmt.Sprintf("choose a start between %s and %s",
				cons.BusinessHoursStart, e.latestStart(cons)))
	}

	// 3. business day
	if !e.isValidDay(candidate.StartTime, cons) {
		add(domain.ViolationBusinessDay,
			"sessions can only be scheduled on facility business days",
			"choose a weekday that is not a facility holiday")
	}

	// 4. not in the past. Classified under business hours so consumers
	// key on one violation type for any out-of-window start.
	if !candidate.StartTime.After(e.clk.Now()) {
		add(domain.ViolationBusinessHours,
			"session cannot be scheduled in the past",
			"choose an upcoming time slot")
	}

	// 5. team membership
	if sctx.Team == nil || !sctx.Team.HasMember(candidate.RBTID) {
		add(domain.ViolationTeamMembership,
			"RBT is not a member of the client's active team",
			"choose a team member or update the team first")
	}

	// 6. RBT conflict
	if conflict := firstOverlap(sctx.SessionsFor(candidate.RBTID), candidate.StartTime, candidate.EndTime); conflict != nil {
		add(domain.ViolationRBTConflict,
			fmt.Sprintf("RBT already has a session from %s to %s",
				conflict.StartTime.Format(time.RFC3339), conflict.EndTime.Format(time.RFC3339)),
			"choose a different time or RBT")
	}

	// 7. client conflict
	if conflict := e.clientOverlap(sctx, candidate); conflict != nil {
		add(domain.ViolationClientConflict,
			fmt.Sprintf("client already has a session from %s to %s",
				conflict.StartTime.Format(time.RFC3339), conflict.EndTime.Format(time.RFC3339)),
			"choose a different time")
	}

	// 8. declared availability
	if !e.coveredByAvailability(sctx.Availability, candidate) {
		add(domain.ViolationRBTAvailability,
			"session falls outside the RBT's declared availability",
			"choose a slot inside the RBT's availability windows")
	}

	// 9. daily cap
	if count := e.sameDayCount(sctx, candidate); count >= cons.MaxSessionsPerDay {
		add(domain.ViolationDailyCapacity,
			fmt.Sprintf("RBT already has %d session(s) that day (max %d)",
				count, cons.MaxSessionsPerDay),
			"choose another day or RBT")
	}

	// 10. rest gap
	if gap, short := e.shortestGap(sctx, candidate); short {
		add(domain.ViolationInsufficientRest,
			fmt.Sprintf("only %s between sessions, %s required",
				gap, cons.MinBreakBetween),
			fmt.Sprintf("leave at least %s before and after adjacent sessions",
				cons.MinBreakBetween))
	}

	result := domain.ValidationResult{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
	if result.Valid {
		result.Score = 80 + continuityBonus(continuityScore) + e.centralityBonus(candidate, cons)
	} else {
		result.Score = 100 - violationPenalty*float64(len(violations))
		if result.Score < 0 {
			result.Score = 0
		}
	}
	return result
}

func (e *ConstraintEngine) withinHours(start, end time.Time, cons domain.SchedulingConstraints) bool {
	openMin, err := clock.ParseMinutes(cons.BusinessHoursStart)
	if err != nil {
		openMin = e.calendar.OpenMinutes()
	}
	closeMin, err := clock.ParseMinutes(cons.BusinessHoursEnd)
	if err != nil {
		closeMin = e.calendar.CloseMinutes()
	}
	if e.calendar.LocalDate(start) != e.calendar.LocalDate(end) {
		return false
	}
	return e.calendar.MinutesOfDay(start) >= openMin && e.calendar.MinutesOfDay(end) <= closeMin
}

func (e *ConstraintEngine) isValidDay(start time.Time, cons domain.SchedulingConstraints) bool {
	weekday := start.In(e.calendar.Location()).Weekday()
	ok := false
	for _, d := range cons.ValidDays {
		if d == weekday {
			ok = true
			break
		}
	}
	return ok && !e.calendar.IsHoliday(start)
}

func (e *ConstraintEngine) clientOverlap(sctx *domain.SchedulingContext, candidate domain.CandidateSession) *domain.Session {
	for _, s := range sctx.SessionsFor("") {
		if s.ClientID != candidate.ClientID {
			continue
		}
		if s.BlocksPlacement() && s.Overlaps(candidate.StartTime, candidate.EndTime) {
			found := s
			return &found
		}
	}
	return nil
}

func (e *ConstraintEngine) coveredByAvailability(slots []domain.AvailabilitySlot, candidate domain.CandidateSession) bool {
	local := candidate.StartTime.In(e.calendar.Location())
	weekday := domain.ISOWeekday(local.Weekday())
	startMin := e.calendar.MinutesOfDay(candidate.StartTime)
	endMin := e.calendar.MinutesOfDay(candidate.EndTime)

	for i := range slots {
		slot := &slots[i]
		if slot.RBTID != candidate.RBTID || slot.DayOfWeek != weekday {
			continue
		}
		if !slot.InEffect(candidate.StartTime) {
			continue
		}
		slotStart, err1 := clock.ParseMinutes(slot.StartTime)
		slotEnd, err2 := clock.ParseMinutes(slot.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		if slotStart <= startMin && endMin <= slotEnd {
			return true
		}
	}
	return false
}

func (e *ConstraintEngine) sameDayCount(sctx *domain.SchedulingContext, candidate domain.CandidateSession) int {
	date := e.calendar.LocalDate(candidate.StartTime)
	count := 0
	for _, s := range sctx.SessionsFor(candidate.RBTID) {
		if s.BlocksPlacement() && e.calendar.LocalDate(s.StartTime) == date {
			count++
		}
	}
	return count
}

// shortestGap returns the smallest break to an adjacent same-day RBT
// session and whether it falls below the minimum. Overlaps are rule 6's
// concern and are skipped here.
func (e *ConstraintEngine) shortestGap(sctx *domain.SchedulingContext, candidate domain.CandidateSession) (time.Duration, bool) {
	date := e.calendar.LocalDate(candidate.StartTime)
	minGap := time.Duration(-1)

	for _, s := range sctx.SessionsFor(candidate.RBTID) {
		if !s.BlocksPlacement() || e.calendar.LocalDate(s.StartTime) != date {
			continue
		}
		if s.Overlaps(candidate.StartTime, candidate.EndTime) {
			continue
		}
		var gap time.Duration
		if !s.EndTime.After(candidate.StartTime) {
			gap = candidate.StartTime.Sub(s.EndTime)
		} else {
			gap = s.StartTime.Sub(candidate.EndTime)
		}
		if minGap < 0 || gap < minGap {
			minGap = gap
		}
	}

	if minGap < 0 {
		return 0, false
	}
	return minGap, minGap < sctx.Constraints.MinBreakBetween
}

func (e *ConstraintEngine) latestStart(cons domain.SchedulingConstraints) string {
	closeMin, err := clock.ParseMinutes(cons.BusinessHoursEnd)
	if err != nil {
		closeMin = e.calendar.CloseMinutes()
	}
	return clock.FormatMinutes(closeMin - int(cons.SessionDuration.Minutes()))
}

// continuityBonus maps a 0..100 continuity score onto 0..10 bonus points.
func continuityBonus(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		score = 100
	}
	return score / 10
}

// centralityBonus rewards slots near the middle of the business window,
// up to 10 points for a perfectly centered session.
func (e *ConstraintEngine) centralityBonus(candidate domain.CandidateSession, cons domain.SchedulingConstraints) float64 {
	openMin, err := clock.ParseMinutes(cons.BusinessHoursStart)
	if err != nil {
		openMin = e.calendar.OpenMinutes()
	}
	closeMin, err := clock.ParseMinutes(cons.BusinessHoursEnd)
	if err != nil {
		closeMin = e.calendar.CloseMinutes()
	}

	windowMid := float64(openMin+closeMin) / 2
	halfSpan := float64(closeMin-openMin) / 2
	if halfSpan <= 0 {
		return 0
	}

	sessionMid := (float64(e.calendar.MinutesOfDay(candidate.StartTime)) +
		float64(e.calendar.MinutesOfDay(candidate.EndTime))) / 2
	offset := sessionMid - windowMid
	if offset < 0 {
		offset = -offset
	}
	bonus := 10 * (1 - offset/halfSpan)
	if bonus < 0 {
		return 0
	}
	return bonus
}

func firstOverlap(sessions []domain.Session, start, end time.Time) *domain.Session {
	for _, s := range sessions {
		if s.BlocksPlacement() && s.Overlaps(start, end) {
			found := s
			return &found
		}
	}
	return nil
}
