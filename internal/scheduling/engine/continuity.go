package engine

import (
	"sort"

	"github.com/brightsteps/scheduling-backend/internal/scheduling/domain"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/errors"
)

// Continuity scoring weights. History points reward the overall
// relationship, recency points reward sessions inside the configured
// window, and the primary bonus favors the designated primary RBT.
const (
	historyPointsPer = 4.0
	historyPointsCap = 40.0
	recencyPointsPer = 10.0
	recencyPointsCap = 30.0
	primaryBonus     = 20.0
)

// ContinuityScorer quantifies how familiar an RBT is to a client from
// their shared session history. Scores run 0..100; an RBT who has never
// served the client scores zero regardless of team role.
type ContinuityScorer struct {
	clk         clock.Clock
	recencyDays int
}

// NewContinuityScorer creates a scorer with the given recency window.
func NewContinuityScorer(clk clock.Clock, recencyDays int) *ContinuityScorer {
	if recencyDays <= 0 {
		recencyDays = 30
	}
	return &ContinuityScorer{clk: clk, recencyDays: recencyDays}
}

// Score computes the continuity score for one RBT/client pair. History
// holds the client's past sessions; cancelled and no-show entries do not
// count as served.
func (s *ContinuityScorer) Score(rbtID string, history []domain.Session, team *domain.Team) float64 {
	cutoff := s.clk.Now().AddDate(0, 0, -s.recencyDays)

	var total, recent int
	for _, sess := range history {
		if sess.RBTID != rbtID || !sess.BlocksPlacement() {
			continue
		}
		total++
		if sess.StartTime.After(cutoff) {
			recent++
		}
	}
	if total == 0 {
		return 0
	}

	score := min(float64(total)*historyPointsPer, historyPointsCap) +
		min(float64(recent)*recencyPointsPer, recencyPointsCap)
	if team != nil && team.PrimaryRBTID == rbtID {
		score += primaryBonus
	}
	if score > 100 {
		score = 100
	}
	return score
}

// SelectRBT picks the candidate with the highest continuity score. All
// candidates are assumed already available for the slot. Ties break on
// primary role first, then lexicographic RBT id, so selection is total
// and repeatable.
func (s *ContinuityScorer) SelectRBT(candidates []string, history []domain.Session, team *domain.Team) (*domain.RBTSelectionResult, error) {
	if len(candidates) == 0 {
		return nil, errors.BadRequest("no candidate RBTs to select from")
	}

	ranked := make([]domain.RankedCandidate, 0, len(candidates))
	for _, id := range candidates {
		ranked = append(ranked, domain.RankedCandidate{
			RBTID:     id,
			Score:     s.Score(id, history, team),
			IsPrimary: team != nil && team.PrimaryRBTID == id,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].IsPrimary != ranked[j].IsPrimary {
			return ranked[i].IsPrimary
		}
		return ranked[i].RBTID < ranked[j].RBTID
	})

	return &domain.RBTSelectionResult{
		SelectedRBTID: ranked[0].RBTID,
		Score:         ranked[0].Score,
		Candidates:    ranked,
	}, nil
}
