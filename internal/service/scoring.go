package service

import (
	"github.com/noah-isme/sma-subs-api/internal/models"
)

// Criteria selects the scoring emphasis used to rank substitute candidates.
type Criteria string

const (
	CriteriaSubjectExpertise Criteria = "subject_expertise"
	CriteriaAvailability     Criteria = "availability"
	CriteriaWorkload         Criteria = "workload"
	CriteriaPerformance      Criteria = "performance"
)

// OrDefault substitutes the subject-expertise default for an unset criteria.
func (c Criteria) OrDefault() Criteria {
	if c == "" {
		return CriteriaSubjectExpertise
	}
	return c
}

// Valid reports whether the criteria is a known value.
func (c Criteria) Valid() bool {
	switch c {
	case CriteriaSubjectExpertise, CriteriaAvailability, CriteriaWorkload, CriteriaPerformance:
		return true
	}
	return false
}

const (
	maxCountedDayLoad    = 5
	maxCountedExperience = 10
)

// ScoreTeacher computes the deterministic suitability score of a candidate for
// a request. dayLoad is the candidate's committed substitution count on the
// request date. All terms are additive; same inputs always yield the same
// score.
func ScoreTeacher(t models.Teacher, req models.SubstitutionRequest, dayLoad int, criteria Criteria) int {
	score := 0

	if req.SubjectID != nil && t.TeachesSubject(*req.SubjectID) {
		score += 50
	}
	if req.ClassID != nil && t.TeachesClass(*req.ClassID) {
		score += 30
	}

	load := dayLoad
	if load > maxCountedDayLoad {
		load = maxCountedDayLoad
	}
	score += (maxCountedDayLoad - load) * 5

	experience := t.ExperienceYears
	if experience > maxCountedExperience {
		experience = maxCountedExperience
	}
	score += experience * 2

	score += t.PerformanceRating * 3

	// Flat bonus: the candidate already passed availability filtering.
	score += 10

	switch criteria {
	case CriteriaAvailability:
		score += (maxCountedDayLoad - load) * 10
	case CriteriaWorkload:
		score += (10 - load) * 5
	case CriteriaPerformance:
		score += t.PerformanceRating * 10
	}

	return score
}

// ScoredTeacher pairs a candidate with its computed score.
type ScoredTeacher struct {
	Teacher models.Teacher
	Score   int
}

// RankCandidates scores every candidate, preserving input order. Callers must
// supply candidates in a defined order (ID ascending) so tie-breaks stay
// reproducible.
func RankCandidates(candidates []models.Teacher, req models.SubstitutionRequest, dayLoads map[string]int, criteria Criteria) []ScoredTeacher {
	ranked := make([]ScoredTeacher, 0, len(candidates))
	for _, teacher := range candidates {
		ranked = append(ranked, ScoredTeacher{
			Teacher: teacher,
			Score:   ScoreTeacher(teacher, req, dayLoads[teacher.ID], criteria),
		})
	}
	return ranked
}

// BestCandidate returns the highest-scored entry. Ties keep the
// first-encountered candidate.
func BestCandidate(ranked []ScoredTeacher) (ScoredTeacher, bool) {
	if len(ranked) == 0 {
		return ScoredTeacher{}, false
	}
	best := ranked[0]
	for _, candidate := range ranked[1:] {
		if candidate.Score > best.Score {
			best = candidate
		}
	}
	return best, true
}
