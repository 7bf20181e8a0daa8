package service

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tgo/engage/internal/model"
)

// ScoreWeights are the weights of the candidate sub-scores.
type ScoreWeights struct {
	Skill       float64
	Language    float64
	Workload    float64
	Performance float64
	Recency     float64
}

// DefaultScoreWeights returns the stock weighting, led by skill match and workload.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Skill: 0.30, Language: 0.20, Workload: 0.25, Performance: 0.15, Recency: 0.10}
}

// recencyWindow is how long after its last activity an agent's recency score reaches zero.
const recencyWindow = time.Hour

const scoreEpsilon = 1e-9

// Criteria narrows the candidate set. Languages are ordered by preference;
// the first one drives the language sub-score.
type Criteria struct {
	RequiredSkills model.StringSet
	Department     string
	Languages      []string
	ExcludeAgentID *uuid.UUID
}

// ScoreBreakdown holds the normalized sub-scores of one candidate.
type ScoreBreakdown struct {
	Skill       float64 `json:"skill"`
	Language    float64 `json:"language"`
	Workload    float64 `json:"workload"`
	Performance float64 `json:"performance"`
	Recency     float64 `json:"recency"`
}

// ScoredAgent is a candidate with its weighted score.
type ScoredAgent struct {
	Agent     model.Agent    `json:"agent"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// Matches applies the hard filter.
func (c Criteria) Matches(a *model.Agent) bool {
	if !a.Eligible() {
		return false
	}
	if c.ExcludeAgentID != nil && a.ID == *c.ExcludeAgentID {
		return false
	}
	if c.Department != "" && !strings.EqualFold(a.Department, c.Department) {
		return false
	}
	if len(c.RequiredSkills) > 0 && a.Skills.Intersect(c.RequiredSkills) == 0 {
		return false
	}
	if len(c.Languages) > 0 && a.Languages.Intersect(model.NewStringSet(c.Languages...)) == 0 {
		return false
	}
	return true
}

// ScoreAgent computes the weighted score of one candidate.
func ScoreAgent(a *model.Agent, c Criteria, w ScoreWeights, now time.Time) ScoredAgent {
	b := ScoreBreakdown{Skill: 1, Language: 1}

	if len(c.RequiredSkills) > 0 {
		b.Skill = float64(a.Skills.Intersect(c.RequiredSkills)) / float64(len(c.RequiredSkills))
	}
	if len(c.Languages) > 0 {
		b.Language = 0
		if a.Languages.Contains(c.Languages[0]) {
			b.Language = 1
		}
	}
	if a.MaxConcurrentChats > 0 {
		b.Workload = clamp01(1 - float64(a.CurrentActiveChats)/float64(a.MaxConcurrentChats))
	}
	b.Performance = clamp01(a.PerformanceScore)
	if a.LastActiveAt != nil {
		idle := now.Sub(*a.LastActiveAt)
		if idle < 0 {
			idle = 0
		}
		b.Recency = clamp01(1 - float64(idle)/float64(recencyWindow))
	}

	score := w.Skill*b.Skill + w.Language*b.Language + w.Workload*b.Workload +
		w.Performance*b.Performance + w.Recency*b.Recency
	return ScoredAgent{Agent: *a, Score: score, Breakdown: b}
}

// RankCandidates filters and orders agents best first. Ties on score go to
// the agent with fewer active chats, then the one idle longest, then by id.
func RankCandidates(agents []model.Agent, c Criteria, w ScoreWeights, now time.Time) []ScoredAgent {
	ranked := make([]ScoredAgent, 0, len(agents))
	for i := range agents {
		if !c.Matches(&agents[i]) {
			continue
		}
		ranked = append(ranked, ScoreAgent(&agents[i], c, w, now))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if a.Agent.CurrentActiveChats != b.Agent.CurrentActiveChats {
			return a.Agent.CurrentActiveChats < b.Agent.CurrentActiveChats
		}
		if la, lb := a.Agent.LastActiveAt, b.Agent.LastActiveAt; !sameTime(la, lb) {
			if la == nil {
				return true
			}
			if lb == nil {
				return false
			}
			return la.Before(*lb)
		}
		return a.Agent.ID.String() < b.Agent.ID.String()
	})
	return ranked
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
