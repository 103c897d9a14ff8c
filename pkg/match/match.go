// Package match scores the compatibility of one subject with one sponsor.
package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

// Formula is a versioned match-score formula. Only one version is active
// in a deployment; the stage term is reward-only.
type Formula struct {
	Version          string  `yaml:"version"`
	PerTagBonus      float64 `yaml:"per_tag_bonus"`
	MaxTagBonus      float64 `yaml:"max_tag_bonus"`
	StageMatchBonus  float64 `yaml:"stage_match_bonus"`
	NoStagePrefBonus float64 `yaml:"no_stage_pref_bonus"`
	NoTagPenalty     float64 `yaml:"no_tag_penalty"`
	CheckSizeBonus   float64 `yaml:"check_size_bonus"`
	Floor            float64 `yaml:"floor"`
	Ceiling          float64 `yaml:"ceiling"`
}

// DefaultFormula returns formula v1.
func DefaultFormula() Formula {
	return Formula{
		Version:          "v1",
		PerTagBonus:      8,
		MaxTagBonus:      24,
		StageMatchBonus:  10,
		NoStagePrefBonus: 4,
		NoTagPenalty:     10,
		CheckSizeBonus:   3,
		Floor:            20,
		Ceiling:          95,
	}
}

// Validate rejects formulas that could break monotonicity or the range.
func (f Formula) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("match formula: version must not be empty")
	}
	for name, v := range map[string]float64{
		"per_tag_bonus":       f.PerTagBonus,
		"max_tag_bonus":       f.MaxTagBonus,
		"stage_match_bonus":   f.StageMatchBonus,
		"no_stage_pref_bonus": f.NoStagePrefBonus,
		"no_tag_penalty":      f.NoTagPenalty,
		"check_size_bonus":    f.CheckSizeBonus,
	} {
		if v < 0 {
			return fmt.Errorf("match formula %s: %s must not be negative", f.Version, name)
		}
	}
	if f.Floor < 0 || f.Ceiling > 100 || f.Floor >= f.Ceiling {
		return fmt.Errorf("match formula %s: invalid range [%v, %v]", f.Version, f.Floor, f.Ceiling)
	}
	return nil
}

// Result is the pairwise score with the terms that produced it.
type Result struct {
	Score       float64          `json:"score"`
	Confidence  model.Confidence `json:"confidence"`
	MatchedTags []taxonomy.Tag   `json:"matched_tags"`
	StageMatch  bool             `json:"stage_match"`
	NoStagePref bool             `json:"no_stage_pref"`
	CheckFit    bool             `json:"check_fit"`
}

// Score resolves both parties' categories and scores the pair.
func Score(f Formula, table *taxonomy.Table, subject *model.Subject, sponsor *model.Sponsor) Result {
	return ScoreResolved(f, subject, table.Resolve(subject.Categories), sponsor, table.Resolve(sponsor.Categories))
}

// ScoreResolved scores a pair whose categories are already canonical tag
// sets, so a batch run resolves each party once instead of per pair. A
// subject without a quality score starts from zero.
func ScoreResolved(f Formula, subject *model.Subject, subjectTags []taxonomy.Tag, sponsor *model.Sponsor, sponsorTags []taxonomy.Tag) Result {
	base := 0.0
	if subject.QualityScore != nil && !math.IsNaN(*subject.QualityScore) {
		base = clamp(*subject.QualityScore, 0, 100)
	}

	r := Result{MatchedTags: taxonomy.Intersect(subjectTags, sponsorTags)}
	score := base

	if n := len(r.MatchedTags); n > 0 {
		score += math.Min(float64(n)*f.PerTagBonus, f.MaxTagBonus)
	} else {
		score -= f.NoTagPenalty
	}

	switch {
	case len(sponsor.Stages) == 0:
		r.NoStagePref = true
		score += f.NoStagePrefBonus
	case subject.Stage != nil && hasStage(sponsor.Stages, *subject.Stage):
		r.StageMatch = true
		score += f.StageMatchBonus
	}

	if checkFits(subject.RaiseAmount, sponsor.MinCheck, sponsor.MaxCheck) {
		r.CheckFit = true
		score += f.CheckSizeBonus
	}

	r.Score = round1(clamp(score, f.Floor, f.Ceiling))
	r.Confidence = confidence(len(r.MatchedTags) > 0, r.StageMatch)
	return r
}

func confidence(tagMatch, stageMatch bool) model.Confidence {
	switch {
	case tagMatch && stageMatch:
		return model.ConfidenceHigh
	case tagMatch || stageMatch:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func hasStage(stages []model.Stage, s model.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

// checkFits requires a known raise and at least one sponsor bound.
func checkFits(raise, lo, hi *float64) bool {
	if raise == nil || (lo == nil && hi == nil) {
		return false
	}
	if lo != nil && *raise < *lo {
		return false
	}
	if hi != nil && *raise > *hi {
		return false
	}
	return true
}

// Explain renders the terms of r as a short human-readable string.
func (r Result) Explain() string {
	var parts []string
	if len(r.MatchedTags) > 0 {
		tags := make([]string, len(r.MatchedTags))
		for i, t := range r.MatchedTags {
			tags[i] = string(t)
		}
		parts = append(parts, "tags: "+strings.Join(tags, ","))
	} else {
		parts = append(parts, "tags: none")
	}
	switch {
	case r.StageMatch:
		parts = append(parts, "stage: match")
	case r.NoStagePref:
		parts = append(parts, "stage: any")
	default:
		parts = append(parts, "stage: no match")
	}
	if r.CheckFit {
		parts = append(parts, "check: fit")
	}
	return strings.Join(parts, "; ")
}

// ToMatch converts r into the persisted record for the pair.
func (r Result) ToMatch(subjectID, sponsorID string) model.Match {
	return model.Match{
		SubjectID:   subjectID,
		SponsorID:   sponsorID,
		Score:       r.Score,
		Confidence:  r.Confidence,
		Explanation: r.Explain(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
