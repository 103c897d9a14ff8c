// Package quality computes the intrinsic, sponsor-independent score of a
// subject from whatever signals it has.
package quality

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

// Weights sets the share of each dimension in the total.
type Weights struct {
	Team     float64 `yaml:"team"`
	Traction float64 `yaml:"traction"`
	Market   float64 `yaml:"market"`
	Product  float64 `yaml:"product"`
	Vision   float64 `yaml:"vision"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Team + w.Traction + w.Market + w.Product + w.Vision
}

// Dimensions holds one 0-100 value per scored dimension.
type Dimensions struct {
	Team     float64 `json:"team"`
	Traction float64 `json:"traction"`
	Market   float64 `json:"market"`
	Product  float64 `json:"product"`
	Vision   float64 `json:"vision"`
}

// Params is a versioned quality formula. Bases are what a dimension scores
// with no signals at all.
type Params struct {
	Version string     `yaml:"version"`
	Weights Weights    `yaml:"weights"`
	Bases   Dimensions `yaml:"bases"`
	Floor   float64    `yaml:"floor"`
	Ceiling float64    `yaml:"ceiling"`

	// Team
	TechnicalFounderBonus float64 `yaml:"technical_founder_bonus"`
	TeamSizeBonus         float64 `yaml:"team_size_bonus"`
	ExitBonus             float64 `yaml:"exit_bonus"`
	MaxExitBonus          float64 `yaml:"max_exit_bonus"`

	// Traction
	RevenueTiers    []Tier  `yaml:"revenue_tiers"`
	CustomerTiers   []Tier  `yaml:"customer_tiers"`
	GrowthThreshold float64 `yaml:"growth_threshold"`
	GrowthBonus     float64 `yaml:"growth_bonus"`

	// Market
	MarketSizeTiers []Tier         `yaml:"market_size_tiers"`
	StrongMarkets   []taxonomy.Tag `yaml:"strong_markets"`
	MarketTagBonus  float64        `yaml:"market_tag_bonus"`

	// Product
	LaunchedBonus   float64 `yaml:"launched_bonus"`
	ProductURLBonus float64 `yaml:"product_url_bonus"`
	LateStageBonus  float64 `yaml:"late_stage_bonus"`

	// Vision
	DescriptionTiers []Tier  `yaml:"description_tiers"`
	MissionBonus     float64 `yaml:"mission_bonus"`
}

// Tier awards Bonus when a value reaches Min. Tiers do not stack: only the
// reached tier with the highest Min pays.
type Tier struct {
	Min   float64 `yaml:"min"`
	Bonus float64 `yaml:"bonus"`
}

// Validate checks weights sum to 1.0 and the clamp range is sane.
func (p Params) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("quality params: version must not be empty")
	}
	if math.Abs(p.Weights.Sum()-1.0) > 0.001 {
		return fmt.Errorf("quality params %s: weights sum to %.4f, must sum to 1.0", p.Version, p.Weights.Sum())
	}
	for _, w := range []float64{p.Weights.Team, p.Weights.Traction, p.Weights.Market, p.Weights.Product, p.Weights.Vision} {
		if w < 0 {
			return fmt.Errorf("quality params %s: negative weight %f", p.Version, w)
		}
	}
	if p.Floor < 0 || p.Ceiling > 100 || p.Floor >= p.Ceiling {
		return fmt.Errorf("quality params %s: invalid range [%v, %v]", p.Version, p.Floor, p.Ceiling)
	}
	return nil
}

// Score is the computed quality of one subject.
type Score struct {
	Total      float64    `json:"total"`
	Dimensions Dimensions `json:"dimensions"`
}

// Compute scores a subject. Absent signals contribute the base value of
// their dimension only; Compute never fails.
func Compute(p Params, table *taxonomy.Table, s *model.Subject) Score {
	d := Dimensions{
		Team:     clamp(teamScore(p, s), 0, 100),
		Traction: clamp(tractionScore(p, s), 0, 100),
		Market:   clamp(marketScore(p, table, s), 0, 100),
		Product:  clamp(productScore(p, s), 0, 100),
		Vision:   clamp(visionScore(p, s), 0, 100),
	}

	total := d.Team*p.Weights.Team +
		d.Traction*p.Weights.Traction +
		d.Market*p.Weights.Market +
		d.Product*p.Weights.Product +
		d.Vision*p.Weights.Vision

	return Score{
		Total:      round1(clamp(total, p.Floor, p.Ceiling)),
		Dimensions: d,
	}
}

func teamScore(p Params, s *model.Subject) float64 {
	score := p.Bases.Team
	if s.TechnicalFounder != nil && *s.TechnicalFounder {
		score += p.TechnicalFounderBonus
	}
	if s.TeamSize != nil && teamSizeFits(*s.TeamSize, s.Stage) {
		score += p.TeamSizeBonus
	}
	if s.PriorExits != nil && *s.PriorExits > 0 {
		score += math.Min(float64(*s.PriorExits)*p.ExitBonus, p.MaxExitBonus)
	}
	return score
}

// teamSizeFits reports whether headcount is typical for the stage. With
// no known stage any team of two or more counts.
func teamSizeFits(size int, stage *model.Stage) bool {
	if size <= 0 {
		return false
	}
	if stage == nil {
		return size >= 2
	}
	switch *stage {
	case model.StageIdea, model.StagePreSeed:
		return size >= 2 && size <= 10
	case model.StageSeed:
		return size >= 3 && size <= 25
	case model.StageSeriesA:
		return size >= 10 && size <= 80
	default:
		return size >= 25
	}
}

func tractionScore(p Params, s *model.Subject) float64 {
	score := p.Bases.Traction
	if s.MonthlyRevenue != nil {
		score += tierBonus(p.RevenueTiers, *s.MonthlyRevenue)
	}
	if s.Customers != nil {
		score += tierBonus(p.CustomerTiers, float64(*s.Customers))
	}
	if s.GrowthRate != nil && *s.GrowthRate >= p.GrowthThreshold {
		score += p.GrowthBonus
	}
	return score
}

func marketScore(p Params, table *taxonomy.Table, s *model.Subject) float64 {
	score := p.Bases.Market
	if s.MarketSize != nil {
		score += tierBonus(p.MarketSizeTiers, *s.MarketSize)
	}
	score += marketContext(p, table, s.Categories)
	return score
}

// marketContext pays the full tag bonus when any subject tag is a strong
// market and half of it when a tag only neighbours one.
func marketContext(p Params, table *taxonomy.Table, labels []string) float64 {
	if table == nil || len(p.StrongMarkets) == 0 {
		return 0
	}
	best := 0.0
	for _, tag := range table.Resolve(labels) {
		for _, strong := range p.StrongMarkets {
			switch {
			case tag == strong:
				return p.MarketTagBonus
			case table.Adjacent(tag, strong):
				best = p.MarketTagBonus / 2
			}
		}
	}
	return best
}

func productScore(p Params, s *model.Subject) float64 {
	score := p.Bases.Product
	if s.Launched != nil && *s.Launched {
		score += p.LaunchedBonus
	}
	if s.ProductURL != "" {
		score += p.ProductURLBonus
	}
	if s.Stage != nil && *s.Stage >= model.StageSeriesA {
		score += p.LateStageBonus
	}
	return score
}

func visionScore(p Params, s *model.Subject) float64 {
	score := p.Bases.Vision
	score += tierBonus(p.DescriptionTiers, float64(utf8.RuneCountInString(s.Description)))
	if s.Mission != "" {
		score += p.MissionBonus
	}
	return score
}

func tierBonus(tiers []Tier, v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	best := 0.0
	reached := math.Inf(-1)
	for _, t := range tiers {
		if v >= t.Min && t.Min > reached {
			reached = t.Min
			best = t.Bonus
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
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
