package quality_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/quality"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

func TestDefaultParams_Valid(t *testing.T) {
	p := quality.DefaultParams()
	require.NoError(t, p.Validate())
	assert.InDelta(t, 1.0, p.Weights.Sum(), 1e-9)
}

func TestParams_Validate(t *testing.T) {
	p := quality.DefaultParams()
	p.Weights.Team = 0.5
	assert.Error(t, p.Validate(), "weights no longer sum to 1")

	p = quality.DefaultParams()
	p.Floor, p.Ceiling = 90, 30
	assert.Error(t, p.Validate())

	p = quality.DefaultParams()
	p.Version = ""
	assert.Error(t, p.Validate())
}

func TestCompute_EmptySubjectUsesBases(t *testing.T) {
	p := quality.DefaultParams()
	got := quality.Compute(p, taxonomy.Default(), &model.Subject{ID: "s1"})

	assert.Equal(t, p.Bases, got.Dimensions)
	assert.InDelta(t, 37.3, got.Total, 0.05)
}

func TestCompute_Bonuses(t *testing.T) {
	p := quality.DefaultParams()
	table := taxonomy.Default()
	seed := model.StageSeed

	base := quality.Compute(p, table, &model.Subject{ID: "s"})

	tests := []struct {
		name    string
		subject model.Subject
		check   func(t *testing.T, got quality.Score)
	}{
		{
			name: "technical founder raises team",
			subject: model.Subject{Signals: model.Signals{
				TechnicalFounder: model.Ptr(true),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Team+p.TechnicalFounderBonus, got.Dimensions.Team)
			},
		},
		{
			name: "stage appropriate team size",
			subject: model.Subject{Stage: &seed, Signals: model.Signals{
				TeamSize: model.Ptr(6),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Team+p.TeamSizeBonus, got.Dimensions.Team)
			},
		},
		{
			name: "oversized seed team earns nothing",
			subject: model.Subject{Stage: &seed, Signals: model.Signals{
				TeamSize: model.Ptr(200),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Team, got.Dimensions.Team)
			},
		},
		{
			name: "exit bonus is capped",
			subject: model.Subject{Signals: model.Signals{
				PriorExits: model.Ptr(7),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Team+p.MaxExitBonus, got.Dimensions.Team)
			},
		},
		{
			name: "revenue tiers do not stack",
			subject: model.Subject{Signals: model.Signals{
				MonthlyRevenue: model.Ptr(50_000.0),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Traction+25, got.Dimensions.Traction)
			},
		},
		{
			name: "traction clamps at 100",
			subject: model.Subject{Signals: model.Signals{
				MonthlyRevenue: model.Ptr(1e9),
				Customers:      model.Ptr(10_000),
				GrowthRate:     model.Ptr(0.5),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, 100.0, got.Dimensions.Traction)
			},
		},
		{
			name:    "strong market tag",
			subject: model.Subject{Categories: []string{"Climate tech"}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Market+p.MarketTagBonus, got.Dimensions.Market)
			},
		},
		{
			name:    "adjacent to a strong market earns half",
			subject: model.Subject{Categories: []string{"Robotics"}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Market+p.MarketTagBonus/2, got.Dimensions.Market)
			},
		},
		{
			name:    "unrelated market earns nothing",
			subject: model.Subject{Categories: []string{"Gaming"}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Market, got.Dimensions.Market)
			},
		},
		{
			name: "launched product with url",
			subject: model.Subject{Signals: model.Signals{
				Launched:   model.Ptr(true),
				ProductURL: "https://example.com",
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Product+p.LaunchedBonus+p.ProductURLBonus, got.Dimensions.Product)
			},
		},
		{
			name: "long description and mission",
			subject: model.Subject{Signals: model.Signals{
				Description: strings.Repeat("x", 250),
				Mission:     "Make capital accessible",
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, p.Bases.Vision+20+p.MissionBonus, got.Dimensions.Vision)
			},
		},
		{
			name: "false booleans are not bonuses",
			subject: model.Subject{Signals: model.Signals{
				TechnicalFounder: model.Ptr(false),
				Launched:         model.Ptr(false),
			}},
			check: func(t *testing.T, got quality.Score) {
				assert.Equal(t, base, got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.subject
			tt.check(t, quality.Compute(p, table, &s))
		})
	}
}

func TestCompute_FullSubjectHitsCeiling(t *testing.T) {
	p := quality.DefaultParams()
	a := model.StageSeriesA
	s := &model.Subject{
		Categories: []string{"AI"},
		Stage:      &a,
		Signals: model.Signals{
			TeamSize:         model.Ptr(30),
			TechnicalFounder: model.Ptr(true),
			PriorExits:       model.Ptr(3),
			MonthlyRevenue:   model.Ptr(500_000.0),
			Customers:        model.Ptr(1_000),
			GrowthRate:       model.Ptr(0.3),
			MarketSize:       model.Ptr(5e9),
			Launched:         model.Ptr(true),
			ProductURL:       "https://example.com",
			Description:      strings.Repeat("y", 300),
			Mission:          "mission",
		},
	}

	got := quality.Compute(p, taxonomy.Default(), s)
	assert.LessOrEqual(t, got.Total, p.Ceiling)
	assert.Greater(t, got.Total, 85.0)
}

func genSubject(t *rapid.T) *model.Subject {
	s := &model.Subject{ID: rapid.StringMatching(`s[0-9]{1,4}`).Draw(t, "id")}
	if rapid.Bool().Draw(t, "has_stage") {
		st := model.Stage(rapid.IntRange(0, 5).Draw(t, "stage"))
		s.Stage = &st
	}
	if rapid.Bool().Draw(t, "has_team") {
		s.TeamSize = model.Ptr(rapid.IntRange(-5, 500).Draw(t, "team"))
	}
	if rapid.Bool().Draw(t, "has_tech") {
		s.TechnicalFounder = model.Ptr(rapid.Bool().Draw(t, "tech"))
	}
	if rapid.Bool().Draw(t, "has_exits") {
		s.PriorExits = model.Ptr(rapid.IntRange(-3, 50).Draw(t, "exits"))
	}
	if rapid.Bool().Draw(t, "has_rev") {
		s.MonthlyRevenue = model.Ptr(rapid.Float64Range(-1e6, 1e9).Draw(t, "rev"))
	}
	if rapid.Bool().Draw(t, "has_customers") {
		s.Customers = model.Ptr(rapid.IntRange(-10, 1e6).Draw(t, "customers"))
	}
	if rapid.Bool().Draw(t, "has_growth") {
		s.GrowthRate = model.Ptr(rapid.Float64Range(-1, 10).Draw(t, "growth"))
	}
	if rapid.Bool().Draw(t, "has_market") {
		s.MarketSize = model.Ptr(rapid.Float64Range(0, 1e12).Draw(t, "market"))
	}
	if rapid.Bool().Draw(t, "has_launched") {
		s.Launched = model.Ptr(rapid.Bool().Draw(t, "launched"))
	}
	s.Description = rapid.StringN(0, 400, -1).Draw(t, "desc")
	s.Categories = rapid.SliceOfN(rapid.SampledFrom([]string{"AI", "SaaS", "Gaming", "Climate", "misc", "Robotics"}), 0, 4).Draw(t, "cats")
	return s
}

func TestCompute_TotalAlwaysInRange(t *testing.T) {
	p := quality.DefaultParams()
	table := taxonomy.Default()

	rapid.Check(t, func(t *rapid.T) {
		got := quality.Compute(p, table, genSubject(t))
		if got.Total < p.Floor || got.Total > p.Ceiling {
			t.Fatalf("total %v outside [%v, %v]", got.Total, p.Floor, p.Ceiling)
		}
		for _, d := range []float64{got.Dimensions.Team, got.Dimensions.Traction, got.Dimensions.Market, got.Dimensions.Product, got.Dimensions.Vision} {
			if d < 0 || d > 100 {
				t.Fatalf("dimension %v outside [0, 100]", d)
			}
		}
	})
}
