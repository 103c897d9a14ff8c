package quality

import "github.com/elonfeng/dealmatch/pkg/taxonomy"

// DefaultParams returns the v1 quality formula.
func DefaultParams() Params {
	return Params{
		Version: "v1",
		Weights: Weights{
			Team:     0.30,
			Traction: 0.25,
			Market:   0.20,
			Product:  0.15,
			Vision:   0.10,
		},
		Bases: Dimensions{
			Team:     40,
			Traction: 30,
			Market:   40,
			Product:  35,
			Vision:   45,
		},
		Floor:   25,
		Ceiling: 95,

		TechnicalFounderBonus: 20,
		TeamSizeBonus:         15,
		ExitBonus:             10,
		MaxExitBonus:          20,

		RevenueTiers: []Tier{
			{Min: 1_000, Bonus: 10},
			{Min: 10_000, Bonus: 25},
			{Min: 100_000, Bonus: 40},
		},
		CustomerTiers: []Tier{
			{Min: 10, Bonus: 10},
			{Min: 100, Bonus: 20},
		},
		GrowthThreshold: 0.10,
		GrowthBonus:     15,

		MarketSizeTiers: []Tier{
			{Min: 100_000_000, Bonus: 15},
			{Min: 1_000_000_000, Bonus: 25},
		},
		StrongMarkets:  []taxonomy.Tag{taxonomy.AI, taxonomy.Climate, taxonomy.Health, taxonomy.Fintech},
		MarketTagBonus: 15,

		LaunchedBonus:   30,
		ProductURLBonus: 10,
		LateStageBonus:  15,

		DescriptionTiers: []Tier{
			{Min: 50, Bonus: 10},
			{Min: 200, Bonus: 20},
		},
		MissionBonus: 15,
	}
}
