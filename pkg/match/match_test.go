package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/elonfeng/dealmatch/pkg/match"
	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

func stagePtr(s model.Stage) *model.Stage { return &s }

func TestDefaultFormula_Valid(t *testing.T) {
	require.NoError(t, match.DefaultFormula().Validate())

	f := match.DefaultFormula()
	f.NoTagPenalty = -1
	assert.Error(t, f.Validate())

	f = match.DefaultFormula()
	f.Floor, f.Ceiling = 50, 40
	assert.Error(t, f.Validate())
}

func TestScore_SingleTagAndStageMatch(t *testing.T) {
	f := match.DefaultFormula()
	subject := &model.Subject{
		ID:           "sub-1",
		Categories:   []string{"AI", "SaaS"},
		Stage:        stagePtr(model.StageSeed),
		QualityScore: model.Ptr(58.0),
	}
	sponsor := &model.Sponsor{
		ID:         "sp-1",
		Categories: []string{"Artificial Intelligence", "Fintech"},
		Stages:     []model.Stage{model.StagePreSeed, model.StageSeed, model.StageSeriesA},
	}

	got := match.Score(f, taxonomy.Default(), subject, sponsor)

	assert.Equal(t, []taxonomy.Tag{taxonomy.AI}, got.MatchedTags)
	assert.True(t, got.StageMatch)
	assert.Equal(t, 58+f.PerTagBonus+f.StageMatchBonus, got.Score)
	assert.Equal(t, model.ConfidenceHigh, got.Confidence)
	assert.Equal(t, "tags: ai; stage: match", got.Explain())
}

func TestScore_NoResolvableTags(t *testing.T) {
	f := match.DefaultFormula()
	table := taxonomy.Default()
	subject := &model.Subject{
		ID:           "sub-2",
		Categories:   []string{"knitting", ""},
		Stage:        stagePtr(model.StageSeriesB),
		QualityScore: model.Ptr(60.0),
	}

	sponsors := []*model.Sponsor{
		{ID: "a", Categories: []string{"AI"}, Stages: []model.Stage{model.StageSeed}},
		{ID: "b", Categories: []string{"Fintech"}},
		{ID: "c"},
	}
	stageTerms := []float64{0, f.NoStagePrefBonus, f.NoStagePrefBonus}

	for i, sp := range sponsors {
		got := match.Score(f, table, subject, sp)
		assert.Empty(t, got.MatchedTags)
		assert.Equal(t, 60+stageTerms[i]-f.NoTagPenalty, got.Score, sp.ID)
		assert.Equal(t, model.ConfidenceLow, got.Confidence, sp.ID)
	}
}

func TestScore_AdjacencyEarnsNothing(t *testing.T) {
	f := match.DefaultFormula()
	subject := &model.Subject{Categories: []string{"SaaS"}, QualityScore: model.Ptr(50.0)}
	sponsor := &model.Sponsor{Categories: []string{"Enterprise"}, Stages: []model.Stage{model.StageSeed}}

	got := match.Score(f, taxonomy.Default(), subject, sponsor)
	assert.Empty(t, got.MatchedTags)
	assert.Equal(t, 50-f.NoTagPenalty, got.Score)
}

func TestScore_TagBonusCapped(t *testing.T) {
	f := match.DefaultFormula()
	labels := []string{"AI", "SaaS", "Fintech", "Health", "Climate"}
	subject := &model.Subject{Categories: labels, QualityScore: model.Ptr(40.0)}
	sponsor := &model.Sponsor{Categories: labels, Stages: []model.Stage{model.StageGrowth}}

	got := match.Score(f, taxonomy.Default(), subject, sponsor)
	assert.Len(t, got.MatchedTags, 5)
	assert.Equal(t, 40+f.MaxTagBonus, got.Score)
	assert.Equal(t, model.ConfidenceMedium, got.Confidence, "tag match without stage match")
}

func TestScore_Confidence(t *testing.T) {
	f := match.DefaultFormula()
	table := taxonomy.Default()

	stageOnly := match.Score(f, table,
		&model.Subject{Categories: []string{"Gaming"}, Stage: stagePtr(model.StageSeed), QualityScore: model.Ptr(50.0)},
		&model.Sponsor{Categories: []string{"AI"}, Stages: []model.Stage{model.StageSeed}})
	assert.Equal(t, model.ConfidenceMedium, stageOnly.Confidence)

	noPref := match.Score(f, table,
		&model.Subject{Categories: []string{"AI"}, Stage: stagePtr(model.StageSeed), QualityScore: model.Ptr(50.0)},
		&model.Sponsor{Categories: []string{"AI"}})
	assert.Equal(t, model.ConfidenceMedium, noPref.Confidence, "no preference is not an exact stage match")

	unknownStage := match.Score(f, table,
		&model.Subject{Categories: []string{"AI"}, QualityScore: model.Ptr(50.0)},
		&model.Sponsor{Categories: []string{"AI"}, Stages: []model.Stage{model.StageSeed}})
	assert.False(t, unknownStage.StageMatch)
	assert.Equal(t, model.ConfidenceMedium, unknownStage.Confidence)
}

func TestScore_CheckSize(t *testing.T) {
	f := match.DefaultFormula()
	table := taxonomy.Default()
	subject := &model.Subject{Categories: []string{"AI"}, QualityScore: model.Ptr(50.0), RaiseAmount: model.Ptr(2e6)}

	tests := []struct {
		name     string
		min, max *float64
		fit      bool
	}{
		{"no bounds is neutral", nil, nil, false},
		{"inside range", model.Ptr(1e6), model.Ptr(5e6), true},
		{"min only", model.Ptr(5e5), nil, true},
		{"below min", model.Ptr(3e6), nil, false},
		{"above max", nil, model.Ptr(1e6), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &model.Sponsor{Categories: []string{"AI"}, MinCheck: tt.min, MaxCheck: tt.max}
			got := match.Score(f, table, subject, sp)
			assert.Equal(t, tt.fit, got.CheckFit)
			want := 50 + f.PerTagBonus + f.NoStagePrefBonus
			if tt.fit {
				want += f.CheckSizeBonus
			}
			assert.Equal(t, want, got.Score)
		})
	}

	unknownRaise := &model.Subject{Categories: []string{"AI"}, QualityScore: model.Ptr(50.0)}
	got := match.Score(f, table, unknownRaise, &model.Sponsor{MinCheck: model.Ptr(1.0)})
	assert.False(t, got.CheckFit)
}

func TestScore_Clamped(t *testing.T) {
	f := match.DefaultFormula()
	table := taxonomy.Default()

	low := match.Score(f, table, &model.Subject{}, &model.Sponsor{Stages: []model.Stage{model.StageSeed}})
	assert.Equal(t, f.Floor, low.Score, "missing quality score and no match floor out")

	high := match.Score(f, table,
		&model.Subject{Categories: []string{"AI", "SaaS", "Fintech"}, Stage: stagePtr(model.StageSeed), QualityScore: model.Ptr(95.0)},
		&model.Sponsor{Categories: []string{"AI", "SaaS", "Fintech"}, Stages: []model.Stage{model.StageSeed}})
	assert.Equal(t, f.Ceiling, high.Score)
}

func TestToMatch(t *testing.T) {
	r := match.Result{Score: 70, Confidence: model.ConfidenceMedium, NoStagePref: true, CheckFit: true}
	m := r.ToMatch("s", "p")
	assert.Equal(t, model.Match{
		SubjectID:   "s",
		SponsorID:   "p",
		Score:       70,
		Confidence:  model.ConfidenceMedium,
		Explanation: "tags: none; stage: any; check: fit",
	}, m)
}

var labelPool = []string{"AI", "SaaS", "Fintech", "Health", "Robotics", "B2B", "Gaming", "knitting", "Payments", "Blockchain"}

func genPair(t *rapid.T) (*model.Subject, *model.Sponsor) {
	subject := &model.Subject{
		ID:           "s",
		Categories:   rapid.SliceOfN(rapid.SampledFrom(labelPool), 0, 5).Draw(t, "subject_labels"),
		QualityScore: model.Ptr(rapid.Float64Range(0, 100).Draw(t, "quality")),
	}
	if rapid.Bool().Draw(t, "has_stage") {
		subject.Stage = stagePtr(model.Stage(rapid.IntRange(0, 5).Draw(t, "stage")))
	}
	if rapid.Bool().Draw(t, "has_raise") {
		subject.RaiseAmount = model.Ptr(rapid.Float64Range(0, 1e8).Draw(t, "raise"))
	}
	sponsor := &model.Sponsor{
		ID:         "p",
		Categories: rapid.SliceOfN(rapid.SampledFrom(labelPool), 0, 5).Draw(t, "sponsor_labels"),
	}
	for _, st := range rapid.SliceOfN(rapid.IntRange(0, 5), 0, 4).Draw(t, "stages") {
		sponsor.Stages = append(sponsor.Stages, model.Stage(st))
	}
	if rapid.Bool().Draw(t, "has_min") {
		sponsor.MinCheck = model.Ptr(rapid.Float64Range(0, 5e7).Draw(t, "min"))
	}
	return subject, sponsor
}

func TestScore_Properties(t *testing.T) {
	f := match.DefaultFormula()
	table := taxonomy.Default()

	t.Run("in range", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			subject, sponsor := genPair(t)
			got := match.Score(f, table, subject, sponsor)
			if got.Score < f.Floor || got.Score > f.Ceiling {
				t.Fatalf("score %v outside [%v, %v]", got.Score, f.Floor, f.Ceiling)
			}
		})
	})

	t.Run("category order independent", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			subject, sponsor := genPair(t)
			want := match.Score(f, table, subject, sponsor)

			s2, p2 := *subject, *sponsor
			s2.Categories = rapid.Permutation(subject.Categories).Draw(t, "subject_perm")
			p2.Categories = rapid.Permutation(sponsor.Categories).Draw(t, "sponsor_perm")
			assert.Equal(t, want, match.Score(f, table, &s2, &p2))
		})
	})

	t.Run("monotone in quality score", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			subject, sponsor := genPair(t)
			before := match.Score(f, table, subject, sponsor)

			raised := *subject
			raised.QualityScore = model.Ptr(*subject.QualityScore + rapid.Float64Range(0, 50).Draw(t, "delta"))
			after := match.Score(f, table, &raised, sponsor)
			if after.Score < before.Score {
				t.Fatalf("raising quality lowered score: %v -> %v", before.Score, after.Score)
			}
			assert.Equal(t, before.Confidence, after.Confidence)
		})
	})
}
