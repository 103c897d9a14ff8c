package taxonomy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

func TestNormalize(t *testing.T) {
	table := taxonomy.Default()

	tests := []struct {
		label string
		want  taxonomy.Tag
	}{
		{"AI", taxonomy.AI},
		{"Artificial Intelligence", taxonomy.AI},
		{"AI-powered analytics", taxonomy.AI},
		{"Fintech", taxonomy.Fintech},
		{"Payments infrastructure", taxonomy.Fintech},
		{"HealthTech", taxonomy.Health},
		{"Climate / Clean Energy", taxonomy.Climate},
		{"Developer Tools", taxonomy.DeveloperTools},
		{"Public API platform", taxonomy.DeveloperTools},
		{"Robotics", taxonomy.Deeptech},
		{"Blockchain", taxonomy.Crypto},
		{"B2B", taxonomy.Enterprise},
		{"SaaS", taxonomy.SaaS},
		{"E-Commerce", taxonomy.Consumer},
		{"Online marketplace", taxonomy.Marketplace},
		{"K-12 education", taxonomy.Edtech},
		{"", taxonomy.Other},
		{"   ", taxonomy.Other},
		{"Knitting circles", taxonomy.Other},
		// whole-word keywords must not fire inside other words
		{"Retail", taxonomy.Consumer},
		{"Venture capital", taxonomy.Other},
		{"Workspace design", taxonomy.Other},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Normalize(tt.label))
		})
	}
}

func TestNormalize_FirstRuleWins(t *testing.T) {
	table := taxonomy.Default()

	// Labels that match several rules resolve to the earliest rule.
	assert.Equal(t, taxonomy.AI, table.Normalize("AI for healthcare"))
	assert.Equal(t, taxonomy.Fintech, table.Normalize("Fintech SaaS"))
	assert.Equal(t, taxonomy.Enterprise, table.Normalize("Enterprise SaaS"))
	assert.Equal(t, taxonomy.AI, table.Normalize("Machine learning for education"))

	// Reordering the same rules changes the answer.
	swapped, err := taxonomy.New("swapped", []taxonomy.Rule{
		{Tag: taxonomy.SaaS, Keywords: []string{"saas"}},
		{Tag: taxonomy.Fintech, Keywords: []string{"fintech"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, taxonomy.SaaS, swapped.Normalize("Fintech SaaS"))
}

func TestNew_RejectsBadRules(t *testing.T) {
	_, err := taxonomy.New("", nil, nil)
	assert.Error(t, err)

	_, err = taxonomy.New("v", []taxonomy.Rule{{Tag: taxonomy.Other, Keywords: []string{"x"}}}, nil)
	assert.Error(t, err)

	_, err = taxonomy.New("v", []taxonomy.Rule{{Tag: taxonomy.AI}}, nil)
	assert.Error(t, err)
}

func TestAdjacent(t *testing.T) {
	table := taxonomy.Default()

	assert.True(t, table.Adjacent(taxonomy.AI, taxonomy.SaaS))
	assert.True(t, table.Adjacent(taxonomy.SaaS, taxonomy.AI), "adjacency is symmetric")
	assert.False(t, table.Adjacent(taxonomy.AI, taxonomy.AI), "a tag is not adjacent to itself")
	assert.False(t, table.Adjacent(taxonomy.AI, taxonomy.Crypto))
	assert.False(t, table.Adjacent(taxonomy.Other, taxonomy.AI))
}

func TestResolve(t *testing.T) {
	table := taxonomy.Default()

	got := table.Resolve([]string{"SaaS", "machine learning", "AI", "knitting", ""})
	assert.Equal(t, []taxonomy.Tag{taxonomy.AI, taxonomy.SaaS}, got)

	assert.Empty(t, table.Resolve(nil))
	assert.Empty(t, table.Resolve([]string{"knitting", "pottery"}))
}

func TestResolve_OrderIndependent(t *testing.T) {
	table := taxonomy.Default()
	pool := []string{"AI", "Fintech", "SaaS", "Robotics", "knitting", "B2B", "Payments", "Health"}

	rapid.Check(t, func(t *rapid.T) {
		labels := rapid.SliceOf(rapid.SampledFrom(pool)).Draw(t, "labels")
		perm := rapid.Permutation(labels).Draw(t, "perm")
		assert.Equal(t, table.Resolve(labels), table.Resolve(perm))
	})
}

func TestIntersect(t *testing.T) {
	a := []taxonomy.Tag{taxonomy.AI, taxonomy.SaaS}
	b := []taxonomy.Tag{taxonomy.Fintech, taxonomy.AI}

	assert.Equal(t, []taxonomy.Tag{taxonomy.AI}, taxonomy.Intersect(a, b))
	assert.Empty(t, taxonomy.Intersect(a, nil))
}

func TestTags(t *testing.T) {
	tags := taxonomy.Default().Tags()
	assert.Equal(t, taxonomy.AI, tags[0])
	assert.NotContains(t, tags, taxonomy.Other)
}
