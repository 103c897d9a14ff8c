package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2026-10-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("36h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-36*time.Hour), got)

	for _, bad := range []string{"yesterday", "-2h", "0s"} {
		_, err := parseSince(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestRescoreFilter(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	f, err := rescoreOptions{}.filter(now)
	require.NoError(t, err)
	assert.True(t, f.Empty())

	f, err = rescoreOptions{since: "24h", below: 0, belowSet: true}.filter(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), f.UpdatedSince)
	require.NotNil(t, f.BelowScore, "--below 0 is an explicit filter")
	assert.Equal(t, 0.0, *f.BelowScore)
}

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"rescore", "validate", "score", "serve", "run"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("log-format"))
}
