package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorePolicy(t *testing.T) {
	tests := []struct {
		name        string
		minFraction float64
		base        int
		latencyMs   int
		timeLimitMs int
		want        int
	}{
		{"instant answer earns full points", 0.5, 100, 0, 30000, 100},
		{"five seconds of thirty", 0.5, 100, 5000, 30000, 83},
		{"twelve seconds of thirty", 0.5, 100, 12000, 30000, 60},
		{"deadline answer keeps the floor", 0.5, 100, 30000, 30000, 50},
		{"floor applies before the deadline", 0.5, 100, 29000, 30000, 50},
		{"halfway on a short question", 0.5, 200, 10000, 20000, 100},
		{"negative latency clamps to zero", 0.5, 100, -4000, 30000, 100},
		{"latency past the limit clamps down", 0.5, 100, 45000, 30000, 50},
		{"zero base points", 0.5, 0, 1000, 30000, 0},
		{"zero time limit", 0.5, 100, 1000, 0, 0},
		{"lower floor", 0.25, 100, 30000, 30000, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := ScorePolicy{MinFraction: tt.minFraction}
			assert.Equal(t, tt.want, policy.Score(tt.base, tt.latencyMs, tt.timeLimitMs))
		})
	}
}

func TestClampLatency(t *testing.T) {
	assert.Equal(t, 0, ClampLatency(-5, 1000))
	assert.Equal(t, 500, ClampLatency(500, 1000))
	assert.Equal(t, 1000, ClampLatency(1000, 1000))
	assert.Equal(t, 1000, ClampLatency(2000, 1000))
}

func TestRankPlayers(t *testing.T) {
	players := []rankable{
		{playerID: "a", nickname: "**ayse", score: 50, correct: 1, joinOrder: 0, isGuest: true},
		{playerID: "b", nickname: "berk", score: 120, correct: 2, joinOrder: 1},
		{playerID: "c", nickname: "**can", score: 120, correct: 3, joinOrder: 2, isGuest: true},
		{playerID: "d", nickname: "defne", score: 50, correct: 1, joinOrder: 3},
	}

	entries := rankPlayers(players)
	require.Len(t, entries, 4)

	// score first, correct answers break score ties, join order breaks the rest
	assert.Equal(t, "c", entries[0].PlayerID)
	assert.Equal(t, "b", entries[1].PlayerID)
	assert.Equal(t, "a", entries[2].PlayerID)
	assert.Equal(t, "d", entries[3].PlayerID)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Rank)
	}
	assert.True(t, entries[0].IsGuest)
	assert.Equal(t, 120, entries[0].Score)
	assert.Equal(t, 3, entries[0].CorrectCount)

	// input order is left alone
	assert.Equal(t, "a", players[0].playerID)

	assert.Empty(t, rankPlayers(nil))
}
