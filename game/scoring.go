package game

import (
	"math"
	"sort"
)

// ScorePolicy controls how answer speed translates into points. A correct
// answer at the deadline still earns MinFraction of the question's points.
type ScorePolicy struct {
	MinFraction float64
}

// Score computes the points for a correct answer given the observed latency.
// Latency is clamped to [0, timeLimitMs] before the speed fraction is taken,
// so client clock skew can neither inflate nor zero out a score.
func (p ScorePolicy) Score(basePoints, latencyMs, timeLimitMs int) int {
	if basePoints <= 0 || timeLimitMs <= 0 {
		return 0
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	if latencyMs > timeLimitMs {
		latencyMs = timeLimitMs
	}
	fraction := 1 - float64(latencyMs)/float64(timeLimitMs)
	if fraction < p.MinFraction {
		fraction = p.MinFraction
	}
	return int(math.Round(float64(basePoints) * fraction))
}

// ClampLatency bounds a raw latency measurement to the question window.
func ClampLatency(latencyMs, timeLimitMs int) int {
	if latencyMs < 0 {
		return 0
	}
	if latencyMs > timeLimitMs {
		return timeLimitMs
	}
	return latencyMs
}

type rankable struct {
	playerID  string
	nickname  string
	score     int
	correct   int
	joinOrder int
	isGuest   bool
}

// rankPlayers orders players by score, then correct answers, then join order.
// The ordering is total, so equal inputs always produce the same board.
func rankPlayers(players []rankable) []LeaderboardEntry {
	sorted := make([]rankable, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		if sorted[i].correct != sorted[j].correct {
			return sorted[i].correct > sorted[j].correct
		}
		return sorted[i].joinOrder < sorted[j].joinOrder
	})

	entries := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		entries[i] = LeaderboardEntry{
			Rank:         i + 1,
			PlayerID:     p.playerID,
			Nickname:     p.nickname,
			Score:        p.score,
			CorrectCount: p.correct,
			IsGuest:      p.isGuest,
		}
	}
	return entries
}
