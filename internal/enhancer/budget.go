package enhancer

import (
	"sync"
	"time"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// tokenBudget gates AI calls against the daily/per-user caps from
// config.AIConfig before a call is attempted, rather than after the fact —
// there is no token-usage field on market.RankingResponse to meter
// post-hoc, so the cost is estimated from prompt size up front.
type tokenBudget struct {
	mu         sync.Mutex
	clock      market.Clock
	daily      int
	perUser    int
	resetAt    time.Time
	dayTotal   int
	userTotals map[string]int
}

func newTokenBudget(daily, perUser int, clock market.Clock) *tokenBudget {
	return &tokenBudget{
		clock:      clock,
		daily:      daily,
		perUser:    perUser,
		userTotals: make(map[string]int),
	}
}

// estimateTokens is a rough chars/4 heuristic, the same order-of-magnitude
// estimate most tokenizer-agnostic budget checks use before a real call.
func estimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}

// Allow reports whether spending cost tokens for userID would stay within
// both the daily and per-user caps, reserving the spend if so.
func (b *tokenBudget) Allow(userID string, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.After(b.resetAt) {
		b.dayTotal = 0
		b.userTotals = make(map[string]int)
		b.resetAt = startOfNextDay(now)
	}

	if b.daily > 0 && b.dayTotal+cost > b.daily {
		return false
	}
	if b.perUser > 0 && b.userTotals[userID]+cost > b.perUser {
		return false
	}

	b.dayTotal += cost
	b.userTotals[userID] += cost
	return true
}

func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
