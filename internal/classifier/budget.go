package classifier

import (
	"math"
	"sync"
)

// Budget is the per-run allowance of classifier calls: a hard cap on the
// number of calls and a cap on the fraction of listings processed in the
// run, whichever is lower. It is safe for concurrent use.
type Budget struct {
	mu     sync.Mutex
	limit  int
	used   int
	denied int
}

// NewBudget sizes a budget for a run that will process planned listings.
// maxCalls <= 0 means no absolute cap; maxFraction <= 0 means no fraction cap.
func NewBudget(maxCalls int, maxFraction float64, planned int) *Budget {
	limit := math.MaxInt
	if maxCalls > 0 {
		limit = maxCalls
	}
	if maxFraction > 0 {
		byFraction := int(math.Floor(float64(planned) * math.Min(maxFraction, 1)))
		limit = min(limit, byFraction)
	}
	return &Budget{limit: limit}
}

// Unlimited returns a budget that never runs out.
func Unlimited() *Budget {
	return &Budget{limit: math.MaxInt}
}

// TryTake consumes one call if any remain.
func (b *Budget) TryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		b.denied++
		return false
	}
	b.used++
	return true
}

// Used returns the number of calls taken.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the effective cap.
func (b *Budget) Limit() int {
	return b.limit
}

// Exhausted reports whether any call was refused for lack of budget.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.denied > 0
}

// Remaining returns how many calls are left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return max(b.limit-b.used, 0)
}
