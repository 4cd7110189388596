package engine

import (
	"time"

	"github.com/hailam/splitsearch/internal/board"
)

// UCILimits contains UCI time control parameters.
type UCILimits struct {
	Time      [2]time.Duration // wtime, btime (remaining time for each color)
	Inc       [2]time.Duration // winc, binc (increment per move)
	MovesToGo int              // moves until next time control (0 = sudden death)
	MoveTime  time.Duration    // fixed time per move (overrides other time controls)
	Depth     int              // search depth (0 = engine default)
	Infinite  bool             // search until stopped
}

// TimeManager turns UCI limits into the wall-clock budget of one search.
type TimeManager struct {
	budget time.Duration // 0 = no timer
}

// NewTimeManager creates a new time manager.
func NewTimeManager() *TimeManager {
	return &TimeManager{}
}

// Init computes the budget for a new search. ply is the current game ply
// (half-move number); fallback applies when the limits name no time at all.
// Only an infinite search runs without a timer.
func (tm *TimeManager) Init(limits UCILimits, us board.Color, ply int, fallback time.Duration) {
	// Fixed move time mode
	if limits.MoveTime > 0 {
		tm.budget = limits.MoveTime
		return
	}

	if limits.Infinite {
		tm.budget = 0
		return
	}

	if limits.Time[us] == 0 {
		tm.budget = fallback
		return
	}

	timeLeft := limits.Time[us]
	inc := limits.Inc[us]

	// Estimate moves to go
	mtg := limits.MovesToGo
	if mtg == 0 {
		// Sudden death: expect fewer moves as the game goes on.
		mtg = min(max(50-ply/4, 10), 50)
	}

	budget := timeLeft/time.Duration(mtg) + inc*9/10

	// Slight reduction for very early moves
	if ply < 8 {
		budget = budget * 85 / 100
	}

	// Never use more than 80% of the remaining time.
	budget = min(budget, timeLeft*8/10)
	tm.budget = max(budget, 10*time.Millisecond)
}

// Budget returns the time allowed for this search, or 0 for no limit.
func (tm *TimeManager) Budget() time.Duration {
	return tm.budget
}
