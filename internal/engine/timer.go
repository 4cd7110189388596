package engine

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// SearchTimer requests a stop on a token once the budget elapses.
type SearchTimer struct {
	timer *time.Timer
	fired atomic.Bool
}

// StartSearchTimer arms a timer for budget. A budget <= 0 never fires.
func StartSearchTimer(budget time.Duration, token *CancellationToken) *SearchTimer {
	st := &SearchTimer{}
	if budget <= 0 {
		return st
	}
	st.timer = time.AfterFunc(budget, func() {
		if token.IsStopRequested() {
			return
		}
		st.fired.Store(true)
		log.Debug().Dur("budget", budget).Msg("search-timeout")
		token.RequestStop()
	})
	return st
}

// Abort disarms the timer. It reports whether the timer was still pending.
func (st *SearchTimer) Abort() bool {
	if st.timer == nil {
		return false
	}
	return st.timer.Stop()
}

// Fired reports whether the timer stopped the search.
func (st *SearchTimer) Fired() bool {
	return st.fired.Load()
}
