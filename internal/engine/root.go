package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/splitsearch/internal/board"
)

// SearchRoot splits the tree above the split depth. At each splitting ply
// the leftmost move is searched first, by a child SearchRoot, to tighten the
// window; the remaining siblings are then searched by SearchNode in parallel
// on their own position copies. Only one pool is live at a time.
type SearchRoot struct {
	node       SearchNode
	orderer    MoveOrderer
	token      *CancellationToken
	splitDepth int
	maxWorkers int

	splits atomic.Int64
}

// NewSearchRoot returns a root search that stops expanding work once token
// is stopped. maxWorkers <= 1 searches siblings sequentially.
func NewSearchRoot(token *CancellationToken, splitDepth, maxWorkers int) *SearchRoot {
	return &SearchRoot{
		token:      token,
		splitDepth: max(splitDepth, 0),
		maxWorkers: maxWorkers,
	}
}

type siblingResult struct {
	index  int
	result Result
}

// Search returns the best move and score of pos searched depth plies deep
// within [alpha, beta]. pos is restored before returning.
func (r *SearchRoot) Search(pos *board.Position, depth int, alpha, beta float64, maximizing bool) Result {
	if depth <= r.splitDepth || isTerminal(pos) {
		return r.node.Search(pos, depth, alpha, beta, maximizing)
	}
	// Once stopped, settle for the shallowest search that yields a move.
	if r.token.IsStopRequested() {
		return r.node.Search(pos, min(depth, max(r.splitDepth, 1)), alpha, beta, maximizing)
	}
	moves := r.orderer.Order(pos, pos.GenerateLegalMoves())
	if len(moves) == 0 {
		return Result{Score: leafScore(pos, depth)}
	}
	// A forced move gains nothing from splitting.
	if len(moves) == 1 {
		return r.node.Search(pos, depth, alpha, beta, maximizing)
	}

	first := moves[0]
	undo := pos.MakeMove(first)
	child := r.Search(pos, depth-1, alpha, beta, !maximizing)
	pos.UnmakeMove(first, undo)

	best := Result{Score: child.Score, BestMove: first, Nodes: 1 + child.Nodes}
	if maximizing {
		alpha = max(alpha, best.Score)
	} else {
		beta = min(beta, best.Score)
	}
	if r.token.IsStopRequested() || alpha >= beta {
		return best
	}

	siblings := moves[1:]
	var results []Result
	var received []bool
	if r.maxWorkers <= 1 {
		results, received = r.searchSequential(pos, siblings, depth-1, alpha, beta, !maximizing)
	} else {
		results, received = r.searchParallel(pos, siblings, depth-1, alpha, beta, !maximizing)
	}

	// Fold in move order so that completion order never matters and ties
	// keep the earlier move.
	for i, res := range results {
		if !received[i] {
			continue
		}
		best.Nodes += 1 + res.Nodes
		if maximizing && res.Score > best.Score || !maximizing && res.Score < best.Score {
			best.Score = res.Score
			best.BestMove = siblings[i]
		}
	}
	return best
}

// searchSequential searches siblings one by one on pos, tightening the
// window as it goes.
func (r *SearchRoot) searchSequential(pos *board.Position, siblings []board.Move, depth int, alpha, beta float64, maximizing bool) ([]Result, []bool) {
	results := make([]Result, len(siblings))
	received := make([]bool, len(siblings))
	for i, m := range siblings {
		if r.token.IsStopRequested() || alpha >= beta {
			break
		}
		undo := pos.MakeMove(m)
		results[i] = r.node.Search(pos, depth, alpha, beta, maximizing)
		pos.UnmakeMove(m, undo)
		received[i] = true

		// maximizing is the children's side here.
		if maximizing {
			beta = min(beta, results[i].Score)
		} else {
			alpha = max(alpha, results[i].Score)
		}
	}
	return results, received
}

// searchParallel searches every sibling on its own copy of pos with the
// same window. It returns early with what has arrived if the token stops.
func (r *SearchRoot) searchParallel(pos *board.Position, siblings []board.Move, depth int, alpha, beta float64, maximizing bool) ([]Result, []bool) {
	clones := make([]*board.Position, len(siblings))
	for i, m := range siblings {
		clone := pos.Copy()
		clone.MakeMove(m)
		clones[i] = clone
	}

	// ctx is also cancelled when a task fails, so the remaining tasks
	// are skipped and searched by searchMissing.
	g, ctx := errgroup.WithContext(r.token.Context())
	g.SetLimit(min(r.maxWorkers, len(siblings)))
	r.splits.Add(1)

	out := make(chan siblingResult, len(siblings))
	errc := make(chan error, 1)
	go func() {
		for i := range siblings {
			i := i
			if ctx.Err() != nil {
				break
			}
			g.Go(func() (err error) {
				if ctx.Err() != nil {
					return nil
				}
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("search %v: %v", siblings[i], p)
					}
				}()
				out <- siblingResult{index: i, result: r.node.Search(clones[i], depth, alpha, beta, maximizing)}
				return nil
			})
		}
		errc <- g.Wait()
	}()

	results := make([]Result, len(siblings))
	received := make([]bool, len(siblings))
	store := func(sr siblingResult) {
		results[sr.index] = sr.result
		received[sr.index] = true
	}

	// errc is sent once every task has returned, so the pool is gone
	// before the caller moves on.
	for {
		select {
		case sr := <-out:
			store(sr)
		case <-r.token.Done():
			return results, received
		case err := <-errc:
			for len(out) > 0 {
				store(<-out)
			}
			if err != nil && !r.token.IsStopRequested() {
				log.Error().Err(err).Int("depth", depth).Msg("sibling-search-failed")
				r.searchMissing(pos, siblings, received, results, depth, alpha, beta, maximizing)
			}
			return results, received
		}
	}
}

// searchMissing searches on pos the siblings a failed worker pool left
// without a result.
func (r *SearchRoot) searchMissing(pos *board.Position, siblings []board.Move, received []bool, results []Result, depth int, alpha, beta float64, maximizing bool) {
	for i, m := range siblings {
		if received[i] || r.token.IsStopRequested() {
			continue
		}
		undo := pos.MakeMove(m)
		results[i] = r.node.Search(pos, depth, alpha, beta, maximizing)
		pos.UnmakeMove(m, undo)
		received[i] = true
	}
}

// Splits returns the number of sibling pools started so far.
func (r *SearchRoot) Splits() int64 {
	return r.splits.Load()
}
