package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/eval"
)

// SearchInfo describes a finished search.
type SearchInfo struct {
	Depth    int
	Score    float64
	Move     board.Move
	Nodes    uint64
	Time     time.Duration
	HashFull int     // Permille of hash table used, when the hash search ran
	HitRate  float64 // Percent of table probes that hit, when the hash search ran
	BookMove bool // The move came from the opening book
	TimedOut bool // The budget expired before the search completed
}

// SearchLimits specifies constraints on one search.
type SearchLimits struct {
	Depth    int           // Search depth (0 = Options.Depth)
	MoveTime time.Duration // Wall-clock budget (0 = no limit)
	SkipBook bool          // Do not consult the opening book
}

// OpeningBook supplies moves for known positions.
type OpeningBook interface {
	Probe(pos *board.Position) (board.Move, bool)
	ProbeWeighted(pos *board.Position) (board.Move, bool)
}

// Engine is the chess AI engine.
type Engine struct {
	mu      sync.Mutex
	options Options
	tt      *TranspositionTable
	book    OpeningBook
	token   *CancellationToken

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates a new chess engine.
func NewEngine(options Options) *Engine {
	return &Engine{
		options: options,
		tt:      NewTranspositionTable(options.Hash),
	}
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.options
}

// SetOptions replaces the options. A new hash size reallocates the
// transposition table.
func (e *Engine) SetOptions(options Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if options.Hash != e.tt.Megabytes() {
		e.tt = NewTranspositionTable(options.Hash)
	}
	e.options = options
}

// SetBook sets the opening book. A nil book disables book moves.
func (e *Engine) SetBook(book OpeningBook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book = book
}

// Search finds the best move for pos. It returns when the search completes,
// the budget expires, Stop is called or ctx is done. pos is not modified.
func (e *Engine) Search(ctx context.Context, pos *board.Position, limits SearchLimits) Result {
	startTime := time.Now()

	e.mu.Lock()
	opts, tt, book := e.options, e.tt, e.book
	token := NewCancellationToken(ctx)
	e.token = token
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.token == token {
			e.token = nil
		}
		e.mu.Unlock()
		token.RequestStop()
	}()

	if opts.OwnBook && book != nil && !limits.SkipBook {
		probe := book.Probe
		if opts.BookVariety {
			probe = book.ProbeWeighted
		}
		if m, ok := probe(pos); ok {
			res := Result{Score: eval.Evaluate(pos), BestMove: m}
			log.Debug().Stringer("move", m).Msg("book-move")
			e.report(SearchInfo{Score: res.Score, Move: m, Time: time.Since(startTime), BookMove: true})
			return res
		}
	}

	depth := opts.Depth
	if limits.Depth > 0 {
		depth = limits.Depth
	}
	depth = max(depth, 1)

	timer := StartSearchTimer(limits.MoveTime, token)
	defer timer.Abort()

	root := pos.Copy()
	maximizing := root.SideToMove == board.White
	log.Debug().
		Int("depth", depth).
		Int("split-depth", opts.SplitDepth).
		Int("threads", opts.Threads).
		Bool("use-hash", opts.UseHash).
		Dur("budget", limits.MoveTime).
		Msg("search-start")

	var res Result
	var splits int64
	hashFull, hitRate := 0, 0.0
	if opts.UseHash {
		s := &hashSearch{tt: tt, token: token}
		res = s.Search(root, depth, -Infinity, Infinity, maximizing)
		hashFull, hitRate = tt.HashFull(), tt.HitRate()
	} else {
		sr := NewSearchRoot(token, opts.SplitDepth, opts.Threads)
		res = sr.Search(root, depth, -Infinity, Infinity, maximizing)
		splits = sr.Splits()
	}

	info := SearchInfo{
		Depth:    depth,
		Score:    res.Score,
		Move:     res.BestMove,
		Nodes:    res.Nodes,
		Time:     time.Since(startTime),
		HashFull: hashFull,
		HitRate:  hitRate,
		TimedOut: timer.Fired(),
	}
	log.Debug().
		Stringer("move", res.BestMove).
		Float64("score", res.Score).
		Uint64("nodes", res.Nodes).
		Dur("elapsed", info.Time).
		Bool("timed-out", info.TimedOut).
		Int64("splits", splits).
		Msg("search-done")
	e.report(info)
	return res
}

func (e *Engine) report(info SearchInfo) {
	if e.OnInfo != nil {
		e.OnInfo(info)
	}
}

// Stop stops the current search.
func (e *Engine) Stop() {
	e.mu.Lock()
	token := e.token
	e.mu.Unlock()
	if token != nil {
		token.RequestStop()
	}
}

// Clear clears the transposition table.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tt.Clear()
}

// Perft performs a perft test (for debugging move generation).
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += e.Perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// Evaluate returns the static evaluation of a position.
func (e *Engine) Evaluate(pos *board.Position) float64 {
	return eval.Evaluate(pos)
}
