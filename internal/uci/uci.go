package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/book"
	"github.com/hailam/splitsearch/internal/engine"
	"github.com/hailam/splitsearch/internal/eval"
	"github.com/hailam/splitsearch/internal/storage"
)

const (
	engineName   = "SplitSearch"
	engineAuthor = "ChessPlay Team"
)

// Store persists option values and search statistics.
type Store interface {
	LoadOptions() (map[string]string, error)
	SaveOption(name, value string) error
	RecordSearch(rec storage.SearchRecord) error
}

// UCI implements the Universal Chess Interface protocol.
type UCI struct {
	engine   *engine.Engine
	store    Store
	position *board.Position

	in    io.Reader
	out   io.Writer
	outMu sync.Mutex

	// Option values, applied to the engine after every change
	options    []Option
	opts       engine.Options
	moveTimeMs int
	bookFile   string
	book       *book.Book

	// Set when the book has no move for the game position; cleared by ucinewgame.
	outOfBook atomic.Bool

	// Search state
	searchCancel context.CancelFunc
	searchDone   chan struct{}
}

// New creates a new UCI protocol handler reading commands from in and
// writing responses to out.
func New(eng *engine.Engine, in io.Reader, out io.Writer) *UCI {
	u := &UCI{
		engine:   eng,
		position: board.NewPosition(),
		in:       in,
		out:      out,
	}
	u.initOptions()
	return u
}

func (u *UCI) initOptions() {
	u.opts = u.engine.Options()
	u.moveTimeMs = int(u.opts.MoveTime / time.Millisecond)
	u.options = []Option{
		&IntOption{Name: "Depth", Min: 1, Max: 64, Value: &u.opts.Depth},
		&IntOption{Name: "SplitDepth", Min: 0, Max: 64, Value: &u.opts.SplitDepth},
		&IntOption{Name: "Threads", Min: 1, Max: 256, Value: &u.opts.Threads},
		&IntOption{Name: "MoveTime", Min: 0, Max: 3600000, Value: &u.moveTimeMs},
		&BoolOption{Name: "UseHash", Value: &u.opts.UseHash},
		&IntOption{Name: "Hash", Min: 1, Max: 4096, Value: &u.opts.Hash},
		&BoolOption{Name: "OwnBook", Value: &u.opts.OwnBook},
		&StringOption{Name: "BookFile", Value: &u.bookFile},
		&BoolOption{Name: "BookVariety", Value: &u.opts.BookVariety},
	}
}

// SetStore attaches a store and applies the option values saved in it.
func (u *UCI) SetStore(store Store) {
	u.store = store
	saved, err := store.LoadOptions()
	if err != nil {
		log.Warn().Err(err).Msg("load-options-failed")
		return
	}
	for name, value := range saved {
		if err := u.setOption(name, value, false); err != nil {
			log.Warn().Err(err).Str("option", name).Msg("saved-option-ignored")
		}
	}
}

// SetOption sets a UCI option without persisting it.
func (u *UCI) SetOption(name, value string) error {
	return u.setOption(name, value, false)
}

// Run reads commands until quit or end of input. At end of input a
// running search is allowed to finish.
func (u *UCI) Run() error {
	scanner := bufio.NewScanner(u.in)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			u.println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "quit":
			u.handleStop()
			return nil
		case "setoption":
			u.handleSetOption(args)
		// Debug commands
		case "d":
			u.handleDisplay()
		case "perft":
			u.handlePerft(args)
		default:
			log.Debug().Str("command", cmd).Msg("unknown-command")
		}
	}

	u.waitSearch()
	return scanner.Err()
}

func (u *UCI) println(s string) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintln(u.out, s)
}

func (u *UCI) printf(format string, args ...any) {
	u.println(fmt.Sprintf(format, args...))
}

// handleUCI responds to the "uci" command.
func (u *UCI) handleUCI() {
	u.printf("id name %s", engineName)
	u.printf("id author %s", engineAuthor)
	u.println("")
	for _, opt := range u.options {
		u.println(opt.UciString())
	}
	u.println("uciok")
}

// handleNewGame resets the engine for a new game.
func (u *UCI) handleNewGame() {
	u.handleStop()
	u.engine.Clear()
	u.position = board.NewPosition()
	u.outOfBook.Store(false)
}

// handlePosition parses and sets up a position.
// Formats:
//   - position startpos
//   - position startpos moves e2e4 e7e5
//   - position fen <fen>
//   - position fen <fen> moves e2e4
//
// The position's history records every move so the search sees
// repetitions of the game.
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	movesAt := len(args)
	for i, arg := range args {
		if arg == "moves" {
			movesAt = i
			break
		}
	}

	var pos *board.Position
	switch args[0] {
	case "startpos":
		pos = board.NewPosition()
	case "fen":
		fen := strings.Join(args[1:movesAt], " ")
		p, err := board.ParseFEN(fen)
		if err != nil {
			u.printf("info string invalid fen: %v", err)
			log.Warn().Err(err).Str("fen", fen).Msg("invalid-fen")
			return
		}
		pos = p
	default:
		return
	}

	if movesAt < len(args) {
		for _, moveStr := range args[movesAt+1:] {
			move := parseMove(pos, moveStr)
			if move == board.NoMove {
				u.printf("info string invalid move %s", moveStr)
				log.Warn().Str("move", moveStr).Str("fen", pos.ToFEN()).Msg("invalid-move")
				break
			}
			pos.MakeMove(move)
		}
	}

	u.position = pos
}

// parseMove converts a UCI move string to a legal move in pos, or NoMove.
func parseMove(pos *board.Position, moveStr string) board.Move {
	if len(moveStr) < 4 || len(moveStr) > 5 {
		return board.NoMove
	}

	from, err := board.ParseSquare(moveStr[0:2])
	if err != nil {
		return board.NoMove
	}
	to, err := board.ParseSquare(moveStr[2:4])
	if err != nil {
		return board.NoMove
	}

	var promo board.PieceType
	if len(moveStr) == 5 {
		switch moveStr[4] {
		case 'q':
			promo = board.Queen
		case 'r':
			promo = board.Rook
		case 'b':
			promo = board.Bishop
		case 'n':
			promo = board.Knight
		default:
			return board.NoMove
		}
	}

	// Find matching legal move
	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() != from || m.To() != to {
			continue
		}
		if promo != 0 {
			if m.IsPromotion() && m.Promotion() == promo {
				return m
			}
		} else if !m.IsPromotion() {
			return m
		}
	}

	return board.NoMove
}

// GoOptions holds parsed "go" command options.
type GoOptions struct {
	Depth     int
	MoveTime  time.Duration
	Infinite  bool
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MovesToGo int
}

func (o GoOptions) limits() engine.UCILimits {
	return engine.UCILimits{
		Time:      [2]time.Duration{o.WTime, o.BTime},
		Inc:       [2]time.Duration{o.WInc, o.BInc},
		MovesToGo: o.MovesToGo,
		MoveTime:  o.MoveTime,
		Depth:     o.Depth,
		Infinite:  o.Infinite,
	}
}

// parseGoOptions parses "go" command arguments. Unknown tokens and
// malformed numbers are ignored.
func parseGoOptions(args []string) GoOptions {
	var opts GoOptions

	next := func(i int) (int, bool) {
		if i+1 >= len(args) {
			return 0, false
		}
		v, err := strconv.Atoi(args[i+1])
		if err != nil {
			return 0, false
		}
		return v, true
	}
	ms := func(v int) time.Duration {
		return time.Duration(max(v, 0)) * time.Millisecond
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "infinite":
			opts.Infinite = true
			continue
		case "depth", "movetime", "wtime", "btime", "winc", "binc", "movestogo":
		default:
			continue
		}

		v, ok := next(i)
		if !ok {
			continue
		}
		switch args[i] {
		case "depth":
			opts.Depth = v
		case "movetime":
			opts.MoveTime = ms(v)
		case "wtime":
			opts.WTime = ms(v)
		case "btime":
			opts.BTime = ms(v)
		case "winc":
			opts.WInc = ms(v)
		case "binc":
			opts.BInc = ms(v)
		case "movestogo":
			opts.MovesToGo = v
		}
		i++
	}

	return opts
}

// handleGo starts a search with the given parameters. Exactly one
// bestmove line is written per go.
func (u *UCI) handleGo(args []string) {
	u.handleStop()

	goOpts := parseGoOptions(args)
	pos := u.position.Copy()
	us := pos.SideToMove
	ply := (pos.FullMoveNumber-1)*2 + int(us)

	tm := engine.NewTimeManager()
	tm.Init(goOpts.limits(), us, ply, u.opts.MoveTime)

	bookActive := u.opts.OwnBook && u.book != nil && !u.outOfBook.Load()
	limits := engine.SearchLimits{
		Depth:    goOpts.Depth,
		MoveTime: tm.Budget(),
		SkipBook: !bookActive,
	}

	var last engine.SearchInfo
	u.engine.OnInfo = func(info engine.SearchInfo) {
		last = info
		u.sendInfo(info, us)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	u.searchCancel = cancel
	u.searchDone = done

	go func() {
		defer close(done)
		defer cancel()

		res := u.engine.Search(ctx, pos, limits)
		if bookActive && !last.BookMove {
			u.outOfBook.Store(true)
			log.Debug().Int("ply", ply).Msg("out-of-book")
		}
		u.recordSearch(last)
		u.printf("bestmove %s", legalMove(pos, res.BestMove))
	}()
}

// legalMove returns move if it is legal in pos. Otherwise it returns the
// first legal move, or NoMove when pos has none.
func legalMove(pos *board.Position, move board.Move) board.Move {
	legal := pos.GenerateLegalMoves()
	if move != board.NoMove && legal.Contains(move) {
		return move
	}
	if legal.Len() == 0 {
		return board.NoMove
	}
	log.Warn().Stringer("move", move).Str("fen", pos.ToFEN()).Msg("search-move-rejected")
	return legal.Get(0)
}

func (u *UCI) recordSearch(info engine.SearchInfo) {
	if u.store == nil {
		return
	}
	err := u.store.RecordSearch(storage.SearchRecord{
		Nodes:    info.Nodes,
		Duration: info.Time,
		BookMove: info.BookMove,
		TimedOut: info.TimedOut,
	})
	if err != nil {
		log.Warn().Err(err).Msg("record-search-failed")
	}
}

// sendInfo writes the info lines for a finished search. Scores are given
// from the point of view of us, the side to move.
func (u *UCI) sendInfo(info engine.SearchInfo, us board.Color) {
	if info.BookMove {
		u.printf("info string book move %s", info.Move)
		return
	}

	parts := []string{
		fmt.Sprintf("depth %d", info.Depth),
		"score " + uciScore(info.Score, info.Depth, us),
		fmt.Sprintf("nodes %d", info.Nodes),
		fmt.Sprintf("time %d", info.Time.Milliseconds()),
	}

	// NPS
	if info.Time > 0 {
		nps := uint64(float64(info.Nodes) / info.Time.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}

	// Hash fullness
	if info.HashFull > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))
	}

	if info.Move != board.NoMove {
		parts = append(parts, "pv "+info.Move.String())
	}

	u.printf("info %s", strings.Join(parts, " "))
	u.printf("info string %s found in %dms | %d nodes | score %s | depth %d",
		info.Move, info.Time.Milliseconds(), info.Nodes,
		engine.ScoreToString(info.Score, info.Depth), info.Depth)
	if info.HitRate > 0 {
		u.printf("info string hash hits %.1f%%", info.HitRate)
	}
	if info.TimedOut {
		u.println("info string time budget expired")
	}
}

// uciScore formats a White-relative score as "cp N" or "mate N" for us.
func uciScore(score float64, depth int, us board.Color) string {
	if eval.IsMateScore(score) {
		plies := engine.MatePlies(score, depth)
		if us == board.Black {
			plies = -plies
		}
		if plies < 0 {
			return fmt.Sprintf("mate %d", -((-plies + 1) / 2))
		}
		return fmt.Sprintf("mate %d", (plies+1)/2)
	}
	if us == board.Black {
		score = -score
	}
	return fmt.Sprintf("cp %d", int(math.Round(score)))
}

// handleStop stops the current search and waits for its bestmove.
func (u *UCI) handleStop() {
	if u.searchDone == nil {
		return
	}
	u.searchCancel()
	u.waitSearch()
}

func (u *UCI) waitSearch() {
	if u.searchDone == nil {
		return
	}
	<-u.searchDone
	u.searchDone = nil
	u.searchCancel = nil
}

// handleSetOption processes "setoption" commands and persists the value.
func (u *UCI) handleSetOption(args []string) {
	// Format: setoption name <name> value <value>
	var name, value []string
	var cur *[]string

	for _, arg := range args {
		switch arg {
		case "name":
			cur = &name
		case "value":
			cur = &value
		default:
			if cur != nil {
				*cur = append(*cur, arg)
			}
		}
	}

	if err := u.setOption(strings.Join(name, " "), strings.Join(value, " "), true); err != nil {
		u.printf("info string %v", err)
	}
}

func (u *UCI) findOption(name string) Option {
	for _, opt := range u.options {
		if strings.EqualFold(opt.UciName(), name) {
			return opt
		}
	}
	return nil
}

func (u *UCI) setOption(name, value string, persist bool) error {
	opt := u.findOption(name)
	if opt == nil {
		return fmt.Errorf("unknown option %q", name)
	}
	if err := opt.Set(value); err != nil {
		return fmt.Errorf("option %s: %w", opt.UciName(), err)
	}

	if opt.UciName() == "BookFile" {
		if err := u.loadBook(); err != nil {
			return fmt.Errorf("option %s: %w", opt.UciName(), err)
		}
	}

	u.opts.MoveTime = time.Duration(u.moveTimeMs) * time.Millisecond
	u.engine.SetOptions(u.opts)
	log.Debug().Str("option", opt.UciName()).Str("value", value).Msg("option-set")

	if persist && u.store != nil {
		if err := u.store.SaveOption(opt.UciName(), value); err != nil {
			log.Warn().Err(err).Str("option", opt.UciName()).Msg("save-option-failed")
		}
	}
	return nil
}

// SetBookFile loads the Polyglot book at path; an empty path removes the book.
func (u *UCI) SetBookFile(path string) error {
	u.bookFile = path
	return u.loadBook()
}

func (u *UCI) loadBook() error {
	u.outOfBook.Store(false)
	if u.bookFile == "" {
		u.engine.SetBook(nil)
		u.book = nil
		return nil
	}

	b, err := book.LoadPolyglot(u.bookFile)
	if err != nil {
		u.engine.SetBook(nil)
		u.book = nil
		return err
	}
	u.engine.SetBook(b)
	u.book = b
	log.Info().Str("file", u.bookFile).Int("entries", b.Entries()).Msg("book-loaded")
	return nil
}

// handleDisplay prints the current position.
func (u *UCI) handleDisplay() {
	u.println(u.position.String())
	u.printf("Fen: %s", u.position.ToFEN())
	u.printf("Key: %016X", u.position.Hash)
	u.printf("Eval: %+.2f", u.engine.Evaluate(u.position)/100)

	if cands := u.book.ProbeAll(u.position); len(cands) > 0 {
		moves := make([]string, len(cands))
		for i, c := range cands {
			moves[i] = fmt.Sprintf("%v (%d)", c.Move, c.Weight)
		}
		u.printf("Book: %s", strings.Join(moves, " "))
	}
}

// handlePerft runs a perft test.
func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		d, err := strconv.Atoi(args[0])
		if err != nil || d < 0 {
			u.printf("info string invalid perft depth %q", args[0])
			return
		}
		depth = d
	}

	start := time.Now()
	nodes := u.engine.Perft(u.position.Copy(), depth)
	elapsed := time.Since(start)

	u.printf("Nodes: %d", nodes)
	u.printf("Time: %v", elapsed)
	if elapsed > 0 {
		nps := float64(nodes) / elapsed.Seconds()
		u.printf("NPS: %.0f", nps)
	}
}
