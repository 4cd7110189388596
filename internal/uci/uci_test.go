package uci

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/engine"
	"github.com/hailam/splitsearch/internal/eval"
	"github.com/hailam/splitsearch/internal/storage"
)

const kiwipete = "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1"

// session drives a UCI loop over pipes.
type session struct {
	t     *testing.T
	u     *UCI
	eng   *engine.Engine
	in    *io.PipeWriter
	lines chan string

	closeOnce sync.Once
	done      chan error
	err       error
}

func newSession(t *testing.T, setup func(u *UCI)) *session {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	eng := engine.NewEngine(engine.NewOptions())
	u := New(eng, inR, outW)
	if setup != nil {
		setup(u)
	}

	s := &session{
		t:     t,
		u:     u,
		eng:   eng,
		in:    inW,
		lines: make(chan string, 1024),
		done:  make(chan error, 1),
	}

	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
		close(s.lines)
	}()
	go func() {
		err := u.Run()
		outW.Close()
		s.done <- err
	}()

	t.Cleanup(func() {
		if err := s.close(); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return s
}

func (s *session) send(cmds ...string) {
	s.t.Helper()
	for _, cmd := range cmds {
		if _, err := fmt.Fprintln(s.in, cmd); err != nil {
			s.t.Fatalf("send %q: %v", cmd, err)
		}
	}
}

// until returns every line up to and including the first one starting
// with prefix.
func (s *session) until(prefix string) []string {
	s.t.Helper()

	var seen []string
	timeout := time.After(30 * time.Second)
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				s.t.Fatalf("output closed waiting for %q, got %q", prefix, seen)
			}
			seen = append(seen, line)
			if strings.HasPrefix(line, prefix) {
				return seen
			}
		case <-timeout:
			s.t.Fatalf("timed out waiting for %q, got %q", prefix, seen)
		}
	}
}

// sync waits until every command sent so far has been processed.
func (s *session) sync() []string {
	s.t.Helper()
	s.send("isready")
	return s.until("readyok")
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.in.Close()
		select {
		case s.err = <-s.done:
		case <-time.After(30 * time.Second):
			s.err = fmt.Errorf("loop did not exit")
		}
	})
	return s.err
}

func bestMove(t *testing.T, lines []string) string {
	t.Helper()
	last := lines[len(lines)-1]
	fields := strings.Fields(last)
	if len(fields) != 2 || fields[0] != "bestmove" {
		t.Fatalf("malformed bestmove line %q", last)
	}
	return fields[1]
}

func containsPrefix(lines []string, prefix string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func TestHandshake(t *testing.T) {
	s := newSession(t, nil)
	s.send("uci")
	lines := s.until("uciok")

	for _, want := range []string{
		"id name SplitSearch",
		"option name Threads type spin default 8 min 1 max 256",
		"option name UseHash type check default false",
		"option name BookFile type string default <empty>",
	} {
		if !containsPrefix(lines, want) {
			t.Errorf("uci output missing %q: %q", want, lines)
		}
	}
	s.sync()
}

func TestGoDepth(t *testing.T) {
	for _, moves := range []string{"", "e2e4"} {
		t.Run("startpos "+moves, func(t *testing.T) {
			s := newSession(t, nil)
			s.send("position startpos moves "+moves, "go depth 3")
			lines := s.until("bestmove")

			if !containsPrefix(lines, "info depth 3 score cp ") {
				t.Errorf("missing info line: %q", lines)
			}
			if !containsPrefix(lines, "info string ") {
				t.Errorf("missing summary line: %q", lines)
			}

			pos := board.NewPosition()
			for _, m := range strings.Fields(moves) {
				pos.MakeMove(parseMove(pos, m))
			}
			if move := bestMove(t, lines); parseMove(pos, move) == board.NoMove {
				t.Errorf("bestmove %s is not legal", move)
			}

			// Exactly one bestmove per go.
			if after := s.sync(); containsPrefix(after, "bestmove") {
				t.Errorf("extra bestmove: %q", after)
			}
		})
	}
}

func TestGoDepthHasBudget(t *testing.T) {
	s := newSession(t, nil)
	s.send("setoption name MoveTime value 100", "position startpos", "go depth 64")
	lines := s.until("bestmove")

	if !containsPrefix(lines, "info string time budget expired") {
		t.Errorf("depth-limited search ran without a timer: %q", lines)
	}
	if move := bestMove(t, lines); parseMove(board.NewPosition(), move) == board.NoMove {
		t.Errorf("bestmove %s is not legal", move)
	}
}

func TestGoHashSearch(t *testing.T) {
	s := newSession(t, nil)
	s.send("setoption name UseHash value true", "position fen "+kiwipete, "go depth 3")
	lines := s.until("bestmove")

	pos, _ := board.ParseFEN(kiwipete)
	if move := bestMove(t, lines); parseMove(pos, move) == board.NoMove {
		t.Errorf("bestmove %s is not legal", move)
	}
	if !containsPrefix(lines, "info depth 3 ") {
		t.Errorf("missing info line: %q", lines)
	}
	// Move-order transpositions at depth 3 hit the table.
	if !containsPrefix(lines, "info string hash hits ") {
		t.Errorf("missing hash hit rate: %q", lines)
	}
}

func TestGoMateScore(t *testing.T) {
	s := newSession(t, nil)
	// Black to move is mated by Ra8 after any reply.
	s.send("position fen 6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1", "go depth 3")
	lines := s.until("bestmove")

	if got := bestMove(t, lines); got != "a1a8" {
		t.Errorf("bestmove = %s, want a1a8", got)
	}
	if !containsPrefix(lines, "info depth 3 score mate 1 ") {
		t.Errorf("expected mate score: %q", lines)
	}
}

func TestStopAndMoveTime(t *testing.T) {
	s := newSession(t, func(u *UCI) {
		if err := u.SetOption("Depth", "64"); err != nil {
			t.Fatal(err)
		}
	})

	s.send("position startpos", "go infinite")
	time.Sleep(50 * time.Millisecond)
	s.send("stop")
	lines := s.until("bestmove")
	if move := bestMove(t, lines); parseMove(board.NewPosition(), move) == board.NoMove {
		t.Errorf("bestmove %s after stop is not legal", move)
	}

	start := time.Now()
	s.send("go movetime 100")
	lines = s.until("bestmove")
	if move := bestMove(t, lines); parseMove(board.NewPosition(), move) == board.NoMove {
		t.Errorf("bestmove %s after movetime is not legal", move)
	}
	if !containsPrefix(lines, "info string time budget expired") {
		t.Errorf("expected the budget to expire: %q", lines)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("movetime 100 took %v", elapsed)
	}
}

func TestQuitStopsSearch(t *testing.T) {
	s := newSession(t, func(u *UCI) {
		u.SetOption("Depth", "64")
	})
	s.send("go infinite", "quit")
	lines := s.until("bestmove")
	bestMove(t, lines)
	if err := s.close(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPosition(t *testing.T) {
	s := newSession(t, nil)

	s.send("position fen "+kiwipete+" moves e1g1", "d")
	lines := s.until("Fen:")
	if fen := lines[len(lines)-1]; !strings.Contains(fen, "R4RK1 b kq") {
		t.Errorf("after e1g1: %s", fen)
	}

	s.send("position startpos moves e2e4 e7e5 g1f3", "d")
	lines = s.until("Fen:")
	want := "Fen: rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b KQkq"
	if fen := lines[len(lines)-1]; !strings.HasPrefix(fen, want) {
		t.Errorf("got %s, want prefix %s", fen, want)
	}
}

func TestPositionErrors(t *testing.T) {
	s := newSession(t, nil)

	s.send("position startpos moves e2e4", "position fen garbage")
	lines := s.sync()
	if !containsPrefix(lines, "info string invalid fen") {
		t.Errorf("expected invalid fen report: %q", lines)
	}

	// The previous position is kept.
	s.send("d")
	lines = s.until("Fen:")
	if fen := lines[len(lines)-1]; !strings.Contains(fen, "4P3") {
		t.Errorf("position changed after bad fen: %s", fen)
	}

	// Moves are applied up to the first illegal one.
	s.send("position startpos moves e2e4 e7e4 d7d5")
	lines = s.sync()
	if !containsPrefix(lines, "info string invalid move e7e4") {
		t.Errorf("expected invalid move report: %q", lines)
	}
	s.send("d")
	lines = s.until("Fen:")
	if fen := lines[len(lines)-1]; !strings.Contains(fen, "/8/4P3/8/PPPP1PPP/RNBQKBNR b ") {
		t.Errorf("got %s", fen)
	}
}

func TestSetOption(t *testing.T) {
	s := newSession(t, nil)

	s.send(
		"setoption name Threads value 2",
		"setoption name MoveTime value 250",
		"setoption name Hash value 4",
		"setoption name usehash value true",
	)
	s.sync()

	opts := s.eng.Options()
	if opts.Threads != 2 || opts.MoveTime != 250*time.Millisecond || opts.Hash != 4 || !opts.UseHash {
		t.Errorf("options not applied: %+v", opts)
	}

	s.send("setoption name Threads value 0", "setoption name Nonsense value 1")
	lines := s.sync()
	if !containsPrefix(lines, "info string option Threads: argument out of range") {
		t.Errorf("expected range error: %q", lines)
	}
	if !containsPrefix(lines, `info string unknown option "Nonsense"`) {
		t.Errorf("expected unknown option error: %q", lines)
	}
	if got := s.eng.Options().Threads; got != 2 {
		t.Errorf("Threads = %d after a rejected value", got)
	}
}

func writeBook(t *testing.T, moves ...string) string {
	t.Helper()

	pos := board.NewPosition()
	var buf bytes.Buffer
	for _, s := range moves {
		m := parseMove(pos, s)
		from, to := m.From(), m.To()
		data := uint16(to.File()) | uint16(to.Rank())<<3 |
			uint16(from.File())<<6 | uint16(from.Rank())<<9
		binary.Write(&buf, binary.BigEndian, pos.PolyglotHash())
		binary.Write(&buf, binary.BigEndian, data)
		binary.Write(&buf, binary.BigEndian, uint16(1))
		binary.Write(&buf, binary.BigEndian, uint32(0))
	}

	path := filepath.Join(t.TempDir(), "book.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBook(t *testing.T) {
	path := writeBook(t, "e2e4")
	s := newSession(t, nil)

	s.send("setoption name BookFile value "+path, "position startpos", "go depth 2")
	lines := s.until("bestmove")
	if got := bestMove(t, lines); got != "e2e4" {
		t.Errorf("bestmove = %s, want book move e2e4", got)
	}
	if !containsPrefix(lines, "info string book move e2e4") {
		t.Errorf("missing book info: %q", lines)
	}

	s.send("d")
	lines = s.until("Eval:")
	lines = append(lines, s.sync()...)
	if !containsPrefix(lines, "Book: e2e4 (1)") {
		t.Errorf("d does not list book moves: %q", lines)
	}

	// A miss leaves the book for the rest of the game.
	s.send("position startpos moves e2e4", "go depth 1")
	lines = s.until("bestmove")
	if containsPrefix(lines, "info string book move") {
		t.Errorf("unexpected book move: %q", lines)
	}
	s.send("position startpos", "go depth 1")
	lines = s.until("bestmove")
	if containsPrefix(lines, "info string book move") {
		t.Errorf("book consulted after leaving it: %q", lines)
	}

	s.send("ucinewgame", "position startpos", "go depth 1")
	lines = s.until("bestmove")
	if !containsPrefix(lines, "info string book move e2e4") {
		t.Errorf("book not consulted after ucinewgame: %q", lines)
	}

	s.send("setoption name OwnBook value false", "ucinewgame", "position startpos", "go depth 1")
	lines = s.until("bestmove")
	if containsPrefix(lines, "info string book move") {
		t.Errorf("book consulted with OwnBook off: %q", lines)
	}

	s.send("setoption name BookFile value " + filepath.Join(t.TempDir(), "missing.bin"))
	lines = s.sync()
	if !containsPrefix(lines, "info string option BookFile:") {
		t.Errorf("expected a load error: %q", lines)
	}
}

func TestStore(t *testing.T) {
	st, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.SaveOption("Depth", "2"); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveOption("Bogus", "1"); err != nil {
		t.Fatal(err)
	}

	s := newSession(t, func(u *UCI) { u.SetStore(st) })
	if got := s.eng.Options().Depth; got != 2 {
		t.Errorf("Depth = %d, want the saved value 2", got)
	}

	s.send("setoption name Threads value 3", "go")
	lines := s.until("bestmove")
	if !containsPrefix(lines, "info depth 2 ") {
		t.Errorf("expected a depth 2 search: %q", lines)
	}

	saved, err := st.LoadOptions()
	if err != nil {
		t.Fatal(err)
	}
	if saved["threads"] != "3" {
		t.Errorf("saved options = %v", saved)
	}

	stats, err := st.LoadStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Searches != 1 || stats.TotalNodes == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPerft(t *testing.T) {
	s := newSession(t, nil)

	s.send("position startpos", "perft 3")
	lines := s.until("Nodes:")
	if got := lines[len(lines)-1]; got != "Nodes: 8902" {
		t.Errorf("got %q", got)
	}

	s.send("perft x")
	if lines := s.sync(); !containsPrefix(lines, `info string invalid perft depth "x"`) {
		t.Errorf("expected an error: %q", lines)
	}
}

func TestParseGoOptions(t *testing.T) {
	tests := []struct {
		args string
		want GoOptions
	}{
		{"", GoOptions{}},
		{"depth 5", GoOptions{Depth: 5}},
		{"movetime 1500", GoOptions{MoveTime: 1500 * time.Millisecond}},
		{"infinite", GoOptions{Infinite: true}},
		{
			"wtime 60000 btime 50000 winc 1000 binc 900 movestogo 20",
			GoOptions{
				WTime:     time.Minute,
				BTime:     50 * time.Second,
				WInc:      time.Second,
				BInc:      900 * time.Millisecond,
				MovesToGo: 20,
			},
		},
		{"wtime -20 depth x movetime", GoOptions{}},
		{"ponder depth 4", GoOptions{Depth: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			if got := parseGoOptions(strings.Fields(tt.args)); got != tt.want {
				t.Errorf("parseGoOptions(%q) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestUCIScore(t *testing.T) {
	tests := []struct {
		score float64
		depth int
		us    board.Color
		want  string
	}{
		{35.4, 4, board.White, "cp 35"},
		{35.4, 4, board.Black, "cp -35"},
		{-120, 4, board.Black, "cp 120"},
		{eval.MateValue + 2, 3, board.White, "mate 1"},
		{eval.MateValue + 2, 3, board.Black, "mate -1"},
		{-eval.MateValue - 1, 5, board.Black, "mate 2"},
	}

	for _, tt := range tests {
		if got := uciScore(tt.score, tt.depth, tt.us); got != tt.want {
			t.Errorf("uciScore(%v, %d, %v) = %q, want %q", tt.score, tt.depth, tt.us, got, tt.want)
		}
	}
}
