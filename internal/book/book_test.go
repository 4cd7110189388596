package book

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/hailam/splitsearch/internal/board"
)

// polyglotMove encodes a move the way Polyglot stores it.
func polyglotMove(from, to board.Square, promo uint16) uint16 {
	return uint16(to.File()) | uint16(to.Rank())<<3 |
		uint16(from.File())<<6 | uint16(from.Rank())<<9 | promo<<12
}

type record struct {
	key    uint64
	move   uint16
	weight uint16
}

func encode(records ...record) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		binary.Write(&buf, binary.BigEndian, r.key)
		binary.Write(&buf, binary.BigEndian, r.move)
		binary.Write(&buf, binary.BigEndian, r.weight)
		binary.Write(&buf, binary.BigEndian, uint32(0)) // learn
	}
	return buf.Bytes()
}

func TestPolyglotHash(t *testing.T) {
	pos := board.NewPosition()
	// Published key of the starting position.
	if got := pos.PolyglotHash(); got != 0x463b96181691fc9c {
		t.Errorf("start position key = %016x", got)
	}

	move := board.NewMove(board.E2, board.E4)
	undo := pos.MakeMove(move)
	if got := pos.PolyglotHash(); got != 0x823c9b50fd114196 {
		t.Errorf("key after e2e4 = %016x", got)
	}
	pos.UnmakeMove(move, undo)
	if got := pos.PolyglotHash(); got != 0x463b96181691fc9c {
		t.Errorf("key not restored after unmake: %016x", got)
	}
}

func TestBookLoadAndProbe(t *testing.T) {
	pos := board.NewPosition()
	key := pos.PolyglotHash()

	data := encode(
		record{key, polyglotMove(board.E2, board.E5, 0), 500}, // illegal, skipped
		record{key, polyglotMove(board.D2, board.D4, 0), 10},
		record{key, polyglotMove(board.E2, board.E4, 0), 100},
	)
	book, err := LoadPolyglotReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadPolyglotReader: %v", err)
	}
	if book.Size() != 1 || book.Entries() != 3 {
		t.Errorf("Size() = %d, Entries() = %d", book.Size(), book.Entries())
	}

	move, found := book.Probe(pos)
	if !found {
		t.Fatal("expected a book move")
	}
	if got := move.String(); got != "d2d4" {
		t.Errorf("Probe = %s, want the first legal entry d2d4", got)
	}

	all := book.ProbeAll(pos)
	if len(all) != 2 || all[0].Move.String() != "e2e4" || all[1].Move.String() != "d2d4" {
		t.Errorf("ProbeAll = %v", all)
	}
}

func TestProbeWeighted(t *testing.T) {
	pos := board.NewPosition()
	key := pos.PolyglotHash()
	book, err := LoadPolyglotReader(bytes.NewReader(encode(
		record{key, polyglotMove(board.D2, board.D4, 0), 0},
		record{key, polyglotMove(board.E2, board.E4, 0), 1},
	)))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		move, ok := book.ProbeWeighted(pos)
		if !ok || move.String() != "e2e4" {
			t.Fatalf("ProbeWeighted = %v, %v; zero-weight entry chosen", move, ok)
		}
	}

	zero, err := LoadPolyglotReader(bytes.NewReader(encode(
		record{key, polyglotMove(board.G1, board.F3, 0), 0},
		record{key, polyglotMove(board.E2, board.E4, 0), 0},
	)))
	if err != nil {
		t.Fatal(err)
	}
	if move, _ := zero.ProbeWeighted(pos); move.String() != "g1f3" {
		t.Errorf("all-zero weights: got %v, want first entry", move)
	}
}

func TestCastlingEncoding(t *testing.T) {
	pos, err := board.ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatal(err)
	}
	book, err := LoadPolyglotReader(bytes.NewReader(encode(
		record{pos.PolyglotHash(), polyglotMove(board.E1, board.H1, 0), 1},
	)))
	if err != nil {
		t.Fatal(err)
	}
	move, ok := book.Probe(pos)
	if !ok || !move.IsCastling() || move.To() != board.G1 {
		t.Errorf("Probe = %v, %v; want castling e1g1", move, ok)
	}
}

func TestPromotionEncoding(t *testing.T) {
	pos, err := board.ParseFEN("8/4P3/8/8/8/8/k7/4K3 w - - 0 1")
	if err != nil {
		t.Fatal(err)
	}
	book, err := LoadPolyglotReader(bytes.NewReader(encode(
		record{pos.PolyglotHash(), polyglotMove(board.E7, board.E8, 1), 1},
	)))
	if err != nil {
		t.Fatal(err)
	}
	if move, ok := book.Probe(pos); !ok || move.String() != "e7e8n" {
		t.Errorf("Probe = %v, %v; want e7e8n", move, ok)
	}
}

func TestLoadCompressed(t *testing.T) {
	pos := board.NewPosition()
	raw := encode(record{pos.PolyglotHash(), polyglotMove(board.C2, board.C4, 0), 1})

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write(raw)
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "book.bin.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	book, err := LoadPolyglot(path)
	if err != nil {
		t.Fatalf("LoadPolyglot: %v", err)
	}
	if move, ok := book.Probe(pos); !ok || move.String() != "c2c4" {
		t.Errorf("Probe = %v, %v; want c2c4", move, ok)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadPolyglot(filepath.Join(t.TempDir(), "missing.bin"))
	if !errors.Is(err, ErrNoBook) {
		t.Errorf("missing file: err = %v, want ErrNoBook", err)
	}

	truncated := encode(record{1, 2, 3})[:10]
	if _, err := LoadPolyglotReader(bytes.NewReader(truncated)); err == nil {
		t.Error("truncated book loaded without error")
	}
}

func TestBookMiss(t *testing.T) {
	pos := board.NewPosition()
	for _, book := range []*Book{New(), nil} {
		move, found := book.Probe(pos)
		if found || move != board.NoMove {
			t.Errorf("Probe on empty book = %v, %v", move, found)
		}
	}
}
