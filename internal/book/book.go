// Package book reads Polyglot opening books.
package book

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/frand"

	"github.com/hailam/splitsearch/internal/board"
)

// ErrNoBook is returned when a book file does not exist.
var ErrNoBook = errors.New("no opening book")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// entry is one Polyglot record. The move keeps its Polyglot encoding
// until it is matched against a position.
type entry struct {
	move   uint16
	weight uint16
}

// Candidate is a legal book move with its weight.
type Candidate struct {
	Move   board.Move
	Weight uint16
}

// Book represents an opening book. Entries for a position are kept in
// file order.
type Book struct {
	entries map[uint64][]entry
	count   int
}

// New creates an empty book.
func New() *Book {
	return &Book{
		entries: make(map[uint64][]entry),
	}
}

// LoadPolyglot loads a Polyglot format opening book from a file. Files
// compressed with zstd are decompressed transparently.
func LoadPolyglot(filename string) (*Book, error) {
	file, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", filename, ErrNoBook)
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	b, err := LoadPolyglotReader(file)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filename, err)
	}
	return b, nil
}

// LoadPolyglotReader loads a Polyglot format book from a reader, which may
// hold a zstd stream.
func LoadPolyglotReader(r io.Reader) (*Book, error) {
	br := bufio.NewReader(r)
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		return readEntries(dec)
	}
	return readEntries(br)
}

func readEntries(r io.Reader) (*Book, error) {
	book := New()

	// Polyglot entry format:
	// 8 bytes: position key (big-endian)
	// 2 bytes: move (big-endian)
	// 2 bytes: weight (big-endian)
	// 4 bytes: learn data (ignored)
	var rec [16]byte

	for {
		_, err := io.ReadFull(r, rec[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", book.count, err)
		}

		key := binary.BigEndian.Uint64(rec[0:8])
		book.entries[key] = append(book.entries[key], entry{
			move:   binary.BigEndian.Uint16(rec[8:10]),
			weight: binary.BigEndian.Uint16(rec[10:12]),
		})
		book.count++
	}

	return book, nil
}

// Probe returns the first legal book move for pos in file order.
func (b *Book) Probe(pos *board.Position) (board.Move, bool) {
	if cands := b.candidates(pos); len(cands) > 0 {
		return cands[0].Move, true
	}
	return board.NoMove, false
}

// ProbeWeighted picks a legal book move at random, weighted by the book
// weights. If every weight is zero the first legal move is returned.
func (b *Book) ProbeWeighted(pos *board.Position) (board.Move, bool) {
	cands := b.candidates(pos)
	if len(cands) == 0 {
		return board.NoMove, false
	}

	total := 0
	for _, c := range cands {
		total += int(c.Weight)
	}
	if total == 0 {
		return cands[0].Move, true
	}

	r := frand.Intn(total)
	for _, c := range cands {
		r -= int(c.Weight)
		if r < 0 {
			return c.Move, true
		}
	}
	return cands[0].Move, true
}

// ProbeAll returns all legal book moves for the position, sorted by weight.
func (b *Book) ProbeAll(pos *board.Position) []Candidate {
	cands := b.candidates(pos)
	slices.SortStableFunc(cands, func(x, y Candidate) int {
		return int(y.Weight) - int(x.Weight)
	})
	return cands
}

func (b *Book) candidates(pos *board.Position) []Candidate {
	if b == nil {
		return nil
	}
	entries := b.entries[pos.PolyglotHash()]
	if len(entries) == 0 {
		return nil
	}

	legal := pos.GenerateLegalMoves()
	var cands []Candidate
	for _, e := range entries {
		if m := matchLegal(pos, legal, e.move); m != board.NoMove {
			cands = append(cands, Candidate{Move: m, Weight: e.weight})
		}
	}
	return cands
}

// matchLegal converts a Polyglot move to the matching legal move, or NoMove.
// Polyglot move format (bits):
// 0-5: to square
// 6-11: from square
// 12-14: promotion piece (0=none, 1=knight, 2=bishop, 3=rook, 4=queen)
func matchLegal(pos *board.Position, legal *board.MoveList, data uint16) board.Move {
	to := board.NewSquare(int(data&7), int((data>>3)&7))
	from := board.NewSquare(int((data>>6)&7), int((data>>9)&7))
	promo := (data >> 12) & 7
	if promo > 4 {
		return board.NoMove
	}

	// Polyglot castles as king-captures-rook.
	if pos.PieceAt(from).Type() == board.King {
		switch {
		case from == board.E1 && to == board.H1:
			to = board.G1
		case from == board.E1 && to == board.A1:
			to = board.C1
		case from == board.E8 && to == board.H8:
			to = board.G8
		case from == board.E8 && to == board.A8:
			to = board.C8
		}
	}

	promoTypes := [...]board.PieceType{board.NoPieceType, board.Knight, board.Bishop, board.Rook, board.Queen}
	for _, m := range legal.Slice() {
		if m.From() != from || m.To() != to {
			continue
		}
		if promo == 0 && !m.IsPromotion() || promo > 0 && m.IsPromotion() && m.Promotion() == promoTypes[promo] {
			return m
		}
	}
	return board.NoMove
}

// Size returns the number of unique positions in the book.
func (b *Book) Size() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Entries returns the number of records read from the book.
func (b *Book) Entries() int {
	if b == nil {
		return 0
	}
	return b.count
}
