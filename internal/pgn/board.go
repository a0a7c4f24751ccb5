package pgn

import (
	"fmt"
	"strings"
)

// Board is a mailbox position: index 0 is a1, 63 is h8. White pieces
// are uppercase.
type Board struct {
	squares   [64]byte
	whiteMove bool
	castling  string // subset of "KQkq", "-" handled at render time
	epSquare  int    // -1 when none
	halfmove  int
	fullmove  int
}

// NewBoard returns the standard starting position.
func NewBoard() *Board {
	b := &Board{whiteMove: true, castling: "KQkq", epSquare: -1, fullmove: 1}
	back := "RNBQKBNR"
	for f := 0; f < 8; f++ {
		b.squares[f] = back[f]
		b.squares[8+f] = 'P'
		b.squares[48+f] = 'p'
		b.squares[56+f] = back[f] + 32
	}
	return b
}

func square(file, rank int) int { return rank*8 + file }

func parseSquare(s string) int {
	return square(int(s[0]-'a'), int(s[1]-'1'))
}

func isWhitePiece(p byte) bool { return p >= 'A' && p <= 'Z' }

func onBoard(file, rank int) bool {
	return file >= 0 && file < 8 && rank >= 0 && rank < 8
}

// SideToMove returns "w" or "b".
func (b *Board) SideToMove() string {
	if b.whiteMove {
		return "w"
	}
	return "b"
}

// FEN renders the position.
func (b *Board) FEN() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			p := b.squares[square(file, rank)]
			if p == 0 {
				empty++
				continue
			}
			if empty > 0 {
				fmt.Fprintf(&sb, "%d", empty)
				empty = 0
			}
			sb.WriteByte(p)
		}
		if empty > 0 {
			fmt.Fprintf(&sb, "%d", empty)
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}

	castling := b.castling
	if castling == "" {
		castling = "-"
	}
	ep := "-"
	if b.epSquare >= 0 {
		ep = fmt.Sprintf("%c%c", 'a'+b.epSquare%8, '1'+b.epSquare/8)
	}
	return fmt.Sprintf("%s %s %s %s %d %d",
		sb.String(), b.SideToMove(), castling, ep, b.halfmove, b.fullmove)
}

// pieceCount returns the number of non-pawn, non-king pieces left.
func (b *Board) pieceCount() int {
	n := 0
	for _, p := range b.squares {
		switch p {
		case 'N', 'B', 'R', 'Q', 'n', 'b', 'r', 'q':
			n++
		}
	}
	return n
}

func (b *Board) kingSquare(white bool) int {
	target := byte('K')
	if !white {
		target = 'k'
	}
	for i, p := range b.squares {
		if p == target {
			return i
		}
	}
	return -1
}

var knightOffsets = [][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}
var kingOffsets = [][2]int{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}
var rookDirs = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var bishopDirs = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// attacked reports whether sq is attacked by the given side.
func (b *Board) attacked(sq int, byWhite bool) bool {
	file, rank := sq%8, sq/8

	pick := func(p byte) byte {
		if byWhite {
			return p
		}
		return p + 32
	}

	pawnDir := 1
	if !byWhite {
		pawnDir = -1
	}
	for _, df := range []int{-1, 1} {
		f, r := file+df, rank-pawnDir
		if onBoard(f, r) && b.squares[square(f, r)] == pick('P') {
			return true
		}
	}
	for _, o := range knightOffsets {
		f, r := file+o[0], rank+o[1]
		if onBoard(f, r) && b.squares[square(f, r)] == pick('N') {
			return true
		}
	}
	for _, o := range kingOffsets {
		f, r := file+o[0], rank+o[1]
		if onBoard(f, r) && b.squares[square(f, r)] == pick('K') {
			return true
		}
	}
	slider := func(dirs [][2]int, pieces ...byte) bool {
		for _, d := range dirs {
			f, r := file+d[0], rank+d[1]
			for onBoard(f, r) {
				p := b.squares[square(f, r)]
				if p != 0 {
					for _, want := range pieces {
						if p == pick(want) {
							return true
						}
					}
					break
				}
				f += d[0]
				r += d[1]
			}
		}
		return false
	}
	if slider(rookDirs, 'R', 'Q') {
		return true
	}
	return slider(bishopDirs, 'B', 'Q')
}

// inCheck reports whether the given side's king is attacked.
func (b *Board) inCheck(white bool) bool {
	k := b.kingSquare(white)
	return k >= 0 && b.attacked(k, !white)
}

// reaches reports whether the piece on from can move to to by its
// geometry, with a clear path for sliders. Pawn forward moves are
// handled separately; this covers captures and piece moves.
func (b *Board) reaches(from, to int, piece byte) bool {
	ff, fr := from%8, from/8
	tf, tr := to%8, to/8
	df, dr := tf-ff, tr-fr

	switch piece {
	case 'N', 'n':
		return (abs(df) == 1 && abs(dr) == 2) || (abs(df) == 2 && abs(dr) == 1)
	case 'K', 'k':
		return abs(df) <= 1 && abs(dr) <= 1 && (df != 0 || dr != 0)
	case 'P', 'p':
		dir := 1
		if piece == 'p' {
			dir = -1
		}
		return abs(df) == 1 && dr == dir
	case 'R', 'r':
		if df != 0 && dr != 0 {
			return false
		}
		return b.clearPath(from, to)
	case 'B', 'b':
		if abs(df) != abs(dr) {
			return false
		}
		return b.clearPath(from, to)
	case 'Q', 'q':
		if df != 0 && dr != 0 && abs(df) != abs(dr) {
			return false
		}
		return b.clearPath(from, to)
	}
	return false
}

func (b *Board) clearPath(from, to int) bool {
	ff, fr := from%8, from/8
	tf, tr := to%8, to/8
	df, dr := sign(tf-ff), sign(tr-fr)
	f, r := ff+df, fr+dr
	for f != tf || r != tr {
		if b.squares[square(f, r)] != 0 {
			return false
		}
		f += df
		r += dr
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
