package pgn

import (
	"fmt"
	"regexp"
	"strings"
)

var sanRe = regexp.MustCompile(`^([KQRBN])?([a-h])?([1-8])?(x)?([a-h][1-8])(=([QRBN]))?$`)

// ApplySAN plays one move in standard algebraic notation. The move
// must be legal in the current position.
func (b *Board) ApplySAN(san string) error {
	move := strings.TrimRight(san, "+#!?")
	if move == "O-O" || move == "0-0" {
		return b.castle(true)
	}
	if move == "O-O-O" || move == "0-0-0" {
		return b.castle(false)
	}

	m := sanRe.FindStringSubmatch(move)
	if m == nil {
		return fmt.Errorf("unparseable move %q", san)
	}
	piece := byte('P')
	if m[1] != "" {
		piece = m[1][0]
	}
	if !b.whiteMove {
		piece += 32
	}
	to := parseSquare(m[5])
	capture := m[4] == "x"
	promotion := byte(0)
	if m[7] != "" {
		promotion = m[7][0]
		if !b.whiteMove {
			promotion += 32
		}
	}

	from, err := b.findOrigin(piece, to, capture, m[2], m[3])
	if err != nil {
		return fmt.Errorf("%s: %w", san, err)
	}
	b.makeMove(from, to, promotion)
	return nil
}

// findOrigin resolves the origin square: every friendly piece of the
// right type that can reach the target, narrowed by the SAN
// disambiguation hints, minus moves that leave the king in check.
func (b *Board) findOrigin(piece byte, to int, capture bool, fileHint, rankHint string) (int, error) {
	var candidates []int
	for from, p := range b.squares {
		if p != piece {
			continue
		}
		if fileHint != "" && from%8 != int(fileHint[0]-'a') {
			continue
		}
		if rankHint != "" && from/8 != int(rankHint[0]-'1') {
			continue
		}
		if !b.canMove(from, to, piece, capture) {
			continue
		}
		if b.leavesKingInCheck(from, to) {
			continue
		}
		candidates = append(candidates, from)
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return -1, fmt.Errorf("no piece can make this move")
	default:
		return -1, fmt.Errorf("ambiguous move")
	}
}

func (b *Board) canMove(from, to int, piece byte, capture bool) bool {
	target := b.squares[to]
	if target != 0 && isWhitePiece(target) == b.whiteMove {
		return false // own piece on target
	}

	if piece == 'P' || piece == 'p' {
		dir := 1
		if piece == 'p' {
			dir = -1
		}
		ff, fr := from%8, from/8
		tf, tr := to%8, to/8
		if capture {
			// Plain capture or en passant onto the ep square.
			if !(abs(tf-ff) == 1 && tr-fr == dir) {
				return false
			}
			return target != 0 || to == b.epSquare
		}
		if ff != tf || target != 0 {
			return false
		}
		if tr-fr == dir {
			return true
		}
		startRank := 1
		if piece == 'p' {
			startRank = 6
		}
		return fr == startRank && tr-fr == 2*dir && b.squares[square(ff, fr+dir)] == 0
	}

	return b.reaches(from, to, piece)
}

// leavesKingInCheck plays the move on a copy and tests the mover's
// king.
func (b *Board) leavesKingInCheck(from, to int) bool {
	copied := *b
	copied.makeMoveRaw(from, to, 0)
	return copied.inCheck(b.whiteMove)
}

// makeMoveRaw moves a piece without bookkeeping beyond the en passant
// removal; used for legality probes.
func (b *Board) makeMoveRaw(from, to int, promotion byte) {
	piece := b.squares[from]
	if (piece == 'P' || piece == 'p') && to == b.epSquare && b.squares[to] == 0 {
		// Captured pawn sits behind the ep square.
		if piece == 'P' {
			b.squares[to-8] = 0
		} else {
			b.squares[to+8] = 0
		}
	}
	b.squares[to] = piece
	if promotion != 0 {
		b.squares[to] = promotion
	}
	b.squares[from] = 0
}

func (b *Board) makeMove(from, to int, promotion byte) {
	piece := b.squares[from]
	captured := b.squares[to]
	isPawn := piece == 'P' || piece == 'p'
	epCapture := isPawn && to == b.epSquare && captured == 0

	b.makeMoveRaw(from, to, promotion)
	b.updateCastlingRights(from, to)

	b.epSquare = -1
	if isPawn && abs(to/8-from/8) == 2 {
		b.epSquare = (from + to) / 2
	}

	if isPawn || captured != 0 || epCapture {
		b.halfmove = 0
	} else {
		b.halfmove++
	}
	if !b.whiteMove {
		b.fullmove++
	}
	b.whiteMove = !b.whiteMove
}

func (b *Board) castle(short bool) error {
	rank := 0
	if !b.whiteMove {
		rank = 7
	}
	kingFrom := square(4, rank)
	var kingTo, rookFrom, rookTo int
	if short {
		kingTo, rookFrom, rookTo = square(6, rank), square(7, rank), square(5, rank)
	} else {
		kingTo, rookFrom, rookTo = square(2, rank), square(0, rank), square(3, rank)
	}

	if !b.clearPath(kingFrom, rookFrom) {
		return fmt.Errorf("castling path blocked")
	}
	// The king may not castle out of, through, or into check.
	step := sign(kingTo - kingFrom)
	for sq := kingFrom; ; sq += step {
		if b.attacked(sq, !b.whiteMove) {
			return fmt.Errorf("castling through check")
		}
		if sq == kingTo {
			break
		}
	}

	b.squares[kingTo] = b.squares[kingFrom]
	b.squares[kingFrom] = 0
	b.squares[rookTo] = b.squares[rookFrom]
	b.squares[rookFrom] = 0
	b.updateCastlingRights(kingFrom, rookFrom)

	b.epSquare = -1
	b.halfmove++
	if !b.whiteMove {
		b.fullmove++
	}
	b.whiteMove = !b.whiteMove
	return nil
}

func (b *Board) updateCastlingRights(from, to int) {
	drop := func(r string) {
		b.castling = strings.ReplaceAll(b.castling, r, "")
	}
	for _, sq := range []int{from, to} {
		switch sq {
		case square(4, 0):
			drop("K")
			drop("Q")
		case square(4, 7):
			drop("k")
			drop("q")
		case square(7, 0):
			drop("K")
		case square(0, 0):
			drop("Q")
		case square(7, 7):
			drop("k")
		case square(0, 7):
			drop("q")
		}
	}
}
