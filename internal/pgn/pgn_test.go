package pgn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playMoves(t *testing.T, moves ...string) *Board {
	t.Helper()
	b := NewBoard()
	for _, m := range moves {
		require.NoError(t, b.ApplySAN(m), "move %s", m)
	}
	return b
}

func TestStartingPositionFEN(t *testing.T) {
	b := NewBoard()
	assert.Equal(t,
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		b.FEN())
}

func TestSingleMoveFEN(t *testing.T) {
	b := playMoves(t, "e4")
	assert.Equal(t,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		b.FEN())
}

func TestCastlingShort(t *testing.T) {
	b := playMoves(t, "e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5", "O-O")
	assert.Equal(t,
		"r1bqk1nr/pppp1ppp/2n5/2b1p3/2B1P3/5N2/PPPP1PPP/RNBQ1RK1 b kq - 5 4",
		b.FEN())
}

func TestEnPassantCapture(t *testing.T) {
	b := playMoves(t, "e4", "Nf6", "e5", "d5", "exd6")
	assert.Equal(t,
		"rnbqkb1r/ppp1pppp/3P1n2/8/8/8/PPPP1PPP/RNBQKBNR b KQkq - 0 3",
		b.FEN())
}

func TestPromotionWithDisambiguation(t *testing.T) {
	// 4...Nbd7 requires the file hint: both knights reach d7.
	b := playMoves(t, "e4", "d5", "exd5", "c6", "dxc6", "Nf6", "cxb7", "Nbd7", "bxa8=Q")
	assert.Equal(t,
		"Q1bqkb1r/p2npppp/5n2/8/8/8/PPPP1PPP/RNBQKBNR b KQk - 0 5",
		b.FEN())
}

func TestAmbiguousMoveRejected(t *testing.T) {
	b := playMoves(t, "e4", "d5", "exd5", "c6", "dxc6", "Nf6", "cxb7")
	err := b.ApplySAN("Nd7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestIllegalMoveRejected(t *testing.T) {
	b := NewBoard()
	err := b.ApplySAN("Ke2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no piece can make this move")
}

func TestPinnedPieceCannotMove(t *testing.T) {
	// After 2.Qh5 the f7 pawn is pinned on the h5-e8 diagonal.
	b := playMoves(t, "e4", "e5", "Qh5")
	err := b.ApplySAN("f6")
	require.Error(t, err, "f7 pawn is pinned to the king")

	// Blocking with the g-pawn stays legal.
	require.NoError(t, b.ApplySAN("g6"))
}

func TestParseSingleGame(t *testing.T) {
	src := `[Event "World Championship"]
[White "Kasparov, Garry"]
[Black "Karpov, Anatoly"]
[Result "1-0"]
[ECO "E97"]

1. e4 {best by test} e5 2. Nf3 $1 Nc6 3. Bc4 (3. Bb5 a6) Bc5
4. O-O 1-0
`
	games, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, games, 1)

	g := games[0]
	assert.Equal(t, "Kasparov, Garry", g.Tag("White"))
	assert.Equal(t, "E97", g.Tag("ECO"))
	assert.Equal(t, "1-0", g.Result)
	assert.Equal(t, []string{"e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5", "O-O"}, g.Moves)
}

func TestParseMultipleGames(t *testing.T) {
	src := `[Event "A"]
[Result "1/2-1/2"]

1. d4 d5 1/2-1/2

[Event "B"]
[Result "0-1"]

1. f3 e5 2. g4 Qh4# 0-1
`
	games, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "1/2-1/2", games[0].Result)
	assert.Equal(t, []string{"d4", "d5"}, games[0].Moves)
	assert.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, games[1].Moves)
}

func TestParseUnknownTagPlaceholder(t *testing.T) {
	src := `[Event "?"]
[Site "-"]

1. e4 *
`
	games, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Empty(t, games[0].Tag("Event"))
	assert.Empty(t, games[0].Tag("Site"))
	assert.Equal(t, "*", games[0].Result)
}

func TestReplayPositions(t *testing.T) {
	g := Game{Moves: []string{"e4", "e5", "Nf3"}}
	positions, err := Replay(g)
	require.NoError(t, err)
	require.Len(t, positions, 3)

	assert.Equal(t, 1, positions[0].Ply)
	assert.Equal(t, "e4", positions[0].SAN)
	assert.Equal(t, "b", positions[0].SideToMove)
	assert.Equal(t, "opening", positions[0].Phase)
	assert.Equal(t,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		positions[0].FEN)
	assert.Equal(t, "w", positions[1].SideToMove)
}

func TestReplayIllegalMoveReportsPly(t *testing.T) {
	g := Game{Moves: []string{"e4", "e5", "Ke7"}}
	_, err := Replay(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ply 3")
}

func TestPhaseBoundaries(t *testing.T) {
	assert.Equal(t, "opening", phase(1, 14))
	assert.Equal(t, "opening", phase(16, 14))
	assert.Equal(t, "middlegame", phase(17, 14))
	assert.Equal(t, "endgame", phase(40, 6))
	assert.Equal(t, "endgame", phase(40, 0))
	assert.Equal(t, "middlegame", phase(40, 7))
}
