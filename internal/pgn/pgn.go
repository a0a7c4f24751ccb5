// Package pgn reads PGN game records and replays them into per-ply
// positions. It understands the import format: tag pairs, comments,
// variations and numeric annotation glyphs.
package pgn

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Game is one parsed PGN record.
type Game struct {
	Tags   map[string]string
	Moves  []string
	Result string
}

// Tag returns a tag value, empty when absent or the PGN placeholder.
func (g Game) Tag(name string) string {
	v := g.Tags[name]
	if v == "?" || v == "-" {
		return ""
	}
	return v
}

var tagRe = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]\s*$`)

var resultTokens = map[string]bool{
	"1-0": true, "0-1": true, "1/2-1/2": true, "*": true,
}

// Parse reads every game in the stream.
func Parse(r io.Reader) ([]Game, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var games []Game
	current := Game{Tags: map[string]string{}}
	var movetext strings.Builder
	inMovetext := false

	flush := func() {
		if !inMovetext {
			return
		}
		current.Moves, current.Result = tokeniseMovetext(movetext.String())
		games = append(games, current)
		current = Game{Tags: map[string]string{}}
		movetext.Reset()
		inMovetext = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "["):
			flush()
			if m := tagRe.FindStringSubmatch(line); m != nil {
				current.Tags[m[1]] = m[2]
			}
		case strings.HasPrefix(line, "%"):
			continue // escape mechanism lines
		default:
			inMovetext = true
			movetext.WriteString(line)
			movetext.WriteByte(' ')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pgn: %w", err)
	}
	flush()
	return games, nil
}

// tokeniseMovetext strips comments, variations and NAGs, returning
// the SAN moves and the trailing result.
func tokeniseMovetext(text string) ([]string, string) {
	var moves []string
	result := "*"

	for _, tok := range strings.Fields(stripBraces(text)) {
		switch {
		case tok == "":
		case resultTokens[tok]:
			result = tok
		case strings.HasPrefix(tok, "$"):
		case strings.HasSuffix(tok, "."):
			// move number like "12." or "12..."
		default:
			// "12.e4" glues the number to the move
			if i := strings.LastIndex(tok, "."); i >= 0 {
				tok = tok[i+1:]
				if tok == "" {
					continue
				}
			}
			moves = append(moves, tok)
		}
	}
	return moves, result
}

// stripBraces removes {...} comments and (...) variations, including
// nested variations.
func stripBraces(text string) string {
	var out strings.Builder
	comment := false
	depth := 0
	for _, r := range text {
		switch {
		case comment:
			if r == '}' {
				comment = false
			}
		case r == '{':
			comment = true
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// Position is one ply of a replayed game.
type Position struct {
	Ply        int
	SAN        string
	FEN        string
	SideToMove string
	Phase      string
}

// Phase boundaries: the first plies are the opening; the endgame
// starts when few pieces remain.
const (
	openingPlyLimit    = 16
	endgamePieceBudget = 6
)

// Replay applies the game's moves and returns the position after each
// ply. An illegal or unparseable move aborts with the ply number.
func Replay(g Game) ([]Position, error) {
	board := NewBoard()
	positions := make([]Position, 0, len(g.Moves))
	for i, san := range g.Moves {
		if err := board.ApplySAN(san); err != nil {
			return nil, fmt.Errorf("ply %d: %w", i+1, err)
		}
		positions = append(positions, Position{
			Ply:        i + 1,
			SAN:        san,
			FEN:        board.FEN(),
			SideToMove: board.SideToMove(),
			Phase:      phase(i+1, board.pieceCount()),
		})
	}
	return positions, nil
}

func phase(ply, pieces int) string {
	switch {
	case ply <= openingPlyLimit:
		return "opening"
	case pieces <= endgamePieceBudget:
		return "endgame"
	default:
		return "middlegame"
	}
}
