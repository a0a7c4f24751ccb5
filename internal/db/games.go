package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const gameColumns = `id, white_name, black_name, result, event, site, round,
	played_on, eco_code, opening_slug, opening_name, white_rating, black_rating`

// SearchGames returns candidates matching the filter plus the total
// matching count for pagination. Ordering is deterministic:
// played_on desc (nulls last), id asc.
func (s *Store) SearchGames(ctx context.Context, f GameFilter, limit, offset int) ([]GameRow, int, error) {
	where, args := buildGameWhere(f)

	var total int
	countQuery := "SELECT count(*) FROM games" + where
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count games: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s, '' AS pgn FROM games%s ORDER BY played_on DESC NULLS LAST, id ASC LIMIT $%d OFFSET $%d",
		gameColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	var rows []GameRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("search games: %w", err)
	}
	return rows, total, nil
}

func buildGameWhere(f GameFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, vals ...interface{}) {
		for _, v := range vals {
			args = append(args, v)
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		conds = append(conds, cond)
	}

	if f.OpeningSlug != "" {
		add("opening_slug = ?", f.OpeningSlug)
	}
	if f.ECOLo != "" && f.ECOHi != "" {
		add("eco_code >= ?", f.ECOLo)
		add("eco_code <= ?", f.ECOHi)
	}
	if f.Result != "" {
		add("result = ?", f.Result)
	}
	if f.WhiteMinRating > 0 {
		add("white_rating >= ?", f.WhiteMinRating)
	}
	if f.BlackMinRating > 0 {
		add("black_rating >= ?", f.BlackMinRating)
	}
	if f.MaxRatingDelta > 0 {
		add("abs(white_rating - black_rating) <= ?", f.MaxRatingDelta)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FetchPGNs returns full game texts for the given ids.
func (s *Store) FetchPGNs(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, pgn FROM games WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch pgns: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var pgn string
		if err := rows.Scan(&id, &pgn); err != nil {
			return nil, err
		}
		out[id] = pgn
	}
	return out, rows.Err()
}

// InsertGameWithPositions stores a game, its positions and one pending
// embedding job per position in a single transaction. Returns the new
// game id.
func (s *Store) InsertGameWithPositions(ctx context.Context, g GameRow, positions []PositionRow) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	var gameID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO games (white_name, black_name, result, event, site, round,
			played_on, eco_code, opening_slug, opening_name, white_rating, black_rating, pgn)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		g.WhiteName, g.BlackName, g.Result, g.Event, g.Site, g.Round,
		g.PlayedOn, g.ECOCode, g.OpeningSlug, g.OpeningName, g.WhiteRating, g.BlackRating, g.PGN,
	).Scan(&gameID)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}

	for _, p := range positions {
		var positionID int64
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO positions (game_id, ply, san, fen, side_to_move, phase)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`,
			gameID, p.Ply, p.SAN, p.FEN, p.SideToMove, p.Phase,
		).Scan(&positionID)
		if err != nil {
			return 0, fmt.Errorf("insert position ply %d: %w", p.Ply, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_jobs (position_id, fen, status, enqueued_at)
			VALUES ($1,$2,'pending',now())`,
			positionID, p.FEN,
		); err != nil {
			return 0, fmt.Errorf("enqueue embedding job ply %d: %w", p.Ply, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest tx: %w", err)
	}
	return gameID, nil
}

// PositionMetaByFENs performs the single joined read used to build
// vector payloads for a claimed batch.
func (s *Store) PositionMetaByFENs(ctx context.Context, fens []string) (map[string]PositionMeta, error) {
	if len(fens) == 0 {
		return map[string]PositionMeta{}, nil
	}
	var rows []struct {
		FEN string `db:"fen"`
		PositionMeta
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.fen, p.id AS position_id, p.game_id, p.ply, p.phase,
			g.white_name, g.black_name, g.opening_slug, g.eco_code
		FROM positions p
		JOIN games g ON g.id = p.game_id
		WHERE p.fen = ANY($1)`,
		pq.Array(fens))
	if err != nil {
		return nil, fmt.Errorf("position meta: %w", err)
	}
	out := make(map[string]PositionMeta, len(rows))
	for _, r := range rows {
		if _, ok := out[r.FEN]; !ok {
			out[r.FEN] = r.PositionMeta
		}
	}
	return out, nil
}
