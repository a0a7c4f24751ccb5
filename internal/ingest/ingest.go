// Package ingest turns PGN streams into stored games, replayed
// positions and pending embedding jobs.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/metrics"
	"github.com/chessmate/chessmate/internal/openings"
	"github.com/chessmate/chessmate/internal/pgn"
)

// ErrQueuePressure is returned when the embedding queue is deeper than
// the configured bound and ingestion must back off.
var ErrQueuePressure = errors.New("embedding queue over capacity")

// Store is the slice of the relational store ingestion needs.
type Store interface {
	InsertGameWithPositions(ctx context.Context, g db.GameRow, positions []db.PositionRow) (int64, error)
	PendingJobCount(ctx context.Context) (int64, error)
}

// Config bounds an ingest run.
type Config struct {
	// MaxPendingEmbeddings rejects new games while the queue is deeper
	// than this. Zero disables the check.
	MaxPendingEmbeddings int64
}

// Skipped records one game that could not be ingested.
type Skipped struct {
	Index  int // position in the input stream, 1-based
	Reason string
}

// Summary is the outcome of one ingest run.
type Summary struct {
	GamesInserted     int
	PositionsInserted int
	Skipped           []Skipped
}

// Ingestor parses and stores PGN games.
type Ingestor struct {
	store     Store
	catalogue *openings.Catalogue
	cfg       Config
	logger    *zap.Logger
}

func New(store Store, catalogue *openings.Catalogue, cfg Config, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: store, catalogue: catalogue, cfg: cfg, logger: logger}
}

// IngestPGN reads every game in the stream and stores the ones that
// replay cleanly. Games with illegal or unparseable moves are skipped
// and reported; storage failures abort the run.
func (in *Ingestor) IngestPGN(ctx context.Context, r io.Reader) (Summary, error) {
	var summary Summary

	if in.cfg.MaxPendingEmbeddings > 0 {
		depth, err := in.store.PendingJobCount(ctx)
		if err != nil {
			return summary, fmt.Errorf("queue depth check: %w", err)
		}
		if depth > in.cfg.MaxPendingEmbeddings {
			return summary, fmt.Errorf("%w: %d pending jobs", ErrQueuePressure, depth)
		}
	}

	games, err := pgn.Parse(r)
	if err != nil {
		return summary, err
	}

	for i, g := range games {
		positions, err := pgn.Replay(g)
		if err != nil {
			summary.Skipped = append(summary.Skipped, Skipped{Index: i + 1, Reason: err.Error()})
			in.logger.Warn("Game skipped",
				zap.Int("index", i+1),
				zap.String("reason", err.Error()),
			)
			continue
		}
		if len(positions) == 0 {
			summary.Skipped = append(summary.Skipped, Skipped{Index: i + 1, Reason: "empty movetext"})
			continue
		}

		row := in.gameRow(g)
		rows := make([]db.PositionRow, len(positions))
		for j, p := range positions {
			rows[j] = db.PositionRow{
				Ply:        p.Ply,
				SAN:        p.SAN,
				FEN:        p.FEN,
				SideToMove: p.SideToMove,
				Phase:      p.Phase,
			}
		}

		gameID, err := in.store.InsertGameWithPositions(ctx, row, rows)
		if err != nil {
			return summary, fmt.Errorf("store game %d: %w", i+1, err)
		}
		summary.GamesInserted++
		summary.PositionsInserted += len(rows)
		metrics.IngestGames.Inc()
		metrics.IngestPositions.Add(float64(len(rows)))
		in.logger.Info("Game ingested",
			zap.Int64("game_id", gameID),
			zap.String("white", row.WhiteName),
			zap.String("black", row.BlackName),
			zap.Int("positions", len(rows)),
		)
	}
	return summary, nil
}

// gameRow maps PGN tags onto a game row. The opening is resolved from
// the Opening tag first, then the ECO tag.
func (in *Ingestor) gameRow(g pgn.Game) db.GameRow {
	row := db.GameRow{
		WhiteName:   tagOr(g, "White", "Unknown"),
		BlackName:   tagOr(g, "Black", "Unknown"),
		Result:      nullString(g.Result == "*", g.Result),
		Event:       nullTag(g, "Event"),
		Site:        nullTag(g, "Site"),
		Round:       nullTag(g, "Round"),
		PlayedOn:    parseDate(g.Tag("Date")),
		WhiteRating: parseRating(g.Tag("WhiteElo")),
		BlackRating: parseRating(g.Tag("BlackElo")),
	}

	if eco := g.Tag("ECO"); eco != "" {
		row.ECOCode = sql.NullString{String: eco, Valid: true}
	}

	var opening openings.Opening
	found := false
	if name := g.Tag("Opening"); name != "" {
		if matches := in.catalogue.Match(name); len(matches) > 0 {
			opening, found = matches[0], true
		}
	}
	if !found && row.ECOCode.Valid {
		opening, found = in.catalogue.ByECO(row.ECOCode.String)
	}
	if found {
		row.OpeningSlug = sql.NullString{String: opening.Slug, Valid: true}
		row.OpeningName = sql.NullString{String: opening.Name, Valid: true}
	}
	return row
}

func tagOr(g pgn.Game, name, fallback string) string {
	if v := g.Tag(name); v != "" {
		return v
	}
	return fallback
}

func nullTag(g pgn.Game, name string) sql.NullString {
	v := g.Tag(name)
	return sql.NullString{String: v, Valid: v != ""}
}

func nullString(invalid bool, v string) sql.NullString {
	return sql.NullString{String: v, Valid: !invalid}
}

// parseDate accepts the PGN "YYYY.MM.DD" form; unknown components
// ("????.??.??") make the whole date null.
func parseDate(s string) sql.NullTime {
	t, err := time.Parse("2006.01.02", s)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func parseRating(s string) sql.NullInt64 {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
