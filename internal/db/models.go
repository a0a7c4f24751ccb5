package db

import (
	"database/sql"
	"time"
)

// Job states for the embedding queue.
const (
	JobPending    = "pending"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// GameRow is a game as stored in the relational store.
type GameRow struct {
	ID          int64          `db:"id"`
	WhiteName   string         `db:"white_name"`
	BlackName   string         `db:"black_name"`
	Result      sql.NullString `db:"result"`
	Event       sql.NullString `db:"event"`
	Site        sql.NullString `db:"site"`
	Round       sql.NullString `db:"round"`
	PlayedOn    sql.NullTime   `db:"played_on"`
	ECOCode     sql.NullString `db:"eco_code"`
	OpeningSlug sql.NullString `db:"opening_slug"`
	OpeningName sql.NullString `db:"opening_name"`
	WhiteRating sql.NullInt64  `db:"white_rating"`
	BlackRating sql.NullInt64  `db:"black_rating"`
	PGN         string         `db:"pgn"`
}

// PositionRow is one ply of a game.
type PositionRow struct {
	ID         int64          `db:"id"`
	GameID     int64          `db:"game_id"`
	Ply        int            `db:"ply"`
	SAN        string         `db:"san"`
	FEN        string         `db:"fen"`
	SideToMove string         `db:"side_to_move"`
	Phase      string         `db:"phase"`
	VectorID   sql.NullString `db:"vector_id"`
}

// EmbeddingJob is one row of the embedding queue.
type EmbeddingJob struct {
	ID          int64          `db:"id"`
	PositionID  int64          `db:"position_id"`
	FEN         string         `db:"fen"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	LastError   sql.NullString `db:"last_error"`
	EnqueuedAt  time.Time      `db:"enqueued_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

// PositionMeta is the joined payload written next to a vector point.
type PositionMeta struct {
	PositionID  int64          `db:"position_id"`
	GameID      int64          `db:"game_id"`
	Ply         int            `db:"ply"`
	White       string         `db:"white_name"`
	Black       string         `db:"black_name"`
	OpeningSlug sql.NullString `db:"opening_slug"`
	ECOCode     sql.NullString `db:"eco_code"`
	Phase       string         `db:"phase"`
}

// GameFilter is the relational half of a query plan.
type GameFilter struct {
	OpeningSlug    string
	ECOLo, ECOHi   string
	Result         string
	WhiteMinRating int
	BlackMinRating int
	MaxRatingDelta int // 0 = unbounded
}

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	Capacity  int
	InUse     int
	Available int
	Waiting   int64
	WaitRatio float64
}
