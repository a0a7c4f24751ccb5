package vectordb

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// PointIDForFEN derives the point id for a position: SHA-256 of the
// FEN truncated to 16 bytes and rendered as a UUID string. The same
// FEN always maps to the same id, so re-embedding a position
// overwrites its point instead of duplicating it.
func PointIDForFEN(fen string) string {
	sum := sha256.Sum256([]byte(fen))
	id, _ := uuid.FromBytes(sum[:16])
	return id.String()
}
