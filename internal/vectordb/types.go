package vectordb

import "time"

// Config holds vector store configuration.
type Config struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// Hit is one scored point returned by a position search, already
// normalised to the fields the executor merges on.
type Hit struct {
	GameID   int64
	Score    float64
	Phases   []string
	Themes   []string
	Keywords []string
}

// Point is one vector plus its payload, keyed by a content-hash id.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// SearchFilters narrows a position search. Zero value means no filter.
type SearchFilters struct {
	OpeningSlug string
	Phases      []string
	Themes      []string
}

// SnapshotInfo describes one stored collection snapshot.
type SnapshotInfo struct {
	Name         string `json:"name"`
	CreationTime string `json:"creation_time"`
	Size         int64  `json:"size"`
}
