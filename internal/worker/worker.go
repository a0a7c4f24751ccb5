// Package worker drains the embedding job queue: claim, embed, upsert,
// transition. It degrades per chunk, so one bad batch never wedges the
// queue.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/embeddings"
	"github.com/chessmate/chessmate/internal/metrics"
	"github.com/chessmate/chessmate/internal/retry"
	"github.com/chessmate/chessmate/internal/sanitize"
	"github.com/chessmate/chessmate/internal/tempfiles"
	"github.com/chessmate/chessmate/internal/vectordb"
)

// Store is the slice of the relational store the worker needs.
type Store interface {
	ClaimPendingJobs(ctx context.Context, k int) ([]db.EmbeddingJob, error)
	CompleteJob(ctx context.Context, jobID, positionID int64, vectorID string) error
	FailJob(ctx context.Context, jobID int64, lastError string) error
	PositionMetaByFENs(ctx context.Context, fens []string) (map[string]db.PositionMeta, error)
	PendingJobCount(ctx context.Context) (int64, error)
	ReactivateStalledJobs(ctx context.Context, grace time.Duration) (int64, error)
}

// Embedder turns FENs into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore receives the embedded points.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dim int) error
	UpsertPoints(ctx context.Context, points []vectordb.Point) error
}

// Config holds worker settings.
type Config struct {
	BatchSize       int
	PollInterval    time.Duration
	OrphanGrace     time.Duration
	ReclaimInterval time.Duration
	ChunkSize       int
	MaxChars        int
	MetricsPath     string
}

// Worker is one claim-embed-upsert loop.
type Worker struct {
	store  Store
	embed  Embedder
	vector VectorStore
	cfg    Config
	logger *zap.Logger

	window      *rateWindow
	textfile    *textfileExporter
	ensuredDim  bool
	retryPolicy retry.Policy

	processedTotal int64
	failedTotal    int64
}

// New builds a worker with spec defaults filled in.
func New(store Store, embed Embedder, vector VectorStore, cfg Config, logger *zap.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 15 * time.Minute
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 10 * time.Minute
	}
	w := &Worker{
		store:       store,
		embed:       embed,
		vector:      vector,
		cfg:         cfg,
		logger:      logger,
		window:      newRateWindow(time.Minute),
		retryPolicy: retry.DefaultPolicy(),
	}
	if cfg.MetricsPath != "" {
		w.textfile = newTextfileExporter(cfg.MetricsPath, tempfiles.NewGuard(logger), logger)
	}
	return w
}

// Run drives the loop until the context is cancelled. Stalled
// in_progress jobs are reclaimed at startup and on a slow ticker, so
// a crashed sibling's work is not lost.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.store.ReactivateStalledJobs(ctx, w.cfg.OrphanGrace); err != nil {
		w.logger.Warn("Stalled job reclamation failed", zap.Error(err))
	}

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	reclaim := time.NewTicker(w.cfg.ReclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			if _, err := w.store.ReactivateStalledJobs(ctx, w.cfg.OrphanGrace); err != nil {
				w.logger.Warn("Stalled job reclamation failed", zap.Error(err))
			}
		case <-poll.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Batch processing failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and processes a single batch. It returns nil when the
// queue is empty.
func (w *Worker) RunOnce(ctx context.Context) error {
	jobs, err := w.store.ClaimPendingJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		w.publishQueueDepth(ctx)
		return nil
	}

	fens := make([]string, len(jobs))
	for i, j := range jobs {
		fens[i] = j.FEN
	}
	// One joined read serves every chunk in the batch.
	meta, err := w.store.PositionMetaByFENs(ctx, fens)
	if err != nil {
		w.failJobs(ctx, jobs, "position metadata read failed: "+sanitize.Error(err))
		return nil
	}

	jobByFEN := make(map[string][]db.EmbeddingJob, len(jobs))
	for _, j := range jobs {
		jobByFEN[j.FEN] = append(jobByFEN[j.FEN], j)
	}

	for _, chunk := range embeddings.ChunkTexts(fens, w.cfg.ChunkSize, w.cfg.MaxChars) {
		w.processChunk(ctx, chunk, jobByFEN, meta)
	}
	w.publishQueueDepth(ctx)
	w.window.publish(time.Now())
	w.exportTextfile(time.Now())
	return nil
}

func (w *Worker) processChunk(ctx context.Context, chunk []string, jobByFEN map[string][]db.EmbeddingJob, meta map[string]db.PositionMeta) {
	var vectors [][]float32
	err := retry.Do(ctx, w.retryPolicy, embeddings.IsRetryable, func() error {
		var embErr error
		vectors, embErr = w.embed.EmbedBatch(ctx, chunk)
		return embErr
	})
	if err != nil {
		w.failChunk(ctx, chunk, jobByFEN, "embedding failed: "+sanitize.Error(err))
		return
	}
	if len(vectors) != len(chunk) {
		w.failChunk(ctx, chunk, jobByFEN, "embedding returned wrong vector count")
		return
	}

	if !w.ensuredDim && len(vectors) > 0 {
		if err := w.vector.EnsureCollection(ctx, len(vectors[0])); err != nil {
			w.failChunk(ctx, chunk, jobByFEN, "vector collection unavailable: "+sanitize.Error(err))
			return
		}
		w.ensuredDim = true
	}

	points := make([]vectordb.Point, 0, len(chunk))
	for i, fen := range chunk {
		points = append(points, vectordb.Point{
			ID:      vectordb.PointIDForFEN(fen),
			Vector:  vectors[i],
			Payload: pointPayload(fen, meta[fen]),
		})
	}

	// The upsert gets its own retry budget, independent of the
	// embedding call's.
	err = retry.Do(ctx, w.retryPolicy, func(error) bool { return true }, func() error {
		return w.vector.UpsertPoints(ctx, points)
	})
	if err != nil {
		w.failChunk(ctx, chunk, jobByFEN, "vector upsert failed: "+sanitize.Error(err))
		return
	}

	chars := 0
	completed := 0
	for _, fen := range chunk {
		id := vectordb.PointIDForFEN(fen)
		for _, job := range jobByFEN[fen] {
			if err := w.store.CompleteJob(ctx, job.ID, job.PositionID, id); err != nil {
				w.logger.Error("Job completion write failed",
					zap.Int64("job_id", job.ID),
					zap.Error(err),
				)
				metrics.WorkerFailed.Inc()
				atomic.AddInt64(&w.failedTotal, 1)
				continue
			}
			completed++
			chars += len(fen)
			metrics.WorkerProcessed.Inc()
			atomic.AddInt64(&w.processedTotal, 1)
		}
	}
	w.window.note(time.Now(), completed, chars)
}

func pointPayload(fen string, m db.PositionMeta) map[string]interface{} {
	payload := map[string]interface{}{
		"fen":     fen,
		"game_id": m.GameID,
		"ply":     m.Ply,
		"white":   m.White,
		"black":   m.Black,
		"phases":  []string{},
		"themes":  []string{},
	}
	if m.Phase != "" {
		payload["phases"] = []string{m.Phase}
	}
	if m.OpeningSlug.Valid {
		payload["opening_slug"] = m.OpeningSlug.String
	}
	if m.ECOCode.Valid {
		payload["eco_code"] = m.ECOCode.String
	}
	return payload
}

func (w *Worker) failChunk(ctx context.Context, chunk []string, jobByFEN map[string][]db.EmbeddingJob, msg string) {
	var jobs []db.EmbeddingJob
	for _, fen := range chunk {
		jobs = append(jobs, jobByFEN[fen]...)
	}
	w.failJobs(ctx, jobs, msg)
}

func (w *Worker) failJobs(ctx context.Context, jobs []db.EmbeddingJob, msg string) {
	for _, job := range jobs {
		if err := w.store.FailJob(ctx, job.ID, msg); err != nil {
			w.logger.Error("Job failure write failed",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
		}
		metrics.WorkerFailed.Inc()
		atomic.AddInt64(&w.failedTotal, 1)
	}
	w.logger.Warn("Embedding jobs failed",
		zap.Int("count", len(jobs)),
		zap.String("reason", msg),
	)
}

func (w *Worker) publishQueueDepth(ctx context.Context) {
	n, err := w.store.PendingJobCount(ctx)
	if err != nil {
		return
	}
	metrics.WorkerQueueDepth.Set(float64(n))
}
