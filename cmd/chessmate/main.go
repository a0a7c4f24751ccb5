// Command chessmate is the operator CLI: PGN ingestion, queries against
// a running API, collection snapshots and health checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/collection"
	"github.com/chessmate/chessmate/internal/config"
	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/ingest"
	"github.com/chessmate/chessmate/internal/openings"
	"github.com/chessmate/chessmate/internal/vectordb"
)

const (
	exitOK            = 0
	exitFailure       = 1
	exitQueuePressure = 2
	exitRateLimited   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return exitFailure
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		return exitFailure
	}

	switch args[0] {
	case "ingest":
		return runIngest(cfg, logger, args[1:])
	case "query":
		return runQuery(cfg, args[1:])
	case "collection":
		return runCollection(cfg, logger, args[1:])
	case "health":
		return runHealth(cfg)
	default:
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  chessmate ingest <file.pgn>
  chessmate query [--json] [--limit N] [--offset N] <question>
  chessmate collection snapshot [--note TEXT]
  chessmate collection restore <name-or-location>
  chessmate collection list
  chessmate health`)
}

func runIngest(cfg *config.Config, logger *zap.Logger, args []string) int {
	if len(args) != 1 {
		usage()
		return exitFailure
	}

	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "open pgn:", err)
		return exitFailure
	}
	defer f.Close()

	store, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	defer store.Close()

	in := ingest.New(store, openings.MustLoad(), ingest.Config{
		MaxPendingEmbeddings: cfg.MaxPendingEmbeddings,
	}, logger)

	summary, err := in.IngestPGN(context.Background(), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ingest failed:", err)
		if errors.Is(err, ingest.ErrQueuePressure) {
			return exitQueuePressure
		}
		return exitFailure
	}

	fmt.Printf("ingested %d games, %d positions\n",
		summary.GamesInserted, summary.PositionsInserted)
	for _, s := range summary.Skipped {
		fmt.Printf("skipped game %d: %s\n", s.Index, s.Reason)
	}
	return exitOK
}

func runQuery(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the raw API response")
	limit := fs.Int("limit", 0, "maximum results")
	offset := fs.Int("offset", 0, "pagination offset")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		usage()
		return exitFailure
	}

	body, _ := json.Marshal(map[string]interface{}{
		"question": question,
		"limit":    *limit,
		"offset":   *offset,
	})
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(
		strings.TrimRight(cfg.APIBaseURL, "/")+"/query",
		"application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "query request failed:", err)
		return exitFailure
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read response:", err)
		return exitFailure
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		fmt.Fprintf(os.Stderr, "rate limited, retry after %ss\n",
			resp.Header.Get("Retry-After"))
		return exitRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "query failed (%d): %s\n", resp.StatusCode, payload)
		return exitFailure
	}

	if *asJSON {
		fmt.Println(string(payload))
		return exitOK
	}
	return printQueryResponse(payload)
}

func printQueryResponse(payload []byte) int {
	var out struct {
		Results []struct {
			GameID  int64   `json:"game_id"`
			White   string  `json:"white"`
			Black   string  `json:"black"`
			Result  string  `json:"result"`
			Opening string  `json:"opening"`
			Score   float64 `json:"score"`
		} `json:"results"`
		Pagination struct {
			Offset int `json:"offset"`
			Total  int `json:"total"`
		} `json:"pagination"`
		Warnings []string `json:"warnings"`
		Agent    struct {
			Status string `json:"status"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		fmt.Fprintln(os.Stderr, "decode response:", err)
		return exitFailure
	}

	for i, r := range out.Results {
		line := fmt.Sprintf("%2d. [%.3f] %s vs %s", out.Pagination.Offset+i+1,
			r.Score, r.White, r.Black)
		if r.Result != "" {
			line += "  " + r.Result
		}
		if r.Opening != "" {
			line += "  (" + r.Opening + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("%d of %d results, agent %s\n",
		len(out.Results), out.Pagination.Total, out.Agent.Status)
	for _, w := range out.Warnings {
		fmt.Println("warning:", w)
	}
	return exitOK
}

func runCollection(cfg *config.Config, logger *zap.Logger, args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}

	vector := vectordb.New(vectordb.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		Timeout:    5 * time.Minute, // snapshots of large collections are slow
	}, logger)
	manager := collection.NewManager(vector, cfg.CollectionLog, logger)
	ctx := context.Background()

	switch args[0] {
	case "snapshot":
		fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
		note := fs.String("note", "", "note stored in the snapshot log")
		if err := fs.Parse(args[1:]); err != nil {
			return exitFailure
		}
		entry, err := manager.Snapshot(ctx, *note)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		fmt.Printf("created snapshot %s (%d bytes)\n", entry.Name, entry.SizeBytes)
		return exitOK

	case "restore":
		if len(args) != 2 {
			usage()
			return exitFailure
		}
		if err := manager.Restore(ctx, args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		fmt.Println("restored", args[1])
		return exitOK

	case "list":
		entries, err := manager.List(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		if len(entries) == 0 {
			fmt.Println("no snapshots")
			return exitOK
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %d bytes", e.Name, e.SizeBytes)
			if !e.CreatedAt.IsZero() {
				line += "  " + e.CreatedAt.Format(time.RFC3339)
			}
			if e.Note != "" {
				line += "  # " + e.Note
			}
			fmt.Println(line)
		}
		return exitOK

	default:
		usage()
		return exitFailure
	}
}

func runHealth(cfg *config.Config) int {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(cfg.APIBaseURL, "/") + "/health")
	if err != nil {
		fmt.Fprintln(os.Stderr, "health request failed:", err)
		return exitFailure
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	fmt.Println(string(payload))
	if resp.StatusCode != http.StatusOK {
		return exitFailure
	}
	return exitOK
}

func openStore(cfg *config.Config, logger *zap.Logger) (*db.Store, error) {
	store, err := db.NewStore(db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		IdleConnections: cfg.Postgres.IdleConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return store, nil
}
