// Package collection manages vector collection snapshots: create,
// restore and list, with a local JSONL log carrying operator notes.
package collection

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/vectordb"
)

// DefaultLogPath is where snapshot metadata is appended when no path
// is configured.
const DefaultLogPath = "collections.log"

// SnapshotClient is the slice of the vector store the manager needs.
type SnapshotClient interface {
	CreateSnapshot(ctx context.Context) (vectordb.SnapshotInfo, error)
	ListSnapshots(ctx context.Context) ([]vectordb.SnapshotInfo, error)
	RecoverSnapshot(ctx context.Context, location string) error
}

// Entry is one line of the snapshot log.
type Entry struct {
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Note      string    `json:"note,omitempty"`
}

// Manager drives snapshot lifecycle against one collection.
type Manager struct {
	client  SnapshotClient
	logPath string
	logger  *zap.Logger
}

func NewManager(client SnapshotClient, logPath string, logger *zap.Logger) *Manager {
	if logPath == "" {
		logPath = DefaultLogPath
	}
	return &Manager{client: client, logPath: logPath, logger: logger}
}

// Snapshot creates a snapshot and appends its descriptor to the log.
func (m *Manager) Snapshot(ctx context.Context, note string) (Entry, error) {
	info, err := m.client.CreateSnapshot(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("create snapshot: %w", err)
	}
	entry := Entry{
		Name:      info.Name,
		Location:  info.Name,
		CreatedAt: time.Now().UTC(),
		SizeBytes: info.Size,
		Note:      note,
	}
	if err := m.appendLog(entry); err != nil {
		// The snapshot exists either way; a log write failure must not
		// hide that from the operator.
		m.logger.Warn("Snapshot log write failed",
			zap.String("snapshot", entry.Name),
			zap.Error(err),
		)
	}
	m.logger.Info("Snapshot created",
		zap.String("snapshot", entry.Name),
		zap.Int64("size_bytes", entry.SizeBytes),
	)
	return entry, nil
}

// Restore recovers the collection from a snapshot. The argument is a
// logged snapshot name when known, otherwise it is passed through as a
// location the vector store can resolve itself.
func (m *Manager) Restore(ctx context.Context, nameOrLocation string) error {
	location := nameOrLocation
	entries, err := m.readLog()
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Name == nameOrLocation {
			location = entries[i].Location
			break
		}
	}
	if err := m.client.RecoverSnapshot(ctx, location); err != nil {
		return fmt.Errorf("recover snapshot %s: %w", nameOrLocation, err)
	}
	m.logger.Info("Snapshot restored", zap.String("snapshot", nameOrLocation))
	return nil
}

// List returns the snapshots the vector store holds, annotated with
// notes from the local log where names match.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	remote, err := m.client.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	logged, err := m.readLog()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Entry, len(logged))
	for _, e := range logged {
		byName[e.Name] = e
	}

	out := make([]Entry, 0, len(remote))
	for _, s := range remote {
		entry := Entry{Name: s.Name, Location: s.Name, SizeBytes: s.Size}
		if t, err := time.Parse(time.RFC3339, s.CreationTime); err == nil {
			entry.CreatedAt = t
		}
		if local, ok := byName[s.Name]; ok {
			entry.Note = local.Note
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = local.CreatedAt
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *Manager) appendLog(entry Entry) error {
	f, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot log: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append snapshot log: %w", err)
	}
	return nil
}

// readLog parses the JSONL log, skipping lines that do not decode so a
// hand-edited file cannot block restores.
func (m *Manager) readLog() ([]Entry, error) {
	f, err := os.Open(m.logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			m.logger.Warn("Skipping malformed snapshot log line", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
