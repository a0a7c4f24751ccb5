package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CreateSnapshot asks Qdrant to snapshot the collection and returns
// the snapshot descriptor.
func (c *Client) CreateSnapshot(ctx context.Context) (SnapshotInfo, error) {
	resp, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.cfg.Collection+"/snapshots", nil)
	if err != nil {
		return SnapshotInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SnapshotInfo{}, fmt.Errorf("create snapshot status %d", resp.StatusCode)
	}
	var r struct {
		Result SnapshotInfo `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return SnapshotInfo{}, fmt.Errorf("decode snapshot response: %w", err)
	}
	return r.Result, nil
}

// ListSnapshots returns the snapshots stored for the collection.
func (c *Client) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	resp, err := c.do(ctx, http.MethodGet,
		"/collections/"+c.cfg.Collection+"/snapshots", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list snapshots status %d", resp.StatusCode)
	}
	var r struct {
		Result []SnapshotInfo `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode snapshot list: %w", err)
	}
	return r.Result, nil
}

// RecoverSnapshot restores the collection from a snapshot location
// (a local path or URL reachable by the Qdrant server).
func (c *Client) RecoverSnapshot(ctx context.Context, location string) error {
	resp, err := c.do(ctx, http.MethodPut,
		"/collections/"+c.cfg.Collection+"/snapshots/recover",
		map[string]interface{}{"location": location})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recover snapshot status %d", resp.StatusCode)
	}
	return nil
}
