package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/redis/go-redis/v9"
)

// ErrCheckpointingNotConfigured is returned by every Checkpointer
// method when no Redis client was wired in — checkpoint/restore is an
// optional extension the engine can omit entirely, so callers must
// treat this as an ordinary, expected error, never a panic.
var ErrCheckpointingNotConfigured = errors.New("store: checkpointing is not configured")

// CheckpointInfo describes one stored checkpoint.
type CheckpointInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Checkpointer implements checkpoint/restore, backed by Redis.
// The first checkpoint for an execution is stored as a full snapshot;
// each later one is stored as a JSON merge patch against the previous
// checkpoint's stored payload when that patch is shorter than the full
// snapshot, and as the full snapshot otherwise.
type Checkpointer struct {
	redis *redis.Client
}

// NewCheckpointer wraps a Redis client. A nil client is valid and
// causes every method to return ErrCheckpointingNotConfigured.
func NewCheckpointer(client *redis.Client) *Checkpointer {
	return &Checkpointer{redis: client}
}

func checkpointIndexKey(executionID string) string {
	return fmt.Sprintf("dipeo:checkpoint:%s:index", executionID)
}

func checkpointBlobKey(executionID, checkpointID string) string {
	return fmt.Sprintf("dipeo:checkpoint:%s:blob:%s", executionID, checkpointID)
}

// Create snapshots the given ExecutionState under a new checkpoint id.
func (cp *Checkpointer) Create(ctx context.Context, state ExecutionState, name string) (string, error) {
	if cp.redis == nil {
		return "", ErrCheckpointingNotConfigured
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal snapshot: %w", err)
	}

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	info := CheckpointInfo{ID: id, Name: name, CreatedAt: time.Now()}

	prev, err := cp.latestBlob(ctx, state.ID)
	payload := snapshot
	if err == nil && prev != nil {
		patch, perr := jsonpatch.CreateMergePatch(prev, snapshot)
		if perr == nil && len(patch) < len(snapshot) {
			payload = patch
		}
	}

	pipe := cp.redis.TxPipeline()
	pipe.Set(ctx, checkpointBlobKey(state.ID, id), payload, 0)
	infoJSON, _ := json.Marshal(info)
	pipe.RPush(ctx, checkpointIndexKey(state.ID), infoJSON)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("checkpoint: store: %w", err)
	}
	return id, nil
}

func (cp *Checkpointer) latestBlob(ctx context.Context, executionID string) ([]byte, error) {
	infos, err := cp.List(ctx, executionID)
	if err != nil || len(infos) == 0 {
		return nil, fmt.Errorf("no prior checkpoint")
	}
	last := infos[len(infos)-1]
	return cp.redis.Get(ctx, checkpointBlobKey(executionID, last.ID)).Bytes()
}

// Restore loads a previously created checkpoint back into an
// ExecutionState. Because later checkpoints may be stored as merge
// patches against their predecessor, Restore replays the chain from
// the first full snapshot forward.
func (cp *Checkpointer) Restore(ctx context.Context, executionID, checkpointID string) (*ExecutionState, error) {
	if cp.redis == nil {
		return nil, ErrCheckpointingNotConfigured
	}
	infos, err := cp.List(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var doc []byte
	found := false
	for _, info := range infos {
		blob, err := cp.redis.Get(ctx, checkpointBlobKey(executionID, info.ID)).Bytes()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: load %s: %w", info.ID, err)
		}
		if doc == nil {
			doc = blob
		} else {
			merged, err := jsonpatch.MergePatch(doc, blob)
			if err != nil {
				// Not a patch against doc; treat as a full snapshot.
				doc = blob
			} else {
				doc = merged
			}
		}
		if info.ID == checkpointID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("checkpoint: %s not found for execution %s", checkpointID, executionID)
	}

	var state ExecutionState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

// List returns every checkpoint recorded for an execution, oldest first.
func (cp *Checkpointer) List(ctx context.Context, executionID string) ([]CheckpointInfo, error) {
	if cp.redis == nil {
		return nil, ErrCheckpointingNotConfigured
	}
	raw, err := cp.redis.LRange(ctx, checkpointIndexKey(executionID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	out := make([]CheckpointInfo, 0, len(raw))
	for _, r := range raw {
		var info CheckpointInfo
		if err := json.Unmarshal([]byte(r), &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}
