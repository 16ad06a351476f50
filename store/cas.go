package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CASStore is an optional content-addressable store for envelope
// bodies too large to keep inline in the in-process state map — e.g.
// a code_job's stdout capture or an api_job's response body. Content is
// keyed by its own hash, so storing the same bytes twice is a no-op.
type CASStore struct {
	redis *redis.Client
}

// NewCASStore wraps a Redis client. A nil client means Put/Get return
// ErrCheckpointingNotConfigured, the same optionality as Checkpointer.
func NewCASStore(client *redis.Client) *CASStore {
	return &CASStore{redis: client}
}

func casKey(hash string) string {
	return fmt.Sprintf("dipeo:cas:%s", hash)
}

// Put stores data content-addressably and returns a "cas://<hash>" ref.
func (s *CASStore) Put(ctx context.Context, data []byte) (string, error) {
	if s.redis == nil {
		return "", ErrCheckpointingNotConfigured
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := s.redis.Set(ctx, casKey(hash), data, 0).Err(); err != nil {
		return "", fmt.Errorf("cas: put: %w", err)
	}
	return "cas://" + hash, nil
}

// Get retrieves data previously stored by Put.
func (s *CASStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if s.redis == nil {
		return nil, ErrCheckpointingNotConfigured
	}
	hash, ok := parseCASRef(ref)
	if !ok {
		return nil, fmt.Errorf("cas: malformed ref %q", ref)
	}
	b, err := s.redis.Get(ctx, casKey(hash)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("cas: get %q: %w", ref, err)
	}
	return b, nil
}

func parseCASRef(ref string) (string, bool) {
	const prefix = "cas://"
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return "", false
	}
	return ref[len(prefix):], true
}
