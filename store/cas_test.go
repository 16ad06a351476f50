package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCASStoreNotConfiguredIsExplicitError(t *testing.T) {
	s := NewCASStore(nil)

	_, err := s.Put(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrCheckpointingNotConfigured)

	_, err = s.Get(context.Background(), "cas://abc")
	assert.ErrorIs(t, err, ErrCheckpointingNotConfigured)
}

func TestParseCASRef(t *testing.T) {
	hash, ok := parseCASRef("cas://deadbeef")
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", hash)

	_, ok = parseCASRef("not-a-ref")
	assert.False(t, ok)
}

func TestCheckpointerNotConfiguredIsExplicitError(t *testing.T) {
	cp := NewCheckpointer(nil)

	_, err := cp.Create(context.Background(), ExecutionState{ID: "exec-1"}, "")
	assert.ErrorIs(t, err, ErrCheckpointingNotConfigured)

	_, err = cp.Restore(context.Background(), "exec-1", "cp-1")
	assert.ErrorIs(t, err, ErrCheckpointingNotConfigured)

	_, err = cp.List(context.Background(), "exec-1")
	assert.ErrorIs(t, err, ErrCheckpointingNotConfigured)
}
