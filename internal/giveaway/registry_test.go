package giveaway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntrantRegistry_ToggleSemantics(t *testing.T) {
	r := NewEntrantRegistry()
	ok := eligible()

	assert.True(t, r.TryAdd(1, ok))
	assert.True(t, r.Contains(1))

	assert.False(t, r.TryAdd(1, ok), "re-entering toggles the entrant off")
	assert.False(t, r.Contains(1))

	assert.True(t, r.TryAdd(1, ok))
	assert.Equal(t, 1, r.Len())
}

func TestEntrantRegistry_IneligibleLeavesRegistryUnchanged(t *testing.T) {
	r := NewEntrantRegistry()
	r.TryAdd(1, eligible())

	rejected := EvaluationResult{Reason: ReasonBlacklisted}
	assert.False(t, r.TryAdd(2, rejected))
	assert.False(t, r.TryAdd(1, rejected))
	assert.Equal(t, []int64{1}, r.Snapshot())
}

func TestEntrantRegistry_SnapshotKeepsInsertionOrder(t *testing.T) {
	r := NewEntrantRegistry()
	for _, id := range []int64{30, 10, 20} {
		r.TryAdd(id, eligible())
	}
	assert.True(t, r.Remove(10))
	assert.False(t, r.Remove(10))
	r.TryAdd(40, eligible())

	snap := r.Snapshot()
	assert.Equal(t, []int64{30, 20, 40}, snap)

	snap[0] = 999
	assert.Equal(t, []int64{30, 20, 40}, r.Snapshot(), "snapshot must be a copy")
}

func TestEntrantRegistry_ActivityIsIndependentOfMembership(t *testing.T) {
	r := NewEntrantRegistry()
	assert.Equal(t, 1, r.RecordActivity(7))
	assert.Equal(t, 2, r.RecordActivity(7))
	assert.Equal(t, 2, r.MessageCount(7))
	assert.Equal(t, 0, r.MessageCount(8))
	assert.False(t, r.Contains(7))
}
