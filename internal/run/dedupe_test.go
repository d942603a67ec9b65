package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/model"
)

func TestDedupeRows_RemovesStructuralDuplicates(t *testing.T) {
	existing := []model.Row{
		{"id": float64(1), "name": "ada"},
		{"id": float64(2), "name": "grace"},
	}
	incoming := []model.Row{
		{"id": float64(2), "name": "grace"}, // duplicate
		{"id": float64(3), "name": "edsger"},
		{"name": "ada", "id": float64(1)}, // duplicate, key order irrelevant
		{"id": float64(4), "name": "barbara"},
	}

	got := DedupeRows(existing, incoming)

	require.Len(t, got, 2)
	assert.Equal(t, float64(3), got[0]["id"])
	assert.Equal(t, float64(4), got[1]["id"], "surviving rows keep their relative order")
}

func TestDedupeRows_DifferingKeySetsNeverDuplicates(t *testing.T) {
	existing := []model.Row{{"id": float64(1)}}
	incoming := []model.Row{
		{"id": float64(1), "extra": "x"},
		{"other": float64(1)},
	}

	got := DedupeRows(existing, incoming)
	assert.Len(t, got, 2)
}

func TestDedupeRows_ValueDifferenceSurvives(t *testing.T) {
	existing := []model.Row{{"id": float64(1), "name": "ada"}}
	incoming := []model.Row{{"id": float64(1), "name": "ADA"}}

	got := DedupeRows(existing, incoming)
	assert.Len(t, got, 1)
}

func TestDedupeRows_Idempotent(t *testing.T) {
	existing := []model.Row{
		{"id": float64(1)},
		{"id": float64(2)},
	}
	incoming := []model.Row{
		{"id": float64(2)},
		{"id": float64(3)},
		{"id": float64(4)},
	}

	once := DedupeRows(existing, incoming)
	twice := DedupeRows(existing, once)
	assert.Equal(t, once, twice)
}

func TestDedupeRows_DoesNotMutateInputs(t *testing.T) {
	existing := []model.Row{{"id": float64(1)}}
	incoming := []model.Row{{"id": float64(1)}, {"id": float64(2)}}

	_ = DedupeRows(existing, incoming)

	assert.Len(t, existing, 1)
	require.Len(t, incoming, 2)
	assert.Equal(t, float64(1), incoming[0]["id"])
}

func TestDedupeRows_NestedValues(t *testing.T) {
	existing := []model.Row{
		{"id": float64(1), "tags": []any{"a", "b"}, "meta": map[string]any{"k": "v"}},
	}
	incoming := []model.Row{
		{"id": float64(1), "tags": []any{"a", "b"}, "meta": map[string]any{"k": "v"}}, // duplicate
		{"id": float64(1), "tags": []any{"b", "a"}, "meta": map[string]any{"k": "v"}}, // order differs
	}

	got := DedupeRows(existing, incoming)
	require.Len(t, got, 1)
	assert.Equal(t, []any{"b", "a"}, got[0]["tags"])
}

func TestDedupeRows_EmptyIncoming(t *testing.T) {
	assert.Empty(t, DedupeRows([]model.Row{{"id": float64(1)}}, nil))
}

func TestSameColumnShape(t *testing.T) {
	assert.True(t, SameColumnShape(
		model.Row{"a": 1, "b": 2},
		model.Row{"b": 9, "a": 7},
	))
	assert.False(t, SameColumnShape(
		model.Row{"a": 1, "b": 2},
		model.Row{"a": 1, "c": 2},
	))
	assert.False(t, SameColumnShape(
		model.Row{"a": 1},
		model.Row{"a": 1, "b": 2},
	))
	assert.True(t, SameColumnShape(model.Row{}, model.Row{}))
}
