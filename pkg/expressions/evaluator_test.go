package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSlice(t *testing.T) {
	e := NewEvaluator()
	data := map[string]any{
		"hits": map[string]any{
			"hits": []any{
				map[string]any{"_source": map[string]any{"complaint_id": "1"}},
				map[string]any{"_source": map[string]any{"complaint_id": "2"}},
			},
		},
	}

	values, ok, err := e.EvaluateSlice("hits.hits[*]._source", data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, values, 2)

	_, ok, err = e.EvaluateSlice("missing[*]", data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_InvalidExpression(t *testing.T) {
	_, err := NewEvaluator().Evaluate("hits[", map[string]any{})
	assert.Error(t, err)
}

func TestEvaluate_CachesCompiledExpression(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("a.b", map[string]any{"a": map[string]any{"b": 1}})
	require.NoError(t, err)
	_, err = e.Evaluate("a.b", map[string]any{})
	require.NoError(t, err)
	assert.Len(t, e.compiled, 1)
}

func TestObjects(t *testing.T) {
	e := NewEvaluator()
	data := []any{
		map[string]any{"_source": map[string]any{"complaint_id": "1"}},
		map[string]any{"_source": "not an object"},
		map[string]any{"_index": "no source"},
	}

	objects, ok, err := e.Objects("[*]._source", data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, objects, 1)
	assert.Equal(t, "1", objects[0]["complaint_id"])

	_, ok, err = e.Objects("hits.hits[*]._source", map[string]any{"hits": "flat"})
	require.NoError(t, err)
	assert.False(t, ok)
}
