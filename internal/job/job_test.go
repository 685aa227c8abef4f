package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to cancelRequested", StatusQueued, StatusCancelRequested, true},
		{"queued to canceled", StatusQueued, StatusCanceled, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to done", StatusQueued, StatusDone, false},

		{"processing reclaim", StatusProcessing, StatusProcessing, true},
		{"processing to done", StatusProcessing, StatusDone, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to cancelRequested", StatusProcessing, StatusCancelRequested, true},
		{"processing to canceled", StatusProcessing, StatusCanceled, true},
		{"processing to queued", StatusProcessing, StatusQueued, false},

		{"cancelRequested to canceled", StatusCancelRequested, StatusCanceled, true},
		{"cancelRequested to processing", StatusCancelRequested, StatusProcessing, false},
		{"cancelRequested to done", StatusCancelRequested, StatusDone, false},
		{"cancelRequested to failed", StatusCancelRequested, StatusFailed, false},

		{"done is terminal", StatusDone, StatusProcessing, false},
		{"done cannot fail", StatusDone, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusProcessing, false},
		{"failed cannot complete", StatusFailed, StatusDone, false},
		{"canceled is terminal", StatusCanceled, StatusProcessing, false},
		{"canceled cannot complete", StatusCanceled, StatusDone, false},

		{"unknown status has no edges", "bogus", StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusDone))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCanceled))

	assert.False(t, IsTerminal(StatusQueued))
	assert.False(t, IsTerminal(StatusProcessing))
	assert.False(t, IsTerminal(StatusCancelRequested))
	assert.False(t, IsTerminal("bogus"))
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{
		StatusQueued, StatusProcessing, StatusDone,
		StatusFailed, StatusCancelRequested, StatusCanceled,
	} {
		assert.True(t, ValidStatus(s), "status %q should be valid", s)
	}
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("running"))
}

func TestJobJSON(t *testing.T) {
	t.Run("nil refs serialize as explicit null", func(t *testing.T) {
		j := Job{
			ID:           "b2fca5c4-1111-4f9f-9a2e-000000000001",
			PartitionKey: "demo-user",
			Type:         "csv_cleaning",
			Status:       StatusQueued,
			CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			UpdatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}

		data, err := json.Marshal(j)
		require.NoError(t, err)

		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &m))

		assert.Equal(t, "null", string(m["outputRef"]))
		assert.Equal(t, "null", string(m["error"]))
		assert.Contains(t, m, "inputRef")
		assert.NotContains(t, m, "params")
	})

	t.Run("status strings use camelCase", func(t *testing.T) {
		j := Job{Status: StatusCancelRequested}
		data, err := json.Marshal(j)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"status":"cancelRequested"`)
	})

	t.Run("error detail round trip", func(t *testing.T) {
		j := Job{
			Status: StatusFailed,
			Error: &Error{
				Message: "boom",
				Type:    "UnitOfWorkError",
				Step:    "infer_types",
			},
		}

		data, err := json.Marshal(j)
		require.NoError(t, err)

		var back Job
		require.NoError(t, json.Unmarshal(data, &back))
		require.NotNil(t, back.Error)
		assert.Equal(t, "boom", back.Error.Message)
		assert.Equal(t, "UnitOfWorkError", back.Error.Type)
		assert.Equal(t, "infer_types", back.Error.Step)
	})
}
