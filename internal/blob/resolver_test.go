package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Refs(t *testing.T) {
	r := NewResolver(NewMemoryStore(), "job-inputs", "job-outputs")

	t.Run("input path is derived from partition key and job id", func(t *testing.T) {
		ref := r.InputRef("job-1", "demo-user")
		assert.Equal(t, "job-inputs", ref.Container)
		assert.Equal(t, "demo-user/job-1/source.csv", ref.Location)
	})

	t.Run("output and report land in the output container", func(t *testing.T) {
		out := r.OutputRef("job-1", "demo-user")
		assert.Equal(t, "job-outputs", out.Container)
		assert.Equal(t, "demo-user/job-1/result.csv", out.Location)

		rep := r.ReportRef("job-1", "demo-user")
		assert.Equal(t, "job-outputs", rep.Container)
		assert.Equal(t, "demo-user/job-1/report.json", rep.Location)
	})

	t.Run("refs are deterministic across calls", func(t *testing.T) {
		assert.Equal(t, r.InputRef("job-1", "demo-user"), r.InputRef("job-1", "demo-user"))
	})
}

func TestResolver_StageAndFetch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, "job-inputs", "job-outputs")

	t.Run("staged input is readable at the derived ref", func(t *testing.T) {
		ref, err := r.StageInput(ctx, "job-1", "demo-user")
		require.NoError(t, err)
		assert.True(t, store.Exists(ref.Container, ref.Location))

		data, err := r.FetchInput(ctx, ref)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("staged output is readable at the derived ref", func(t *testing.T) {
		ref, err := r.StageOutput(ctx, "job-1", "demo-user", []byte("name,age\nalice,30\n"))
		require.NoError(t, err)
		assert.Equal(t, "demo-user/job-1/result.csv", ref.Location)

		data, err := store.Get(ctx, ref.Container, ref.Location)
		require.NoError(t, err)
		assert.Equal(t, "name,age\nalice,30\n", string(data))
	})

	t.Run("report is written next to the result", func(t *testing.T) {
		require.NoError(t, r.StageReport(ctx, "job-1", "demo-user", []byte(`{"rows":1}`)))
		assert.True(t, store.Exists("job-outputs", "demo-user/job-1/report.json"))
	})

	t.Run("fetching a missing input fails", func(t *testing.T) {
		_, err := r.FetchInput(ctx, r.InputRef("nope", "demo-user"))
		assert.Error(t, err)
	})

	t.Run("restaging overwrites the same location", func(t *testing.T) {
		first, err := r.StageOutput(ctx, "job-2", "demo-user", []byte("v1"))
		require.NoError(t, err)
		second, err := r.StageOutput(ctx, "job-2", "demo-user", []byte("v2"))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		data, err := store.Get(ctx, second.Container, second.Location)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))
	})
}

func TestResolver_IssueRetrievalLink(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore(), "job-inputs", "job-outputs")

	before := time.Now().UTC()
	link, err := r.IssueRetrievalLink(ctx, r.OutputRef("job-1", "demo-user"), 15*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, link.URL, "demo-user/job-1/result.csv")
	assert.False(t, link.ExpiresAt.Before(before.Add(15*time.Minute)))
	assert.True(t, link.ExpiresAt.Before(before.Add(16*time.Minute)))
}
