package searchindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/oplog"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func pageContent(text string) oplog.EditorData {
	return oplog.EditorData{Blocks: []oplog.EditorBlock{
		{ID: "b1", BlockType: "paragraph", Data: []byte(`{"text":"` + text + `"}`)},
	}}
}

func TestUpsertAndSearchText(t *testing.T) {
	ix := newTestIndex(t)
	notebookID, pageID := uuid.New(), uuid.New()

	require.NoError(t, ix.Upsert(notebookID, pageID, "Trip planning", pageContent("book flights to lisbon")))

	hits, err := ix.SearchText(context.Background(), "lisbon", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, pageID, hits[0].PageID)
	assert.Equal(t, notebookID, hits[0].NotebookID)

	hits, err = ix.SearchText(context.Background(), "nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertReindexesInPlace(t *testing.T) {
	ix := newTestIndex(t)
	notebookID, pageID := uuid.New(), uuid.New()

	require.NoError(t, ix.Upsert(notebookID, pageID, "Draft", pageContent("original wording")))
	require.NoError(t, ix.Upsert(notebookID, pageID, "Draft", pageContent("revised wording")))

	hits, err := ix.SearchText(context.Background(), "original", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "stale text should not match after reindex")

	hits, err = ix.SearchText(context.Background(), "revised", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	ix := newTestIndex(t)
	notebookID, pageID := uuid.New(), uuid.New()

	require.NoError(t, ix.Upsert(notebookID, pageID, "Gone soon", pageContent("ephemeral content")))
	require.NoError(t, ix.Delete(notebookID, pageID))

	hits, err := ix.SearchText(context.Background(), "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSimilarFindsClosestByVocabulary(t *testing.T) {
	ix := newTestIndex(t)
	notebookID := uuid.New()
	travel, cooking := uuid.New(), uuid.New()

	require.NoError(t, ix.Upsert(notebookID, travel, "Travel", pageContent("flights hotels airport luggage passport")))
	require.NoError(t, ix.Upsert(notebookID, cooking, "Cooking", pageContent("recipe oven bake flour sugar")))

	hits, err := ix.SearchSimilar(context.Background(), "airport passport luggage", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, travel, hits[0].PageID, "closest vector should be the travel page sharing vocabulary")
}

func TestHashEmbeddingIsNormalized(t *testing.T) {
	vec := hashEmbedding([]string{"alpha", "beta", "gamma"}, VectorDims)
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSq, 0.0001)
}
