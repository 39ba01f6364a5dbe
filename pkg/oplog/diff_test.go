package oplog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(id, typ, data string) EditorBlock {
	return EditorBlock{ID: id, BlockType: typ, Data: json.RawMessage(data)}
}

func TestDiffBlocksInsert(t *testing.T) {
	old := EditorData{Blocks: []EditorBlock{block("a", "paragraph", `{"text":"x"}`)}}
	updated := EditorData{Blocks: []EditorBlock{
		block("a", "paragraph", `{"text":"x"}`),
		block("b", "paragraph", `{"text":"y"}`),
	}}

	changes := DiffBlocks(old, updated)
	require.Len(t, changes, 1)
	assert.Equal(t, BlockInsert, changes[0].Op)
	assert.Equal(t, "b", changes[0].BlockID)
	require.NotNil(t, changes[0].AfterBlockID)
	assert.Equal(t, "a", *changes[0].AfterBlockID)
}

func TestDiffBlocksModify(t *testing.T) {
	old := EditorData{Blocks: []EditorBlock{block("a", "paragraph", `{"text":"x"}`)}}
	updated := EditorData{Blocks: []EditorBlock{block("a", "paragraph", `{"text":"changed"}`)}}

	changes := DiffBlocks(old, updated)
	require.Len(t, changes, 1)
	assert.Equal(t, BlockModify, changes[0].Op)
}

func TestDiffBlocksMove(t *testing.T) {
	old := EditorData{Blocks: []EditorBlock{
		block("a", "paragraph", `{"text":"x"}`),
		block("b", "paragraph", `{"text":"y"}`),
	}}
	updated := EditorData{Blocks: []EditorBlock{
		block("b", "paragraph", `{"text":"y"}`),
		block("a", "paragraph", `{"text":"x"}`),
	}}

	changes := DiffBlocks(old, updated)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, BlockMove, c.Op)
	}
}

func TestDiffBlocksDelete(t *testing.T) {
	old := EditorData{Blocks: []EditorBlock{
		block("a", "paragraph", `{"text":"x"}`),
		block("b", "paragraph", `{"text":"y"}`),
	}}
	updated := EditorData{Blocks: []EditorBlock{block("a", "paragraph", `{"text":"x"}`)}}

	changes := DiffBlocks(old, updated)
	require.Len(t, changes, 1)
	assert.Equal(t, BlockDelete, changes[0].Op)
	assert.Equal(t, "b", changes[0].BlockID)
}

// TestDiffBlocksModifyPrecedesMove: a block that both changed content and
// changed position must report as modify, never move, per spec.md §4.3.
// Block "a" keeps its content but shifts from index 0 to 1, so it is
// reported as a move after the modify.
func TestDiffBlocksModifyPrecedesMove(t *testing.T) {
	old := EditorData{Blocks: []EditorBlock{
		block("a", "paragraph", `{"text":"x"}`),
		block("b", "paragraph", `{"text":"y"}`),
	}}
	updated := EditorData{Blocks: []EditorBlock{
		block("b", "paragraph", `{"text":"changed"}`),
		block("a", "paragraph", `{"text":"x"}`),
	}}

	changes := DiffBlocks(old, updated)
	require.Len(t, changes, 2)
	assert.Equal(t, BlockModify, changes[0].Op)
	assert.Equal(t, "b", changes[0].BlockID)
	assert.Equal(t, BlockMove, changes[1].Op)
	assert.Equal(t, "a", changes[1].BlockID)
}
