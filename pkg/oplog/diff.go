package oplog

import "bytes"

// DiffBlocks computes the block-level changes that turn old into new,
// matching spec.md §4.3 exactly:
//   - a block id present in new but not old is an insert, with
//     AfterBlockID set to the id of the preceding block in new (nil at index 0)
//   - a block present in both whose type or data differs is a modify
//   - a block present in both, identical content, different index, is a move
//   - modify takes precedence over move when both would apply
//   - a block id present in old but not new is a delete
func DiffBlocks(old, new EditorData) []BlockChange {
	oldIndex := make(map[string]int, len(old.Blocks))
	oldByID := make(map[string]EditorBlock, len(old.Blocks))
	for i, b := range old.Blocks {
		oldIndex[b.ID] = i
		oldByID[b.ID] = b
	}
	newByID := make(map[string]struct{}, len(new.Blocks))
	for _, b := range new.Blocks {
		newByID[b.ID] = struct{}{}
	}

	var changes []BlockChange

	for i, b := range new.Blocks {
		var afterID *string
		if i > 0 {
			id := new.Blocks[i-1].ID
			afterID = &id
		}

		oldBlock, existed := oldByID[b.ID]
		switch {
		case !existed:
			bt := b.BlockType
			changes = append(changes, BlockChange{
				BlockID: b.ID, Op: BlockInsert, BlockType: bt, AfterBlockID: afterID,
			})
		case oldBlock.BlockType != b.BlockType || !bytes.Equal(oldBlock.Data, b.Data):
			changes = append(changes, BlockChange{
				BlockID: b.ID, Op: BlockModify, BlockType: b.BlockType,
			})
		case oldIndex[b.ID] != i:
			changes = append(changes, BlockChange{
				BlockID: b.ID, Op: BlockMove, BlockType: b.BlockType, AfterBlockID: afterID,
			})
		}
	}

	for _, b := range old.Blocks {
		if _, ok := newByID[b.ID]; !ok {
			changes = append(changes, BlockChange{
				BlockID: b.ID, Op: BlockDelete, BlockType: b.BlockType,
			})
		}
	}

	return changes
}
