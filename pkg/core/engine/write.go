package engine

import "github.com/chronodrachma/chrd/pkg/core/types"

// writeBlockCanonical extends the canonical chain by one block. The caller
// must have already verified block.ParentHash() == e.canonicalTip.BlockHash()
// and computed newState via rules.AppendCondition.
func (e *Engine[B, S]) writeBlockCanonical(block B, newState S) error {
	hash := block.BlockHash()

	if err := e.store.PutBlock(hash, block.ToBytes()); err != nil {
		return err
	}
	if err := e.store.PutHeightHash(block.Height(), hash); err != nil {
		return err
	}
	if err := e.store.PutCanonicalTip(hash); err != nil {
		return err
	}
	if err := e.store.PutCanonicalHeight(block.Height()); err != nil {
		return err
	}

	e.canonicalTip = block
	e.canonicalHeight = block.Height()
	e.canonicalState = newState

	// The block may have lived in the orphan pool (forks, attached
	// fragments); strip all trace of it from the in-memory indices.
	delete(e.orphanPool, hash)
	delete(e.validationsMapping, hash)
	delete(e.validTips, hash)
	delete(e.validTipsStates, hash)
	if entries, ok := e.heightsMapping[block.Height()]; ok {
		delete(entries, hash)
		if len(entries) == 0 {
			delete(e.heightsMapping, block.Height())
			if e.maxOrphanHeight != nil && *e.maxOrphanHeight == block.Height() {
				e.recomputeMaxOrphanHeight(block.Height())
			}
		}
	}

	e.rules.AfterWrite(block)
	return nil
}

// writeOrphan inserts block into the orphan pool under the given status.
func (e *Engine[B, S]) writeOrphan(block B, status OrphanStatus) {
	hash := block.BlockHash()
	e.orphanPool[hash] = block
	e.validationsMapping[hash] = status
	if e.heightsMapping[block.Height()] == nil {
		e.heightsMapping[block.Height()] = make(map[types.Hash]uint64)
	}
	if _, exists := e.heightsMapping[block.Height()][hash]; !exists {
		e.heightsMapping[block.Height()][hash] = 0
	}
	e.updateMaxOrphanHeight(block.Height())
}
