package engine

import "github.com/chronodrachma/chrd/pkg/core/types"

// Rewind moves the canonical tip back to targetHash, which must be a block
// of the canonical chain; any other target yields ErrNoSuchBlock and leaves
// the chain unchanged. The displaced canonical blocks are demoted into the orphan pool
// rather than discarded, so a subsequent append can fast-forward back
// through them without re-validation from scratch.
func (e *Engine[B, S]) Rewind(targetHash types.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewindLocked(targetHash)
}

func (e *Engine[B, S]) rewindLocked(targetHash types.Hash) error {
	if targetHash == e.canonicalTip.BlockHash() {
		return nil
	}
	if _, ok := e.queryLocked(targetHash); !ok {
		return ErrNoSuchBlock
	}

	cur := e.canonicalTip
	originalState := e.canonicalState
	first := true
	var depth uint64

	for {
		hash := cur.BlockHash()
		if hash == targetHash {
			break
		}
		depth++

		if err := e.store.DeleteBlock(hash); err != nil {
			return err
		}
		if err := e.store.DeleteHeightHash(cur.Height()); err != nil {
			return err
		}
		if ckptID, ok := e.diskHeightsCheckpoints[cur.Height()]; ok {
			if err := e.rules.DeleteCheckpoint(ckptID); err != nil {
				return err
			}
			delete(e.diskHeightsCheckpoints, cur.Height())
			if e.lastCheckpointHeight != nil && *e.lastCheckpointHeight == cur.Height() {
				e.recomputeLastCheckpointHeight()
			}
			if e.earliestCheckpointHeight != nil && *e.earliestCheckpointHeight == cur.Height() {
				e.recomputeEarliestCheckpointHeight()
			}
		}

		status := BelongsToValidChain
		if first {
			status = ValidChainTip
			e.validTips[hash] = struct{}{}
			e.validTipsStates[hash] = originalState.Duplicate()
		}
		e.orphanPool[hash] = cur
		e.validationsMapping[hash] = status
		if e.heightsMapping[cur.Height()] == nil {
			e.heightsMapping[cur.Height()] = make(map[types.Hash]uint64)
		}
		e.heightsMapping[cur.Height()][hash] = 0
		e.updateMaxOrphanHeight(cur.Height())
		first = false

		parentHash := cur.ParentHash()
		parentBlock, ok := e.queryLocked(parentHash)
		if !ok {
			return ErrNoSuchBlock
		}
		cur = parentBlock
	}

	targetBlock, ok := e.queryLocked(targetHash)
	if !ok {
		return ErrNoSuchBlock
	}
	targetHeight := targetBlock.Height()
	newState, err := e.stateAtHeight(targetHeight)
	if err != nil {
		return err
	}

	e.canonicalTip = targetBlock
	e.canonicalHeight = targetHeight
	e.canonicalState = newState
	e.reorgDepthAccum += depth
	if err := e.store.PutCanonicalTip(targetHash); err != nil {
		return err
	}
	if err := e.store.PutCanonicalHeight(targetHeight); err != nil {
		return err
	}
	return e.persistCheckpointIndex()
}

// attemptSwitch reorganizes the canonical chain onto candidateHash if it
// leads the current tip by more than SwitchOffset blocks,
// ported from chain.rs attempt_switch. Finds the horizon (the deepest
// ancestor of candidateHash already on the canonical chain), rewinds to
// it, then replays the fork's blocks forward.
func (e *Engine[B, S]) attemptSwitch(candidateHash types.Hash) error {
	candidateBlock, ok := e.orphanPool[candidateHash]
	if !ok {
		return nil
	}
	if candidateBlock.Height() <= e.canonicalHeight+e.limits.SwitchOffset {
		return nil
	}

	var toWrite []B
	cur := candidateBlock
	var horizon types.Hash
	foundHorizon := false

	for {
		toWrite = append([]B{cur}, toWrite...)
		parentHash := cur.ParentHash()

		if parentHash == e.canonicalTip.BlockHash() {
			horizon = parentHash
			foundHorizon = true
			break
		}
		if _, err := e.store.GetBlock(parentHash); err == nil {
			horizon = parentHash
			foundHorizon = true
			break
		}
		parentBlock, ok := e.orphanPool[parentHash]
		if !ok {
			return nil
		}
		cur = parentBlock
	}
	if !foundHorizon {
		return nil
	}

	if horizon != e.canonicalTip.BlockHash() {
		if err := e.rewindLocked(horizon); err != nil {
			return err
		}
	}

	for _, blk := range toWrite {
		newState, err := e.rules.AppendCondition(blk, e.canonicalState)
		if err != nil {
			return ErrBadAppendCondition
		}
		if err := e.writeBlockCanonical(blk, newState); err != nil {
			return err
		}
		if err := e.maybeCheckpoint(); err != nil {
			return err
		}
	}
	return nil
}
