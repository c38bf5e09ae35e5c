package engine

import (
	"errors"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/types"
)

// AppendBlock ingests a single block, in whatever order it arrives. It is
// the engine's sole mutating entry point besides Rewind.
func (e *Engine[B, S]) AppendBlock(block B) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	height := block.Height()
	minHeight := uint64(1)
	if e.canonicalHeight > e.limits.MinHeight {
		minHeight = e.canonicalHeight - e.limits.MinHeight
	}
	maxHeight := e.canonicalHeight + e.limits.MaxHeight
	if height > maxHeight || height < minHeight {
		return ErrBadHeight
	}

	hash := block.BlockHash()
	if _, ok := e.orphanPool[hash]; ok {
		return ErrAlreadyInChain
	}
	if _, err := e.store.GetBlock(hash); err == nil {
		return ErrAlreadyInChain
	} else if !errors.Is(err, chainkv.ErrNotFound) {
		return err
	}

	parentHash := block.ParentHash()

	switch {
	case parentHash == e.canonicalTip.BlockHash():
		return e.appendOntoTip(block)

	default:
		if _, err := e.store.GetBlock(parentHash); err == nil {
			return e.appendForkOnCanonical(block, parentHash)
		}
	}

	if status, ok := e.validationsMapping[parentHash]; ok {
		switch status {
		case DisconnectedTip:
			return e.appendOntoDisconnectedTip(block, parentHash)
		case ValidChainTip:
			return e.appendOntoValidTip(block, parentHash)
		case BelongsToDisconnected:
			return e.appendOntoDisconnectedInterior(block, parentHash)
		case BelongsToValidChain:
			return e.appendOntoValidInterior(block, parentHash)
		}
	}

	return e.appendUnknownParent(block, parentHash)
}

// appendOntoTip is case (a): block directly extends the canonical chain.
func (e *Engine[B, S]) appendOntoTip(block B) error {
	if block.Height() != e.canonicalHeight+1 {
		return ErrBadHeight
	}
	newState, err := e.rules.AppendCondition(block, e.canonicalState)
	if err != nil {
		return ErrBadAppendCondition
	}
	if err := e.writeBlockCanonical(block, newState); err != nil {
		return err
	}
	if err := e.maybeCheckpoint(); err != nil {
		return err
	}
	return e.processOrphans(block.Height() + 1)
}

// appendForkOnCanonical is case (b): parent is a canonical ancestor behind
// the tip, i.e. the block starts a new fork off the already-written chain.
func (e *Engine[B, S]) appendForkOnCanonical(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	parentBlock, ok := e.queryLocked(parentHash)
	if !ok {
		return ErrNoSuchBlock
	}
	parentHeight := parentBlock.Height()
	if block.Height() != parentHeight+1 {
		return ErrBadHeight
	}

	if e.earliestCheckpointHeight != nil && parentHeight < *e.earliestCheckpointHeight {
		return ErrNoCheckpointFound
	}
	parentState, err := e.searchFetchNextState(parentHeight)
	if err != nil {
		return err
	}
	newState, err := e.rules.AppendCondition(block, parentState)
	if err != nil {
		return ErrBadAppendCondition
	}

	hash := block.BlockHash()
	e.writeOrphan(block, ValidChainTip)
	e.validTips[hash] = struct{}{}
	e.validTipsStates[hash] = newState

	status := ValidChainTip
	finalTip, _, _ := e.attemptAttachValid(hash, newState, 0, &status)
	return e.attemptSwitch(finalTip)
}

// appendOntoDisconnectedTip is case (c): parent is the tip of a
// disconnected fragment.
func (e *Engine[B, S]) appendOntoDisconnectedTip(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	parentBlock := e.orphanPool[parentHash]
	if block.Height() != parentBlock.Height()+1 {
		return ErrBadHeight
	}

	head, ok := e.disconnectedTipsMapping[parentHash]
	if !ok {
		return ErrInvalidParent
	}
	e.validationsMapping[parentHash] = BelongsToDisconnected

	hash := block.BlockHash()
	delete(e.disconnectedHeadsMapping[head], parentHash)
	e.disconnectedHeadsMapping[head][hash] = struct{}{}
	e.disconnectedTipsMapping[hash] = head
	delete(e.disconnectedTipsMapping, parentHash)
	if ht, ok := e.disconnectedHeadsHeights[head]; !ok || block.Height() > ht.height {
		e.disconnectedHeadsHeights[head] = headTip{height: block.Height(), hash: hash}
	}

	e.writeOrphan(block, DisconnectedTip)
	attached := e.attemptAttach(hash)
	if !attached {
		e.traverseInverse(hash, 0, false)
	} else {
		delete(e.disconnectedHeadsMapping[head], hash)
	}
	return nil
}

// appendOntoValidTip is case (d): parent is the tip of a fragment already
// rooted on the canonical chain.
func (e *Engine[B, S]) appendOntoValidTip(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	parentState := e.validTipsStates[parentHash]
	newState, err := e.rules.AppendCondition(block, parentState)
	if err != nil {
		return ErrBadAppendCondition
	}

	parentBlock := e.orphanPool[parentHash]
	parentInverse := e.heightsMapping[parentBlock.Height()][parentHash]

	e.validationsMapping[parentHash] = BelongsToValidChain
	delete(e.validTips, parentHash)
	delete(e.validTipsStates, parentHash)

	hash := block.BlockHash()
	e.writeOrphan(block, ValidChainTip)
	e.validTips[hash] = struct{}{}
	e.validTipsStates[hash] = newState

	status := ValidChainTip
	finalTip, _, _ := e.attemptAttachValid(hash, newState, parentInverse, &status)
	e.traverseInverse(hash, parentInverse, parentInverse == 0)
	return e.attemptSwitch(finalTip)
}

// appendOntoDisconnectedInterior is case (e): parent is interior to a
// disconnected fragment (not its tip).
func (e *Engine[B, S]) appendOntoDisconnectedInterior(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	hash := block.BlockHash()
	e.writeOrphan(block, DisconnectedTip)

	head := e.findDisconnectedHead(parentHash)
	if head == (types.Hash{}) {
		return ErrInvalidParent
	}
	e.disconnectedHeadsMapping[head][hash] = struct{}{}
	e.disconnectedTipsMapping[hash] = head
	if ht, ok := e.disconnectedHeadsHeights[head]; !ok || block.Height() > ht.height {
		e.disconnectedHeadsHeights[head] = headTip{height: block.Height(), hash: hash}
	}

	attached := e.attemptAttach(hash)
	if attached {
		delete(e.disconnectedHeadsMapping[head], hash)
	} else {
		e.traverseInverse(hash, 0, false)
	}
	return nil
}

// findDisconnectedHead walks parent pointers from start through the
// orphan pool until it reaches a hash registered as a fragment head.
func (e *Engine[B, S]) findDisconnectedHead(start types.Hash) types.Hash {
	cur := start
	for {
		if _, ok := e.disconnectedHeadsMapping[cur]; ok {
			return cur
		}
		block, ok := e.orphanPool[cur]
		if !ok {
			return types.Hash{}
		}
		cur = block.ParentHash()
	}
}

// appendOntoValidInterior is case (f): parent is interior to a fragment
// already rooted on the canonical chain (BelongsToValidChain). The state
// at parentHash isn't stored (only fragment tips carry one), so it is
// reconstructed by replaying AppendCondition from the fragment's root.
func (e *Engine[B, S]) appendOntoValidInterior(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	chain, rootParentHash, err := e.collectValidChainAncestors(parentHash)
	if err != nil {
		return err
	}

	rootParentBlock, ok := e.queryLocked(rootParentHash)
	if !ok {
		return ErrNoSuchBlock
	}
	state, err := e.searchFetchNextState(rootParentBlock.Height())
	if err != nil {
		return err
	}
	for _, ancestor := range chain {
		state, err = e.rules.AppendCondition(ancestor, state)
		if err != nil {
			return ErrBadAppendCondition
		}
	}

	newState, err := e.rules.AppendCondition(block, state)
	if err != nil {
		return ErrBadAppendCondition
	}

	hash := block.BlockHash()
	e.writeOrphan(block, ValidChainTip)
	e.validTips[hash] = struct{}{}
	e.validTipsStates[hash] = newState

	status := ValidChainTip
	finalTip, _, _ := e.attemptAttachValid(hash, newState, 0, &status)
	e.traverseInverse(hash, 0, true)
	return e.attemptSwitch(finalTip)
}

// collectValidChainAncestors walks parent pointers from start (inclusive)
// back through the orphan pool until it reaches a block whose parent is
// on the canonical chain, returning the ancestors oldest-first plus that
// canonical parent's hash.
func (e *Engine[B, S]) collectValidChainAncestors(start types.Hash) ([]B, types.Hash, error) {
	var reversed []B
	cur := start
	for {
		block, ok := e.orphanPool[cur]
		if !ok {
			return nil, types.Hash{}, ErrNoSuchBlock
		}
		reversed = append(reversed, block)
		parentHash := block.ParentHash()
		if _, err := e.store.GetBlock(parentHash); err == nil {
			chain := make([]B, len(reversed))
			for i, b := range reversed {
				chain[len(reversed)-1-i] = b
			}
			return chain, parentHash, nil
		}
		cur = parentHash
	}
}

// appendUnknownParent is case (g): the parent is unknown anywhere. The
// block starts a brand new disconnected fragment.
func (e *Engine[B, S]) appendUnknownParent(block B, parentHash types.Hash) error {
	if uint64(len(e.orphanPool)) >= e.limits.MaxOrphans {
		return ErrTooManyOrphans
	}

	hash := block.BlockHash()
	e.disconnectedHeadsMapping[hash] = map[types.Hash]struct{}{hash: {}}
	e.disconnectedTipsMapping[hash] = hash
	e.disconnectedHeadsHeights[hash] = headTip{height: block.Height(), hash: hash}
	e.writeOrphan(block, DisconnectedTip)

	e.attemptAttach(hash)

	// Defensive fallback mirroring chain.rs: the new orphan's parent might
	// already be tracked as a valid tip even though it wasn't found above
	// (e.g. it was never also indexed via validationsMapping yet).
	if _, ok := e.validTips[parentHash]; ok {
		if state, ok := e.validTipsStates[parentHash]; ok {
			status := ValidChainTip
			finalTip, _, _ := e.attemptAttachValid(parentHash, state, 0, &status)
			return e.attemptSwitch(finalTip)
		}
	}
	return nil
}

// processOrphans extends the canonical chain with any already-buffered
// orphans that now connect, starting at startHeight, per chain.rs
// process_orphans.
func (e *Engine[B, S]) processOrphans(startHeight uint64) error {
	if e.maxOrphanHeight == nil {
		return nil
	}

	for h := startHeight; e.maxOrphanHeight != nil && h <= *e.maxOrphanHeight; h++ {
		entries := e.heightsMapping[h]
		if len(entries) == 0 {
			continue
		}

		type candidate struct {
			hash          types.Hash
			block         B
			inverseHeight uint64
			newState      S
		}
		var candidates []candidate

		for hsh, inv := range entries {
			blk := e.orphanPool[hsh]
			var prior S
			var priorOK bool
			if blk.ParentHash() == e.canonicalTip.BlockHash() {
				prior, priorOK = e.canonicalState, true
			} else if s, ok := e.validTipsStates[blk.ParentHash()]; ok {
				prior, priorOK = s, true
			}
			if !priorOK {
				continue
			}
			newState, err := e.rules.AppendCondition(blk, prior)
			if err != nil {
				continue
			}
			candidates = append(candidates, candidate{hash: hsh, block: blk, inverseHeight: inv, newState: newState})
		}
		if len(candidates) == 0 {
			continue
		}

		// Only a child of the canonical tip can be written canonically.
		var best *candidate
		for i := range candidates {
			c := &candidates[i]
			if c.block.ParentHash() != e.canonicalTip.BlockHash() {
				continue
			}
			if best == nil || c.inverseHeight > best.inverseHeight || (c.inverseHeight == best.inverseHeight && lessHash(c.hash, best.hash)) {
				best = c
			}
		}
		if best == nil {
			continue
		}

		if err := e.writeBlockCanonical(best.block, best.newState); err != nil {
			return err
		}
		if err := e.maybeCheckpoint(); err != nil {
			return err
		}

		for _, c := range candidates {
			if c.hash == best.hash {
				continue
			}
			e.validationsMapping[c.hash] = ValidChainTip
			e.validTips[c.hash] = struct{}{}
			e.validTipsStates[c.hash] = c.newState
		}
	}
	return nil
}
