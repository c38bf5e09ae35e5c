package engine

import "github.com/chronodrachma/chrd/pkg/core/types"

// attemptAttach merges any disconnected fragment whose root parent is
// tipHash into tipHash's own fragment, ported from chain.rs
// attempt_attach. Returns true if anything merged, in which case tipHash
// is no longer itself a tip and is reclassified BelongsToDisconnected.
func (e *Engine[B, S]) attemptAttach(tipHash types.Hash) bool {
	currentHead, ok := e.disconnectedTipsMapping[tipHash]
	if !ok {
		return false
	}

	attached := false
	for headHash := range e.disconnectedHeadsMapping {
		if headHash == tipHash || headHash == currentHead {
			continue
		}
		headBlock, ok := e.orphanPool[headHash]
		if !ok || headBlock.ParentHash() != tipHash {
			continue
		}

		mergedTips := e.disconnectedHeadsMapping[headHash]
		for t := range mergedTips {
			e.disconnectedTipsMapping[t] = currentHead
			e.disconnectedHeadsMapping[currentHead][t] = struct{}{}
			e.traverseInverse(t, 0, false)
		}
		delete(e.disconnectedHeadsMapping, headHash)
		if ht, ok := e.disconnectedHeadsHeights[headHash]; ok {
			if cur, ok2 := e.disconnectedHeadsHeights[currentHead]; !ok2 || ht.height > cur.height {
				e.disconnectedHeadsHeights[currentHead] = ht
			}
			delete(e.disconnectedHeadsHeights, headHash)
		}
		attached = true
	}

	if attached {
		delete(e.disconnectedHeadsMapping[currentHead], tipHash)
		e.validationsMapping[tipHash] = BelongsToDisconnected
	}
	return attached
}

// attemptAttachValid folds any disconnected fragment rooted on tipHash into
// the valid chain, replaying append_condition down each fragment via
// makeValidTips. Returns the deepest resulting valid tip (by inverse
// height), which may just be (tipHash, tipState, inverseHeight) unchanged
// if nothing attached. *status is set to ValidChainTip if anything folded
// in successfully.
func (e *Engine[B, S]) attemptAttachValid(tipHash types.Hash, tipState S, inverseHeight uint64, status *OrphanStatus) (types.Hash, S, uint64) {
	bestHash, bestState, bestInverse := tipHash, tipState, inverseHeight

	for headHash := range e.disconnectedHeadsMapping {
		headBlock, ok := e.orphanPool[headHash]
		if !ok || headBlock.ParentHash() != tipHash {
			continue
		}
		newTip, newState, newInverse, ok := e.makeValidTips(headHash, tipState)
		if !ok {
			continue
		}
		*status = ValidChainTip
		if newInverse > bestInverse || (newInverse == bestInverse && lessHash(newTip, bestHash)) {
			bestHash, bestState, bestInverse = newTip, newState, newInverse
		}
	}

	e.traverseInverse(bestHash, 0, true)
	return bestHash, bestState, bestInverse
}

// makeValidTips promotes the disconnected fragment rooted at headHash into
// the valid chain, replaying AppendCondition breadth-first from headState.
// Nodes that fail validation are left untouched in the orphan pool (no
// eviction on failed validation). Returns the fragment's deepest
// surviving tip.
func (e *Engine[B, S]) makeValidTips(headHash types.Hash, headState S) (types.Hash, S, uint64, bool) {
	headBlock, ok := e.orphanPool[headHash]
	if !ok {
		var zero S
		return types.Hash{}, zero, 0, false
	}
	newHeadState, err := e.rules.AppendCondition(headBlock, headState)
	if err != nil {
		return types.Hash{}, headState, 0, false
	}

	frontier := map[types.Hash]S{headHash: newHeadState}
	visited := map[types.Hash]struct{}{headHash: {}}

	bestHash, bestState, bestInverse := headHash, newHeadState, uint64(0)

	for len(frontier) > 0 {
		nextFrontier := make(map[types.Hash]S)
		hasChildOf := make(map[types.Hash]bool, len(frontier))

		for parentHash, parentState := range frontier {
			for childHash, childBlock := range e.orphanPool {
				if _, seen := visited[childHash]; seen {
					continue
				}
				if childBlock.ParentHash() != parentHash {
					continue
				}
				childState, err := e.rules.AppendCondition(childBlock, parentState)
				if err != nil {
					continue
				}
				nextFrontier[childHash] = childState
				visited[childHash] = struct{}{}
				hasChildOf[parentHash] = true
			}
		}

		for hash, state := range frontier {
			if hasChildOf[hash] {
				e.validationsMapping[hash] = BelongsToValidChain
				continue
			}
			e.validationsMapping[hash] = ValidChainTip
			e.validTips[hash] = struct{}{}
			e.validTipsStates[hash] = state
			inv := e.heightsMapping[e.orphanPool[hash].Height()][hash]
			if inv > bestInverse || (inv == bestInverse && lessHash(hash, bestHash)) {
				bestHash, bestState, bestInverse = hash, state, inv
			}
		}

		frontier = nextFrontier
	}

	for hash := range visited {
		delete(e.disconnectedTipsMapping, hash)
	}
	delete(e.disconnectedHeadsMapping, headHash)
	delete(e.disconnectedHeadsHeights, headHash)

	return bestHash, bestState, bestInverse, true
}

// traverseInverse walks parent pointers from startHash through the orphan
// pool, raising each ancestor's recorded inverse height to the maximum
// distance seen from any descendant tip. When makeValid is set (only valid
// when startHeight == 0), startHash itself is
// marked ValidChainTip and every orphan-pool ancestor it passes through is
// marked BelongsToValidChain.
func (e *Engine[B, S]) traverseInverse(startHash types.Hash, startHeight uint64, makeValid bool) {
	if makeValid && startHeight == 0 {
		e.validationsMapping[startHash] = ValidChainTip
		e.validTips[startHash] = struct{}{}
	}

	cur := startHash
	curInverse := startHeight
	first := true
	for {
		block, ok := e.orphanPool[cur]
		if !ok {
			break
		}
		h := block.Height()
		if entries, ok := e.heightsMapping[h]; ok {
			if existing := entries[cur]; curInverse > existing {
				entries[cur] = curInverse
			} else {
				curInverse = existing
			}
		}
		if makeValid && !first {
			if _, tracked := e.validationsMapping[cur]; tracked {
				e.validationsMapping[cur] = BelongsToValidChain
			}
		}
		first = false

		parentHash := block.ParentHash()
		if _, ok := e.orphanPool[parentHash]; !ok {
			break
		}
		curInverse++
		cur = parentHash
	}
}

// lessHash breaks inverse-height ties deterministically by lexicographic
// hash order (documented in DESIGN.md: the Rust original relies on
// HashSet iteration order, which Go's randomized map iteration cannot
// reproduce).
func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
