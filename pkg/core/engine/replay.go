package engine

// searchFetchNextState finds the nearest checkpoint at or below targetHeight
// and replays forward from it.
func (e *Engine[B, S]) searchFetchNextState(targetHeight uint64) (S, error) {
	height := uint64(0)
	if e.lastCheckpointHeight != nil {
		height = *e.lastCheckpointHeight
		for height > targetHeight {
			if height < e.limits.CheckpointInterval {
				height = 0
				break
			}
			height -= e.limits.CheckpointInterval
		}
	}
	return e.fetchNextState(height, targetHeight)
}

// fetchNextState loads the state at height (genesis if 0, else the disk
// checkpoint) and replays canonical blocks forward to targetHeight.
func (e *Engine[B, S]) fetchNextState(height, targetHeight uint64) (S, error) {
	var state S
	if height == 0 {
		state = e.rules.GenesisState()
	} else {
		ckptID, ok := e.diskHeightsCheckpoints[height]
		if !ok {
			return state, ErrNoCheckpointFound
		}
		loaded, err := e.rules.LoadCheckpoint(ckptID)
		if err != nil {
			return state, err
		}
		state = loaded
	}

	for h := height + 1; h <= targetHeight; h++ {
		hash, err := e.store.GetHeightHash(h)
		if err != nil {
			return state, err
		}
		data, err := e.store.GetBlock(hash)
		if err != nil {
			return state, err
		}
		block, err := e.rules.FromBytes(data)
		if err != nil {
			return state, err
		}
		newState, err := e.rules.AppendCondition(block, state)
		if err != nil {
			return state, err
		}
		state = newState
	}
	return state, nil
}

// stateAtHeight is searchFetchNextState under a name matching its call
// site outside of replay (rewind).
func (e *Engine[B, S]) stateAtHeight(height uint64) (S, error) {
	return e.searchFetchNextState(height)
}

// maybeCheckpoint snapshots canonicalState to disk if canonicalHeight lands
// on a checkpoint boundary, and prunes the oldest checkpoint beyond
// MaxCheckpoints.
func (e *Engine[B, S]) maybeCheckpoint() error {
	if e.canonicalHeight == 0 || e.canonicalHeight%e.limits.CheckpointInterval != 0 {
		return nil
	}

	id, err := e.rules.Checkpoint(e.canonicalState)
	if err != nil {
		return err
	}
	e.diskHeightsCheckpoints[e.canonicalHeight] = id

	h := e.canonicalHeight
	e.lastCheckpointHeight = &h
	if err := e.store.PutLastCheckpoint(h); err != nil {
		return err
	}
	if e.earliestCheckpointHeight == nil {
		e.earliestCheckpointHeight = &h
		if err := e.store.PutEarliestCheckpoint(h); err != nil {
			return err
		}
	}

	if !e.archival {
		if err := e.pruneCheckpoints(); err != nil {
			return err
		}
	}
	return e.persistCheckpointIndex()
}

// persistCheckpointIndex writes the in-memory height->checkpoint-id mapping
// to disk so a restarted engine can locate existing checkpoints again;
// without this, diskHeightsCheckpoints would come back empty on restore and
// fetchNextState would fail with ErrNoCheckpointFound for any height above 0.
func (e *Engine[B, S]) persistCheckpointIndex() error {
	return e.store.PutCheckpointIndex(e.diskHeightsCheckpoints)
}

// pruneCheckpoints deletes the oldest checkpoint(s) beyond MaxCheckpoints.
// Never called in archival mode, which retains every checkpoint (see
// §1: "archival mode retains everything").
func (e *Engine[B, S]) pruneCheckpoints() error {
	for uint64(len(e.diskHeightsCheckpoints)) > e.limits.MaxCheckpoints {
		var oldest uint64
		found := false
		for height := range e.diskHeightsCheckpoints {
			if !found || height < oldest {
				oldest = height
				found = true
			}
		}
		if !found {
			break
		}
		id := e.diskHeightsCheckpoints[oldest]
		if err := e.rules.DeleteCheckpoint(id); err != nil {
			return err
		}
		delete(e.diskHeightsCheckpoints, oldest)
		e.recomputeEarliestCheckpointHeight()
	}
	return nil
}

func (e *Engine[B, S]) recomputeEarliestCheckpointHeight() {
	found := false
	var earliest uint64
	for height := range e.diskHeightsCheckpoints {
		if !found || height < earliest {
			earliest = height
			found = true
		}
	}
	if !found {
		e.earliestCheckpointHeight = nil
		_ = e.store.DeleteEarliestCheckpoint()
		return
	}
	e.earliestCheckpointHeight = &earliest
	_ = e.store.PutEarliestCheckpoint(earliest)
}

func (e *Engine[B, S]) recomputeLastCheckpointHeight() {
	found := false
	var last uint64
	for height := range e.diskHeightsCheckpoints {
		if !found || height > last {
			last = height
			found = true
		}
	}
	if !found {
		e.lastCheckpointHeight = nil
		_ = e.store.DeleteLastCheckpoint()
		return
	}
	e.lastCheckpointHeight = &last
	_ = e.store.PutLastCheckpoint(last)
}
