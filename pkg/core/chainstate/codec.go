package chainstate

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
)

// Codec (de)serializes State to/from chainkv checkpoint blobs, assigning
// each checkpoint a monotonically increasing id. It implements the
// Checkpoint/LoadCheckpoint/DeleteCheckpoint third of engine.Rules; the
// remaining block-specific methods live on blockchain.PoWRules, which
// embeds a Codec.
type Codec struct {
	store  chainkv.Store
	mu     sync.Mutex
	nextID uint64
}

// NewCodec wraps store. nextID starts at 1 so 0 can mean "no checkpoint",
// or one past the highest id in the store's persisted checkpoint index.
func NewCodec(store chainkv.Store) *Codec {
	nextID := uint64(1)
	if index, err := store.GetCheckpointIndex(); err == nil {
		for _, id := range index {
			if id >= nextID {
				nextID = id + 1
			}
		}
	}
	return &Codec{store: store, nextID: nextID}
}

// Checkpoint gob-encodes s and persists it under a fresh id.
func (c *Codec) Checkpoint(s *State) (uint64, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return 0, err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if err := c.store.PutCheckpoint(id, buf.Bytes()); err != nil {
		return 0, err
	}
	return id, nil
}

// LoadCheckpoint retrieves and decodes the checkpoint stored under id.
func (c *Codec) LoadCheckpoint(id uint64) (*State, error) {
	data, err := c.store.GetCheckpoint(id)
	if err != nil {
		return nil, err
	}
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteCheckpoint removes the checkpoint stored under id.
func (c *Codec) DeleteCheckpoint(id uint64) error {
	return c.store.DeleteCheckpoint(id)
}
