// Package chainkv is the storage façade the engine talks to: a typed
// wrapper over badger holding raw block bytes, the height index, a handful
// of well-known scalar keys, and opaque checkpoint blobs. It owns no chain
// semantics — that's the engine's job.
package chainkv

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/chronodrachma/chrd/pkg/core/types"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by getters when the key is absent, except those
// that report absence another way: GetCanonicalHeight returns 0, the
// earliest/last checkpoint getters return ok=false, and GetCheckpointIndex
// returns an empty map.
var ErrNotFound = errors.New("chainkv: not found")

// Well-known scalar keys are stored at hash(ascii string) rather than the
// literal string, so a store dump does not show their names; block,
// height and checkpoint keys still use readable prefixes.
var (
	keyCanonicalTip    = types.ComputeSHA256([]byte("canonical_tip"))
	keyCanonicalHeight = types.ComputeSHA256([]byte("canonical_height"))
	keyEarliestCkpt    = types.ComputeSHA256([]byte("earliest_checkpoint_height"))
	keyLastCkpt        = types.ComputeSHA256([]byte("last_checkpoint_height"))
	keyCheckpointIndex = types.ComputeSHA256([]byte("checkpoint_index"))
)

// Store is the persistence contract the engine depends on.
type Store interface {
	GetBlock(hash types.Hash) ([]byte, error)
	PutBlock(hash types.Hash, data []byte) error
	DeleteBlock(hash types.Hash) error

	GetHeightHash(height uint64) (types.Hash, error)
	PutHeightHash(height uint64, hash types.Hash) error
	DeleteHeightHash(height uint64) error

	GetCanonicalTip() (types.Hash, error)
	PutCanonicalTip(hash types.Hash) error

	GetCanonicalHeight() (uint64, error)
	PutCanonicalHeight(height uint64) error

	GetEarliestCheckpoint() (height uint64, ok bool, err error)
	PutEarliestCheckpoint(height uint64) error
	DeleteEarliestCheckpoint() error

	GetLastCheckpoint() (height uint64, ok bool, err error)
	PutLastCheckpoint(height uint64) error
	DeleteLastCheckpoint() error

	PutCheckpoint(id uint64, data []byte) error
	GetCheckpoint(id uint64) ([]byte, error)
	DeleteCheckpoint(id uint64) error

	// GetCheckpointIndex returns the height->checkpoint-id mapping persisted
	// by the last PutCheckpointIndex call, or an empty map if none yet.
	GetCheckpointIndex() (map[uint64]uint64, error)
	PutCheckpointIndex(index map[uint64]uint64) error

	Close() error
}

// BadgerStore implements Store using BadgerDB, generalizing the original
// block-only store with the well-known scalar keys and checkpoint blobs
// the engine needs.
type BadgerStore struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStore creates or opens a BadgerDB store at path. An empty path
// opens an in-memory store, for tests.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func blockKey(hash types.Hash) []byte {
	return []byte(fmt.Sprintf("block:hash:%x", hash))
}

func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("block:height:%d", height))
}

func checkpointKey(id uint64) []byte {
	return []byte(fmt.Sprintf("checkpoint:%d", id))
}

func (s *BadgerStore) getBytes(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) setBytes(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) GetBlock(hash types.Hash) ([]byte, error) {
	return s.getBytes(blockKey(hash))
}

func (s *BadgerStore) PutBlock(hash types.Hash, data []byte) error {
	return s.setBytes(blockKey(hash), data)
}

func (s *BadgerStore) DeleteBlock(hash types.Hash) error {
	return s.delete(blockKey(hash))
}

func (s *BadgerStore) GetHeightHash(height uint64) (types.Hash, error) {
	data, err := s.getBytes(heightKey(height))
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(data)
}

func (s *BadgerStore) PutHeightHash(height uint64, hash types.Hash) error {
	return s.setBytes(heightKey(height), hash[:])
}

func (s *BadgerStore) DeleteHeightHash(height uint64) error {
	return s.delete(heightKey(height))
}

func (s *BadgerStore) GetCanonicalTip() (types.Hash, error) {
	data, err := s.getBytes(keyCanonicalTip[:])
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(data)
}

func (s *BadgerStore) PutCanonicalTip(hash types.Hash) error {
	return s.setBytes(keyCanonicalTip[:], hash[:])
}

func (s *BadgerStore) GetCanonicalHeight() (uint64, error) {
	data, err := s.getBytes(keyCanonicalHeight[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (s *BadgerStore) PutCanonicalHeight(height uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, height)
	return s.setBytes(keyCanonicalHeight[:], buf)
}

func (s *BadgerStore) GetEarliestCheckpoint() (uint64, bool, error) {
	data, err := s.getBytes(keyEarliestCkpt[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return binary.LittleEndian.Uint64(data), true, nil
}

func (s *BadgerStore) PutEarliestCheckpoint(height uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, height)
	return s.setBytes(keyEarliestCkpt[:], buf)
}

func (s *BadgerStore) DeleteEarliestCheckpoint() error {
	return s.delete(keyEarliestCkpt[:])
}

func (s *BadgerStore) GetLastCheckpoint() (uint64, bool, error) {
	data, err := s.getBytes(keyLastCkpt[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return binary.LittleEndian.Uint64(data), true, nil
}

func (s *BadgerStore) PutLastCheckpoint(height uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, height)
	return s.setBytes(keyLastCkpt[:], buf)
}

func (s *BadgerStore) DeleteLastCheckpoint() error {
	return s.delete(keyLastCkpt[:])
}

func (s *BadgerStore) PutCheckpoint(id uint64, data []byte) error {
	return s.setBytes(checkpointKey(id), data)
}

func (s *BadgerStore) GetCheckpoint(id uint64) ([]byte, error) {
	return s.getBytes(checkpointKey(id))
}

func (s *BadgerStore) DeleteCheckpoint(id uint64) error {
	return s.delete(checkpointKey(id))
}

func (s *BadgerStore) GetCheckpointIndex() (map[uint64]uint64, error) {
	data, err := s.getBytes(keyCheckpointIndex[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return make(map[uint64]uint64), nil
		}
		return nil, err
	}
	index := make(map[uint64]uint64)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *BadgerStore) PutCheckpointIndex(index map[uint64]uint64) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(index); err != nil {
		return err
	}
	return s.setBytes(keyCheckpointIndex[:], buf.Bytes())
}
