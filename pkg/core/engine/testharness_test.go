package engine

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/types"
)

// testBlock is a minimal engine.Block implementation used to exercise the
// engine in isolation from the concrete chrd block/ledger format.
type testBlock struct {
	Hash      types.Hash
	Parent    types.Hash
	HeightVal uint64
	TS        time.Time
	Payload   int // lets otherwise-identical-height blocks hash differently
}

func (b *testBlock) BlockHash() types.Hash    { return b.Hash }
func (b *testBlock) ParentHash() types.Hash   { return b.Parent }
func (b *testBlock) Height() uint64           { return b.HeightVal }
func (b *testBlock) Timestamp() time.Time     { return b.TS }
func (b *testBlock) ToBytes() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(b)
	return buf.Bytes()
}

func testBlockFromBytes(data []byte) (*testBlock, error) {
	var b testBlock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// newTestBlock derives a deterministic hash from parent/height/payload so
// tests can construct forks without manual bookkeeping.
func newTestBlock(parent types.Hash, height uint64, payload int) *testBlock {
	b := &testBlock{
		Parent:    parent,
		HeightVal: height,
		TS:        time.Unix(int64(height)*10+int64(payload), 0),
		Payload:   payload,
	}
	b.Hash = types.ComputeSHA256([]byte(fmt.Sprintf("%x:%d:%d", parent, height, payload)))
	return b
}

// testState is a trivial counter ChainState: value == height of the chain
// that produced it, letting tests assert replay correctness by height.
type testState struct {
	Value         int
	LastTimestamp time.Time
}

func (s *testState) Duplicate() *testState {
	return &testState{Value: s.Value, LastTimestamp: s.LastTimestamp}
}

var errRejected = errors.New("testRules: block rejected")

// testRules implements engine.Rules[*testBlock, *testState]. rejectHeights
// and rejectHashes, when set, cause AppendCondition to fail for blocks at
// those heights or with those hashes; rejectHashes is used to exercise the
// "Issue #109" no-eviction path in processOrphans.
type testRules struct {
	store         chainkv.Store
	genesisBlock  *testBlock
	rejectHeights map[uint64]bool
	rejectHashes  map[types.Hash]bool
	afterWrites   []types.Hash
}

func newTestRules(store chainkv.Store) *testRules {
	genesis := &testBlock{Hash: types.ComputeSHA256([]byte("genesis")), Parent: types.ZeroHash, HeightVal: 0, TS: time.Unix(0, 0)}
	return &testRules{store: store, genesisBlock: genesis}
}

func (r *testRules) Genesis() *testBlock { return r.genesisBlock }

func (r *testRules) GenesisState() *testState {
	return &testState{Value: 0, LastTimestamp: r.genesisBlock.TS}
}

func (r *testRules) FromBytes(data []byte) (*testBlock, error) { return testBlockFromBytes(data) }

func (r *testRules) AppendCondition(block *testBlock, prior *testState) (*testState, error) {
	if r.rejectHeights[block.HeightVal] || r.rejectHashes[block.Hash] {
		return nil, errRejected
	}
	return &testState{Value: prior.Value + 1, LastTimestamp: block.TS}, nil
}

func (r *testRules) AfterWrite(block *testBlock) {
	r.afterWrites = append(r.afterWrites, block.Hash)
}

var testCheckpointCounter uint64

func (r *testRules) Checkpoint(s *testState) (uint64, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return 0, err
	}
	testCheckpointCounter++
	id := testCheckpointCounter
	if err := r.store.PutCheckpoint(id, buf.Bytes()); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *testRules) LoadCheckpoint(id uint64) (*testState, error) {
	data, err := r.store.GetCheckpoint(id)
	if err != nil {
		return nil, err
	}
	var s testState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *testRules) DeleteCheckpoint(id uint64) error {
	return r.store.DeleteCheckpoint(id)
}

func newTestEngine(limits Limits, archival bool) (*Engine[*testBlock, *testState], *testRules, chainkv.Store) {
	store, err := chainkv.NewBadgerStore("")
	if err != nil {
		panic(err)
	}
	rules := newTestRules(store)
	eng, err := New[*testBlock, *testState](store, rules, limits, rules.GenesisState(), archival)
	if err != nil {
		panic(err)
	}
	return eng, rules, store
}

func defaultTestLimits() Limits {
	return Limits{
		MaxOrphans:         100,
		SwitchOffset:       0,
		MinHeight:          1000,
		MaxHeight:          1000,
		CheckpointInterval: 4,
		MaxCheckpoints:     3,
	}
}
