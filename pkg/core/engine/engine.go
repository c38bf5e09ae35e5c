// Package engine implements the fork-choice and chain-management core: an
// in-memory orphan pool layered over a disk-backed canonical chain, with
// disk checkpoints that make reorgs affordable. It is the load-bearing part
// of the node; everything else (transaction semantics, PoW, networking) is
// injected through the Block/ChainState/Rules contracts below.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/types"
)

// Local, recoverable errors — returned to the caller, never panicked.
var (
	ErrAlreadyInChain     = errors.New("engine: block already in chain")
	ErrInvalidParent      = errors.New("engine: invalid parent")
	ErrNoParentHash       = errors.New("engine: block has no parent hash")
	ErrBadHeight          = errors.New("engine: block height outside accepted window")
	ErrNoSuchBlock        = errors.New("engine: no such block")
	ErrTooManyOrphans     = errors.New("engine: too many orphans")
	ErrBadAppendCondition = errors.New("engine: append condition rejected block")
	ErrNoCheckpointFound  = errors.New("engine: no checkpoint found below requested height")
)

// Block is the abstract block contract the engine consumes. Concrete block
// variants (only *types.Block in this repo) must be immutable once observed.
type Block interface {
	BlockHash() types.Hash
	ParentHash() types.Hash
	Height() uint64
	Timestamp() time.Time
	ToBytes() []byte
}

// ChainState is the abstract per-tip validation state. S is the concrete
// state type; Duplicate must return a deep, independent copy.
type ChainState[S any] interface {
	Duplicate() S
}

// Rules supplies everything the engine cannot derive on its own: block
// construction/validation and state (de)serialization. It plays the role of
// the Rust source's associated functions on the Block trait — Go has no
// static trait dispatch, so these live on a value the engine holds
// alongside the generic type parameters.
type Rules[B Block, S ChainState[S]] interface {
	// Genesis returns the distinguished genesis block (height 0, null parent).
	Genesis() B

	// GenesisState returns the ChainState paired with the genesis block.
	GenesisState() S

	// FromBytes deserializes a block previously produced by ToBytes.
	FromBytes([]byte) (B, error)

	// AppendCondition validates block against prior and derives the
	// resulting state. A non-nil error means the block must not be applied.
	AppendCondition(block B, prior S) (S, error)

	// AfterWrite is invoked synchronously under the chain lock immediately
	// after a successful write of block to the canonical chain.
	AfterWrite(block B)

	// Checkpoint persists state to disk and returns an opaque id.
	Checkpoint(s S) (uint64, error)

	// LoadCheckpoint retrieves a previously checkpointed state by id.
	LoadCheckpoint(id uint64) (S, error)

	// DeleteCheckpoint removes a checkpoint by id.
	DeleteCheckpoint(id uint64) error
}

// Limits carries the fork-choice engine's tunable constants as runtime config.
type Limits struct {
	MaxOrphans         uint64
	SwitchOffset       uint64
	MinHeight          uint64
	MaxHeight          uint64
	CheckpointInterval uint64
	MaxCheckpoints     uint64
}

// OrphanStatus classifies a block held in the orphan pool.
type OrphanStatus int

const (
	// DisconnectedTip is the tip of a fragment whose root has an unknown parent.
	DisconnectedTip OrphanStatus = iota
	// BelongsToDisconnected is the interior of such a fragment.
	BelongsToDisconnected
	// ValidChainTip is the tip of a fragment rooted on the canonical chain.
	ValidChainTip
	// BelongsToValidChain is the interior of such a fragment.
	BelongsToValidChain
)

func (s OrphanStatus) String() string {
	switch s {
	case DisconnectedTip:
		return "disconnected_tip"
	case BelongsToDisconnected:
		return "belongs_to_disconnected"
	case ValidChainTip:
		return "valid_chain_tip"
	case BelongsToValidChain:
		return "belongs_to_valid_chain"
	default:
		return "unknown"
	}
}

// headTip records, for a disconnected-chain head, the greatest height among
// its tips and the hash of that tip.
type headTip struct {
	height uint64
	hash   types.Hash
}

// Engine is the fork-choice and chain-management engine. The zero value is
// not usable; construct with New.
type Engine[B Block, S ChainState[S]] struct {
	mu       sync.RWMutex
	store    chainkv.Store
	rules    Rules[B, S]
	limits   Limits
	archival bool

	canonicalTip    B
	canonicalHeight uint64
	canonicalState  S

	// orphan pool and indices
	orphanPool               map[types.Hash]B
	validationsMapping       map[types.Hash]OrphanStatus
	heightsMapping           map[uint64]map[types.Hash]uint64
	disconnectedHeadsMapping map[types.Hash]map[types.Hash]struct{}
	disconnectedTipsMapping  map[types.Hash]types.Hash
	disconnectedHeadsHeights map[types.Hash]headTip
	validTips                map[types.Hash]struct{}
	validTipsStates          map[types.Hash]S
	maxOrphanHeight          *uint64

	diskHeightsCheckpoints   map[uint64]uint64
	earliestCheckpointHeight *uint64
	lastCheckpointHeight     *uint64

	reorgDepthAccum uint64
}

// New restores the engine from store, or initializes it at genesis if the
// store is empty. initialState is used verbatim when the store is empty
// (it must be rules.GenesisState() or an equivalent fresh state); when a
// canonical tip is restored from disk, the engine instead recomputes the
// correct state via checkpoint-relative replay (§4.6) rather than trusting
// a caller-supplied value that may not correspond to the restored height.
func New[B Block, S ChainState[S]](store chainkv.Store, rules Rules[B, S], limits Limits, initialState S, archival bool) (*Engine[B, S], error) {
	e := &Engine[B, S]{
		store:                    store,
		rules:                    rules,
		limits:                   limits,
		archival:                 archival,
		orphanPool:               make(map[types.Hash]B),
		validationsMapping:       make(map[types.Hash]OrphanStatus),
		heightsMapping:           make(map[uint64]map[types.Hash]uint64),
		disconnectedHeadsMapping: make(map[types.Hash]map[types.Hash]struct{}),
		disconnectedTipsMapping:  make(map[types.Hash]types.Hash),
		disconnectedHeadsHeights: make(map[types.Hash]headTip),
		validTips:                make(map[types.Hash]struct{}),
		validTipsStates:          make(map[types.Hash]S),
		diskHeightsCheckpoints:   make(map[uint64]uint64),
	}

	tipHash, err := store.GetCanonicalTip()
	if err != nil {
		if !errors.Is(err, chainkv.ErrNotFound) {
			return nil, err
		}
		// Fresh chain: start at genesis.
		genesis := rules.Genesis()
		if err := store.PutBlock(genesis.BlockHash(), genesis.ToBytes()); err != nil {
			return nil, err
		}
		if err := store.PutHeightHash(0, genesis.BlockHash()); err != nil {
			return nil, err
		}
		e.canonicalTip = genesis
		e.canonicalHeight = 0
		e.canonicalState = initialState
		return e, nil
	}

	height, err := store.GetCanonicalHeight()
	if err != nil {
		return nil, err
	}

	if earliest, ok, err := store.GetEarliestCheckpoint(); err != nil {
		return nil, err
	} else if ok {
		e.earliestCheckpointHeight = &earliest
	}

	if last, ok, err := store.GetLastCheckpoint(); err != nil {
		return nil, err
	} else if ok {
		e.lastCheckpointHeight = &last
	}

	index, err := store.GetCheckpointIndex()
	if err != nil {
		return nil, err
	}
	e.diskHeightsCheckpoints = index

	blockBytes, err := store.GetBlock(tipHash)
	if err != nil {
		return nil, err
	}
	tip, err := rules.FromBytes(blockBytes)
	if err != nil {
		return nil, err
	}
	e.canonicalTip = tip
	e.canonicalHeight = height

	if height == 0 {
		e.canonicalState = rules.GenesisState()
	} else {
		state, err := e.searchFetchNextState(height)
		if err != nil {
			return nil, err
		}
		e.canonicalState = state
	}

	return e, nil
}

// Genesis returns the distinguished genesis block.
func (e *Engine[B, S]) Genesis() B {
	return e.rules.Genesis()
}

// Height returns the canonical chain's height.
func (e *Engine[B, S]) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canonicalHeight
}

// CanonicalTip returns the current best block.
func (e *Engine[B, S]) CanonicalTip() B {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canonicalTip
}

// State returns a duplicate of the canonical chain state, safe for the
// caller to inspect or mutate independently of the engine.
func (e *Engine[B, S]) State() S {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canonicalState.Duplicate()
}

// Query returns the canonical block with the given hash, if any.
func (e *Engine[B, S]) Query(hash types.Hash) (B, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queryLocked(hash)
}

func (e *Engine[B, S]) queryLocked(hash types.Hash) (B, bool) {
	var zero B
	data, err := e.store.GetBlock(hash)
	if err != nil {
		return zero, false
	}
	block, err := e.rules.FromBytes(data)
	if err != nil {
		return zero, false
	}
	return block, true
}

// QueryByHeight returns the canonical block at the given height, if any.
func (e *Engine[B, S]) QueryByHeight(height uint64) (B, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var zero B
	hash, err := e.store.GetHeightHash(height)
	if err != nil {
		return zero, false
	}
	return e.queryLocked(hash)
}

// OrphanPoolSize returns the current number of blocks held in the orphan
// pool, for metrics reporting.
func (e *Engine[B, S]) OrphanPoolSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orphanPool)
}

// ConsumeReorgDepth returns the number of blocks rewound, by chain switches
// or explicit Rewind calls, since the last call, resetting the counter to zero. Meant to be polled
// once per AppendBlock call by a metrics reporter.
func (e *Engine[B, S]) ConsumeReorgDepth() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.reorgDepthAccum
	e.reorgDepthAccum = 0
	return d
}

// OrphanSummary describes a single block held in the orphan pool, for
// introspection endpoints.
type OrphanSummary struct {
	Hash   types.Hash
	Height uint64
	Status OrphanStatus
}

// Orphans returns a snapshot of every block currently held in the orphan
// pool, for read-only introspection (e.g. an RPC /orphans endpoint).
func (e *Engine[B, S]) Orphans() []OrphanSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]OrphanSummary, 0, len(e.orphanPool))
	for hash, block := range e.orphanPool {
		out = append(out, OrphanSummary{
			Hash:   hash,
			Height: block.Height(),
			Status: e.validationsMapping[hash],
		})
	}
	return out
}

// CheckpointInfo summarizes the engine's on-disk checkpoint ladder.
type CheckpointInfo struct {
	EarliestHeight *uint64
	LastHeight     *uint64
	Count          int
}

// Checkpoints reports the current checkpoint ladder, for introspection.
func (e *Engine[B, S]) Checkpoints() CheckpointInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info := CheckpointInfo{Count: len(e.diskHeightsCheckpoints)}
	if e.earliestCheckpointHeight != nil {
		h := *e.earliestCheckpointHeight
		info.EarliestHeight = &h
	}
	if e.lastCheckpointHeight != nil {
		h := *e.lastCheckpointHeight
		info.LastHeight = &h
	}
	return info
}

// BlockHeight returns the canonical height of hash, if it is canonical.
func (e *Engine[B, S]) BlockHeight(hash types.Hash) (uint64, bool) {
	block, ok := e.Query(hash)
	if !ok {
		return 0, false
	}
	return block.Height(), true
}

func (e *Engine[B, S]) updateMaxOrphanHeight(newHeight uint64) {
	if e.maxOrphanHeight == nil || newHeight > *e.maxOrphanHeight {
		h := newHeight
		e.maxOrphanHeight = &h
	}
}

// recomputeMaxOrphanHeight scans heights downward from the given height to
// find the new maximum after a height bucket becomes empty.
func (e *Engine[B, S]) recomputeMaxOrphanHeight(fromHeight uint64) {
	if fromHeight == 0 {
		e.maxOrphanHeight = nil
		return
	}
	current := fromHeight - 1
	for {
		if current == 0 {
			e.maxOrphanHeight = nil
			return
		}
		if entries, ok := e.heightsMapping[current]; ok && len(entries) > 0 {
			h := current
			e.maxOrphanHeight = &h
			return
		}
		current--
	}
}
