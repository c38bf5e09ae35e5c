package blockchain

import (
	"errors"
	"time"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/chainstate"
	"github.com/chronodrachma/chrd/pkg/core/consensus"
	"github.com/chronodrachma/chrd/pkg/core/types"
)

var (
	ErrInsufficientBalance = errors.New("sender balance too low for amount and fee")
	ErrInvalidNonce        = errors.New("transaction nonce does not match sender's next nonce")
)

// PoWRules implements engine.Rules[*types.Block, *chainstate.State]: it is
// the chrd-specific glue between the generic engine and this chain's
// concrete block format, PoW hasher, and account ledger.
type PoWRules struct {
	*chainstate.Codec

	hasher       consensus.Hasher
	genesis      *types.Block
	genesisState *chainstate.State
	afterWrite   func(*types.Block)
}

// SetAfterWrite installs the callback invoked by AfterWrite. Chain wires
// this to its tip-subscriber fan-out after construction (the rules object
// must exist before the Chain that owns the callback).
func (r *PoWRules) SetAfterWrite(fn func(*types.Block)) {
	r.afterWrite = fn
}

// NewPoWRules constructs the rules for a chain whose genesis block and
// genesis ledger are fixed by config.
func NewPoWRules(store chainkv.Store, hasher consensus.Hasher, genesis *types.Block, genesisState *chainstate.State) *PoWRules {
	return &PoWRules{
		Codec:        chainstate.NewCodec(store),
		hasher:       hasher,
		genesis:      genesis,
		genesisState: genesisState,
	}
}

func (r *PoWRules) Genesis() *types.Block {
	return r.genesis
}

func (r *PoWRules) GenesisState() *chainstate.State {
	return r.genesisState.Duplicate()
}

func (r *PoWRules) FromBytes(data []byte) (*types.Block, error) {
	return types.BlockFromBytes(data)
}

// AfterWrite runs the installed callback, if any, synchronously under the
// engine's lock.
func (r *PoWRules) AfterWrite(block *types.Block) {
	if r.afterWrite != nil {
		r.afterWrite(block)
	}
}

// AppendCondition validates block in isolation (merkle root, block hash,
// PoW) via validateBlockInternal, enforces monotonic timestamps using the
// prior state's LastTimestamp (rather than a direct parent-block
// reference, which the engine does not pass), and applies its
// transactions to derive the next ledger state.
func (r *PoWRules) AppendCondition(block *types.Block, prior *chainstate.State) (*chainstate.State, error) {
	if err := validateBlockInternal(block, r.hasher); err != nil {
		return nil, err
	}
	if !prior.LastTimestamp.IsZero() && !block.Header.Timestamp.After(prior.LastTimestamp) {
		return nil, ErrTimestampTooOld
	}
	if block.Header.Timestamp.After(time.Now().Add(MaxFutureBlockTime)) {
		return nil, ErrTimestampTooFar
	}

	next := prior.Duplicate()
	for _, tx := range block.Transactions {
		if tx.Type == types.TxTypeCoinbase {
			next.Credit(tx.To, tx.Amount)
			continue
		}
		if next.Balance(tx.From) < tx.Amount+tx.Fee {
			return nil, ErrInsufficientBalance
		}
		if tx.Nonce != next.Nonce(tx.From) {
			return nil, ErrInvalidNonce
		}
		next.Debit(tx.From, tx.Amount+tx.Fee, tx.Nonce)
		next.Credit(tx.To, tx.Amount)
	}
	next.LastTimestamp = block.Header.Timestamp
	return next, nil
}
