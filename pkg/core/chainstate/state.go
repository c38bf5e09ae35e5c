// Package chainstate holds the concrete, checkpointable ChainState the
// engine tracks per tip: an account ledger of balances and nonces. It
// generalizes an earlier Chain.GetAccountState, which recomputed this by
// scanning every block from genesis on every call, into an incremental
// state that the engine can checkpoint and replay forward from.
package chainstate

import (
	"time"

	"github.com/chronodrachma/chrd/pkg/core/types"
)

// State is the per-tip account ledger. The zero value is not usable;
// construct with NewGenesis.
type State struct {
	Balances map[types.Hash]types.Amount
	Nonces   map[types.Hash]uint64

	// LastTimestamp is the timestamp of the block that produced this
	// state, so AppendCondition can enforce strictly-increasing
	// timestamps without needing a reference to the parent block.
	LastTimestamp time.Time
}

// NewGenesis returns the empty ledger paired with the genesis block.
func NewGenesis(genesisTimestamp time.Time) *State {
	return &State{
		Balances:      make(map[types.Hash]types.Amount),
		Nonces:        make(map[types.Hash]uint64),
		LastTimestamp: genesisTimestamp,
	}
}

// Duplicate returns a deep, independent copy, satisfying engine.ChainState.
func (s *State) Duplicate() *State {
	out := &State{
		Balances:      make(map[types.Hash]types.Amount, len(s.Balances)),
		Nonces:        make(map[types.Hash]uint64, len(s.Nonces)),
		LastTimestamp: s.LastTimestamp,
	}
	for k, v := range s.Balances {
		out.Balances[k] = v
	}
	for k, v := range s.Nonces {
		out.Nonces[k] = v
	}
	return out
}

// Balance returns the account's spendable balance (0 if never seen).
func (s *State) Balance(addr types.Hash) types.Amount {
	return s.Balances[addr]
}

// Nonce returns the account's next expected nonce (0 if never seen).
func (s *State) Nonce(addr types.Hash) uint64 {
	return s.Nonces[addr]
}

// Credit adds amount to addr's balance.
func (s *State) Credit(addr types.Hash, amount types.Amount) {
	s.Balances[addr] += amount
}

// Debit subtracts amount from addr's balance and bumps its nonce. Callers
// must check Balance/Nonce themselves; Debit does not validate.
func (s *State) Debit(addr types.Hash, amount types.Amount, nonce uint64) {
	s.Balances[addr] -= amount
	s.Nonces[addr] = nonce + 1
}
