package blockchain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/chainstate"
	"github.com/chronodrachma/chrd/pkg/core/consensus"
	"github.com/chronodrachma/chrd/pkg/core/engine"
	"github.com/chronodrachma/chrd/pkg/core/types"
	"github.com/chronodrachma/chrd/pkg/log"
	"github.com/chronodrachma/chrd/pkg/metrics"
)

var (
	ErrBlockNotFound = errors.New("block not found")
)

var logger = log.New("chain")

// TxPool defines the interface for Mempool interaction.
type TxPool interface {
	AddTransaction(tx *types.Transaction) error
	RemoveTransactions(txs []*types.Transaction)
}

// Chain is the chrd-specific façade over the generic fork-choice engine:
// it wires PoWRules (block/state semantics) into engine.Engine and adds
// the read-side niceties (subscriptions, a query cache) the engine itself
// doesn't know about.
type Chain struct {
	eng     *engine.Engine[*types.Block, *chainstate.State]
	rules   *PoWRules
	cache   *Cache
	metrics *metrics.Chain

	mu   sync.Mutex
	pool TxPool

	subscribers []chan *types.Block
	subMu       sync.Mutex
}

// NewChain builds the genesis block deterministically from minerAddress,
// difficulty and timestamp, then restores or initializes the engine
// against store. Genesis is fixed at construction time rather than a
// separate, repeatable init call: the engine's Rules.Genesis() must be
// known before the engine can restore its tip, so genesis parameters are
// required up front.
func NewChain(store chainkv.Store, hasher consensus.Hasher, minerAddress types.Hash, difficulty uint64, timestamp time.Time, limits engine.Limits, archival bool) (*Chain, error) {
	genesisBlock, err := buildGenesisBlock(minerAddress, difficulty, timestamp, hasher)
	if err != nil {
		return nil, err
	}
	if err := ValidateGenesis(genesisBlock, hasher); err != nil {
		return nil, err
	}

	genesisState := chainstate.NewGenesis(timestamp)
	rules := NewPoWRules(store, hasher, genesisBlock, genesisState)

	eng, err := engine.New[*types.Block, *chainstate.State](store, rules, limits, genesisState, archival)
	if err != nil {
		return nil, err
	}

	cache, err := NewCache(256)
	if err != nil {
		return nil, err
	}

	chainMetrics, err := metrics.NewChain()
	if err != nil {
		return nil, err
	}

	c := &Chain{eng: eng, rules: rules, cache: cache, metrics: chainMetrics}
	rules.SetAfterWrite(func(block *types.Block) {
		c.cache.Put(block)
		c.notifySubscribers(block)
	})
	return c, nil
}

func buildGenesisBlock(minerAddress types.Hash, difficulty uint64, timestamp time.Time, hasher consensus.Hasher) (*types.Block, error) {
	coinbase := &types.Transaction{
		Type:      types.TxTypeCoinbase,
		Timestamp: timestamp,
		From:      types.ZeroHash,
		To:        minerAddress,
		Amount:    types.BlockReward,
		Fee:       0,
		Nonce:     0,
	}
	coinbase.ID = coinbase.ComputeID()
	txs := []*types.Transaction{coinbase}

	header := types.BlockHeader{
		Version:       1,
		Height:        0,
		Timestamp:     timestamp,
		PrevBlockHash: types.ZeroHash,
		MerkleRoot:    types.ComputeMerkleRoot(txs),
		Difficulty:    difficulty,
		Nonce:         0,
	}

	block := &types.Block{Header: header, Transactions: txs}
	block.Hash = block.ComputeHash()

	powHash, err := hasher.Hash(header.Serialize())
	if err != nil {
		return nil, err
	}
	block.PowHash = powHash
	return block, nil
}

// SubscribeTip returns a channel receiving every new canonical tip.
func (c *Chain) SubscribeTip() <-chan *types.Block {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	ch := make(chan *types.Block, 1)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Chain) notifySubscribers(newTip *types.Block) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- newTip:
		default:
		}
	}
}

// SetMempool wires the mempool that AddBlock prunes included transactions
// from. Transactions displaced by a chain switch are not automatically
// returned to the pool: the engine's public API doesn't expose which
// blocks a switch displaced, only that a new block became canonical (see
// DESIGN.md).
func (c *Chain) SetMempool(pool TxPool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = pool
}

// AddBlock ingests block through the engine's fork-choice pipeline. It
// never returns an "orphan accepted" distinction to the caller: a nil
// error means the block was accepted, whether it became canonical
// immediately, joined the orphan pool, or triggered a reorg.
func (c *Chain) AddBlock(block *types.Block) error {
	start := time.Now()
	err := c.eng.AppendBlock(block)
	ctx := context.Background()
	c.metrics.RecordAppend(ctx, time.Since(start))
	c.metrics.RecordOrphanPoolSize(ctx, int64(c.eng.OrphanPoolSize()))
	if depth := c.eng.ConsumeReorgDepth(); depth > 0 {
		c.metrics.RecordReorg(ctx, int64(depth))
		logger.Warn("chain reorg", "depth", depth, "new_tip", c.eng.CanonicalTip().Hash, "new_height", c.eng.Height())
	}
	if err != nil {
		logger.Debug("block rejected", "hash", block.Hash, "height", block.Header.Height, "err", err)
		return err
	}
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool != nil {
		pool.RemoveTransactions(block.Transactions)
	}
	return nil
}

// Tip returns the current canonical tip.
func (c *Chain) Tip() *types.Block {
	return c.eng.CanonicalTip()
}

// Height returns the canonical chain height.
func (c *Chain) Height() uint64 {
	return c.eng.Height()
}

// GetBlockByHeight returns the canonical block at height.
func (c *Chain) GetBlockByHeight(height uint64) (*types.Block, error) {
	block, ok := c.eng.QueryByHeight(height)
	if !ok {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// GetBlockByHash returns the canonical block with the given hash,
// consulting the read-through cache first.
func (c *Chain) GetBlockByHash(hash types.Hash) (*types.Block, error) {
	if block, ok := c.cache.Get(hash); ok {
		return block, nil
	}
	block, ok := c.eng.Query(hash)
	if !ok {
		return nil, ErrBlockNotFound
	}
	c.cache.Put(block)
	return block, nil
}

// TotalSupply returns the total CHRD emitted up to the current tip.
func (c *Chain) TotalSupply() types.Amount {
	return TotalSupplyAtHeight(c.eng.Height())
}

// GetAccountState returns addr's current balance and next nonce, read
// from the engine's canonical ledger state rather than a genesis-to-tip
// scan. Balances are credited at inclusion height rather than gated by
// UTXO maturity (there is no UTXO set in an account-based ledger); see
// Confirmations for the block-depth notion of settledness this ledger
// supports instead.
func (c *Chain) GetAccountState(addr types.Hash) (types.Amount, uint64, error) {
	state := c.eng.State()
	return state.Balance(addr), state.Nonce(addr), nil
}

// Genesis returns the chain's genesis block.
func (c *Chain) Genesis() *types.Block {
	return c.eng.Genesis()
}

// Rewind moves the canonical tip back to the block with hash ancestorHash.
func (c *Chain) Rewind(ancestorHash types.Hash) error {
	return c.eng.Rewind(ancestorHash)
}

// Confirmations returns how many confirmations the canonical block with the
// given hash currently has, and whether it has matured past CoinbaseMaturity.
func (c *Chain) Confirmations(hash types.Hash) (uint64, bool, error) {
	block, err := c.GetBlockByHash(hash)
	if err != nil {
		return 0, false, err
	}
	confirmations := Confirmations(block.Header.Height, c.eng.Height())
	return confirmations, IsMature(block.Header.Height, c.eng.Height()), nil
}

// Orphans returns a snapshot of the engine's orphan pool.
func (c *Chain) Orphans() []engine.OrphanSummary {
	return c.eng.Orphans()
}

// Checkpoints reports the engine's current on-disk checkpoint ladder.
func (c *Chain) Checkpoints() engine.CheckpointInfo {
	return c.eng.Checkpoints()
}
