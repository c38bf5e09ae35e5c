package miner

import (
	"testing"
	"time"

	"github.com/chronodrachma/chrd/pkg/core/blockchain"
	"github.com/chronodrachma/chrd/pkg/core/chainkv"
	"github.com/chronodrachma/chrd/pkg/core/consensus"
	"github.com/chronodrachma/chrd/pkg/core/engine"
	"github.com/chronodrachma/chrd/pkg/core/mempool"
	"github.com/chronodrachma/chrd/pkg/core/types"
	"github.com/chronodrachma/chrd/pkg/p2p"
)

type SlowHasher struct {
	inner consensus.Hasher
	delay time.Duration
}

func (h *SlowHasher) Hash(headerBytes []byte) (types.Hash, error) {
	time.Sleep(h.delay)
	return h.inner.Hash(headerBytes)
}

func (h *SlowHasher) Close() {
	h.inner.Close()
}

func testEngineLimits() engine.Limits {
	return engine.Limits{
		MaxOrphans:         100,
		SwitchOffset:       0,
		MinHeight:          1000,
		MaxHeight:          1000,
		CheckpointInterval: 1000,
		MaxCheckpoints:     3,
	}
}

func mustNewTestChain(t *testing.T, hasher consensus.Hasher, minerAddr types.Hash) (*blockchain.Chain, chainkv.Store, *types.Block) {
	t.Helper()
	store, err := chainkv.NewBadgerStore("") // In-memory
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	// Difficulty 0 so genesis and the miner's first blocks pass PoW instantly.
	chain, err := blockchain.NewChain(store, hasher, minerAddr, 0, time.Now().Add(-1*time.Hour), testEngineLimits(), false)
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}
	return chain, store, chain.Genesis()
}

func TestMiner_Mining(t *testing.T) {
	// Use SlowHasher to prevent mining too fast
	hasher := &SlowHasher{inner: consensus.NewSHA256Hasher(), delay: 10 * time.Millisecond}
	defer hasher.Close()

	minerAddr := types.Hash{0x01}
	chain, store, genesis := mustNewTestChain(t, hasher, minerAddr)
	defer store.Close()

	mp := mempool.NewMempool(chain)
	p2pServer := p2p.NewServer(p2p.ServerConfig{}, chain, mp)

	miner := NewMiner(chain, hasher, p2pServer, mp, minerAddr)

	// Start mining
	miner.Start()

	// Wait for a block
	timeout := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	found := false
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for block")
		case <-ticker.C:
			if chain.Height() > 0 {
				found = true
			}
		}
		if found {
			break
		}
	}

	miner.Stop()

	tip := chain.Tip()
	if tip.Header.Height < 1 {
		t.Errorf("expected height >= 1, got %d", tip.Header.Height)
	}
	// Check the chain still originates from the same genesis.
	ancestor, err := chain.GetBlockByHeight(0)
	if err != nil || ancestor.Hash != genesis.Hash {
		t.Errorf("chain does not originate from genesis: %v, %v", ancestor, err)
	}
}

func TestMiner_TipUpdate(t *testing.T) {
	// Slower hasher for tip update test to control pace
	hasher := &SlowHasher{inner: consensus.NewSHA256Hasher(), delay: 50 * time.Millisecond}
	defer hasher.Close()

	minerAddr := types.Hash{0x01}
	chain, store, _ := mustNewTestChain(t, hasher, minerAddr)
	defer store.Close()

	mp := mempool.NewMempool(chain)
	p2pServer := p2p.NewServer(p2p.ServerConfig{}, chain, mp)

	miner := NewMiner(chain, hasher, p2pServer, mp, minerAddr)

	miner.Start()
	defer miner.Stop()

	// Wait for Height 1
	timeout := time.After(2 * time.Second)
	for chain.Height() == 0 {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for block 1")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	tip1 := chain.Tip()

	// Now Miner is working on Height 2. Inject a valid Height 2 block (b2)
	// built with a fast hasher, to force the chain to switch onto it.
	fastHasher := consensus.NewSHA256Hasher()
	defer fastHasher.Close()
	b2 := buildManualBlock(t, fastHasher, tip1, minerAddr)

	if err := chain.AddBlock(b2); err != nil {
		t.Fatalf("failed to add manual block 2: %v", err)
	}

	// Wait for Height 3: the miner should notice its in-flight Height-2
	// attempt (parented on tip1) lost the race, restart on b2, and mine
	// Height 3 on top of it.
	timeout = time.After(5 * time.Second)
	found3 := false
Loop:
	for {
		if chain.Height() >= 3 {
			found3 = true
			break Loop
		}
		select {
		case <-timeout:
			break Loop
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}

	if !found3 {
		t.Fatalf("timed out waiting for block 3. Current height: %d", chain.Height())
	}

	tip3 := chain.Tip()
	if tip3.Header.Height < 3 {
		t.Errorf("expected height >= 3")
	}

	b2Canon, _ := chain.GetBlockByHeight(2)
	if b2Canon.Hash != b2.Hash {
		t.Errorf("miner did not switch to b2. Canon H2: %x, Expected: %x", b2Canon.Hash, b2.Hash)
	}
}

func buildManualBlock(t *testing.T, hasher consensus.Hasher, parent *types.Block, miner types.Hash) *types.Block {
	t.Helper()
	height := parent.Header.Height + 1
	coinbase := &types.Transaction{
		Type: types.TxTypeCoinbase, Timestamp: time.Now(), From: types.ZeroHash, To: miner, Amount: blockchain.BlockReward(height), Nonce: height,
	}
	coinbase.ID = coinbase.ComputeID()

	block := &types.Block{
		Header: types.BlockHeader{
			Version: 1, Height: height, Timestamp: time.Now(), PrevBlockHash: parent.Hash,
			MerkleRoot: types.ComputeMerkleRoot([]*types.Transaction{coinbase}),
			Difficulty: 0, Nonce: 0, // Diff 0 for easy mining
		},
		Transactions: []*types.Transaction{coinbase},
	}

	// Mine it
	for {
		block.Hash = block.ComputeHash()
		pow, _ := hasher.Hash(block.Header.Serialize())
		block.PowHash = pow
		if consensus.MeetsDifficulty(pow, 0) {
			break
		}
		block.Header.Nonce++
	}
	return block
}
