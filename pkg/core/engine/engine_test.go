package engine

import (
	"testing"

	"github.com/chronodrachma/chrd/pkg/core/types"
)

func TestAppendLinearChain(t *testing.T) {
	eng, _, store := newTestEngine(defaultTestLimits(), false)
	defer store.Close()

	genesis := eng.Genesis()
	b1 := newTestBlock(genesis.Hash, 1, 0)
	b2 := newTestBlock(b1.Hash, 2, 0)

	if err := eng.AppendBlock(b1); err != nil {
		t.Fatalf("append b1: %v", err)
	}
	if err := eng.AppendBlock(b2); err != nil {
		t.Fatalf("append b2: %v", err)
	}

	if got := eng.Height(); got != 2 {
		t.Fatalf("height = %d, want 2", got)
	}
	if tip := eng.CanonicalTip(); tip.Hash != b2.Hash {
		t.Fatalf("tip = %x, want %x", tip.Hash, b2.Hash)
	}
	if got := eng.State().Value; got != 2 {
		t.Fatalf("state value = %d, want 2", got)
	}
}

func TestAppendAlreadyInChain(t *testing.T) {
	eng, _, store := newTestEngine(defaultTestLimits(), false)
	defer store.Close()

	b1 := newTestBlock(eng.Genesis().Hash, 1, 0)
	if err := eng.AppendBlock(b1); err != nil {
		t.Fatalf("append b1: %v", err)
	}
	if err := eng.AppendBlock(b1); err != ErrAlreadyInChain {
		t.Fatalf("re-append = %v, want ErrAlreadyInChain", err)
	}
}

func TestAppendBadHeightWindow(t *testing.T) {
	limits := defaultTestLimits()
	limits.MinHeight = 2
	limits.MaxHeight = 2
	eng, _, store := newTestEngine(limits, false)
	defer store.Close()

	tooHigh := newTestBlock(eng.Genesis().Hash, 5, 0)
	if err := eng.AppendBlock(tooHigh); err != ErrBadHeight {
		t.Fatalf("append too-high = %v, want ErrBadHeight", err)
	}
}

func TestTooManyOrphans(t *testing.T) {
	limits := defaultTestLimits()
	limits.MaxOrphans = 1
	eng, _, store := newTestEngine(limits, false)
	defer store.Close()

	o1 := newTestBlock(types.ComputeSHA256([]byte("nowhere-1")), 5, 0)
	o2 := newTestBlock(types.ComputeSHA256([]byte("nowhere-2")), 5, 1)

	if err := eng.AppendBlock(o1); err != nil {
		t.Fatalf("append o1: %v", err)
	}
	if err := eng.AppendBlock(o2); err != ErrTooManyOrphans {
		t.Fatalf("append o2 = %v, want ErrTooManyOrphans", err)
	}
}

// TestUnknownParentAttachesOnArrival covers case (g) followed by the
// processOrphans promotion path: a block arrives before its parent, is
// held as a disconnected orphan, then gets promoted to canonical the
// moment its parent extends the tip.
func TestUnknownParentAttachesOnArrival(t *testing.T) {
	eng, _, store := newTestEngine(defaultTestLimits(), false)
	defer store.Close()

	genesis := eng.Genesis()
	b1 := newTestBlock(genesis.Hash, 1, 0)
	b2 := newTestBlock(b1.Hash, 2, 0)

	if err := eng.AppendBlock(b2); err != nil {
		t.Fatalf("append b2 (unknown parent): %v", err)
	}
	if got := eng.Height(); got != 0 {
		t.Fatalf("height after orphan = %d, want 0", got)
	}
	if got := eng.OrphanPoolSize(); got != 1 {
		t.Fatalf("orphan pool size = %d, want 1", got)
	}

	if err := eng.AppendBlock(b1); err != nil {
		t.Fatalf("append b1: %v", err)
	}

	if got := eng.Height(); got != 2 {
		t.Fatalf("height after attach = %d, want 2", got)
	}
	if tip := eng.CanonicalTip(); tip.Hash != b2.Hash {
		t.Fatalf("tip = %x, want b2 %x", tip.Hash, b2.Hash)
	}
	if got := eng.OrphanPoolSize(); got != 0 {
		t.Fatalf("orphan pool size after attach = %d, want 0", got)
	}
}

// TestForkSwitchesPastSwitchOffset builds a canonical chain to height 2,
// then grows a competing fork off height 1 until it exceeds canonical
// height by more than SwitchOffset, verifying attemptSwitch rewinds and
// replays onto the fork.
func TestForkSwitchesPastSwitchOffset(t *testing.T) {
	limits := defaultTestLimits()
	limits.SwitchOffset = 1
	eng, _, store := newTestEngine(limits, false)
	defer store.Close()

	genesis := eng.Genesis()
	a1 := newTestBlock(genesis.Hash, 1, 0)
	a2 := newTestBlock(a1.Hash, 2, 0)
	if err := eng.AppendBlock(a1); err != nil {
		t.Fatalf("append a1: %v", err)
	}
	if err := eng.AppendBlock(a2); err != nil {
		t.Fatalf("append a2: %v", err)
	}

	f2 := newTestBlock(a1.Hash, 2, 1) // fork off a1, same height as a2
	if err := eng.AppendBlock(f2); err != nil {
		t.Fatalf("append f2: %v", err)
	}
	if tip := eng.CanonicalTip(); tip.Hash != a2.Hash {
		t.Fatalf("tip after equal-height fork = %x, want a2 %x (no switch yet)", tip.Hash, a2.Hash)
	}

	f3 := newTestBlock(f2.Hash, 3, 0) // now leads by 1, still not > SwitchOffset(1)
	if err := eng.AppendBlock(f3); err != nil {
		t.Fatalf("append f3: %v", err)
	}
	if tip := eng.CanonicalTip(); tip.Hash != a2.Hash {
		t.Fatalf("tip after lead-by-1 fork = %x, want a2 %x (SwitchOffset not exceeded)", tip.Hash, a2.Hash)
	}

	f4 := newTestBlock(f3.Hash, 4, 0) // leads by 2, exceeds SwitchOffset(1)
	if err := eng.AppendBlock(f4); err != nil {
		t.Fatalf("append f4: %v", err)
	}
	if got := eng.Height(); got != 4 {
		t.Fatalf("height after switch = %d, want 4", got)
	}
	if tip := eng.CanonicalTip(); tip.Hash != f4.Hash {
		t.Fatalf("tip after switch = %x, want f4 %x", tip.Hash, f4.Hash)
	}

	// a2 should now be demoted into the orphan pool.
	orphans := eng.Orphans()
	found := false
	for _, o := range orphans {
		if o.Hash == a2.Hash {
			found = true
		}
	}
	if !found {
		t.Fatalf("a2 not found in orphan pool after switch")
	}
}

func TestRewind(t *testing.T) {
	eng, _, store := newTestEngine(defaultTestLimits(), false)
	defer store.Close()

	genesis := eng.Genesis()
	b1 := newTestBlock(genesis.Hash, 1, 0)
	b2 := newTestBlock(b1.Hash, 2, 0)
	b3 := newTestBlock(b2.Hash, 3, 0)
	for _, b := range []*testBlock{b1, b2, b3} {
		if err := eng.AppendBlock(b); err != nil {
			t.Fatalf("append %x: %v", b.Hash, err)
		}
	}

	if err := eng.Rewind(b1.Hash); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if got := eng.Height(); got != 1 {
		t.Fatalf("height after rewind = %d, want 1", got)
	}
	if tip := eng.CanonicalTip(); tip.Hash != b1.Hash {
		t.Fatalf("tip after rewind = %x, want b1 %x", tip.Hash, b1.Hash)
	}
	if got := eng.State().Value; got != 1 {
		t.Fatalf("state value after rewind = %d, want 1", got)
	}

	orphans := eng.Orphans()
	if len(orphans) != 2 {
		t.Fatalf("orphan pool after rewind = %d entries, want 2", len(orphans))
	}
}

// TestCheckpointReplayAndPruning exercises searchFetchNextState/
// fetchNextState via an engine restart (simulating a process that
// reopens against the same store) and confirms MaxCheckpoints is honored.
func TestCheckpointReplayAndPruning(t *testing.T) {
	limits := defaultTestLimits()
	limits.CheckpointInterval = 2
	limits.MaxCheckpoints = 2
	eng, rules, store := newTestEngine(limits, false)
	defer store.Close()

	parent := eng.Genesis().Hash
	for h := uint64(1); h <= 10; h++ {
		b := newTestBlock(parent, h, 0)
		if err := eng.AppendBlock(b); err != nil {
			t.Fatalf("append height %d: %v", h, err)
		}
		parent = b.Hash
	}

	info := eng.Checkpoints()
	if info.Count > int(limits.MaxCheckpoints) {
		t.Fatalf("checkpoint count = %d, want <= %d", info.Count, limits.MaxCheckpoints)
	}
	if info.LastHeight == nil || *info.LastHeight != 10 {
		t.Fatalf("last checkpoint height = %v, want 10", info.LastHeight)
	}

	// Simulate a restart: a fresh engine instance restoring from the same
	// store must recompute canonicalState via checkpoint-relative replay
	// rather than trust a caller-supplied initial state.
	restored, err := New[*testBlock, *testState](store, rules, limits, rules.GenesisState(), false)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.Height(); got != 10 {
		t.Fatalf("restored height = %d, want 10", got)
	}
	if got := restored.State().Value; got != 10 {
		t.Fatalf("restored state value = %d, want 10", got)
	}
}

// TestOrphanPromotionLeavesFailedNodeInPool covers processOrphans' side of
// the "Issue #109" decision that DESIGN.md records for makeValidTips and
// attemptAttachValid: an orphan whose AppendCondition fails
// when its parent becomes canonical is left in the orphan pool rather
// than evicted, while a sibling with the same parent still promotes
// normally.
func TestOrphanPromotionLeavesFailedNodeInPool(t *testing.T) {
	eng, rules, store := newTestEngine(defaultTestLimits(), false)
	defer store.Close()

	genesis := eng.Genesis()
	root := newTestBlock(genesis.Hash, 1, 0) // appended last, extends canonical directly

	// A fragment rooted on root's (not-yet-known) hash: d1, with two
	// height-3 children appended before root itself arrives.
	d1 := newTestBlock(root.Hash, 2, 0)
	good := newTestBlock(d1.Hash, 3, 0)
	bad := newTestBlock(d1.Hash, 3, 1)
	rules.rejectHashes = map[types.Hash]bool{bad.Hash: true}

	if err := eng.AppendBlock(d1); err != nil {
		t.Fatalf("append d1: %v", err)
	}
	if err := eng.AppendBlock(good); err != nil {
		t.Fatalf("append good: %v", err)
	}
	if err := eng.AppendBlock(bad); err != nil {
		t.Fatalf("append bad: %v", err)
	}

	// Appending root extends canonical genesis directly, which then lets
	// processOrphans walk forward and promote the d1 fragment.
	if err := eng.AppendBlock(root); err != nil {
		t.Fatalf("append root: %v", err)
	}

	stillOrphan := map[types.Hash]bool{}
	for _, o := range eng.Orphans() {
		stillOrphan[o.Hash] = true
	}
	if stillOrphan[good.Hash] {
		t.Fatalf("good sibling should have been promoted out of the orphan pool")
	}
	if !stillOrphan[bad.Hash] {
		t.Fatalf("bad sibling should remain in the orphan pool, unevicted, per the no-eviction design decision")
	}
}
