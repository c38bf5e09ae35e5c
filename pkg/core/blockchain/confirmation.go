package blockchain

// CoinbaseMaturity is the number of confirmations, counting the block
// itself, before a block is considered settled (so 23 blocks on top of it).
// 24 blocks ~= 24 hours at a 1-hour target. There is no UTXO set to gate spendability against in the
// account-based ledger (see DESIGN.md); this now governs confirmation
// depth reporting instead.
const CoinbaseMaturity uint64 = 24

// Confirmations returns how many blocks sit on top of blockHeight given the
// current tip height, counting the block itself as its first confirmation.
// A block not yet canonical (blockHeight > tipHeight) has zero confirmations.
func Confirmations(blockHeight, tipHeight uint64) uint64 {
	if blockHeight > tipHeight {
		return 0
	}
	return tipHeight - blockHeight + 1
}

// IsMature returns true once a block has accumulated CoinbaseMaturity
// confirmations.
func IsMature(blockHeight, tipHeight uint64) bool {
	return Confirmations(blockHeight, tipHeight) >= CoinbaseMaturity
}
