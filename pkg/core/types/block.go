package types

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"
)

// BlockHeader contains all metadata for a block.
type BlockHeader struct {
	Version       uint32
	Height        uint64
	Timestamp     time.Time
	PrevBlockHash Hash
	MerkleRoot    Hash
	Difficulty    uint64
	Nonce         uint64
}

// Serialize returns a deterministic 100-byte encoding of the header.
// Field order: Version(4) || Height(8) || Timestamp(8) || PrevBlockHash(32) ||
//
//	MerkleRoot(32) || Difficulty(8) || Nonce(8)
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, 100)
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint64(buf[4:12], h.Height)
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.Timestamp.Unix()))
	copy(buf[20:52], h.PrevBlockHash[:])
	copy(buf[52:84], h.MerkleRoot[:])
	binary.BigEndian.PutUint64(buf[84:92], h.Difficulty)
	binary.BigEndian.PutUint64(buf[92:100], h.Nonce)
	return buf
}

// Block is a complete block: header + body (transactions).
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Hash         Hash // SHA-256 of the serialized header (block identity).
	PowHash      Hash // PoW hash of the serialized header (proves work).
}

// ComputeHash computes the SHA-256 of the serialized header.
func (b *Block) ComputeHash() Hash {
	return ComputeSHA256(b.Header.Serialize())
}

// ComputeMerkleRoot computes the SHA-256 Merkle tree root of the transaction IDs.
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return ZeroHash
	}

	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.ID
	}

	for len(hashes) > 1 {
		var next []Hash
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				combined := append(hashes[i].Bytes(), hashes[i+1].Bytes()...)
				next = append(next, ComputeSHA256(combined))
			} else {
				// Odd element: duplicate it.
				combined := append(hashes[i].Bytes(), hashes[i].Bytes()...)
				next = append(next, ComputeSHA256(combined))
			}
		}
		hashes = next
	}

	return hashes[0]
}

// BlockHash returns the block's identity hash, satisfying engine.Block.
func (b *Block) BlockHash() Hash {
	return b.Hash
}

// ParentHash returns the hash of the preceding block.
func (b *Block) ParentHash() Hash {
	return b.Header.PrevBlockHash
}

// Height returns the block's chain height.
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// Timestamp returns the block's creation time.
func (b *Block) Timestamp() time.Time {
	return b.Header.Timestamp
}

// ToBytes gob-encodes the full block, the wire representation stored
// directly under its hash in the block store.
func (b *Block) ToBytes() []byte {
	var buf bytes.Buffer
	// A gob encode of a well-formed in-memory block cannot fail.
	_ = gob.NewEncoder(&buf).Encode(b)
	return buf.Bytes()
}

// BlockFromBytes decodes a block previously produced by (*Block).ToBytes.
func BlockFromBytes(data []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
