package types

import (
	"fmt"
	"hash/crc32"
	"math/rand"
	"strconv"
)

// NodeID identifies a validator. Validator ids are small integers assigned
// at configuration time and shared by every node in the run.
type NodeID int32

func (id NodeID) String() string {
	return strconv.Itoa(int(id))
}

// BlockID is the compact value identifier carried by votes. The PROPOSAL
// message is the only one carrying the full block; PREVOTE and PRECOMMIT
// messages carry only the id, normally a hash of the value. Here it is the
// CRC-32 of the payload.
type BlockID uint32

// PayloadSize is the payload length of a well-formed block. Honest block
// producers emit exactly this many bytes; anything else fails Valid.
const PayloadSize = 4

// Block is the value consensus agrees on at each height. Equality is by ID:
// two blocks at the same height with different ids are distinct proposals.
type Block struct {
	Height  int64
	ID      BlockID
	Payload string
}

// NewBlock creates a block for a payload, computing its id.
func NewBlock(height int64, payload string) Block {
	return Block{
		Height:  height,
		ID:      PayloadID(payload),
		Payload: payload,
	}
}

// PayloadID computes the block id for a payload.
func PayloadID(payload string) BlockID {
	return BlockID(crc32.ChecksumIEEE([]byte(payload)))
}

// Valid reports whether the block is well-formed: the payload has the
// expected size and the id matches the payload.
func (b Block) Valid() bool {
	return len(b.Payload) == PayloadSize && b.ID == PayloadID(b.Payload)
}

func (b Block) String() string {
	return fmt.Sprintf("Block{h=%d id=%08x payload=%q}", b.Height, uint32(b.ID), b.Payload)
}

// CopyBlockID creates a copy of an optional block id. A nil id stays nil.
func CopyBlockID(id *BlockID) *BlockID {
	if id == nil {
		return nil
	}
	idCopy := *id
	return &idCopy
}

// BlockIDEqual compares two optional block ids, treating nil as the NIL value.
func BlockIDEqual(a, b *BlockID) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

const payloadAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomPayload returns a random payload of n letters. Pass nil to use the
// global source.
func RandomPayload(rng *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		if rng != nil {
			buf[i] = payloadAlphabet[rng.Intn(len(payloadAlphabet))]
		} else {
			buf[i] = payloadAlphabet[rand.Intn(len(payloadAlphabet))]
		}
	}
	return string(buf)
}

// ProduceBlock returns a fresh valid block for a height. This is the
// getValue() function from the paper: in the initial round of each height
// the proposer is free to choose the value to suggest.
func ProduceBlock(height int64) Block {
	return NewBlock(height, RandomPayload(nil, PayloadSize))
}
