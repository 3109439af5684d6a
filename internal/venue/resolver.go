package venue

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Resolver derives a venue's canonical pool identity from an asset pair
// without any lookup, CREATE2-style: keccak over the sorted pair (plus the
// fee tier for venues that price per tier) salted against the venue factory.
type Resolver struct {
	factory      common.Address
	initCodeHash common.Hash
}

func NewResolver(factory common.Address, initCodeHash common.Hash) *Resolver {
	return &Resolver{factory: factory, initCodeHash: initCodeHash}
}

// SortAssets canonicalises a pair the way the venue itself sorts it:
// ascending byte order. Deriving an identity from an unsorted pair would
// produce an address no pool lives at.
func SortAssets(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// PoolID returns the pool identity for the pair. feePips of zero means the
// venue has a single fee tier and the tier is not part of the identity.
func (r *Resolver) PoolID(assetA, assetB common.Address, feePips uint32) common.Address {
	token0, token1 := SortAssets(assetA, assetB)

	salt := make([]byte, 0, 2*common.AddressLength+4)
	salt = append(salt, token0.Bytes()...)
	salt = append(salt, token1.Bytes()...)
	if feePips > 0 {
		var fee [4]byte
		binary.BigEndian.PutUint32(fee[:], feePips)
		salt = append(salt, fee[:]...)
	}

	var salt32 [32]byte
	copy(salt32[:], crypto.Keccak256(salt))
	return crypto.CreateAddress2(r.factory, salt32, r.initCodeHash.Bytes())
}
