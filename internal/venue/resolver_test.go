package venue

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	factory = common.HexToAddress("0xFac0000000000000000000000000000000000001")
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
)

func testResolver() *Resolver {
	return NewResolver(factory, crypto.Keccak256Hash([]byte("pool-init")))
}

func TestPoolIDOrderIndependent(t *testing.T) {
	r := testResolver()
	require.Equal(t, r.PoolID(tokenA, tokenB, 0), r.PoolID(tokenB, tokenA, 0))
	require.Equal(t, r.PoolID(tokenA, tokenB, 3000), r.PoolID(tokenB, tokenA, 3000))
}

func TestPoolIDDistinguishesFeeTiers(t *testing.T) {
	r := testResolver()
	base := r.PoolID(tokenA, tokenB, 0)
	require.NotEqual(t, base, r.PoolID(tokenA, tokenB, 500))
	require.NotEqual(t, r.PoolID(tokenA, tokenB, 500), r.PoolID(tokenA, tokenB, 3000))
}

func TestPoolIDDistinguishesFactories(t *testing.T) {
	other := NewResolver(common.HexToAddress("0xFac0000000000000000000000000000000000002"),
		crypto.Keccak256Hash([]byte("pool-init")))
	require.NotEqual(t, testResolver().PoolID(tokenA, tokenB, 0), other.PoolID(tokenA, tokenB, 0))
}

func TestSortAssetsCanonicalOrder(t *testing.T) {
	t0, t1 := SortAssets(tokenB, tokenA)
	require.Equal(t, tokenA, t0)
	require.Equal(t, tokenB, t1)
	t0, t1 = SortAssets(tokenA, tokenB)
	require.Equal(t, tokenA, t0)
	require.Equal(t, tokenB, t1)
}
