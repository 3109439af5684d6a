package swapmath

import (
	"errors"
	"math/big"
	"testing"

	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
	assetC = common.HexToAddress("0x00000000000000000000000000000000000000Cc")
)

func staticReserves(t *testing.T, table map[[2]common.Address][2]int64) ReserveReader {
	t.Helper()
	return func(a, b common.Address) (*big.Int, *big.Int, error) {
		if r, ok := table[[2]common.Address{a, b}]; ok {
			return big.NewInt(r[0]), big.NewInt(r[1]), nil
		}
		if r, ok := table[[2]common.Address{b, a}]; ok {
			return big.NewInt(r[1]), big.NewInt(r[0]), nil
		}
		return nil, nil, apperrors.ErrPoolNotFound
	}
}

func TestQuoteInGivenOutDocumentedFormula(t *testing.T) {
	// (10000*100*1000)/((5000-100)*997) + 1
	amountIn, err := QuoteInGivenOut(big.NewInt(100), big.NewInt(10_000), big.NewInt(5_000))
	require.NoError(t, err)

	want := new(big.Int).Mul(big.NewInt(10_000*100), big.NewInt(1000))
	want.Quo(want, new(big.Int).Mul(big.NewInt(5_000-100), big.NewInt(997)))
	want.Add(want, big.NewInt(1))
	require.Equal(t, want, amountIn)
	require.Equal(t, "205", amountIn.String())
}

func TestQuoteInGivenOutExactDivision(t *testing.T) {
	// 900*997*1000 divides evenly by (2797-997)*997; the ceiling is the
	// quotient itself, not quotient+1, so the quoted input round-trips to
	// exactly the requested output.
	amountIn, err := QuoteInGivenOut(big.NewInt(997), big.NewInt(900), big.NewInt(2_797))
	require.NoError(t, err)
	require.Equal(t, "500", amountIn.String())

	amountOut, err := QuoteOutGivenIn(amountIn, big.NewInt(900), big.NewInt(2_797))
	require.NoError(t, err)
	require.Equal(t, "997", amountOut.String())
}

func TestQuoteOutGivenInFloor(t *testing.T) {
	out, err := QuoteOutGivenIn(big.NewInt(1000), big.NewInt(10_000), big.NewInt(5_000))
	require.NoError(t, err)
	// 997*1000*5000 / (10000*1000 + 997*1000) = 4985000000/10997000
	require.Equal(t, "453", out.String())
}

func TestQuoteErrorsOnBadInputs(t *testing.T) {
	_, err := QuoteOutGivenIn(big.NewInt(0), big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrInsufficientInput)

	_, err = QuoteOutGivenIn(big.NewInt(1), big.NewInt(0), big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrInsufficientLiquidity)

	_, err = QuoteInGivenOut(big.NewInt(0), big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrInsufficientOutput)

	_, err = QuoteInGivenOut(big.NewInt(5_000), big.NewInt(10_000), big.NewInt(5_000))
	require.ErrorIs(t, err, apperrors.ErrInsufficientLiquidity)

	huge := new(big.Int).Lsh(big.NewInt(1), 257)
	_, err = QuoteOutGivenIn(huge, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrArithmeticOverflow)
}

// Taking the ceiling-quoted input back through the floor-quoted output must
// never return less than the requested output.
func TestQuoteRoundTripNeverUnderpays(t *testing.T) {
	reserves := [][2]int64{
		{10_000, 5_000},
		{1_000_000, 1_000_000},
		{123_457, 7_919},
		{3, 1_000_003},
	}
	outputs := []int64{1, 7, 100, 999}

	for _, r := range reserves {
		for _, y := range outputs {
			if y >= r[1] {
				continue
			}
			amountIn, err := QuoteInGivenOut(big.NewInt(y), big.NewInt(r[0]), big.NewInt(r[1]))
			require.NoError(t, err)
			amountOut, err := QuoteOutGivenIn(amountIn, big.NewInt(r[0]), big.NewInt(r[1]))
			require.NoError(t, err)
			require.GreaterOrEqual(t, amountOut.Int64(), y,
				"reserves=%v out=%d in=%s", r, y, amountIn)
		}
	}
}

// Feeding the quoted chain input back through the forward direction must
// deliver at least the output it was sized for.
func TestChainQuoteComposition(t *testing.T) {
	reserves := staticReserves(t, map[[2]common.Address][2]int64{
		{assetB, assetC}: {10_000_000, 8_000_000},
		{assetC, assetA}: {9_000_000, 5_000_000},
	})
	path := []common.Address{assetB, assetC, assetA}

	x := big.NewInt(250_000)
	in, err := ChainQuoteIn(reserves, path, x)
	require.NoError(t, err)
	require.Len(t, in, 3)
	require.Equal(t, x, in[0], "entry 0 is the terminal output")

	out, err := ChainQuoteOut(reserves, path, in[len(in)-1])
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, in[len(in)-1], out[0], "entry 0 is the first-hop input")

	final := out[len(out)-1]
	require.GreaterOrEqual(t, final.Int64(), x.Int64())
}

func TestChainQuoteInReversedOrder(t *testing.T) {
	reserves := staticReserves(t, map[[2]common.Address][2]int64{
		{assetB, assetC}: {10_000, 8_000},
		{assetC, assetA}: {9_000, 5_000},
	})
	path := []common.Address{assetB, assetC, assetA}

	amounts, err := ChainQuoteIn(reserves, path, big.NewInt(100))
	require.NoError(t, err)

	// Reverse order relative to the path: [out at A, in at C, in at B].
	hop1, err := QuoteInGivenOut(big.NewInt(100), big.NewInt(9_000), big.NewInt(5_000))
	require.NoError(t, err)
	hop0, err := QuoteInGivenOut(hop1, big.NewInt(10_000), big.NewInt(8_000))
	require.NoError(t, err)

	require.Equal(t, big.NewInt(100), amounts[0])
	require.Equal(t, hop1, amounts[1])
	require.Equal(t, hop0, amounts[2])
}

func TestChainQuotePathTooShort(t *testing.T) {
	reserves := staticReserves(t, nil)
	_, err := ChainQuoteIn(reserves, []common.Address{assetA}, big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrInvalidAction)
	_, err = ChainQuoteOut(reserves, nil, big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrInvalidAction)
}

func TestChainQuoteNilAmount(t *testing.T) {
	reserves := staticReserves(t, map[[2]common.Address][2]int64{
		{assetA, assetB}: {1_000, 1_000},
	})
	path := []common.Address{assetA, assetB}

	_, err := ChainQuoteIn(reserves, path, nil)
	require.ErrorIs(t, err, apperrors.ErrInsufficientOutput)
	_, err = ChainQuoteOut(reserves, path, nil)
	require.ErrorIs(t, err, apperrors.ErrInsufficientInput)
}

func TestChainQuoteUnknownPool(t *testing.T) {
	reserves := staticReserves(t, nil)
	_, err := ChainQuoteOut(reserves, []common.Address{assetA, assetB}, big.NewInt(1))
	require.True(t, errors.Is(err, apperrors.ErrPoolNotFound))
}

func BenchmarkQuoteOutGivenIn(b *testing.B) {
	amountIn := big.NewInt(1_000_000)
	reserveIn := new(big.Int).Mul(big.NewInt(5_000_000), big.NewInt(1e18))
	reserveOut := new(big.Int).Mul(big.NewInt(10_000_000), big.NewInt(1e18))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := QuoteOutGivenIn(amountIn, reserveIn, reserveOut); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQuoteInGivenOut(b *testing.B) {
	amountOut := big.NewInt(1_000_000)
	reserveIn := new(big.Int).Mul(big.NewInt(5_000_000), big.NewInt(1e18))
	reserveOut := new(big.Int).Mul(big.NewInt(10_000_000), big.NewInt(1e18))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := QuoteInGivenOut(amountOut, reserveIn, reserveOut); err != nil {
			b.Fatal(err)
		}
	}
}
