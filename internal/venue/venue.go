package venue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Settler receives a venue's flash-swap settlement callback. The venue calls
// it after optimistically transferring the output, passing the pool that is
// owed, the asset it must be repaid in, the amount owed, and the opaque
// payload attached to the flash request. The flash swap fails unless the pool
// holds the owed amount when the callback returns.
type Settler interface {
	SettleFlashSwap(pool, repayAsset common.Address, amountOwed *big.Int, payload []byte) error
}
