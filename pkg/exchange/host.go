package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/ledger"
)

// AttachedTransfer is native value delivered alongside the current
// invocation, before the engine runs.
type AttachedTransfer struct {
	Asset  ledger.AssetID
	Amount *big.Int
}

// Host is the execution environment's per-invocation interface. The host
// serializes invocations globally, proves caller identity, exposes the value
// attached to the current call, and executes asset movements. Transfer calls
// are synchronous: they either complete within the invocation or report
// failure.
type Host interface {
	// Witness reports whether the invoking context controls addr.
	Witness(addr common.Address) bool

	// Attached enumerates the native transfers carried by this invocation.
	Attached() []AttachedTransfer

	// TransferNative moves native-ledger value out of contract custody.
	TransferNative(asset ledger.AssetID, to common.Address, amount *big.Int) bool

	// TransferToken invokes the token contract's allowance/transfer call.
	TransferToken(token ledger.AssetID, from, to common.Address, amount *big.Int) bool
}

// attachedExactly reports whether the invocation carries exactly amount of
// asset and nothing else. Escrow and delivery both demand exact attachment;
// surplus value would be stranded in custody with no ledger claim on it.
func attachedExactly(host Host, asset ledger.AssetID, amount *big.Int) bool {
	total := new(big.Int)
	for _, t := range host.Attached() {
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			return false
		}
		if t.Asset != asset {
			return false
		}
		total.Add(total, t.Amount)
	}
	return total.Cmp(amount) == 0
}

// attachedNothing reports whether the invocation carries no native value.
func attachedNothing(host Host) bool {
	for _, t := range host.Attached() {
		if t.Amount != nil && t.Amount.Sign() != 0 {
			return false
		}
	}
	return true
}
