package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/storage"
)

// AssetID identifies an asset. For native assets it is the ledger symbol
// (e.g. "GAS"); for contract-issued tokens it is the token contract address
// in 0x-hex form. The ledger treats it as opaque.
type AssetID string

// ReasonCode classifies a balance change for audit. Opaque to the ledger.
type ReasonCode string

const (
	ReasonFillCredit     ReasonCode = "fill-credit"    // filler's claim on the offered asset
	ReasonFillProceeds   ReasonCode = "fill-proceeds"  // maker's claim on the delivered asset
	ReasonCancelRefund   ReasonCode = "cancel-refund"
	ReasonWithdraw       ReasonCode = "withdraw"
	ReasonWithdrawRevert ReasonCode = "withdraw-revert" // compensating credit after a failed external transfer
)

// ErrInvalidAmount is returned when a change magnitude is nil or not
// strictly positive. The ledger never stores zero-magnitude entries;
// direction is encoded by sign at append time.
var ErrInvalidAmount = errors.New("ledger: amount must be strictly positive")

// BalanceChange is one immutable entry in an address's change sequence.
// Positive Amount is a credit, negative a debit. Created once, never
// mutated, never deleted.
type BalanceChange struct {
	Asset  AssetID    `json:"asset"`
	Amount *big.Int   `json:"amount"`
	Reason ReasonCode `json:"reason"`
}

// Ledger maps an address to its ordered sequence of balance changes.
//
// It is a pure, order-preserving accumulator: it performs no sufficiency
// checks. The caller must prove a debit is covered before calling Decrease;
// the ledger will happily record a sequence that sums negative.
type Ledger struct {
	kv storage.KV
}

func New(kv storage.KV) *Ledger {
	return &Ledger{kv: kv}
}

// Increase appends a credit of the given magnitude.
func (l *Ledger) Increase(addr common.Address, asset AssetID, amount *big.Int, reason ReasonCode) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.append(addr, BalanceChange{Asset: asset, Amount: new(big.Int).Set(amount), Reason: reason})
	return nil
}

// Decrease appends a debit of the given magnitude (supplied positive,
// stored negative).
func (l *Ledger) Decrease(addr common.Address, asset AssetID, amount *big.Int, reason ReasonCode) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.append(addr, BalanceChange{Asset: asset, Amount: new(big.Int).Neg(amount), Reason: reason})
	return nil
}

// NetBalance sums every change for addr/asset. Append order does not affect
// the result; it is kept for audit only.
func (l *Ledger) NetBalance(addr common.Address, asset AssetID) *big.Int {
	net := new(big.Int)
	for _, c := range l.load(addr) {
		if c.Asset == asset {
			net.Add(net, c.Amount)
		}
	}
	return net
}

// Changes returns a copy of addr's full change sequence, in append order.
func (l *Ledger) Changes(addr common.Address) []BalanceChange {
	changes := l.load(addr)
	out := make([]BalanceChange, len(changes))
	for i, c := range changes {
		out[i] = BalanceChange{Asset: c.Asset, Amount: new(big.Int).Set(c.Amount), Reason: c.Reason}
	}
	return out
}

// ChangesForAsset returns addr's change sequence filtered to one asset.
func (l *Ledger) ChangesForAsset(addr common.Address, asset AssetID) []BalanceChange {
	var out []BalanceChange
	for _, c := range l.load(addr) {
		if c.Asset == asset {
			out = append(out, BalanceChange{Asset: c.Asset, Amount: new(big.Int).Set(c.Amount), Reason: c.Reason})
		}
	}
	return out
}

func (l *Ledger) append(addr common.Address, change BalanceChange) {
	changes := l.load(addr)
	changes = append(changes, change)
	data, err := json.Marshal(changes)
	if err != nil {
		panic(fmt.Errorf("ledger: marshal changes for %s: %w", addr.Hex(), err))
	}
	l.kv.Set(balanceKey(addr), data)
}

func (l *Ledger) load(addr common.Address) []BalanceChange {
	data, ok := l.kv.Get(balanceKey(addr))
	if !ok {
		return nil
	}
	var changes []BalanceChange
	if err := json.Unmarshal(data, &changes); err != nil {
		panic(fmt.Errorf("ledger: corrupt change sequence for %s: %w", addr.Hex(), err))
	}
	return changes
}

// balanceKey returns the store key for an address's change sequence.
// Format: "bal:{address}"
func balanceKey(addr common.Address) []byte {
	return []byte("bal:" + addr.Hex())
}
