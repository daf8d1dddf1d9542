package host

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/exchange"
	"github.com/openswap-labs/openswap/pkg/ledger"
	"github.com/openswap-labs/openswap/pkg/storage"
)

// Env is a single-operator host environment. It stands in for the ledger
// runtime the contract core normally runs inside: it tracks asset balances
// per address, materializes attached transfers into contract custody, and
// executes the transfer-oracle calls the engine makes.
//
// Witnessing is caller-scoped: an invocation witnesses exactly the address it
// was opened for. The engine's signature checks remain the cryptographic
// authorization; the witness models invoker identity.
type Env struct {
	kv      storage.KV
	custody common.Address
}

var ErrInsufficientFunds = errors.New("host: insufficient funds for attached transfer")

func NewEnv(kv storage.KV, custody common.Address) *Env {
	return &Env{kv: kv, custody: custody}
}

// Mint credits an address out of thin air. Genesis and faucet use only.
func (e *Env) Mint(asset ledger.AssetID, addr common.Address, amount *big.Int) {
	e.credit(asset, addr, amount)
}

// BalanceOf returns the environment balance (not the exchange ledger
// entitlement) of addr in asset.
func (e *Env) BalanceOf(asset ledger.AssetID, addr common.Address) *big.Int {
	data, ok := e.kv.Get(assetKey(asset, addr))
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(data)
}

// NewInvocation opens an invocation for caller, moving the attached value
// into contract custody up front. If the caller cannot cover the attachment
// the invocation is not opened and nothing moves.
//
// The engine may still reject the call after the attachment has moved; the
// dispatch layer must then call Revert to return it, mirroring the
// whole-transaction rollback a real host performs on abort.
func (e *Env) NewInvocation(caller common.Address, attached []exchange.AttachedTransfer) (*Invocation, error) {
	for _, t := range attached {
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("host: non-positive attached amount for %s", t.Asset)
		}
		if e.BalanceOf(t.Asset, caller).Cmp(t.Amount) < 0 {
			return nil, fmt.Errorf("%w: %s of %s", ErrInsufficientFunds, t.Amount, t.Asset)
		}
	}
	for _, t := range attached {
		e.move(t.Asset, caller, e.custody, t.Amount)
	}
	return &Invocation{env: e, caller: caller, attached: attached}, nil
}

func (e *Env) credit(asset ledger.AssetID, addr common.Address, amount *big.Int) {
	bal := e.BalanceOf(asset, addr)
	bal.Add(bal, amount)
	e.kv.Set(assetKey(asset, addr), bal.Bytes())
}

// move transfers between environment balances; returns false when from
// cannot cover amount.
func (e *Env) move(asset ledger.AssetID, from, to common.Address, amount *big.Int) bool {
	bal := e.BalanceOf(asset, from)
	if bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	e.kv.Set(assetKey(asset, from), bal.Bytes())
	e.credit(asset, to, amount)
	return true
}

// assetKey: "asset:{id}:{address}" -> big-endian balance.
func assetKey(asset ledger.AssetID, addr common.Address) []byte {
	return []byte(fmt.Sprintf("asset:%s:%s", asset, addr.Hex()))
}

// Invocation is the per-call view handed to the engine.
type Invocation struct {
	env      *Env
	caller   common.Address
	attached []exchange.AttachedTransfer
	reverted bool
}

func (iv *Invocation) Witness(addr common.Address) bool {
	return addr == iv.caller
}

func (iv *Invocation) Attached() []exchange.AttachedTransfer {
	return iv.attached
}

func (iv *Invocation) TransferNative(asset ledger.AssetID, to common.Address, amount *big.Int) bool {
	return iv.env.move(asset, iv.env.custody, to, amount)
}

func (iv *Invocation) TransferToken(token ledger.AssetID, from, to common.Address, amount *big.Int) bool {
	return iv.env.move(token, from, to, amount)
}

// Revert returns the attached value to the caller after a rejected
// operation. Idempotent.
func (iv *Invocation) Revert() {
	if iv.reverted {
		return
	}
	iv.reverted = true
	for _, t := range iv.attached {
		iv.env.move(t.Asset, iv.env.custody, iv.caller, t.Amount)
	}
}

var _ exchange.Host = (*Invocation)(nil)
