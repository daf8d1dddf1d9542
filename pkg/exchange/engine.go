package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/crypto"
	"github.com/openswap-labs/openswap/pkg/ledger"
	"github.com/openswap-labs/openswap/pkg/storage"
)

// Engine is the offer state machine. It composes the balance ledger with the
// replay-protected offer index and the fill-matching protocol.
//
// The engine takes no locks: the host environment admits one invocation at a
// time and each operation runs to completion. The engine's own discipline is
// ordering: every precondition for the whole operation is checked before the
// first state write, so a failure anywhere leaves the store untouched.
type Engine struct {
	kv      storage.KV
	ledger  *ledger.Ledger
	typed   *crypto.TypedDataSigner
	custody common.Address
	emitter Emitter
}

// NewEngine creates an engine over the given store. custody is the contract's
// own address, the counterparty for token allowance/transfer calls.
func NewEngine(kv storage.KV, domain crypto.EIP712Domain, custody common.Address) *Engine {
	return &Engine{
		kv:      kv,
		ledger:  ledger.New(kv),
		typed:   crypto.NewTypedDataSigner(domain),
		custody: custody,
		emitter: NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Ledger exposes the balance ledger for queries.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// OfferHash derives the content-addressed index key from an offer's terms.
// The digest is also the message the maker signs.
func (e *Engine) OfferHash(terms *OfferTerms) (common.Hash, error) {
	digest, err := e.typed.HashOffer(terms.typed())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return common.BytesToHash(digest), nil
}

// MakeOffer validates and persists a new offer, taking the offered asset into
// custody. Returns the offer hash on success.
//
// The hash-as-key scheme makes the index content-addressed: resubmission of
// identical terms and nonce is detected by a single lookup, for the lifetime
// of the contract. Makers choose a fresh nonce for otherwise-identical
// offers.
func (e *Engine) MakeOffer(host Host, terms OfferTerms, sig []byte) (common.Hash, error) {
	if err := terms.validate(); err != nil {
		return common.Hash{}, err
	}
	if !host.Witness(terms.Maker) {
		return common.Hash{}, fmt.Errorf("%w: no witness for maker %s", ErrUnauthorized, terms.Maker.Hex())
	}
	hash, err := e.OfferHash(&terms)
	if err != nil {
		return common.Hash{}, err
	}
	if !crypto.VerifySignature(terms.Maker, hash.Bytes(), sig) {
		return common.Hash{}, fmt.Errorf("%w: offer signature does not verify", ErrUnauthorized)
	}
	if _, exists := e.kv.Get(offerKey(hash)); exists {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateOffer, hash.Hex())
	}

	// Escrow. For a native asset the invocation itself must carry exactly
	// the offered amount; for a token, no native value may ride along and
	// custody is established through the token contract. The token pull is
	// the last fallible step before the record writes.
	switch terms.OfferAsset.Category {
	case NativeAsset:
		if !attachedExactly(host, terms.OfferAsset.ID, terms.OfferAmount) {
			return common.Hash{}, fmt.Errorf("%w: attached value must be exactly %s %s",
				ErrInsufficientDelivery, terms.OfferAmount, terms.OfferAsset.ID)
		}
	case ContractToken:
		if !attachedNothing(host) {
			return common.Hash{}, fmt.Errorf("%w: native value attached to a token offer", ErrInvalidArgument)
		}
		if !host.TransferToken(terms.OfferAsset.ID, terms.Maker, e.custody, terms.OfferAmount) {
			return common.Hash{}, fmt.Errorf("%w: token escrow of %s %s",
				ErrTransferFailed, terms.OfferAmount, terms.OfferAsset.ID)
		}
	}

	rec := offerRecord{Maker: terms.Maker, Filled: new(big.Int)}
	e.kv.Set(offerKey(hash), rec.encode())
	e.kv.Set(pairKey(terms.OfferAsset.ID, terms.WantAsset.ID, hash), hash.Bytes())

	e.emitter.Emit(Event{Type: EventOfferCreated, Attributes: map[string]string{
		"hash":        hash.Hex(),
		"maker":       terms.Maker.Hex(),
		"offerAsset":  string(terms.OfferAsset.ID),
		"offerAmount": terms.OfferAmount.String(),
		"wantAsset":   string(terms.WantAsset.ID),
		"wantAmount":  terms.WantAmount.String(),
	}})
	return hash, nil
}

// FillOffer fills amountToFill of an open offer. The filler resupplies the
// full terms; the engine re-derives the hash and rejects on mismatch, so the
// minimal stored record can never be paired with forged terms.
//
// Required delivery is ceildiv(wantAmount × amountToFill, offerAmount): the
// division remainder rounds in the maker's favor, so partial fills can never
// extract the offered asset below the maker's asking ratio. Delivery must
// match the required amount exactly.
func (e *Engine) FillOffer(host Host, offerHash common.Hash, terms OfferTerms, filler common.Address, amountToFill *big.Int) error {
	if err := terms.validate(); err != nil {
		return err
	}
	if amountToFill == nil || amountToFill.Sign() <= 0 {
		return fmt.Errorf("%w: fill amount must be positive", ErrInvalidArgument)
	}
	if !host.Witness(filler) {
		return fmt.Errorf("%w: no witness for filler %s", ErrUnauthorized, filler.Hex())
	}

	rec, err := e.loadOffer(offerHash)
	if err != nil {
		return err
	}
	derived, err := e.OfferHash(&terms)
	if err != nil {
		return err
	}
	if derived != offerHash {
		return fmt.Errorf("%w: supplied terms hash %s does not match offer %s",
			ErrInvalidArgument, derived.Hex(), offerHash.Hex())
	}
	if filler == rec.Maker {
		return fmt.Errorf("%w: maker cannot fill own offer", ErrInvalidArgument)
	}

	remaining := new(big.Int).Sub(terms.OfferAmount, rec.Filled)
	if remaining.Sign() <= 0 {
		// filled > offer amount is corrupted state, not a validation
		// outcome; the record should have been tombstoned at the
		// boundary.
		panic(fmt.Errorf("exchange: offer %s filled %s beyond amount %s",
			offerHash.Hex(), rec.Filled, terms.OfferAmount))
	}
	if amountToFill.Cmp(remaining) > 0 {
		return fmt.Errorf("%w: fill %s exceeds remaining %s", ErrInvalidArgument, amountToFill, remaining)
	}

	required := mulDivCeil(terms.WantAmount, amountToFill, terms.OfferAmount)

	switch terms.WantAsset.Category {
	case NativeAsset:
		if !attachedExactly(host, terms.WantAsset.ID, required) {
			return fmt.Errorf("%w: fill requires exactly %s %s attached",
				ErrInsufficientDelivery, required, terms.WantAsset.ID)
		}
	case ContractToken:
		if !attachedNothing(host) {
			return fmt.Errorf("%w: native value attached to a token-delivery fill", ErrInvalidArgument)
		}
		if !host.TransferToken(terms.WantAsset.ID, filler, e.custody, required) {
			return fmt.Errorf("%w: token delivery of %s %s",
				ErrInsufficientDelivery, required, terms.WantAsset.ID)
		}
	}

	// Commit. Ledger appends cannot fail on positive magnitudes, so the
	// three effects below are observed all-or-nothing by the next call.
	if err := e.ledger.Increase(rec.Maker, terms.WantAsset.ID, required, ledger.ReasonFillProceeds); err != nil {
		panic(fmt.Errorf("exchange: credit maker: %w", err))
	}
	if err := e.ledger.Increase(filler, terms.OfferAsset.ID, amountToFill, ledger.ReasonFillCredit); err != nil {
		panic(fmt.Errorf("exchange: credit filler: %w", err))
	}

	rec.Filled.Add(rec.Filled, amountToFill)
	if rec.Filled.Cmp(terms.OfferAmount) == 0 {
		e.tombstone(offerHash, terms)
	} else {
		e.kv.Set(offerKey(offerHash), rec.encode())
	}

	e.emitter.Emit(Event{Type: EventOfferFilled, Attributes: map[string]string{
		"hash":      offerHash.Hex(),
		"maker":     rec.Maker.Hex(),
		"filler":    filler.Hex(),
		"amount":    amountToFill.String(),
		"delivered": required.String(),
		"filled":    rec.Filled.String(),
		"complete":  fmt.Sprintf("%t", rec.Filled.Cmp(terms.OfferAmount) == 0),
	}})
	return nil
}

// CancelOffer refunds the unfilled remainder to the maker and tombstones the
// offer. Only the maker may cancel, and there is no partial cancellation.
func (e *Engine) CancelOffer(host Host, offerHash common.Hash, terms OfferTerms, canceller common.Address, sig []byte) error {
	if err := terms.validate(); err != nil {
		return err
	}
	if !host.Witness(canceller) {
		return fmt.Errorf("%w: no witness for canceller %s", ErrUnauthorized, canceller.Hex())
	}
	digest, err := e.typed.HashCancel(&crypto.CancelEIP712{OfferHash: offerHash, Canceller: canceller})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !crypto.VerifySignature(canceller, digest, sig) {
		return fmt.Errorf("%w: cancel signature does not verify", ErrUnauthorized)
	}

	rec, err := e.loadOffer(offerHash)
	if err != nil {
		return err
	}
	derived, err := e.OfferHash(&terms)
	if err != nil {
		return err
	}
	if derived != offerHash {
		return fmt.Errorf("%w: supplied terms hash %s does not match offer %s",
			ErrInvalidArgument, derived.Hex(), offerHash.Hex())
	}
	if canceller != rec.Maker {
		return fmt.Errorf("%w: only the maker may cancel", ErrUnauthorized)
	}

	remainder := new(big.Int).Sub(terms.OfferAmount, rec.Filled)
	if remainder.Sign() <= 0 {
		panic(fmt.Errorf("exchange: offer %s live with no remainder", offerHash.Hex()))
	}
	if err := e.ledger.Increase(rec.Maker, terms.OfferAsset.ID, remainder, ledger.ReasonCancelRefund); err != nil {
		panic(fmt.Errorf("exchange: refund maker: %w", err))
	}
	e.tombstone(offerHash, terms)

	e.emitter.Emit(Event{Type: EventOfferCancelled, Attributes: map[string]string{
		"hash":     offerHash.Hex(),
		"maker":    rec.Maker.Hex(),
		"refunded": remainder.String(),
	}})
	return nil
}

// WithdrawAssets debits the holder's ledger balance and moves the assets to
// destination through the transfer oracle. A nil or zero amount withdraws the
// full net balance (the signed payload carries amount 0 for "all").
//
// The debit and the external transfer are one unit: if the oracle reports
// failure the debit is reversed with a compensating credit, so the net ledger
// effect is zero and the audit trail records the attempt.
func (e *Engine) WithdrawAssets(host Host, holder common.Address, asset Asset, destination common.Address, amount *big.Int, sig []byte) error {
	if err := asset.validate(); err != nil {
		return err
	}
	if !host.Witness(holder) {
		return fmt.Errorf("%w: no witness for holder %s", ErrUnauthorized, holder.Hex())
	}

	signedAmount := new(big.Int)
	if amount != nil {
		if amount.Sign() < 0 {
			return fmt.Errorf("%w: negative withdrawal amount", ErrInvalidArgument)
		}
		signedAmount.Set(amount)
	}
	digest, err := e.typed.HashWithdraw(&crypto.WithdrawEIP712{
		Holder:      holder,
		Asset:       string(asset.ID),
		Category:    uint8(asset.Category),
		Destination: destination,
		Amount:      signedAmount,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !crypto.VerifySignature(holder, digest, sig) {
		return fmt.Errorf("%w: withdraw signature does not verify", ErrUnauthorized)
	}

	net := e.ledger.NetBalance(holder, asset.ID)
	withdrawAmount := signedAmount
	if withdrawAmount.Sign() == 0 {
		withdrawAmount = net
	}
	if withdrawAmount.Sign() <= 0 || withdrawAmount.Cmp(net) > 0 {
		return fmt.Errorf("%w: net balance %s, requested %s", ErrInsufficientBalance, net, withdrawAmount)
	}

	if err := e.ledger.Decrease(holder, asset.ID, withdrawAmount, ledger.ReasonWithdraw); err != nil {
		panic(fmt.Errorf("exchange: debit holder: %w", err))
	}

	var moved bool
	switch asset.Category {
	case NativeAsset:
		moved = host.TransferNative(asset.ID, destination, withdrawAmount)
	case ContractToken:
		moved = host.TransferToken(asset.ID, e.custody, destination, withdrawAmount)
	}
	if !moved {
		if err := e.ledger.Increase(holder, asset.ID, withdrawAmount, ledger.ReasonWithdrawRevert); err != nil {
			panic(fmt.Errorf("exchange: revert debit: %w", err))
		}
		return fmt.Errorf("%w: %s %s to %s", ErrTransferFailed, withdrawAmount, asset.ID, destination.Hex())
	}

	e.emitter.Emit(Event{Type: EventAssetsWithdrawn, Attributes: map[string]string{
		"holder":      holder.Hex(),
		"asset":       string(asset.ID),
		"amount":      withdrawAmount.String(),
		"destination": destination.Hex(),
	}})
	return nil
}

// QueryOfferDetails returns the stored record bytes for an offer hash, or nil
// if the offer is absent or terminal.
func (e *Engine) QueryOfferDetails(offerHash common.Hash) []byte {
	data, ok := e.kv.Get(offerKey(offerHash))
	if !ok || len(data) == 0 {
		return nil
	}
	return data
}

// QueryOffers lists the live offers trading offerAsset for wantAsset.
func (e *Engine) QueryOffers(offerAsset, wantAsset ledger.AssetID) []OfferStatus {
	var out []OfferStatus
	e.kv.Scan(pairPrefix(offerAsset, wantAsset), func(_, value []byte) bool {
		hash := common.BytesToHash(value)
		data, ok := e.kv.Get(offerKey(hash))
		if !ok || len(data) == 0 {
			return true // index entry for a terminal offer; skip
		}
		rec, err := decodeOfferRecord(data)
		if err != nil {
			panic(fmt.Errorf("exchange: corrupt offer record %s: %w", hash.Hex(), err))
		}
		out = append(out, OfferStatus{Hash: hash, Maker: rec.Maker, Filled: rec.Filled})
		return true
	})
	return out
}

// loadOffer resolves an offer hash to its live record. A present-but-empty
// value is a tombstone: the offer reached a terminal state and must never be
// resurrected.
func (e *Engine) loadOffer(hash common.Hash) (offerRecord, error) {
	data, ok := e.kv.Get(offerKey(hash))
	if !ok {
		return offerRecord{}, fmt.Errorf("%w: %s", ErrOfferNotFound, hash.Hex())
	}
	if len(data) == 0 {
		return offerRecord{}, fmt.Errorf("%w: %s", ErrOfferTerminal, hash.Hex())
	}
	rec, err := decodeOfferRecord(data)
	if err != nil {
		panic(fmt.Errorf("exchange: corrupt offer record %s: %w", hash.Hex(), err))
	}
	return rec, nil
}

// tombstone marks an offer terminal. The key keeps an empty value forever so
// the hash can never be reused, and the pair index entry is dropped so the
// offer stops appearing in queries.
func (e *Engine) tombstone(hash common.Hash, terms OfferTerms) {
	e.kv.Set(offerKey(hash), []byte{})
	e.kv.Delete(pairKey(terms.OfferAsset.ID, terms.WantAsset.ID, hash))
}

// mulDivCeil computes ceil(a*b/den) for positive inputs.
func mulDivCeil(a, b, den *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
