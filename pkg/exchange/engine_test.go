package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/crypto"
	"github.com/openswap-labs/openswap/pkg/ledger"
	"github.com/openswap-labs/openswap/pkg/storage"
)

var custody = common.HexToAddress("0xCC00000000000000000000000000000000000000")

// fakeHost is a scriptable execution environment: it witnesses a fixed set
// of addresses, carries fixed attached value, and records oracle calls.
type fakeHost struct {
	witnessed map[common.Address]bool
	attached  []AttachedTransfer

	tokenOK  bool
	nativeOK bool

	tokenCalls  int
	nativeCalls int
}

func newFakeHost(callers ...common.Address) *fakeHost {
	w := make(map[common.Address]bool)
	for _, c := range callers {
		w[c] = true
	}
	return &fakeHost{witnessed: w, tokenOK: true, nativeOK: true}
}

func (h *fakeHost) withAttached(asset ledger.AssetID, amount int64) *fakeHost {
	h.attached = append(h.attached, AttachedTransfer{Asset: asset, Amount: big.NewInt(amount)})
	return h
}

func (h *fakeHost) Witness(addr common.Address) bool { return h.witnessed[addr] }

func (h *fakeHost) Attached() []AttachedTransfer { return h.attached }

func (h *fakeHost) TransferNative(ledger.AssetID, common.Address, *big.Int) bool {
	h.nativeCalls++
	return h.nativeOK
}

func (h *fakeHost) TransferToken(ledger.AssetID, common.Address, common.Address, *big.Int) bool {
	h.tokenCalls++
	return h.tokenOK
}

type testRig struct {
	engine *Engine
	kv     *storage.MemStore
	typed  *crypto.TypedDataSigner
	maker  *crypto.Signer
	taker  *crypto.Signer
}

func newTestRig(t *testing.T) *testRig {
	maker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	taker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	kv := storage.NewMemStore()
	domain := crypto.DefaultDomain()
	return &testRig{
		engine: NewEngine(kv, domain, custody),
		kv:     kv,
		typed:  crypto.NewTypedDataSigner(domain),
		maker:  maker,
		taker:  taker,
	}
}

// nativeTerms offers 100 GOLD (native) for 50 XRP (native).
func (r *testRig) nativeTerms() OfferTerms {
	return OfferTerms{
		Maker:       r.maker.Address(),
		OfferAsset:  Asset{ID: "GOLD", Category: NativeAsset},
		OfferAmount: big.NewInt(100),
		WantAsset:   Asset{ID: "XRP", Category: NativeAsset},
		WantAmount:  big.NewInt(50),
		Nonce:       big.NewInt(1),
	}
}

func (r *testRig) signOffer(t *testing.T, terms OfferTerms) []byte {
	sig, err := r.typed.SignOffer(r.maker, terms.typed())
	if err != nil {
		t.Fatalf("sign offer failed: %v", err)
	}
	return sig
}

func (r *testRig) signCancel(t *testing.T, signer *crypto.Signer, hash common.Hash) []byte {
	sig, err := r.typed.SignCancel(signer, &crypto.CancelEIP712{OfferHash: hash, Canceller: signer.Address()})
	if err != nil {
		t.Fatalf("sign cancel failed: %v", err)
	}
	return sig
}

func (r *testRig) signWithdraw(t *testing.T, signer *crypto.Signer, asset Asset, dest common.Address, amount int64) []byte {
	sig, err := r.typed.SignWithdraw(signer, &crypto.WithdrawEIP712{
		Holder:      signer.Address(),
		Asset:       string(asset.ID),
		Category:    uint8(asset.Category),
		Destination: dest,
		Amount:      big.NewInt(amount),
	})
	if err != nil {
		t.Fatalf("sign withdraw failed: %v", err)
	}
	return sig
}

// makeNative places the standard native offer with correct escrow attached.
func (r *testRig) makeNative(t *testing.T) (common.Hash, OfferTerms) {
	terms := r.nativeTerms()
	host := newFakeHost(terms.Maker).withAttached("GOLD", 100)
	hash, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms))
	if err != nil {
		t.Fatalf("make offer failed: %v", err)
	}
	return hash, terms
}

// ==============================
// MakeOffer
// ==============================

func TestMakeOfferNative(t *testing.T) {
	r := newTestRig(t)
	hash, terms := r.makeNative(t)

	if r.engine.QueryOfferDetails(hash) == nil {
		t.Fatal("offer record not stored")
	}
	offers := r.engine.QueryOffers(terms.OfferAsset.ID, terms.WantAsset.ID)
	if len(offers) != 1 {
		t.Fatalf("got %d offers, want 1", len(offers))
	}
	if offers[0].Maker != terms.Maker {
		t.Errorf("maker = %s, want %s", offers[0].Maker.Hex(), terms.Maker.Hex())
	}
	if offers[0].Filled.Sign() != 0 {
		t.Errorf("fresh offer filled = %s, want 0", offers[0].Filled)
	}

	// Escrow never creates ledger entries; entitlements come from fills.
	if got := len(r.engine.Ledger().Changes(terms.Maker)); got != 0 {
		t.Errorf("escrow wrote %d ledger changes", got)
	}
}

func TestMakeOfferDuplicate(t *testing.T) {
	r := newTestRig(t)
	_, terms := r.makeNative(t)

	host := newFakeHost(terms.Maker).withAttached("GOLD", 100)
	_, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms))
	if !errors.Is(err, ErrDuplicateOffer) {
		t.Errorf("got %v, want ErrDuplicateOffer", err)
	}

	// A fresh nonce makes a distinct offer.
	terms.Nonce = big.NewInt(2)
	host = newFakeHost(terms.Maker).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); err != nil {
		t.Errorf("fresh nonce rejected: %v", err)
	}
}

func TestMakeOfferUnauthorized(t *testing.T) {
	r := newTestRig(t)
	terms := r.nativeTerms()

	// No witness for the maker.
	host := newFakeHost(r.taker.Address()).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("no witness: got %v, want ErrUnauthorized", err)
	}

	// Witnessed but signed by someone else.
	wrongSig, err := r.typed.SignOffer(r.taker, terms.typed())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	host = newFakeHost(terms.Maker).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(host, terms, wrongSig); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong signer: got %v, want ErrUnauthorized", err)
	}

	if r.kv.Len() != 0 {
		t.Errorf("rejected offers wrote %d keys", r.kv.Len())
	}
}

func TestMakeOfferEscrowMismatch(t *testing.T) {
	r := newTestRig(t)
	terms := r.nativeTerms()

	// Attached value must be exactly the offered amount.
	for _, attached := range []int64{0, 99, 101} {
		host := newFakeHost(terms.Maker)
		if attached > 0 {
			host.withAttached("GOLD", attached)
		}
		_, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms))
		if !errors.Is(err, ErrInsufficientDelivery) {
			t.Errorf("attached %d: got %v, want ErrInsufficientDelivery", attached, err)
		}
	}

	// Wrong asset attached.
	host := newFakeHost(terms.Maker).withAttached("XRP", 100)
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); !errors.Is(err, ErrInsufficientDelivery) {
		t.Errorf("wrong asset: got %v, want ErrInsufficientDelivery", err)
	}

	if r.kv.Len() != 0 {
		t.Errorf("rejected offers wrote %d keys", r.kv.Len())
	}
}

func TestMakeOfferTokenEscrow(t *testing.T) {
	r := newTestRig(t)
	terms := r.nativeTerms()
	terms.OfferAsset.Category = ContractToken

	// Native value riding on a token offer is malformed.
	host := newFakeHost(terms.Maker).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("attached value on token offer: got %v, want ErrInvalidArgument", err)
	}

	// Escrow pull failure rejects the offer and writes nothing.
	host = newFakeHost(terms.Maker)
	host.tokenOK = false
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); !errors.Is(err, ErrTransferFailed) {
		t.Errorf("failed pull: got %v, want ErrTransferFailed", err)
	}
	if r.kv.Len() != 0 {
		t.Errorf("rejected offer wrote %d keys", r.kv.Len())
	}

	// Successful pull is the one oracle call of the operation.
	host = newFakeHost(terms.Maker)
	if _, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms)); err != nil {
		t.Fatalf("make offer failed: %v", err)
	}
	if host.tokenCalls != 1 {
		t.Errorf("token oracle called %d times, want 1", host.tokenCalls)
	}
}

func TestMakeOfferInvalidTerms(t *testing.T) {
	r := newTestRig(t)

	bad := r.nativeTerms()
	bad.OfferAmount = big.NewInt(0)
	host := newFakeHost(bad.Maker)
	if _, err := r.engine.MakeOffer(host, bad, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero amount: got %v, want ErrInvalidArgument", err)
	}

	bad = r.nativeTerms()
	bad.WantAsset.Category = 7
	if _, err := r.engine.MakeOffer(host, bad, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad category: got %v, want ErrInvalidArgument", err)
	}

	bad = r.nativeTerms()
	bad.OfferAsset.ID = ""
	if _, err := r.engine.MakeOffer(host, bad, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty asset: got %v, want ErrInvalidArgument", err)
	}
}

// ==============================
// FillOffer
// ==============================

func TestFillOfferPartialThenComplete(t *testing.T) {
	r := newTestRig(t)
	hash, terms := r.makeNative(t)
	filler := r.taker.Address()

	// 60 of 100 requires ceil(50*60/100) = 30 XRP.
	host := newFakeHost(filler).withAttached("XRP", 30)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(60)); err != nil {
		t.Fatalf("partial fill failed: %v", err)
	}

	if net := r.engine.Ledger().NetBalance(terms.Maker, "XRP"); net.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("maker XRP = %s, want 30", net)
	}
	if net := r.engine.Ledger().NetBalance(filler, "GOLD"); net.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("filler GOLD = %s, want 60", net)
	}

	offers := r.engine.QueryOffers("GOLD", "XRP")
	if len(offers) != 1 || offers[0].Filled.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("offers after partial fill = %+v", offers)
	}

	// The remaining 40 requires 20 XRP and completes the offer.
	host = newFakeHost(filler).withAttached("XRP", 20)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(40)); err != nil {
		t.Fatalf("completing fill failed: %v", err)
	}

	if got := r.engine.QueryOffers("GOLD", "XRP"); len(got) != 0 {
		t.Errorf("completed offer still listed: %+v", got)
	}
	if r.engine.QueryOfferDetails(hash) != nil {
		t.Error("completed offer still queryable")
	}

	// Terminal offers reject further fills, forever.
	host = newFakeHost(filler).withAttached("XRP", 1)
	err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(1))
	if !errors.Is(err, ErrOfferTerminal) {
		t.Errorf("fill after completion: got %v, want ErrOfferTerminal", err)
	}

	// And the hash is burned for MakeOffer too.
	makerHost := newFakeHost(terms.Maker).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(makerHost, terms, r.signOffer(t, terms)); !errors.Is(err, ErrDuplicateOffer) {
		t.Errorf("remake after completion: got %v, want ErrDuplicateOffer", err)
	}

	// Totals across both fills equal the full terms.
	if net := r.engine.Ledger().NetBalance(terms.Maker, "XRP"); net.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("maker XRP total = %s, want 50", net)
	}
	if net := r.engine.Ledger().NetBalance(filler, "GOLD"); net.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("filler GOLD total = %s, want 100", net)
	}
}

func TestFillOfferRoundsAgainstFiller(t *testing.T) {
	r := newTestRig(t)

	// 3 GOLD for 10 XRP: filling 1 requires ceil(10/3) = 4.
	terms := r.nativeTerms()
	terms.OfferAmount = big.NewInt(3)
	terms.WantAmount = big.NewInt(10)
	host := newFakeHost(terms.Maker).withAttached("GOLD", 3)
	hash, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms))
	if err != nil {
		t.Fatalf("make offer failed: %v", err)
	}
	filler := r.taker.Address()

	// The floor amount is an under-delivery.
	under := newFakeHost(filler).withAttached("XRP", 3)
	if err := r.engine.FillOffer(under, hash, terms, filler, big.NewInt(1)); !errors.Is(err, ErrInsufficientDelivery) {
		t.Errorf("under-delivery: got %v, want ErrInsufficientDelivery", err)
	}

	// Over-delivery is rejected too: delivery must be exact.
	over := newFakeHost(filler).withAttached("XRP", 5)
	if err := r.engine.FillOffer(over, hash, terms, filler, big.NewInt(1)); !errors.Is(err, ErrInsufficientDelivery) {
		t.Errorf("over-delivery: got %v, want ErrInsufficientDelivery", err)
	}

	exact := newFakeHost(filler).withAttached("XRP", 4)
	if err := r.engine.FillOffer(exact, hash, terms, filler, big.NewInt(1)); err != nil {
		t.Fatalf("exact fill failed: %v", err)
	}
	if net := r.engine.Ledger().NetBalance(terms.Maker, "XRP"); net.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("maker XRP = %s, want 4", net)
	}
}

func TestFillOfferRejections(t *testing.T) {
	r := newTestRig(t)
	hash, terms := r.makeNative(t)
	filler := r.taker.Address()

	// Unknown offer.
	host := newFakeHost(filler).withAttached("XRP", 1)
	err := r.engine.FillOffer(host, common.HexToHash("0xdead"), terms, filler, big.NewInt(1))
	if !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("unknown offer: got %v, want ErrOfferNotFound", err)
	}

	// Terms that do not hash to the stored offer.
	tampered := terms
	tampered.WantAmount = big.NewInt(1)
	host = newFakeHost(filler).withAttached("XRP", 1)
	if err := r.engine.FillOffer(host, hash, tampered, filler, big.NewInt(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("tampered terms: got %v, want ErrInvalidArgument", err)
	}

	// Maker cannot fill their own offer.
	host = newFakeHost(terms.Maker).withAttached("XRP", 50)
	if err := r.engine.FillOffer(host, hash, terms, terms.Maker, big.NewInt(100)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("self-fill: got %v, want ErrInvalidArgument", err)
	}

	// Fill beyond the remaining amount.
	host = newFakeHost(filler).withAttached("XRP", 51)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(101)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("overfill: got %v, want ErrInvalidArgument", err)
	}

	// Non-positive amounts.
	host = newFakeHost(filler)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero fill: got %v, want ErrInvalidArgument", err)
	}
	if err := r.engine.FillOffer(host, hash, terms, filler, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil fill: got %v, want ErrInvalidArgument", err)
	}

	// No witness for the filler.
	host = newFakeHost(terms.Maker).withAttached("XRP", 1)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(2)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("no witness: got %v, want ErrUnauthorized", err)
	}

	// Nothing above may have moved value or advanced the fill.
	offers := r.engine.QueryOffers("GOLD", "XRP")
	if len(offers) != 1 || offers[0].Filled.Sign() != 0 {
		t.Errorf("offer advanced by rejected fills: %+v", offers)
	}
	if got := len(r.engine.Ledger().Changes(filler)); got != 0 {
		t.Errorf("rejected fills wrote %d ledger changes", got)
	}
}

func TestFillOfferTokenDelivery(t *testing.T) {
	r := newTestRig(t)
	terms := r.nativeTerms()
	terms.WantAsset = Asset{ID: "0x00000000000000000000000000000000000000AB", Category: ContractToken}
	host := newFakeHost(terms.Maker).withAttached("GOLD", 100)
	hash, err := r.engine.MakeOffer(host, terms, r.signOffer(t, terms))
	if err != nil {
		t.Fatalf("make offer failed: %v", err)
	}
	filler := r.taker.Address()

	// Delivery is a token pull; a failed pull is insufficient delivery.
	deny := newFakeHost(filler)
	deny.tokenOK = false
	if err := r.engine.FillOffer(deny, hash, terms, filler, big.NewInt(10)); !errors.Is(err, ErrInsufficientDelivery) {
		t.Errorf("failed pull: got %v, want ErrInsufficientDelivery", err)
	}

	// Native value riding on a token-delivery fill would be absorbed into
	// custody with no ledger claim; it is rejected like on MakeOffer.
	riding := newFakeHost(filler).withAttached("XRP", 5)
	if err := r.engine.FillOffer(riding, hash, terms, filler, big.NewInt(10)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("attached value on token fill: got %v, want ErrInvalidArgument", err)
	}
	if riding.tokenCalls != 0 {
		t.Errorf("token oracle called %d times on rejected fill, want 0", riding.tokenCalls)
	}
	if net := r.engine.Ledger().NetBalance(filler, terms.OfferAsset.ID); net.Sign() != 0 {
		t.Errorf("rejected fill credited the filler: %s", net)
	}

	allow := newFakeHost(filler)
	if err := r.engine.FillOffer(allow, hash, terms, filler, big.NewInt(10)); err != nil {
		t.Fatalf("token fill failed: %v", err)
	}
	if allow.tokenCalls != 1 {
		t.Errorf("token oracle called %d times, want 1", allow.tokenCalls)
	}
	// ceil(50*10/100) = 5 of the want token to the maker.
	if net := r.engine.Ledger().NetBalance(terms.Maker, terms.WantAsset.ID); net.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("maker proceeds = %s, want 5", net)
	}
}

// ==============================
// CancelOffer
// ==============================

func TestCancelOfferRefundsRemainder(t *testing.T) {
	r := newTestRig(t)
	hash, terms := r.makeNative(t)
	filler := r.taker.Address()

	host := newFakeHost(filler).withAttached("XRP", 30)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(60)); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	makerHost := newFakeHost(terms.Maker)
	sig := r.signCancel(t, r.maker, hash)
	if err := r.engine.CancelOffer(makerHost, hash, terms, terms.Maker, sig); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// Refund is exactly the unfilled remainder.
	if net := r.engine.Ledger().NetBalance(terms.Maker, "GOLD"); net.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("maker refund = %s, want 40", net)
	}
	// Fill proceeds are untouched by the cancel.
	if net := r.engine.Ledger().NetBalance(terms.Maker, "XRP"); net.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("maker proceeds = %s, want 30", net)
	}

	if got := r.engine.QueryOffers("GOLD", "XRP"); len(got) != 0 {
		t.Errorf("cancelled offer still listed: %+v", got)
	}

	// Cancel is terminal: a second cancel is rejected and refunds nothing.
	if err := r.engine.CancelOffer(makerHost, hash, terms, terms.Maker, sig); !errors.Is(err, ErrOfferTerminal) {
		t.Errorf("double cancel: got %v, want ErrOfferTerminal", err)
	}
	if net := r.engine.Ledger().NetBalance(terms.Maker, "GOLD"); net.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("double cancel changed refund: %s", net)
	}

	// The hash is burned for MakeOffer.
	makerHost = newFakeHost(terms.Maker).withAttached("GOLD", 100)
	if _, err := r.engine.MakeOffer(makerHost, terms, r.signOffer(t, terms)); !errors.Is(err, ErrDuplicateOffer) {
		t.Errorf("remake after cancel: got %v, want ErrDuplicateOffer", err)
	}
}

func TestCancelOfferMakerOnly(t *testing.T) {
	r := newTestRig(t)
	hash, terms := r.makeNative(t)
	other := r.taker.Address()

	// A non-maker with a valid witness and signature is still refused.
	host := newFakeHost(other)
	sig := r.signCancel(t, r.taker, hash)
	if err := r.engine.CancelOffer(host, hash, terms, other, sig); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-maker cancel: got %v, want ErrUnauthorized", err)
	}

	// Maker without a witness.
	host = newFakeHost(other)
	sig = r.signCancel(t, r.maker, hash)
	if err := r.engine.CancelOffer(host, hash, terms, terms.Maker, sig); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("no witness: got %v, want ErrUnauthorized", err)
	}

	// Maker with a bad signature.
	host = newFakeHost(terms.Maker)
	if err := r.engine.CancelOffer(host, hash, terms, terms.Maker, sig[:10]); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("bad signature: got %v, want ErrUnauthorized", err)
	}

	// Offer is still live and no refund happened.
	if got := r.engine.QueryOffers("GOLD", "XRP"); len(got) != 1 {
		t.Errorf("offer not live after rejected cancels: %+v", got)
	}
	if got := len(r.engine.Ledger().Changes(terms.Maker)); got != 0 {
		t.Errorf("rejected cancels wrote %d ledger changes", got)
	}
}

func TestCancelOfferUnknown(t *testing.T) {
	r := newTestRig(t)
	terms := r.nativeTerms()
	hash := common.HexToHash("0xbeef")

	host := newFakeHost(terms.Maker)
	sig := r.signCancel(t, r.maker, hash)
	if err := r.engine.CancelOffer(host, hash, terms, terms.Maker, sig); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("got %v, want ErrOfferNotFound", err)
	}
}

// ==============================
// WithdrawAssets
// ==============================

// fundViaFill gives the taker a 60 GOLD ledger entitlement.
func (r *testRig) fundViaFill(t *testing.T) (OfferTerms, common.Address) {
	hash, terms := r.makeNative(t)
	filler := r.taker.Address()
	host := newFakeHost(filler).withAttached("XRP", 30)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(60)); err != nil {
		t.Fatalf("funding fill failed: %v", err)
	}
	return terms, filler
}

func TestWithdrawPartialAndAll(t *testing.T) {
	r := newTestRig(t)
	_, holder := r.fundViaFill(t)
	dest := common.HexToAddress("0xDD00000000000000000000000000000000000000")
	gold := Asset{ID: "GOLD", Category: NativeAsset}

	host := newFakeHost(holder)
	sig := r.signWithdraw(t, r.taker, gold, dest, 25)
	if err := r.engine.WithdrawAssets(host, holder, gold, dest, big.NewInt(25), sig); err != nil {
		t.Fatalf("partial withdraw failed: %v", err)
	}
	if host.nativeCalls != 1 {
		t.Errorf("native oracle called %d times, want 1", host.nativeCalls)
	}
	if net := r.engine.Ledger().NetBalance(holder, "GOLD"); net.Cmp(big.NewInt(35)) != 0 {
		t.Errorf("after partial withdraw net = %s, want 35", net)
	}

	// Amount 0 in the signed payload means the full remaining balance.
	host = newFakeHost(holder)
	sig = r.signWithdraw(t, r.taker, gold, dest, 0)
	if err := r.engine.WithdrawAssets(host, holder, gold, dest, nil, sig); err != nil {
		t.Fatalf("withdraw-all failed: %v", err)
	}
	if net := r.engine.Ledger().NetBalance(holder, "GOLD"); net.Sign() != 0 {
		t.Errorf("after withdraw-all net = %s, want 0", net)
	}

	// The audit trail keeps every entry.
	changes := r.engine.Ledger().ChangesForAsset(holder, "GOLD")
	if len(changes) != 3 {
		t.Errorf("got %d GOLD changes, want 3 (credit + 2 withdrawals)", len(changes))
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	r := newTestRig(t)
	_, holder := r.fundViaFill(t)
	dest := holder
	gold := Asset{ID: "GOLD", Category: NativeAsset}

	host := newFakeHost(holder)
	sig := r.signWithdraw(t, r.taker, gold, dest, 61)
	err := r.engine.WithdrawAssets(host, holder, gold, dest, big.NewInt(61), sig)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	// The oracle must not have been consulted.
	if host.nativeCalls != 0 || host.tokenCalls != 0 {
		t.Errorf("oracle called on insufficient balance: native=%d token=%d", host.nativeCalls, host.tokenCalls)
	}
	if net := r.engine.Ledger().NetBalance(holder, "GOLD"); net.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("balance changed: %s", net)
	}

	// An address with no history at all.
	stranger, _ := crypto.GenerateKey()
	host = newFakeHost(stranger.Address())
	sig2, err2 := r.typed.SignWithdraw(stranger, &crypto.WithdrawEIP712{
		Holder:      stranger.Address(),
		Asset:       "GOLD",
		Category:    uint8(NativeAsset),
		Destination: dest,
		Amount:      big.NewInt(0),
	})
	if err2 != nil {
		t.Fatalf("sign failed: %v", err2)
	}
	err = r.engine.WithdrawAssets(host, stranger.Address(), gold, dest, nil, sig2)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("empty account withdraw-all: got %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawTransferFailureRollsBack(t *testing.T) {
	r := newTestRig(t)
	_, holder := r.fundViaFill(t)
	dest := holder
	gold := Asset{ID: "GOLD", Category: NativeAsset}

	host := newFakeHost(holder)
	host.nativeOK = false
	sig := r.signWithdraw(t, r.taker, gold, dest, 60)
	err := r.engine.WithdrawAssets(host, holder, gold, dest, big.NewInt(60), sig)
	if !errors.Is(err, ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}

	// Net effect is zero; the attempt stays on the audit trail as a
	// debit/credit pair.
	if net := r.engine.Ledger().NetBalance(holder, "GOLD"); net.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("net after rollback = %s, want 60", net)
	}
	changes := r.engine.Ledger().ChangesForAsset(holder, "GOLD")
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}
	if changes[1].Reason != ledger.ReasonWithdraw || changes[1].Amount.Cmp(big.NewInt(-60)) != 0 {
		t.Errorf("debit entry = %+v", changes[1])
	}
	if changes[2].Reason != ledger.ReasonWithdrawRevert || changes[2].Amount.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("revert entry = %+v", changes[2])
	}

	// A later retry against a working oracle succeeds.
	host = newFakeHost(holder)
	if err := r.engine.WithdrawAssets(host, holder, gold, dest, big.NewInt(60), sig); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestWithdrawSignatureBindsAmount(t *testing.T) {
	r := newTestRig(t)
	_, holder := r.fundViaFill(t)
	gold := Asset{ID: "GOLD", Category: NativeAsset}

	// A signature over amount 10 cannot authorize a withdrawal of 60.
	host := newFakeHost(holder)
	sig := r.signWithdraw(t, r.taker, gold, holder, 10)
	err := r.engine.WithdrawAssets(host, holder, gold, holder, big.NewInt(60), sig)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

// ==============================
// Events
// ==============================

type captureEmitter struct {
	events []Event
}

func (c *captureEmitter) Emit(ev Event) { c.events = append(c.events, ev) }

func TestLifecycleEvents(t *testing.T) {
	r := newTestRig(t)
	capture := &captureEmitter{}
	r.engine.SetEmitter(capture)

	hash, terms := r.makeNative(t)
	filler := r.taker.Address()
	host := newFakeHost(filler).withAttached("XRP", 30)
	if err := r.engine.FillOffer(host, hash, terms, filler, big.NewInt(60)); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	makerHost := newFakeHost(terms.Maker)
	if err := r.engine.CancelOffer(makerHost, hash, terms, terms.Maker, r.signCancel(t, r.maker, hash)); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	want := []string{EventOfferCreated, EventOfferFilled, EventOfferCancelled}
	if len(capture.events) != len(want) {
		t.Fatalf("got %d events, want %d", len(capture.events), len(want))
	}
	for i, ev := range capture.events {
		if ev.Type != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, ev.Type, want[i])
		}
	}
	if got := capture.events[1].Attributes["delivered"]; got != "30" {
		t.Errorf("fill event delivered = %s, want 30", got)
	}
	if got := capture.events[2].Attributes["refunded"]; got != "40" {
		t.Errorf("cancel event refunded = %s, want 40", got)
	}
}

// ==============================
// Internals
// ==============================

func TestMulDivCeil(t *testing.T) {
	cases := []struct {
		a, b, den, want int64
	}{
		{50, 60, 100, 30},  // exact
		{10, 1, 3, 4},      // remainder rounds up
		{1, 1, 100, 1},     // tiny fill still owes one unit
		{7, 7, 7, 7},       // identity
		{50, 100, 100, 50}, // whole fill
	}
	for _, c := range cases {
		got := mulDivCeil(big.NewInt(c.a), big.NewInt(c.b), big.NewInt(c.den))
		if got.Cmp(big.NewInt(c.want)) != 0 {
			t.Errorf("mulDivCeil(%d,%d,%d) = %s, want %d", c.a, c.b, c.den, got, c.want)
		}
	}
}

func TestOfferRecordCodec(t *testing.T) {
	rec := offerRecord{
		Maker:  common.HexToAddress("0xAB00000000000000000000000000000000000000"),
		Filled: big.NewInt(123456789),
	}
	decoded, err := decodeOfferRecord(rec.encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Maker != rec.Maker || decoded.Filled.Cmp(rec.Filled) != 0 {
		t.Errorf("roundtrip: got %+v, want %+v", decoded, rec)
	}

	if _, err := decodeOfferRecord([]byte{1, 2, 3}); err == nil {
		t.Error("short record decoded without error")
	}
}
