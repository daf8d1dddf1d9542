package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/crypto"
	"github.com/openswap-labs/openswap/pkg/ledger"
)

// AssetCategory selects the custody mechanism for an asset.
type AssetCategory uint8

const (
	// NativeAsset is custodied through value attached to the invocation
	// itself; escrow is the attached transfer, release is a host transfer.
	NativeAsset AssetCategory = 1

	// ContractToken is custodied through the token contract's own
	// allowance/transfer call.
	ContractToken AssetCategory = 2
)

func (c AssetCategory) Valid() bool {
	return c == NativeAsset || c == ContractToken
}

func (c AssetCategory) String() string {
	switch c {
	case NativeAsset:
		return "native"
	case ContractToken:
		return "token"
	default:
		return "unknown"
	}
}

// Asset pairs an identifier with its custody category.
type Asset struct {
	ID       ledger.AssetID `json:"id"`
	Category AssetCategory  `json:"category"`
}

func (a Asset) validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty asset id", ErrInvalidArgument)
	}
	if !a.Category.Valid() {
		return fmt.Errorf("%w: malformed asset category %d", ErrInvalidArgument, a.Category)
	}
	return nil
}

// OfferTerms are the full economic terms of an offer plus the maker-chosen
// nonce. The index stores only maker and filled amount, so fill and cancel
// callers resupply the terms; the engine re-derives the hash and rejects on
// mismatch.
type OfferTerms struct {
	Maker       common.Address `json:"maker"`
	OfferAsset  Asset          `json:"offerAsset"`
	OfferAmount *big.Int       `json:"offerAmount"`
	WantAsset   Asset          `json:"wantAsset"`
	WantAmount  *big.Int       `json:"wantAmount"`
	Nonce       *big.Int       `json:"nonce"`
}

func (t *OfferTerms) validate() error {
	if err := t.OfferAsset.validate(); err != nil {
		return err
	}
	if err := t.WantAsset.validate(); err != nil {
		return err
	}
	if t.OfferAmount == nil || t.OfferAmount.Sign() <= 0 {
		return fmt.Errorf("%w: offer amount must be positive", ErrInvalidArgument)
	}
	if t.WantAmount == nil || t.WantAmount.Sign() <= 0 {
		return fmt.Errorf("%w: want amount must be positive", ErrInvalidArgument)
	}
	if t.Nonce == nil || t.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: missing nonce", ErrInvalidArgument)
	}
	return nil
}

func (t *OfferTerms) typed() *crypto.OfferEIP712 {
	return &crypto.OfferEIP712{
		Maker:         t.Maker,
		OfferAsset:    string(t.OfferAsset.ID),
		OfferCategory: uint8(t.OfferAsset.Category),
		OfferAmount:   t.OfferAmount,
		WantAsset:     string(t.WantAsset.ID),
		WantCategory:  uint8(t.WantAsset.Category),
		WantAmount:    t.WantAmount,
		Nonce:         t.Nonce,
	}
}

// offerRecord is the minimal persisted offer state: who made it and how much
// has been filled. Everything else is re-derived from caller-supplied terms.
type offerRecord struct {
	Maker  common.Address
	Filled *big.Int
}

// Stored encoding: 20-byte maker ‖ 32-byte big-endian filled amount.
const offerRecordLen = common.AddressLength + 32

func (r offerRecord) encode() []byte {
	out := make([]byte, offerRecordLen)
	copy(out[:common.AddressLength], r.Maker[:])
	r.Filled.FillBytes(out[common.AddressLength:])
	return out
}

func decodeOfferRecord(data []byte) (offerRecord, error) {
	if len(data) != offerRecordLen {
		return offerRecord{}, fmt.Errorf("offer record: bad length %d", len(data))
	}
	var rec offerRecord
	copy(rec.Maker[:], data[:common.AddressLength])
	rec.Filled = new(big.Int).SetBytes(data[common.AddressLength:])
	return rec, nil
}

// OfferStatus is the queryable view of a live offer.
type OfferStatus struct {
	Hash   common.Hash    `json:"hash"`
	Maker  common.Address `json:"maker"`
	Filled *big.Int       `json:"filled"`
}
