package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for typed-data signing. It prevents
// replay of signed payloads across chains and contract deployments.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OfferEIP712 is the canonical encoding of an offer's economic terms plus the
// maker-chosen nonce. Its EIP-712 digest is both the signed message and the
// offer's replay-protection key: identical terms with an identical nonce
// always produce the same digest.
type OfferEIP712 struct {
	Maker         common.Address
	OfferAsset    string
	OfferCategory uint8 // 1 = native asset, 2 = contract token
	OfferAmount   *big.Int
	WantAsset     string
	WantCategory  uint8
	WantAmount    *big.Int
	Nonce         *big.Int
}

// CancelEIP712 is the canonical encoding of a cancellation request. No nonce
// is needed: a cancel can only ever succeed once, because the offer record is
// removed on success.
type CancelEIP712 struct {
	OfferHash common.Hash
	Canceller common.Address
}

// WithdrawEIP712 is the canonical encoding of a withdrawal request.
type WithdrawEIP712 struct {
	Holder      common.Address
	Asset       string
	Category    uint8
	Destination common.Address
	Amount      *big.Int
}

// TypedDataSigner hashes and verifies the exchange's typed payloads under a
// fixed domain.
type TypedDataSigner struct {
	domain EIP712Domain
}

func NewTypedDataSigner(domain EIP712Domain) *TypedDataSigner {
	return &TypedDataSigner{domain: domain}
}

// DefaultDomain returns the signing domain for a local deployment.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "OpenSwap",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (t *TypedDataSigner) apiDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              t.domain.Name,
		Version:           t.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(t.domain.ChainID),
		VerifyingContract: t.domain.VerifyingContract.Hex(),
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func (t *TypedDataSigner) digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// HashOffer returns the offer digest. This digest is the offer hash used as
// the index key: re-deriving it from resupplied terms and comparing against
// the stored key is how fill and cancel validate the caller's terms.
func (t *TypedDataSigner) HashOffer(offer *OfferEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Offer": []apitypes.Type{
				{Name: "maker", Type: "address"},
				{Name: "offerAsset", Type: "string"},
				{Name: "offerCategory", Type: "uint8"},
				{Name: "offerAmount", Type: "uint256"},
				{Name: "wantAsset", Type: "string"},
				{Name: "wantCategory", Type: "uint8"},
				{Name: "wantAmount", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Offer",
		Domain:      t.apiDomain(),
		Message: apitypes.TypedDataMessage{
			"maker":         offer.Maker.Hex(),
			"offerAsset":    offer.OfferAsset,
			"offerCategory": fmt.Sprintf("%d", offer.OfferCategory),
			"offerAmount":   offer.OfferAmount.String(),
			"wantAsset":     offer.WantAsset,
			"wantCategory":  fmt.Sprintf("%d", offer.WantCategory),
			"wantAmount":    offer.WantAmount.String(),
			"nonce":         offer.Nonce.String(),
		},
	}
	return t.digest(typedData)
}

// HashCancel returns the digest a canceller signs.
func (t *TypedDataSigner) HashCancel(cancel *CancelEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"CancelOffer": []apitypes.Type{
				{Name: "offerHash", Type: "bytes32"},
				{Name: "canceller", Type: "address"},
			},
		},
		PrimaryType: "CancelOffer",
		Domain:      t.apiDomain(),
		Message: apitypes.TypedDataMessage{
			"offerHash": cancel.OfferHash.Hex(),
			"canceller": cancel.Canceller.Hex(),
		},
	}
	return t.digest(typedData)
}

// HashWithdraw returns the digest a holder signs to withdraw.
func (t *TypedDataSigner) HashWithdraw(withdraw *WithdrawEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Withdraw": []apitypes.Type{
				{Name: "holder", Type: "address"},
				{Name: "asset", Type: "string"},
				{Name: "category", Type: "uint8"},
				{Name: "destination", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "Withdraw",
		Domain:      t.apiDomain(),
		Message: apitypes.TypedDataMessage{
			"holder":      withdraw.Holder.Hex(),
			"asset":       withdraw.Asset,
			"category":    fmt.Sprintf("%d", withdraw.Category),
			"destination": withdraw.Destination.Hex(),
			"amount":      withdraw.Amount.String(),
		},
	}
	return t.digest(typedData)
}

// SignOffer signs an offer and returns the signature.
func (t *TypedDataSigner) SignOffer(signer *Signer, offer *OfferEIP712) ([]byte, error) {
	hash, err := t.HashOffer(offer)
	if err != nil {
		return nil, fmt.Errorf("failed to hash offer: %w", err)
	}
	return signer.Sign(hash)
}

// SignCancel signs a cancellation request.
func (t *TypedDataSigner) SignCancel(signer *Signer, cancel *CancelEIP712) ([]byte, error) {
	hash, err := t.HashCancel(cancel)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

// SignWithdraw signs a withdrawal request.
func (t *TypedDataSigner) SignWithdraw(signer *Signer, withdraw *WithdrawEIP712) ([]byte, error) {
	hash, err := t.HashWithdraw(withdraw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash withdraw: %w", err)
	}
	return signer.Sign(hash)
}
