package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/exchange"
	"github.com/openswap-labs/openswap/pkg/ledger"
)

// Wire types. Amounts travel as decimal strings: JSON numbers cannot carry
// arbitrary-precision values safely.

type AssetJSON struct {
	ID       string `json:"id"`
	Category uint8  `json:"category"` // 1 = native, 2 = token
}

func (a AssetJSON) parse() exchange.Asset {
	return exchange.Asset{ID: ledger.AssetID(a.ID), Category: exchange.AssetCategory(a.Category)}
}

type OfferTermsJSON struct {
	Maker       string    `json:"maker"`
	OfferAsset  AssetJSON `json:"offerAsset"`
	OfferAmount string    `json:"offerAmount"`
	WantAsset   AssetJSON `json:"wantAsset"`
	WantAmount  string    `json:"wantAmount"`
	Nonce       string    `json:"nonce"`
}

func (o *OfferTermsJSON) parse() (exchange.OfferTerms, error) {
	if !common.IsHexAddress(o.Maker) {
		return exchange.OfferTerms{}, fmt.Errorf("invalid maker address: %s", o.Maker)
	}
	offerAmount, err := parseAmount(o.OfferAmount)
	if err != nil {
		return exchange.OfferTerms{}, fmt.Errorf("offerAmount: %w", err)
	}
	wantAmount, err := parseAmount(o.WantAmount)
	if err != nil {
		return exchange.OfferTerms{}, fmt.Errorf("wantAmount: %w", err)
	}
	nonce, err := parseAmount(o.Nonce)
	if err != nil {
		return exchange.OfferTerms{}, fmt.Errorf("nonce: %w", err)
	}
	return exchange.OfferTerms{
		Maker:       common.HexToAddress(o.Maker),
		OfferAsset:  o.OfferAsset.parse(),
		OfferAmount: offerAmount,
		WantAsset:   o.WantAsset.parse(),
		WantAmount:  wantAmount,
		Nonce:       nonce,
	}, nil
}

type AttachedJSON struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseAttached(in []AttachedJSON) ([]exchange.AttachedTransfer, error) {
	out := make([]exchange.AttachedTransfer, 0, len(in))
	for _, t := range in {
		amount, err := parseAmount(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("attached %s: %w", t.Asset, err)
		}
		out = append(out, exchange.AttachedTransfer{Asset: ledger.AssetID(t.Asset), Amount: amount})
	}
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}

type MakeOfferRequest struct {
	Terms     OfferTermsJSON `json:"terms"`
	Signature string         `json:"signature"` // 0x-hex, 65 bytes
	Attached  []AttachedJSON `json:"attached,omitempty"`
}

type FillOfferRequest struct {
	OfferHash string         `json:"offerHash"`
	Terms     OfferTermsJSON `json:"terms"`
	Filler    string         `json:"filler"`
	Amount    string         `json:"amount"`
	Attached  []AttachedJSON `json:"attached,omitempty"`
}

type CancelOfferRequest struct {
	OfferHash string         `json:"offerHash"`
	Terms     OfferTermsJSON `json:"terms"`
	Canceller string         `json:"canceller"`
	Signature string         `json:"signature"`
}

type WithdrawRequest struct {
	Holder      string    `json:"holder"`
	Asset       AssetJSON `json:"asset"`
	Destination string    `json:"destination"`
	// Amount "0" or empty withdraws the full net balance.
	Amount    string `json:"amount,omitempty"`
	Signature string `json:"signature"`
}

type FaucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// OpResponse carries the boolean outcome of an operation. Every failure mode
// surfaces here as ok=false with a reason; nothing else crosses the boundary.
type OpResponse struct {
	OK        bool   `json:"ok"`
	OfferHash string `json:"offerHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

type OfferInfo struct {
	Hash   string `json:"hash"`
	Maker  string `json:"maker"`
	Filled string `json:"filled"`
}

type BalanceChangeInfo struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Net     string `json:"net"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
