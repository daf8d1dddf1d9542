package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/ledger"
)

// Store key schema. Prefix-based so pair lookups are range scans.
//
//	offer:{hash}                      -> maker ‖ filled (empty = tombstone)
//	pair:{offerAsset}:{wantAsset}:{hash} -> hash bytes
//
// Ledger sequences live under "bal:" (see pkg/ledger).
const (
	prefixOffer = "offer:"
	prefixPair  = "pair:"
)

func offerKey(hash common.Hash) []byte {
	return []byte(prefixOffer + hash.Hex())
}

// pairKey indexes a live offer under its asset pair for queryOffers.
// Asset IDs are symbols or 0x-hex token addresses; neither contains ':'.
func pairKey(offerAsset, wantAsset ledger.AssetID, hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixPair, offerAsset, wantAsset, hash.Hex()))
}

func pairPrefix(offerAsset, wantAsset ledger.AssetID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixPair, offerAsset, wantAsset))
}
