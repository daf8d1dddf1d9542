package exchange

import "errors"

// Every operation failure maps onto one of these classes. They are ordinary,
// anticipated validation outcomes; the dispatch surface collapses them to a
// boolean failure and nothing crosses the external boundary as a panic.
var (
	// ErrUnauthorized: witness or signature check failed.
	ErrUnauthorized = errors.New("exchange: unauthorized")

	// ErrInvalidArgument: non-positive amount, malformed category, hash
	// mismatch between supplied terms and stored key, self-fill, oversize
	// fill.
	ErrInvalidArgument = errors.New("exchange: invalid argument")

	// ErrDuplicateOffer: the offer hash already exists in the index.
	// Identical terms with an identical nonce can be submitted once, ever.
	ErrDuplicateOffer = errors.New("exchange: duplicate offer")

	// ErrOfferNotFound: no record at the given hash.
	ErrOfferNotFound = errors.New("exchange: offer not found")

	// ErrOfferTerminal: the offer was filled or cancelled; its key is
	// tombstoned so stale lookups fail closed.
	ErrOfferTerminal = errors.New("exchange: offer is terminal")

	// ErrInsufficientDelivery: attached or transferred counter-value does
	// not match the required amount.
	ErrInsufficientDelivery = errors.New("exchange: insufficient delivery")

	// ErrInsufficientBalance: withdrawal exceeds the net ledger balance.
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")

	// ErrTransferFailed: the external asset-transfer oracle reported the
	// movement did not occur.
	ErrTransferFailed = errors.New("exchange: transfer failed")
)
