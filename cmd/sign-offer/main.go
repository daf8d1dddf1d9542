package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openswap-labs/openswap/pkg/crypto"
)

// Demo signer: generates (or loads) a keypair, signs an example payload with
// EIP-712 and prints the JSON body ready for the API. Select the payload with
// an argument: offer (default), cancel <offerHash>, withdraw.
func main() {
	mode := "offer"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	var signer *crypto.Signer
	var err error
	if hexKey := os.Getenv("PRIVATE_KEY"); hexKey != "" {
		signer, err = crypto.FromPrivateKeyHex(hexKey)
		if err != nil {
			fmt.Printf("Error loading PRIVATE_KEY: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded key for address: %s\n\n", signer.Address().Hex())
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Address: %s\n", signer.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
	}

	typed := crypto.NewTypedDataSigner(crypto.DefaultDomain())

	switch mode {
	case "offer":
		signOffer(typed, signer)
	case "cancel":
		if len(os.Args) < 3 {
			fmt.Println("Usage: sign-offer cancel <offerHash>")
			os.Exit(1)
		}
		signCancel(typed, signer, common.HexToHash(os.Args[2]))
	case "withdraw":
		signWithdraw(typed, signer)
	default:
		fmt.Printf("Unknown mode: %s (want offer, cancel, or withdraw)\n", mode)
		os.Exit(1)
	}
}

func signOffer(typed *crypto.TypedDataSigner, signer *crypto.Signer) {
	offer := &crypto.OfferEIP712{
		Maker:         signer.Address(),
		OfferAsset:    "GOLD",
		OfferCategory: 2, // contract token
		OfferAmount:   big.NewInt(100),
		WantAsset:     "XRP",
		WantCategory:  1, // native
		WantAmount:    big.NewInt(50),
		Nonce:         big.NewInt(1),
	}

	fmt.Println("Offer Details:")
	fmt.Printf("  Maker: %s\n", offer.Maker.Hex())
	fmt.Printf("  Offering: %s %s\n", offer.OfferAmount, offer.OfferAsset)
	fmt.Printf("  Wants: %s %s\n", offer.WantAmount, offer.WantAsset)
	fmt.Printf("  Nonce: %s\n\n", offer.Nonce)

	digest, err := typed.HashOffer(offer)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Offer Hash: 0x%x\n", digest)

	signature, err := typed.SignOffer(signer, offer)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	verify(offer.Maker, digest, signature)

	body := map[string]interface{}{
		"terms": map[string]interface{}{
			"maker":       offer.Maker.Hex(),
			"offerAsset":  map[string]interface{}{"id": offer.OfferAsset, "category": offer.OfferCategory},
			"offerAmount": offer.OfferAmount.String(),
			"wantAsset":   map[string]interface{}{"id": offer.WantAsset, "category": offer.WantCategory},
			"wantAmount":  offer.WantAmount.String(),
			"nonce":       offer.Nonce.String(),
		},
		"signature": fmt.Sprintf("0x%x", signature),
	}
	printSubmit("POST http://localhost:8080/api/v1/offers", body)
}

func signCancel(typed *crypto.TypedDataSigner, signer *crypto.Signer, offerHash common.Hash) {
	cancel := &crypto.CancelEIP712{
		OfferHash: offerHash,
		Canceller: signer.Address(),
	}

	digest, err := typed.HashCancel(cancel)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	signature, err := typed.SignCancel(signer, cancel)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	verify(cancel.Canceller, digest, signature)

	// Fills and cancels resupply the full terms; paste them from the
	// original offer before submitting.
	body := map[string]interface{}{
		"offerHash": offerHash.Hex(),
		"terms":     "<original offer terms>",
		"canceller": cancel.Canceller.Hex(),
		"signature": fmt.Sprintf("0x%x", signature),
	}
	printSubmit("POST http://localhost:8080/api/v1/offers/cancel", body)
}

func signWithdraw(typed *crypto.TypedDataSigner, signer *crypto.Signer) {
	withdraw := &crypto.WithdrawEIP712{
		Holder:      signer.Address(),
		Asset:       "XRP",
		Category:    1,
		Destination: signer.Address(),
		Amount:      big.NewInt(0), // 0 withdraws the full balance
	}

	digest, err := typed.HashWithdraw(withdraw)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	signature, err := typed.SignWithdraw(signer, withdraw)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	verify(withdraw.Holder, digest, signature)

	body := map[string]interface{}{
		"holder":      withdraw.Holder.Hex(),
		"asset":       map[string]interface{}{"id": withdraw.Asset, "category": withdraw.Category},
		"destination": withdraw.Destination.Hex(),
		"signature":   fmt.Sprintf("0x%x", signature),
	}
	printSubmit("POST http://localhost:8080/api/v1/withdrawals", body)
}

func verify(expected common.Address, digest, signature []byte) {
	fmt.Println("Verifying signature...")
	if !crypto.VerifySignature(expected, digest, signature) {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	recovered, err := crypto.RecoverAddress(digest, signature)
	if err != nil {
		fmt.Printf("Error recovering: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())
}

func printSubmit(endpoint string, body map[string]interface{}) {
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("To submit:")
	fmt.Printf("  %s\n", endpoint)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(out))
}
