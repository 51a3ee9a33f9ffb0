// Package main generates a note-owner keypair for submitting deposit
// requests to the Batch Engine's ingest topic (spec §6 External Interfaces).
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cmatc13/stathera/internal/wallet"
)

func main() {
	w, err := wallet.NewWallet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate keypair: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("address:     %s\n", w.Address)
	fmt.Printf("public_key:  %s\n", hex.EncodeToString(w.PublicKey))
	fmt.Printf("private_key: %s\n", w.ExportPrivateKey())
}
