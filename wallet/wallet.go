// Package wallet defines the signer surface the settlement orchestrator
// relies on, together with a single-key implementation.
package wallet

import (
	"context"

	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/explorer"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// TapscriptsAddress pairs an address with the tapscripts revealing its
// taproot tree.
type TapscriptsAddress struct {
	Tapscripts []string
	Address    string
}

type Wallet interface {
	GetPublicKey() *secp256k1.PublicKey
	// GetAddresses returns the offchain ark address and the onchain
	// boarding address of the wallet.
	GetAddresses(ctx context.Context) (
		offchainAddr, boardingAddr *TapscriptsAddress, err error,
	)
	// SignTransaction signs every input of the given psbt the wallet key
	// can sign, either via tapscript leaves or taproot key path. Missing
	// witness utxos are fetched from the explorer.
	SignTransaction(
		ctx context.Context, explorerSvc explorer.Explorer, tx string,
	) (signedTx string, err error)
	SignMessage(ctx context.Context, message []byte) (string, error)
	// NewVtxoTreeSigner derives an ephemeral key from the given BIP32 path
	// and returns a signer session for the vtxo tree ceremony.
	NewVtxoTreeSigner(
		ctx context.Context, derivationPath string,
	) (tree.SignerSession, error)
}
