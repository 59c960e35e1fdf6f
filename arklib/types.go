package arklib

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

var ErrLeafNotFound = errors.New("leaf not found in taproot tree")

// VtxoInput is the fully-resolved form of a vtxo about to be spent: the
// outpoint, the previous output amount and the tapscript leaf used to
// spend it, along with the full set of scripts revealed by the taptree.
type VtxoInput struct {
	Outpoint           *wire.OutPoint
	Amount             int64
	Tapscript          *waddrmgr.Tapscript
	WitnessSize        int
	RevealedTapscripts []string
}

// TaprootMerkleProof holds the data needed to spend a single taproot
// leaf: the serialized control block and the raw leaf script.
type TaprootMerkleProof struct {
	ControlBlock []byte
	Script       []byte
}

// TaprootTree abstracts the indexed script tree of a taproot output.
type TaprootTree interface {
	GetTaprootMerkleProof(leafhash chainhash.Hash) (*TaprootMerkleProof, error)
	GetRoot() chainhash.Hash
	GetLeaves() []chainhash.Hash
}
