package script

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrNoExitLeaf = fmt.Errorf("no exit leaf")

	unspendablePoint = []byte{
		0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a,
		0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
	}
)

// UnspendableKey returns the fixed NUMS point used as internal key of
// every vtxo taproot output, making the key path unspendable.
func UnspendableKey() *secp256k1.PublicKey {
	key, _ := secp256k1.ParsePubKey(unspendablePoint)
	return key
}

// VtxoScript is a taproot script composed of a list of tapscript
// closures with an unspendable key path.
type VtxoScript interface {
	TapTree() (taprootKey *secp256k1.PublicKey, taprootScriptTree arklib.TaprootTree, err error)
	Encode() ([]string, error)
	Decode(scripts []string) error
	Validate(signer *secp256k1.PublicKey, minLocktime arklib.RelativeLocktime) error
}

func ParseVtxoScript(scripts []string) (*TapscriptsVtxoScript, error) {
	v := &TapscriptsVtxoScript{}

	err := v.Decode(scripts)
	return v, err
}

// NewDefaultVtxoScript returns the canonical vtxo script: collaborative
// closure owner+signer, plus the owner's unilateral exit after the
// given delay.
func NewDefaultVtxoScript(
	owner, signer *secp256k1.PublicKey, exitDelay arklib.RelativeLocktime,
) *TapscriptsVtxoScript {
	return &TapscriptsVtxoScript{
		[]Closure{
			&CSVMultisigClosure{
				MultisigClosure: MultisigClosure{PubKeys: []*secp256k1.PublicKey{owner}},
				Locktime:        exitDelay,
			},
			&MultisigClosure{PubKeys: []*secp256k1.PublicKey{owner, signer}},
		},
	}
}

// TapscriptsVtxoScript represents a taproot script that contains a list
// of tapscript leaves. The key path is always unspendable.
type TapscriptsVtxoScript struct {
	Closures []Closure
}

func (v *TapscriptsVtxoScript) Encode() ([]string, error) {
	encoded := make([]string, 0, len(v.Closures))
	for _, closure := range v.Closures {
		script, err := closure.Script()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, hex.EncodeToString(script))
	}
	return encoded, nil
}

func (v *TapscriptsVtxoScript) Decode(scripts []string) error {
	if len(scripts) == 0 {
		return fmt.Errorf("empty vtxo script")
	}

	v.Closures = make([]Closure, 0, len(scripts))
	for _, script := range scripts {
		scriptBytes, err := hex.DecodeString(script)
		if err != nil {
			return err
		}

		closure, err := DecodeClosure(scriptBytes)
		if err != nil {
			return err
		}
		v.Closures = append(v.Closures, closure)
	}
	return nil
}

func (v *TapscriptsVtxoScript) Validate(
	signer *secp256k1.PublicKey, minLocktime arklib.RelativeLocktime,
) error {
	signerXonly := schnorr.SerializePubKey(signer)
	for _, forfeit := range v.ForfeitClosures() {
		multisigClosure, ok := forfeit.(*MultisigClosure)
		if !ok {
			return fmt.Errorf("invalid forfeit closure, expected MultisigClosure")
		}

		// must contain the signer pubkey
		found := false
		for _, pubkey := range multisigClosure.PubKeys {
			if bytes.Equal(schnorr.SerializePubKey(pubkey), signerXonly) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid forfeit closure, signer pubkey not found")
		}
	}

	smallestExit, err := v.SmallestExitDelay()
	if err != nil {
		if err == ErrNoExitLeaf {
			return nil
		}
		return err
	}

	if smallestExit.LessThan(minLocktime) {
		return fmt.Errorf("exit delay is too short")
	}

	return nil
}

func (v *TapscriptsVtxoScript) SmallestExitDelay() (*arklib.RelativeLocktime, error) {
	var smallest *arklib.RelativeLocktime

	for _, closure := range v.Closures {
		if csvClosure, ok := closure.(*CSVMultisigClosure); ok {
			if smallest == nil || csvClosure.Locktime.LessThan(*smallest) {
				smallest = &csvClosure.Locktime
			}
		}
	}

	if smallest == nil {
		return nil, ErrNoExitLeaf
	}

	return smallest, nil
}

func (v *TapscriptsVtxoScript) ForfeitClosures() []Closure {
	forfeits := make([]Closure, 0)
	for _, closure := range v.Closures {
		switch closure.(type) {
		case *MultisigClosure, *CLTVMultisigClosure, *ConditionMultisigClosure:
			forfeits = append(forfeits, closure)
		}
	}
	return forfeits
}

func (v *TapscriptsVtxoScript) ExitClosures() []Closure {
	exits := make([]Closure, 0)
	for _, closure := range v.Closures {
		switch closure.(type) {
		case *CSVMultisigClosure, *ConditionCSVMultisigClosure:
			exits = append(exits, closure)
		}
	}
	return exits
}

func (v *TapscriptsVtxoScript) TapTree() (*secp256k1.PublicKey, arklib.TaprootTree, error) {
	leaves := make([]txscript.TapLeaf, 0, len(v.Closures))
	for _, closure := range v.Closures {
		script, err := closure.Script()
		if err != nil {
			return nil, nil, err
		}
		leaves = append(leaves, txscript.NewBaseTapLeaf(script))
	}
	if len(leaves) == 0 {
		return nil, nil, fmt.Errorf("empty vtxo script")
	}

	tapTree := txscript.AssembleTaprootScriptTree(leaves...)
	if len(tapTree.LeafMerkleProofs) != len(leaves) {
		return nil, nil, fmt.Errorf(
			"invalid scripts, got %d leaves, expected %d",
			len(tapTree.LeafMerkleProofs), len(leaves),
		)
	}

	root := tapTree.RootNode.TapHash()
	taprootKey := txscript.ComputeTaprootOutputKey(UnspendableKey(), root[:])

	return taprootKey, indexedTapTree{tapTree}, nil
}

// Address returns the encoded ark address of the vtxo script.
func (v *TapscriptsVtxoScript) Address(
	hrp string, signer *secp256k1.PublicKey,
) (string, error) {
	taprootKey, _, err := v.TapTree()
	if err != nil {
		return "", err
	}

	addr := &arklib.Address{
		HRP:        hrp,
		Signer:     signer,
		VtxoTapKey: taprootKey,
	}
	return addr.EncodeV0()
}

// indexedTapTree wraps IndexedTapScriptTree to implement the
// arklib.TaprootTree interface.
type indexedTapTree struct {
	*txscript.IndexedTapScriptTree
}

func (t indexedTapTree) GetRoot() chainhash.Hash {
	return t.RootNode.TapHash()
}

func (t indexedTapTree) GetTaprootMerkleProof(leafhash chainhash.Hash) (*arklib.TaprootMerkleProof, error) {
	index, ok := t.LeafProofIndex[leafhash]
	if !ok {
		return nil, fmt.Errorf("leaf %s not found in taproot tree", leafhash.String())
	}
	proof := t.LeafMerkleProofs[index]

	controlBlock := proof.ToControlBlock(UnspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	return &arklib.TaprootMerkleProof{
		ControlBlock: controlBlockBytes,
		Script:       proof.Script,
	}, nil
}

func (t indexedTapTree) GetLeaves() []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(t.LeafProofIndex))
	for h := range t.LeafProofIndex {
		hashes = append(hashes, h)
	}
	return hashes
}
