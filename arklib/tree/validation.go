package tree

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrInvalidCommitmentTx        = fmt.Errorf("invalid commitment transaction")
	ErrInvalidCommitmentTxOutputs = fmt.Errorf("invalid number of outputs in commitment transaction")
	ErrEmptyTree                  = fmt.Errorf("empty tx tree")
	ErrInvalidRootLevel           = fmt.Errorf("root level must have only one node")
	ErrNoLeaves                   = fmt.Errorf("no leaves in the tree")
	ErrNodeTxEmpty                = fmt.Errorf("node transaction is empty")
	ErrNodeTxidEmpty              = fmt.Errorf("node txid is empty")
	ErrNodeParentTxidEmpty        = fmt.Errorf("node parent txid is empty")
	ErrNodeTxidDifferent          = fmt.Errorf("node txid differs from node transaction")
	ErrNumberOfInputs             = fmt.Errorf("node transaction should have only one input")
	ErrParentTxidInput            = fmt.Errorf("parent txid should be the input of the node transaction")
	ErrLeafChildren               = fmt.Errorf("leaf node should have no children")
	ErrInvalidChildren            = fmt.Errorf("node has more children than outputs")
	ErrInvalidTaprootScript       = fmt.Errorf("invalid taproot script")
	ErrMissingCosignersPublicKeys = fmt.Errorf("missing cosigners public keys")
	ErrInvalidAmount              = fmt.Errorf("children amount is different from parent amount")
	ErrWrongCommitmentTxid        = fmt.Errorf("the input of the tree root is not the commitment tx's shared output")
	ErrWrongConnectorTxid         = fmt.Errorf("the input of the connector tree root is not the commitment tx's connector output")
)

const (
	sharedOutputIndex    = 0
	connectorOutputIndex = 1
)

// ValidateVtxoTree checks the coherence of a server-provided vtxo tree before
// any signature is produced over it.
// The commitment tx pins the root input outpoint and the shared output amount.
// serverPubkey and vtxoTreeExpiry rebuild the sweep tapscript whose merkle
// root tweaks every aggregated cosigner key in the tree.
func ValidateVtxoTree(
	vtxoTree TxTree, commitmentTx string,
	serverPubkey *secp256k1.PublicKey, vtxoTreeExpiry arklib.RelativeLocktime,
) error {
	commitmentTransaction, err := psbt.NewFromRawBytes(strings.NewReader(commitmentTx), true)
	if err != nil {
		return ErrInvalidCommitmentTx
	}

	if len(commitmentTransaction.Outputs) < sharedOutputIndex+1 {
		return ErrInvalidCommitmentTxOutputs
	}

	sharedOutputAmount := commitmentTransaction.UnsignedTx.TxOut[sharedOutputIndex].Value

	if vtxoTree.NumberOfNodes() == 0 {
		return ErrEmptyTree
	}

	if len(vtxoTree[0]) != 1 {
		return ErrInvalidRootLevel
	}

	rootPtx, err := psbt.NewFromRawBytes(strings.NewReader(vtxoTree[0][0].Tx), true)
	if err != nil {
		return fmt.Errorf("invalid root transaction: %w", err)
	}

	if len(rootPtx.Inputs) != 1 {
		return ErrNumberOfInputs
	}

	rootInput := rootPtx.UnsignedTx.TxIn[0]
	if rootInput.PreviousOutPoint.Hash.String() != commitmentTransaction.UnsignedTx.TxHash().String() ||
		rootInput.PreviousOutPoint.Index != sharedOutputIndex {
		return ErrWrongCommitmentTxid
	}

	sumRootValue := int64(0)
	for _, output := range rootPtx.UnsignedTx.TxOut {
		sumRootValue += output.Value
	}

	if sumRootValue >= sharedOutputAmount {
		return ErrInvalidAmount
	}

	if len(vtxoTree.Leaves()) == 0 {
		return ErrNoLeaves
	}

	sweepClosure := &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{PubKeys: []*secp256k1.PublicKey{serverPubkey}},
		Locktime:        vtxoTreeExpiry,
	}

	sweepScript, err := sweepClosure.Script()
	if err != nil {
		return err
	}

	sweepLeaf := txscript.NewBaseTapLeaf(sweepScript)
	sweepTapTree := txscript.AssembleTaprootScriptTree(sweepLeaf)
	root := sweepTapTree.RootNode.TapHash()

	for _, level := range vtxoTree {
		for _, node := range level {
			if err := validateNodeTransaction(node, vtxoTree, root.CloneBytes()); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateConnectorTree checks that the connector tree root spends the
// commitment tx's connector output. Connectors are not part of the sweep path
// so no key aggregation check is needed.
func ValidateConnectorTree(connectorTree TxTree, commitmentTx string) error {
	commitmentTransaction, err := psbt.NewFromRawBytes(strings.NewReader(commitmentTx), true)
	if err != nil {
		return ErrInvalidCommitmentTx
	}

	if len(commitmentTransaction.Outputs) < connectorOutputIndex+1 {
		return ErrInvalidCommitmentTxOutputs
	}

	if connectorTree.NumberOfNodes() == 0 {
		return ErrEmptyTree
	}

	if len(connectorTree[0]) != 1 {
		return ErrInvalidRootLevel
	}

	rootPtx, err := psbt.NewFromRawBytes(strings.NewReader(connectorTree[0][0].Tx), true)
	if err != nil {
		return fmt.Errorf("invalid root transaction: %w", err)
	}

	if len(rootPtx.Inputs) != 1 {
		return ErrNumberOfInputs
	}

	rootInput := rootPtx.UnsignedTx.TxIn[0]
	if rootInput.PreviousOutPoint.Hash.String() != commitmentTransaction.UnsignedTx.TxHash().String() ||
		rootInput.PreviousOutPoint.Index != connectorOutputIndex {
		return ErrWrongConnectorTxid
	}

	return connectorTree.Validate(func(tx string) string {
		ptx, err := psbt.NewFromRawBytes(strings.NewReader(tx), true)
		if err != nil {
			return ""
		}
		return ptx.UnsignedTx.TxHash().String()
	})
}

func validateNodeTransaction(node Node, vtxoTree TxTree, sweepTapTreeRoot []byte) error {
	if node.Tx == "" {
		return ErrNodeTxEmpty
	}

	if node.Txid == "" {
		return ErrNodeTxidEmpty
	}

	if node.ParentTxid == "" {
		return ErrNodeParentTxidEmpty
	}

	decodedPsbt, err := psbt.NewFromRawBytes(strings.NewReader(node.Tx), true)
	if err != nil {
		return fmt.Errorf("invalid node transaction: %w", err)
	}

	if decodedPsbt.UnsignedTx.TxHash().String() != node.Txid {
		return ErrNodeTxidDifferent
	}

	if len(decodedPsbt.Inputs) != 1 {
		return ErrNumberOfInputs
	}

	prevTxid := decodedPsbt.UnsignedTx.TxIn[0].PreviousOutPoint.Hash.String()
	if prevTxid != node.ParentTxid {
		return ErrParentTxidInput
	}

	children := vtxoTree.Children(node.Txid)

	if node.Leaf && len(children) >= 1 {
		return ErrLeafChildren
	}

	if len(children) > len(decodedPsbt.UnsignedTx.TxOut) {
		return ErrInvalidChildren
	}

	for childIndex, child := range children {
		childTx, err := psbt.NewFromRawBytes(strings.NewReader(child.Tx), true)
		if err != nil {
			return fmt.Errorf("invalid child transaction: %w", err)
		}

		parentOutput := decodedPsbt.UnsignedTx.TxOut[childIndex]
		if len(parentOutput.PkScript) != 34 {
			return ErrInvalidTaprootScript
		}
		previousScriptKey := parentOutput.PkScript[2:]

		if len(childTx.Inputs) != 1 {
			return ErrNumberOfInputs
		}

		cosigners, err := txutils.GetCosignerKeys(childTx.Inputs[0])
		if err != nil {
			return fmt.Errorf("unable to get cosigners keys: %w", err)
		}

		if len(cosigners) == 0 {
			return ErrMissingCosignersPublicKeys
		}

		aggregatedKey, err := AggregateKeys(cosigners, sweepTapTreeRoot)
		if err != nil {
			return fmt.Errorf("unable to aggregate keys: %w", err)
		}

		if !bytes.Equal(schnorr.SerializePubKey(aggregatedKey.FinalKey), previousScriptKey) {
			return ErrInvalidTaprootScript
		}

		sumChildAmount := int64(0)
		for _, output := range childTx.UnsignedTx.TxOut {
			sumChildAmount += output.Value
		}

		if sumChildAmount >= parentOutput.Value {
			return ErrInvalidAmount
		}
	}

	return nil
}
