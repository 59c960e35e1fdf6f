package tree

import (
	"encoding/hex"
	"fmt"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	vtxoTreeRadix      = 2
	connectorTreeRadix = 4
)

// Leaf describes one output of a batch tree to build.
type Leaf struct {
	Script              string
	Amount              uint64
	CosignersPublicKeys []string
}

// CraftSharedOutput returns the taproot script and the amount of the root
// shared output of a vtxo tree.
func CraftSharedOutput(
	receivers []Leaf,
	feeSatsPerNode uint64,
	sweepTapTreeRoot []byte,
) ([]byte, int64, error) {
	root, err := createTxTree(receivers, feeSatsPerNode, sweepTapTreeRoot, vtxoTreeRadix)
	if err != nil {
		return nil, 0, err
	}

	amount := root.getAmount() + int64(feeSatsPerNode)

	aggregatedKey, err := AggregateKeys(root.getCosigners(), sweepTapTreeRoot)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to aggregate keys: %w", err)
	}

	scriptPubkey, err := arklib.P2TRScript(aggregatedKey.FinalKey)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create script pubkey: %w", err)
	}

	return scriptPubkey, amount, nil
}

// BuildVtxoTree creates all the tree's transactions, radix is hardcoded to 2.
func BuildVtxoTree(
	initialInput *wire.OutPoint,
	receivers []Leaf,
	feeSatsPerNode uint64,
	sweepTapTreeRoot []byte,
	vtxoTreeExpiry arklib.RelativeLocktime,
) (TxTree, error) {
	root, err := createTxTree(receivers, feeSatsPerNode, sweepTapTreeRoot, vtxoTreeRadix)
	if err != nil {
		return nil, err
	}

	return toTxTree(root, initialInput, &vtxoTreeExpiry)
}

// CraftConnectorsOutput returns the taproot script and the amount of the root
// shared output of a connector tree.
func CraftConnectorsOutput(
	receivers []Leaf,
	feeSatsPerNode uint64,
) ([]byte, int64, error) {
	root, err := createTxTree(receivers, feeSatsPerNode, nil, connectorTreeRadix)
	if err != nil {
		return nil, 0, err
	}

	amount := root.getAmount() + int64(feeSatsPerNode)

	aggregatedKey, err := AggregateKeys(root.getCosigners(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to aggregate keys: %w", err)
	}

	scriptPubkey, err := arklib.P2TRScript(aggregatedKey.FinalKey)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create script pubkey: %w", err)
	}

	return scriptPubkey, amount, nil
}

// BuildConnectorsTree creates all the tree's transactions, radix is hardcoded to 4.
func BuildConnectorsTree(
	initialInput *wire.OutPoint,
	receivers []Leaf,
	feeSatsPerNode uint64,
) (TxTree, error) {
	root, err := createTxTree(receivers, feeSatsPerNode, nil, connectorTreeRadix)
	if err != nil {
		return nil, err
	}

	return toTxTree(root, initialInput, nil)
}

// toTxTree converts the recursive node structure to the level matrix form
func toTxTree(root node, initialInput *wire.OutPoint, expiry *arklib.RelativeLocktime) (TxTree, error) {
	txTree := make(TxTree, 0)

	ins := []*wire.OutPoint{initialInput}
	nodes := []node{root}

	for len(nodes) > 0 {
		nextNodes := make([]node, 0)
		nextInputs := make([]*wire.OutPoint, 0)

		treeLevel := make([]Node, 0)

		for i, n := range nodes {
			treeNode, err := getTreeNode(n, ins[i], expiry)
			if err != nil {
				return nil, err
			}

			nodeTxHash, err := chainhash.NewHashFromStr(treeNode.Txid)
			if err != nil {
				return nil, err
			}

			treeLevel = append(treeLevel, treeNode)

			for childIndex, child := range n.getChildren() {
				nextNodes = append(nextNodes, child)

				nextInputs = append(nextInputs, &wire.OutPoint{
					Hash:  *nodeTxHash,
					Index: uint32(childIndex),
				})
			}
		}

		txTree = append(txTree, treeLevel)
		nodes = append([]node{}, nextNodes...)
		ins = append([]*wire.OutPoint{}, nextInputs...)
	}

	return txTree, nil
}

type node interface {
	getAmount() int64 // input amount of the node = sum of receivers' amounts + fees
	getOutputs() ([]*wire.TxOut, error)
	getChildren() []node
	getCosigners() []*secp256k1.PublicKey
}

type leaf struct {
	amount    int64
	pkScript  []byte
	cosigners []*secp256k1.PublicKey
}

type branch struct {
	cosigners   []*secp256k1.PublicKey
	tapTreeRoot []byte
	children    []node
	feeAmount   int64
}

func (b *branch) getCosigners() []*secp256k1.PublicKey {
	return b.cosigners
}

func (l *leaf) getCosigners() []*secp256k1.PublicKey {
	return l.cosigners
}

func (b *branch) getChildren() []node {
	return b.children
}

func (l *leaf) getChildren() []node {
	return []node{}
}

func (b *branch) getAmount() int64 {
	amount := int64(0)
	for _, child := range b.children {
		amount += child.getAmount()
		amount += b.feeAmount
	}

	return amount
}

func (l *leaf) getAmount() int64 {
	return l.amount
}

func (l *leaf) getOutputs() ([]*wire.TxOut, error) {
	return []*wire.TxOut{
		{
			Value:    l.amount,
			PkScript: l.pkScript,
		},
	}, nil
}

// getOutputs pays each child's aggregated cosigner key so that the tree's
// parent-child taproot key invariant holds by construction
func (b *branch) getOutputs() ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0)

	for _, child := range b.children {
		aggregatedKey, err := AggregateKeys(child.getCosigners(), b.tapTreeRoot)
		if err != nil {
			return nil, err
		}

		pkScript, err := arklib.P2TRScript(aggregatedKey.FinalKey)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, &wire.TxOut{
			Value:    child.getAmount() + b.feeAmount,
			PkScript: pkScript,
		})
	}

	return outputs, nil
}

func getTreeNode(
	n node,
	input *wire.OutPoint,
	expiry *arklib.RelativeLocktime,
) (Node, error) {
	partialTx, err := getTx(n, input, expiry)
	if err != nil {
		return Node{}, err
	}

	txid := partialTx.UnsignedTx.TxHash().String()

	tx, err := partialTx.B64Encode()
	if err != nil {
		return Node{}, err
	}

	return Node{
		Txid:       txid,
		Tx:         tx,
		ParentTxid: input.Hash.String(),
		Leaf:       len(n.getChildren()) == 0,
	}, nil
}

func getTx(
	n node,
	input *wire.OutPoint,
	expiry *arklib.RelativeLocktime,
) (*psbt.Packet, error) {
	outputs, err := n.getOutputs()
	if err != nil {
		return nil, err
	}

	tx, err := psbt.New([]*wire.OutPoint{input}, outputs, 2, 0, []uint32{wire.MaxTxInSequenceNum})
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(tx)
	if err != nil {
		return nil, err
	}

	if err := updater.AddInSighashType(txscript.SigHashDefault, 0); err != nil {
		return nil, err
	}

	for _, cosigner := range n.getCosigners() {
		if err := txutils.AddCosignerKey(0, tx, cosigner); err != nil {
			return nil, err
		}
	}

	if expiry != nil {
		if err := txutils.AddVtxoTreeExpiry(0, tx, *expiry); err != nil {
			return nil, err
		}
	}

	return tx, nil
}

// createTxTree builds the recursive tree from the leaves up to the root
func createTxTree(
	receivers []Leaf,
	feeSatsPerNode uint64,
	tapTreeRoot []byte,
	radix int,
) (root node, err error) {
	if len(receivers) == 0 {
		return nil, fmt.Errorf("no receivers provided")
	}

	nodes := make([]node, 0, len(receivers))
	for _, r := range receivers {
		pkScript, err := hex.DecodeString(r.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to decode receiver script: %w", err)
		}

		if len(r.CosignersPublicKeys) == 0 {
			return nil, fmt.Errorf("missing cosigners public keys for receiver %s", r.Script)
		}

		cosigners := make([]*secp256k1.PublicKey, 0, len(r.CosignersPublicKeys))
		for _, cosigner := range r.CosignersPublicKeys {
			pubkeyBytes, err := hex.DecodeString(cosigner)
			if err != nil {
				return nil, fmt.Errorf("failed to decode cosigner pubkey: %w", err)
			}

			pubkey, err := secp256k1.ParsePubKey(pubkeyBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse cosigner pubkey: %w", err)
			}

			cosigners = append(cosigners, pubkey)
		}

		leafNode := &leaf{
			amount:    int64(r.Amount),
			pkScript:  pkScript,
			cosigners: uniqueCosigners(cosigners),
		}
		nodes = append(nodes, leafNode)
	}

	for len(nodes) > 1 {
		nodes, err = createUpperLevel(nodes, int64(feeSatsPerNode), tapTreeRoot, radix)
		if err != nil {
			return nil, fmt.Errorf("failed to create tx tree: %w", err)
		}
	}

	return nodes[0], nil
}

func createUpperLevel(nodes []node, feeAmount int64, tapTreeRoot []byte, radix int) ([]node, error) {
	if len(nodes) <= 1 {
		return nodes, nil
	}

	if len(nodes) < radix {
		return createUpperLevel(nodes, feeAmount, tapTreeRoot, len(nodes))
	}

	remainder := len(nodes) % radix
	if remainder != 0 {
		// handle nodes that don't form a complete group
		last := nodes[len(nodes)-remainder:]
		groups, err := createUpperLevel(nodes[:len(nodes)-remainder], feeAmount, tapTreeRoot, radix)
		if err != nil {
			return nil, err
		}

		return append(groups, last...), nil
	}

	groups := make([]node, 0, len(nodes)/radix)
	for i := 0; i < len(nodes); i += radix {
		children := nodes[i : i+radix]

		var cosigners []*secp256k1.PublicKey
		for _, child := range children {
			cosigners = append(cosigners, child.getCosigners()...)
		}
		cosigners = uniqueCosigners(cosigners)

		branchNode := &branch{
			tapTreeRoot: tapTreeRoot,
			cosigners:   cosigners,
			feeAmount:   feeAmount,
			children:    children,
		}

		groups = append(groups, branchNode)
	}
	return groups, nil
}

// uniqueCosigners removes duplicate cosigner keys while preserving order
func uniqueCosigners(cosigners []*secp256k1.PublicKey) []*secp256k1.PublicKey {
	seen := make(map[string]struct{})
	unique := make([]*secp256k1.PublicKey, 0, len(cosigners))

	for _, cosigner := range cosigners {
		keyStr := hex.EncodeToString(schnorr.SerializePubKey(cosigner))
		if _, exists := seen[keyStr]; !exists {
			seen[keyStr] = struct{}{}
			unique = append(unique, cosigner)
		}
	}
	return unique
}
