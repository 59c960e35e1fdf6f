package tree_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

// buildCommitmentTxFixture returns a fake commitment tx with the shared output
// at index 0 and the connector output at index 1, plus the vtxo tree spending it.
func buildCommitmentTxFixture(
	t *testing.T, receivers []tree.Leaf, sharedOutputAmount int64,
) (string, tree.TxTree) {
	t.Helper()

	sharedOutputScript, _, err := tree.CraftSharedOutput(receivers, minRelayFee, sweepRoot[:])
	require.NoError(t, err)

	connectorOutputScript, err := arklib.P2TRScript(serverPrivKey.PubKey())
	require.NoError(t, err)

	commitmentPtx, err := psbt.New(
		[]*wire.OutPoint{{Hash: *testTxid, Index: 0}},
		[]*wire.TxOut{
			{Value: sharedOutputAmount, PkScript: sharedOutputScript},
			{Value: 30000, PkScript: connectorOutputScript},
		},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	commitmentTx, err := commitmentPtx.B64Encode()
	require.NoError(t, err)

	vtxoTree, err := tree.BuildVtxoTree(
		&wire.OutPoint{Hash: commitmentPtx.UnsignedTx.TxHash(), Index: 0},
		receivers, minRelayFee, sweepRoot[:], batchExpiry,
	)
	require.NoError(t, err)

	return commitmentTx, vtxoTree
}

func TestValidateVtxoTree(t *testing.T) {
	t.Parallel()

	receivers, _, err := generateReceiversFixture(4)
	require.NoError(t, err)

	_, sharedOutputAmount, err := tree.CraftSharedOutput(receivers, minRelayFee, sweepRoot[:])
	require.NoError(t, err)

	commitmentTx, vtxoTree := buildCommitmentTxFixture(t, receivers, sharedOutputAmount)

	t.Run("valid", func(t *testing.T) {
		err := tree.ValidateVtxoTree(vtxoTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.NoError(t, err)
	})

	t.Run("empty tree", func(t *testing.T) {
		err := tree.ValidateVtxoTree(tree.TxTree{}, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrEmptyTree)
	})

	t.Run("invalid commitment tx", func(t *testing.T) {
		err := tree.ValidateVtxoTree(vtxoTree, "not a psbt", serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrInvalidCommitmentTx)
	})

	t.Run("root not spending shared output", func(t *testing.T) {
		otherTree, err := tree.BuildVtxoTree(
			&wire.OutPoint{Hash: *testTxid, Index: 0},
			receivers, minRelayFee, sweepRoot[:], batchExpiry,
		)
		require.NoError(t, err)

		err = tree.ValidateVtxoTree(otherTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrWrongCommitmentTxid)
	})

	t.Run("shared output amount too low", func(t *testing.T) {
		badCommitmentTx, badTree := buildCommitmentTxFixture(
			t, receivers, sharedOutputAmount-minRelayFee,
		)

		err := tree.ValidateVtxoTree(badTree, badCommitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrInvalidAmount)
	})

	t.Run("mutated parent txid", func(t *testing.T) {
		mutatedTree := copyTree(vtxoTree)
		mutatedTree[1][0].ParentTxid = testTxid.String()

		err := tree.ValidateVtxoTree(mutatedTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrParentTxidInput)
	})

	t.Run("missing cosigner keys", func(t *testing.T) {
		mutatedTree := copyTree(vtxoTree)
		mutatedTree[1][0].Tx = stripCosignerKeys(t, mutatedTree[1][0].Tx)

		err := tree.ValidateVtxoTree(mutatedTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrMissingCosignersPublicKeys)
	})

	t.Run("more children than parent outputs", func(t *testing.T) {
		mutatedTree := copyTree(vtxoTree)

		rootHash, err := chainhash.NewHashFromStr(mutatedTree[0][0].Txid)
		require.NoError(t, err)

		extraScript, err := arklib.P2TRScript(serverPrivKey.PubKey())
		require.NoError(t, err)

		extraPtx, err := psbt.New(
			[]*wire.OutPoint{{Hash: *rootHash, Index: 2}},
			[]*wire.TxOut{{Value: 1000, PkScript: extraScript}},
			2, 0, []uint32{wire.MaxTxInSequenceNum},
		)
		require.NoError(t, err)

		extraTx, err := extraPtx.B64Encode()
		require.NoError(t, err)

		mutatedTree[1] = append(mutatedTree[1], tree.Node{
			Txid:       extraPtx.UnsignedTx.TxHash().String(),
			Tx:         extraTx,
			ParentTxid: mutatedTree[0][0].Txid,
		})

		err = tree.ValidateVtxoTree(mutatedTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrInvalidChildren)
	})

	t.Run("child amount exceeds parent output", func(t *testing.T) {
		mutatedTree := copyTree(vtxoTree)
		leafLevel := len(mutatedTree) - 1

		ptx, err := psbt.NewFromRawBytes(strings.NewReader(mutatedTree[leafLevel][0].Tx), true)
		require.NoError(t, err)

		ptx.UnsignedTx.TxOut[0].Value += 1_000_000

		mutatedTx, err := ptx.B64Encode()
		require.NoError(t, err)
		mutatedTree[leafLevel][0].Tx = mutatedTx
		mutatedTree[leafLevel][0].Txid = ptx.UnsignedTx.TxHash().String()

		err = tree.ValidateVtxoTree(mutatedTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrInvalidAmount)
	})

	t.Run("mutated cosigner keys", func(t *testing.T) {
		foreignKey, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)

		mutatedTree := copyTree(vtxoTree)
		ptx, err := psbt.NewFromRawBytes(strings.NewReader(stripCosignerKeys(t, mutatedTree[1][0].Tx)), true)
		require.NoError(t, err)
		require.NoError(t, txutils.AddCosignerKey(0, ptx, foreignKey.PubKey()))

		mutatedTx, err := ptx.B64Encode()
		require.NoError(t, err)
		mutatedTree[1][0].Tx = mutatedTx

		err = tree.ValidateVtxoTree(mutatedTree, commitmentTx, serverPrivKey.PubKey(), batchExpiry)
		require.ErrorIs(t, err, tree.ErrInvalidTaprootScript)
	})
}

func TestValidateConnectorTree(t *testing.T) {
	t.Parallel()

	connectorScript, err := arklib.P2TRScript(serverPrivKey.PubKey())
	require.NoError(t, err)

	receivers := make([]tree.Leaf, 0, 5)
	for i := 0; i < 5; i++ {
		receivers = append(receivers, tree.Leaf{
			Script: hex.EncodeToString(connectorScript),
			Amount: 1000,
			CosignersPublicKeys: []string{
				hex.EncodeToString(serverPrivKey.PubKey().SerializeCompressed()),
			},
		})
	}

	connectorOutputScript, connectorAmount, err := tree.CraftConnectorsOutput(receivers, minRelayFee)
	require.NoError(t, err)

	commitmentPtx, err := psbt.New(
		[]*wire.OutPoint{{Hash: *testTxid, Index: 0}},
		[]*wire.TxOut{
			{Value: 100000, PkScript: connectorOutputScript},
			{Value: connectorAmount, PkScript: connectorOutputScript},
		},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	commitmentTx, err := commitmentPtx.B64Encode()
	require.NoError(t, err)

	connectorTree, err := tree.BuildConnectorsTree(
		&wire.OutPoint{Hash: commitmentPtx.UnsignedTx.TxHash(), Index: 1},
		receivers, minRelayFee,
	)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, tree.ValidateConnectorTree(connectorTree, commitmentTx))
	})

	t.Run("root not spending connector output", func(t *testing.T) {
		wrongIndexTree, err := tree.BuildConnectorsTree(
			&wire.OutPoint{Hash: commitmentPtx.UnsignedTx.TxHash(), Index: 0},
			receivers, minRelayFee,
		)
		require.NoError(t, err)

		err = tree.ValidateConnectorTree(wrongIndexTree, commitmentTx)
		require.ErrorIs(t, err, tree.ErrWrongConnectorTxid)
	})

	t.Run("empty tree", func(t *testing.T) {
		err := tree.ValidateConnectorTree(tree.TxTree{}, commitmentTx)
		require.ErrorIs(t, err, tree.ErrEmptyTree)
	})
}

func copyTree(src tree.TxTree) tree.TxTree {
	dst := make(tree.TxTree, 0, len(src))
	for _, level := range src {
		dst = append(dst, append([]tree.Node{}, level...))
	}
	return dst
}

func stripCosignerKeys(t *testing.T, tx string) string {
	t.Helper()

	ptx, err := psbt.NewFromRawBytes(strings.NewReader(tx), true)
	require.NoError(t, err)

	ptx.Inputs[0].Unknowns = nil

	stripped, err := ptx.B64Encode()
	require.NoError(t, err)
	return stripped
}
