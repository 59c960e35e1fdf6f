package script_test

import (
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

var exitDelay = arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 512}

func TestDefaultVtxoScript(t *testing.T) {
	t.Parallel()

	vtxoScript := script.NewDefaultVtxoScript(ownerPubKey, signerPubKey, exitDelay)
	require.Len(t, vtxoScript.Closures, 2)
	require.Len(t, vtxoScript.ForfeitClosures(), 1)
	require.Len(t, vtxoScript.ExitClosures(), 1)

	smallest, err := vtxoScript.SmallestExitDelay()
	require.NoError(t, err)
	require.Equal(t, exitDelay, *smallest)

	require.NoError(t, vtxoScript.Validate(signerPubKey, exitDelay))

	t.Run("encode and parse", func(t *testing.T) {
		tapscripts, err := vtxoScript.Encode()
		require.NoError(t, err)
		require.Len(t, tapscripts, 2)

		parsed, err := script.ParseVtxoScript(tapscripts)
		require.NoError(t, err)

		reencoded, err := parsed.Encode()
		require.NoError(t, err)
		require.Equal(t, tapscripts, reencoded)

		tapKey, _, err := vtxoScript.TapTree()
		require.NoError(t, err)

		parsedTapKey, _, err := parsed.TapTree()
		require.NoError(t, err)
		require.Equal(t, tapKey.SerializeCompressed(), parsedTapKey.SerializeCompressed())
	})

	t.Run("wrong signer", func(t *testing.T) {
		foreignKey, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)

		err = vtxoScript.Validate(foreignKey.PubKey(), exitDelay)
		require.Error(t, err)
	})

	t.Run("exit delay too short", func(t *testing.T) {
		err := vtxoScript.Validate(
			signerPubKey,
			arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 1024},
		)
		require.Error(t, err)
	})
}

func TestVtxoScriptTapTree(t *testing.T) {
	t.Parallel()

	vtxoScript := script.NewDefaultVtxoScript(ownerPubKey, signerPubKey, exitDelay)

	tapKey, tapTree, err := vtxoScript.TapTree()
	require.NoError(t, err)
	require.NotNil(t, tapKey)
	require.Len(t, tapTree.GetLeaves(), 2)

	// the merkle proof of each leaf must commit to the tree root
	for _, closure := range vtxoScript.Closures {
		leafScript, err := closure.Script()
		require.NoError(t, err)

		proof, err := tapTree.GetTaprootMerkleProof(
			txscript.NewBaseTapLeaf(leafScript).TapHash(),
		)
		require.NoError(t, err)
		require.Equal(t, leafScript, proof.Script)

		ctrlBlock, err := txscript.ParseControlBlock(proof.ControlBlock)
		require.NoError(t, err)
		treeRoot := tapTree.GetRoot()
		require.Equal(t, treeRoot.CloneBytes(), ctrlBlock.RootHash(proof.Script))
	}

	t.Run("unknown leaf", func(t *testing.T) {
		_, err := tapTree.GetTaprootMerkleProof(
			txscript.NewBaseTapLeaf([]byte{txscript.OP_TRUE}).TapHash(),
		)
		require.Error(t, err)
	})
}

func TestVtxoScriptAddress(t *testing.T) {
	t.Parallel()

	vtxoScript := script.NewDefaultVtxoScript(ownerPubKey, signerPubKey, exitDelay)

	addr, err := vtxoScript.Address(arklib.Bitcoin.Addr, signerPubKey)
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	decoded, err := arklib.DecodeAddressV0(addr)
	require.NoError(t, err)
	require.Equal(t, arklib.Bitcoin.Addr, decoded.HRP)

	tapKey, _, err := vtxoScript.TapTree()
	require.NoError(t, err)
	require.Equal(
		t,
		schnorr.SerializePubKey(tapKey),
		schnorr.SerializePubKey(decoded.VtxoTapKey),
	)
}
