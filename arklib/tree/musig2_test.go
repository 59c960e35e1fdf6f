package tree_test

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

const minRelayFee = 1000

var (
	batchExpiry      = arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144}
	testTxid, _      = chainhash.NewHashFromStr("49f8664acc899be91902f8ade781b7eeb9cbe22bdd9efbc36e56195de21bcd12")
	serverPrivKey, _ = secp256k1.GeneratePrivateKey()
	sweepScript, _   = (&script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{PubKeys: []*secp256k1.PublicKey{serverPrivKey.PubKey()}},
		Locktime:        batchExpiry,
	}).Script()
	sweepRoot      = txscript.NewBaseTapLeaf(sweepScript).TapHash()
	receiverCounts = []int{1, 2, 20, 128}
)

func TestBuildAndSignVtxoTree(t *testing.T) {
	t.Parallel()

	for _, tc := range generateTestCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			_, sharedOutputAmount, err := tree.CraftSharedOutput(
				tc.receivers,
				minRelayFee,
				sweepRoot[:],
			)
			require.NoError(t, err)

			vtxoTree, err := tree.BuildVtxoTree(
				&wire.OutPoint{
					Hash:  *testTxid,
					Index: 0,
				},
				tc.receivers,
				minRelayFee,
				sweepRoot[:],
				batchExpiry,
			)
			require.NoError(t, err)

			serverCoordinator, err := tree.NewTreeCoordinatorSession(
				sharedOutputAmount,
				vtxoTree,
				sweepRoot[:],
			)
			require.NoError(t, err)

			// create a signer session for each receiver
			signerSessions := make(map[*btcec.PublicKey]tree.SignerSession)
			for _, prvkey := range tc.privKeys {
				session := tree.NewTreeSignerSession(prvkey)
				require.NoError(t, session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))
				signerSessions[prvkey.PubKey()] = session
			}

			// add the server's signer session
			serverSession := tree.NewTreeSignerSession(serverPrivKey)
			require.NoError(t, serverSession.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))
			signerSessions[serverPrivKey.PubKey()] = serverSession

			// generate nonces from all signers
			for pubkey, session := range signerSessions {
				nonces, err := session.GetNonces()
				require.NoError(t, err)
				serverCoordinator.AddNonce(pubkey, nonces)
			}

			aggregatedNonces, err := serverCoordinator.AggregateNonces()
			require.NoError(t, err)

			// set the aggregated nonces for all signer sessions
			for _, session := range signerSessions {
				require.NoError(t, session.SetAggregatedNonces(aggregatedNonces))
			}

			// get signatures from all signer sessions
			for pubkey, session := range signerSessions {
				sigs, err := session.Sign()
				require.NoError(t, err)
				serverCoordinator.AddSignatures(pubkey, sigs)
			}

			// aggregate signatures
			signedTree, err := serverCoordinator.SignTree()
			require.NoError(t, err)

			// validate signatures
			err = tree.ValidateTreeSigs(
				sweepRoot[:],
				sharedOutputAmount,
				signedTree,
			)
			require.NoError(t, err)
		})
	}
}

func TestSignerSessionErrors(t *testing.T) {
	t.Parallel()

	receivers, privKeys, err := generateReceiversFixture(2)
	require.NoError(t, err)

	_, sharedOutputAmount, err := tree.CraftSharedOutput(receivers, minRelayFee, sweepRoot[:])
	require.NoError(t, err)

	vtxoTree, err := tree.BuildVtxoTree(
		&wire.OutPoint{Hash: *testTxid, Index: 0},
		receivers, minRelayFee, sweepRoot[:], batchExpiry,
	)
	require.NoError(t, err)

	t.Run("init twice", func(t *testing.T) {
		session := tree.NewTreeSignerSession(privKeys[0])
		require.NoError(t, session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))
		err := session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree)
		require.ErrorIs(t, err, tree.ErrAlreadyInitialized)
	})

	t.Run("init with empty tree", func(t *testing.T) {
		session := tree.NewTreeSignerSession(privKeys[0])
		err := session.Init(sweepRoot[:], sharedOutputAmount, tree.TxTree{})
		require.ErrorIs(t, err, tree.ErrMissingVtxoTree)
	})

	t.Run("sign before nonces", func(t *testing.T) {
		session := tree.NewTreeSignerSession(privKeys[0])
		require.NoError(t, session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))

		_, err := session.Sign()
		require.ErrorIs(t, err, tree.ErrNoncesNotSet)
	})

	t.Run("set aggregated nonces twice", func(t *testing.T) {
		session := tree.NewTreeSignerSession(privKeys[0])
		require.NoError(t, session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))

		nonces, err := session.GetNonces()
		require.NoError(t, err)

		require.NoError(t, session.SetAggregatedNonces(nonces))
		err = session.SetAggregatedNonces(nonces)
		require.ErrorIs(t, err, tree.ErrNoncesAlreadySet)
	})

	t.Run("nonces before init", func(t *testing.T) {
		session := tree.NewTreeSignerSession(privKeys[0])
		_, err := session.GetNonces()
		require.ErrorIs(t, err, tree.ErrMissingVtxoTree)
	})
}

func TestTreeNoncesSerialization(t *testing.T) {
	t.Parallel()

	receivers, privKeys, err := generateReceiversFixture(2)
	require.NoError(t, err)

	_, sharedOutputAmount, err := tree.CraftSharedOutput(receivers, minRelayFee, sweepRoot[:])
	require.NoError(t, err)

	vtxoTree, err := tree.BuildVtxoTree(
		&wire.OutPoint{Hash: *testTxid, Index: 0},
		receivers, minRelayFee, sweepRoot[:], batchExpiry,
	)
	require.NoError(t, err)

	session := tree.NewTreeSignerSession(privKeys[0])
	require.NoError(t, session.Init(sweepRoot[:], sharedOutputAmount, vtxoTree))

	nonces, err := session.GetNonces()
	require.NoError(t, err)
	require.NotEmpty(t, nonces)

	encoded, err := nonces.MarshalJSON()
	require.NoError(t, err)

	var decoded tree.TreeNonces
	require.NoError(t, decoded.UnmarshalJSON(encoded))
	require.Len(t, decoded, len(nonces))
	for txid, nonce := range nonces {
		require.NotNil(t, decoded[txid])
		require.Equal(t, nonce.PubNonce, decoded[txid].PubNonce)
	}
}

type testCase struct {
	name      string
	receivers []tree.Leaf
	privKeys  []*secp256k1.PrivateKey
}

func generateReceiversFixture(count int) ([]tree.Leaf, []*secp256k1.PrivateKey, error) {
	receivers := make([]tree.Leaf, 0, count)
	privKeys := make([]*secp256k1.PrivateKey, 0, count)
	for i := 0; i < count; i++ {
		prvkey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}

		pkScript, err := arklib.P2TRScript(txscript.ComputeTaprootKeyNoScript(prvkey.PubKey()))
		if err != nil {
			return nil, nil, err
		}

		receivers = append(receivers, tree.Leaf{
			Script: hex.EncodeToString(pkScript),
			Amount: uint64((i + 1) * 1000),
			CosignersPublicKeys: []string{
				hex.EncodeToString(prvkey.PubKey().SerializeCompressed()),
				hex.EncodeToString(serverPrivKey.PubKey().SerializeCompressed()),
			},
		})
		privKeys = append(privKeys, prvkey)
	}
	return receivers, privKeys, nil
}

func generateTestCases(t *testing.T) []testCase {
	testCases := make([]testCase, 0, len(receiverCounts))
	for _, count := range receiverCounts {
		receivers, privKeys, err := generateReceiversFixture(count)
		require.NoError(t, err)

		testCases = append(testCases, testCase{
			name:      fmt.Sprintf("%d receivers", len(receivers)),
			receivers: receivers,
			privKeys:  privKeys,
		})
	}
	return testCases
}
