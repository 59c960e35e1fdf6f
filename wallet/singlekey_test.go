package wallet_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	arkscript "github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/types"
	"github.com/ark-network/ark-sdk/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

var (
	ownerPrivKey, _  = secp256k1.GeneratePrivateKey()
	signerPrivKey, _ = secp256k1.GeneratePrivateKey()

	testConfig = &types.Config{
		SignerPubKey:        signerPrivKey.PubKey(),
		Network:             arklib.BitcoinRegTest,
		UnilateralExitDelay: arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 512},
		BoardingExitDelay:   arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 1024},
	}
)

func TestNewSingleKeyWallet(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
		require.NoError(t, err)
		require.True(t, w.GetPublicKey().IsEqual(ownerPrivKey.PubKey()))
	})

	t.Run("missing private key", func(t *testing.T) {
		_, err := wallet.NewSingleKeyWallet(nil, testConfig)
		require.Error(t, err)
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := wallet.NewSingleKeyWallet(ownerPrivKey, nil)
		require.Error(t, err)
	})

	t.Run("missing signer pubkey", func(t *testing.T) {
		_, err := wallet.NewSingleKeyWallet(ownerPrivKey, &types.Config{})
		require.Error(t, err)
	})

	t.Run("from seed", func(t *testing.T) {
		seed := hex.EncodeToString(ownerPrivKey.Serialize())
		w, err := wallet.NewSingleKeyWalletFromSeed(seed, testConfig)
		require.NoError(t, err)
		require.True(t, w.GetPublicKey().IsEqual(ownerPrivKey.PubKey()))

		_, err = wallet.NewSingleKeyWalletFromSeed("not hex", testConfig)
		require.Error(t, err)
	})
}

func TestGetAddresses(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	offchainAddr, boardingAddr, err := w.GetAddresses(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, offchainAddr.Tapscripts)
	require.NotEmpty(t, boardingAddr.Tapscripts)

	decoded, err := arklib.DecodeAddressV0(offchainAddr.Address)
	require.NoError(t, err)
	require.Equal(t, arklib.BitcoinRegTest.Addr, decoded.HRP)
	require.Equal(
		t,
		schnorr.SerializePubKey(signerPrivKey.PubKey()),
		schnorr.SerializePubKey(decoded.Signer),
	)

	netParams := testConfig.Network.ChainParams()
	onchainAddr, err := btcutil.DecodeAddress(boardingAddr.Address, &netParams)
	require.NoError(t, err)
	require.IsType(t, &btcutil.AddressTaproot{}, onchainAddr)

	// the boarding tapscripts commit to the decoded taproot key
	boardingScript, err := arkscript.ParseVtxoScript(boardingAddr.Tapscripts)
	require.NoError(t, err)
	tapKey, _, err := boardingScript.TapTree()
	require.NoError(t, err)
	require.Equal(
		t, schnorr.SerializePubKey(tapKey), onchainAddr.ScriptAddress(),
	)
}

// keySpendPsbt builds a psbt with a single input spending a key-path-only
// taproot output owned by the given key.
func keySpendPsbt(t *testing.T, owner *secp256k1.PublicKey) *psbt.Packet {
	t.Helper()

	pkScript, err := arklib.P2TRScript(txscript.ComputeTaprootKeyNoScript(owner))
	require.NoError(t, err)

	ptx, err := psbt.New(
		[]*wire.OutPoint{{Hash: chainhash.Hash{0x01}, Index: 0}},
		[]*wire.TxOut{{Value: 9000, PkScript: pkScript}},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	ptx.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 10000, PkScript: pkScript}
	return ptx
}

func TestSignTransactionKeySpend(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	ptx := keySpendPsbt(t, ownerPrivKey.PubKey())
	b64, err := ptx.B64Encode()
	require.NoError(t, err)

	signedB64, err := w.SignTransaction(context.Background(), nil, b64)
	require.NoError(t, err)

	signed, err := psbt.NewFromRawBytes(strings.NewReader(signedB64), true)
	require.NoError(t, err)
	require.Len(t, signed.Inputs[0].TaprootKeySpendSig, 64)

	sig, err := schnorr.ParseSignature(signed.Inputs[0].TaprootKeySpendSig)
	require.NoError(t, err)

	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(
		signed.Inputs[0].WitnessUtxo.PkScript, signed.Inputs[0].WitnessUtxo.Value,
	)
	sighash, err := txscript.CalcTaprootSignatureHash(
		txscript.NewTxSigHashes(signed.UnsignedTx, prevoutFetcher),
		txscript.SigHashDefault, signed.UnsignedTx, 0, prevoutFetcher,
	)
	require.NoError(t, err)

	outputKey := txscript.ComputeTaprootKeyNoScript(ownerPrivKey.PubKey())
	require.True(t, sig.Verify(sighash, outputKey))
}

func TestSignTransactionTapscriptSpend(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	forfeitClosure := &arkscript.MultisigClosure{
		PubKeys: []*btcec.PublicKey{ownerPrivKey.PubKey(), signerPrivKey.PubKey()},
	}
	forfeitScript, err := forfeitClosure.Script()
	require.NoError(t, err)

	vtxoScript := arkscript.NewDefaultVtxoScript(
		ownerPrivKey.PubKey(), signerPrivKey.PubKey(), testConfig.UnilateralExitDelay,
	)
	tapKey, tapTree, err := vtxoScript.TapTree()
	require.NoError(t, err)

	leafProof, err := tapTree.GetTaprootMerkleProof(
		txscript.NewBaseTapLeaf(forfeitScript).TapHash(),
	)
	require.NoError(t, err)

	pkScript, err := arklib.P2TRScript(tapKey)
	require.NoError(t, err)

	ptx, err := psbt.New(
		[]*wire.OutPoint{{Hash: chainhash.Hash{0x02}, Index: 1}},
		[]*wire.TxOut{{Value: 9000, PkScript: pkScript}},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	ptx.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 10000, PkScript: pkScript}
	ptx.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: leafProof.ControlBlock,
		Script:       leafProof.Script,
		LeafVersion:  txscript.BaseLeafVersion,
	}}

	b64, err := ptx.B64Encode()
	require.NoError(t, err)

	signedB64, err := w.SignTransaction(context.Background(), nil, b64)
	require.NoError(t, err)

	signed, err := psbt.NewFromRawBytes(strings.NewReader(signedB64), true)
	require.NoError(t, err)
	require.Len(t, signed.Inputs[0].TaprootScriptSpendSig, 1)

	spendSig := signed.Inputs[0].TaprootScriptSpendSig[0]
	require.Equal(
		t, schnorr.SerializePubKey(ownerPrivKey.PubKey()), spendSig.XOnlyPubKey,
	)

	sig, err := schnorr.ParseSignature(spendSig.Signature)
	require.NoError(t, err)

	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 10000)
	sighash, err := txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(signed.UnsignedTx, prevoutFetcher),
		txscript.SigHashDefault, signed.UnsignedTx, 0, prevoutFetcher,
		txscript.NewBaseTapLeaf(forfeitScript),
	)
	require.NoError(t, err)
	require.True(t, sig.Verify(sighash, ownerPrivKey.PubKey()))
}

func TestSignTransactionErrors(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	t.Run("not a psbt", func(t *testing.T) {
		_, err := w.SignTransaction(context.Background(), nil, "not a psbt")
		require.Error(t, err)
	})

	t.Run("missing witness utxo without explorer", func(t *testing.T) {
		ptx := keySpendPsbt(t, ownerPrivKey.PubKey())
		ptx.Inputs[0].WitnessUtxo = nil
		b64, err := ptx.B64Encode()
		require.NoError(t, err)

		_, err = w.SignTransaction(context.Background(), nil, b64)
		require.ErrorContains(t, err, "missing witness utxo")
	})
}

func TestSignMessage(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("message"))
	sigHex, err := w.SignMessage(context.Background(), digest[:])
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(sigBytes)
	require.NoError(t, err)
	require.True(t, sig.Verify(digest[:], ownerPrivKey.PubKey()))
}

func TestNewVtxoTreeSigner(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewSingleKeyWallet(ownerPrivKey, testConfig)
	require.NoError(t, err)

	ctx := context.Background()

	first, err := w.NewVtxoTreeSigner(ctx, "m/0'/0")
	require.NoError(t, err)

	// same path derives the same key, a different path a different one
	same, err := w.NewVtxoTreeSigner(ctx, "m/0'/0")
	require.NoError(t, err)
	require.Equal(t, first.GetPublicKey(), same.GetPublicKey())

	other, err := w.NewVtxoTreeSigner(ctx, "m/0'/1")
	require.NoError(t, err)
	require.NotEqual(t, first.GetPublicKey(), other.GetPublicKey())

	_, err = w.NewVtxoTreeSigner(ctx, "")
	require.Error(t, err)

	_, err = w.NewVtxoTreeSigner(ctx, "m/abc")
	require.Error(t, err)
}
