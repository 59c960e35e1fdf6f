package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/explorer"
	"github.com/ark-network/ark-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/vulpemventures/go-bip32"
)

type singlekeyWallet struct {
	privateKey *secp256k1.PrivateKey
	cfg        *types.Config
}

// NewSingleKeyWallet returns a wallet owning a single private key. The
// config provides the signer pubkey and timelocks defining the default
// vtxo and boarding scripts.
func NewSingleKeyWallet(
	privateKey *secp256k1.PrivateKey, cfg *types.Config,
) (Wallet, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("missing private key")
	}
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	if cfg.SignerPubKey == nil {
		return nil, fmt.Errorf("missing signer public key")
	}

	return &singlekeyWallet{privateKey: privateKey, cfg: cfg}, nil
}

// NewSingleKeyWalletFromSeed accepts a hex-encoded private key.
func NewSingleKeyWalletFromSeed(seed string, cfg *types.Config) (Wallet, error) {
	privKeyBytes, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return NewSingleKeyWallet(secp256k1.PrivKeyFromBytes(privKeyBytes), cfg)
}

func (w *singlekeyWallet) GetPublicKey() *secp256k1.PublicKey {
	return w.privateKey.PubKey()
}

func (w *singlekeyWallet) GetAddresses(
	_ context.Context,
) (*TapscriptsAddress, *TapscriptsAddress, error) {
	vtxoScript := script.NewDefaultVtxoScript(
		w.privateKey.PubKey(), w.cfg.SignerPubKey, w.cfg.UnilateralExitDelay,
	)

	offchainAddr, err := vtxoScript.Address(w.cfg.Network.Addr, w.cfg.SignerPubKey)
	if err != nil {
		return nil, nil, err
	}

	tapscripts, err := vtxoScript.Encode()
	if err != nil {
		return nil, nil, err
	}

	boardingScript := script.NewDefaultVtxoScript(
		w.privateKey.PubKey(), w.cfg.SignerPubKey, w.cfg.BoardingExitDelay,
	)

	boardingTapKey, _, err := boardingScript.TapTree()
	if err != nil {
		return nil, nil, err
	}

	boardingTapscripts, err := boardingScript.Encode()
	if err != nil {
		return nil, nil, err
	}

	netParams := w.cfg.Network.ChainParams()
	boardingAddr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(boardingTapKey), &netParams,
	)
	if err != nil {
		return nil, nil, err
	}

	return &TapscriptsAddress{
			Tapscripts: tapscripts,
			Address:    offchainAddr,
		}, &TapscriptsAddress{
			Tapscripts: boardingTapscripts,
			Address:    boardingAddr.EncodeAddress(),
		}, nil
}

func (w *singlekeyWallet) SignTransaction(
	_ context.Context, explorerSvc explorer.Explorer, tx string,
) (string, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(tx), true)
	if err != nil {
		return "", err
	}

	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return "", err
	}

	for i, input := range updater.Upsbt.UnsignedTx.TxIn {
		if updater.Upsbt.Inputs[i].WitnessUtxo != nil {
			continue
		}
		if explorerSvc == nil {
			return "", fmt.Errorf(
				"missing witness utxo for input %d and no explorer to fetch it", i,
			)
		}

		prevoutTxHex, err := explorerSvc.GetTxHex(input.PreviousOutPoint.Hash.String())
		if err != nil {
			return "", err
		}

		var prevoutTx wire.MsgTx
		if err := prevoutTx.Deserialize(
			hex.NewDecoder(strings.NewReader(prevoutTxHex)),
		); err != nil {
			return "", err
		}

		if int(input.PreviousOutPoint.Index) >= len(prevoutTx.TxOut) {
			return "", fmt.Errorf("witness utxo not found")
		}

		if err := updater.AddInWitnessUtxo(
			prevoutTx.TxOut[input.PreviousOutPoint.Index], i,
		); err != nil {
			return "", err
		}
		if err := updater.AddInSighashType(txscript.SigHashDefault, i); err != nil {
			return "", err
		}
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, input := range updater.Upsbt.Inputs {
		outpoint := updater.Upsbt.UnsignedTx.TxIn[i].PreviousOutPoint
		prevouts[outpoint] = input.WitnessUtxo
	}
	prevoutFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	txsighashes := txscript.NewTxSigHashes(updater.Upsbt.UnsignedTx, prevoutFetcher)

	onchainPkScript, err := arklib.P2TRScript(
		txscript.ComputeTaprootKeyNoScript(w.privateKey.PubKey()),
	)
	if err != nil {
		return "", err
	}

	for i, input := range ptx.Inputs {
		if len(input.TaprootLeafScript) > 0 {
			if err := w.signTapscriptSpend(
				updater, input, i, txsighashes, prevoutFetcher,
			); err != nil {
				return "", err
			}
			continue
		}

		if input.WitnessUtxo != nil &&
			bytes.Equal(input.WitnessUtxo.PkScript, onchainPkScript) {
			updater.Upsbt.Inputs[i].TaprootInternalKey = schnorr.SerializePubKey(
				txscript.ComputeTaprootKeyNoScript(w.privateKey.PubKey()),
			)
			input = updater.Upsbt.Inputs[i]
		}

		if len(input.TaprootInternalKey) > 0 {
			if err := w.signTaprootKeySpend(
				updater, input, i, txsighashes, prevoutFetcher,
			); err != nil {
				return "", err
			}
		}
	}

	return ptx.B64Encode()
}

func (w *singlekeyWallet) SignMessage(
	_ context.Context, message []byte,
) (string, error) {
	sig, err := schnorr.Sign(w.privateKey, message)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

func (w *singlekeyWallet) NewVtxoTreeSigner(
	_ context.Context, derivationPath string,
) (tree.SignerSession, error) {
	if len(derivationPath) == 0 {
		return nil, fmt.Errorf("derivation path is required")
	}

	masterKey, err := bip32.NewMasterKey(w.privateKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	currentKey := masterKey
	for _, pathComponent := range strings.Split(
		strings.TrimPrefix(derivationPath, "m/"), "/",
	) {
		index := uint32(0)
		isHardened := strings.HasSuffix(pathComponent, "'")
		if isHardened {
			pathComponent = strings.TrimSuffix(pathComponent, "'")
		}
		if _, err := fmt.Sscanf(pathComponent, "%d", &index); err != nil {
			return nil, fmt.Errorf("invalid path component %s: %w", pathComponent, err)
		}
		if isHardened {
			index += bip32.FirstHardenedChild
		}

		currentKey, err = currentKey.NewChildKey(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	return tree.NewTreeSignerSession(
		secp256k1.PrivKeyFromBytes(currentKey.Key),
	), nil
}

func (w *singlekeyWallet) signTapscriptSpend(
	updater *psbt.Updater,
	input psbt.PInput,
	inputIndex int,
	txsighashes *txscript.TxSigHashes,
	prevoutFetcher *txscript.MultiPrevOutFetcher,
) error {
	myPubkey := schnorr.SerializePubKey(w.privateKey.PubKey())

	for _, leaf := range input.TaprootLeafScript {
		closure, err := script.DecodeClosure(leaf.Script)
		if err != nil {
			// skip unknown leaf
			continue
		}

		if !closureContainsKey(closure, myPubkey) {
			continue
		}

		if err := updater.AddInSighashType(txscript.SigHashDefault, inputIndex); err != nil {
			return err
		}

		hash := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()

		preimage, err := txscript.CalcTapscriptSignaturehash(
			txsighashes,
			txscript.SigHashDefault,
			updater.Upsbt.UnsignedTx,
			inputIndex,
			prevoutFetcher,
			txscript.NewBaseTapLeaf(leaf.Script),
		)
		if err != nil {
			return err
		}

		sig, err := schnorr.Sign(w.privateKey, preimage)
		if err != nil {
			return err
		}

		updater.Upsbt.Inputs[inputIndex].TaprootScriptSpendSig = append(
			updater.Upsbt.Inputs[inputIndex].TaprootScriptSpendSig,
			&psbt.TaprootScriptSpendSig{
				XOnlyPubKey: myPubkey,
				LeafHash:    hash.CloneBytes(),
				Signature:   sig.Serialize(),
				SigHash:     txscript.SigHashDefault,
			},
		)
	}

	return nil
}

func (w *singlekeyWallet) signTaprootKeySpend(
	updater *psbt.Updater,
	input psbt.PInput,
	inputIndex int,
	txsighashes *txscript.TxSigHashes,
	prevoutFetcher *txscript.MultiPrevOutFetcher,
) error {
	if len(input.TaprootKeySpendSig) > 0 {
		// already signed, skip
		return nil
	}

	xOnlyPubkey := schnorr.SerializePubKey(
		txscript.ComputeTaprootKeyNoScript(w.privateKey.PubKey()),
	)
	if !bytes.Equal(xOnlyPubkey, input.TaprootInternalKey) {
		// not the wallet's key, skip
		return nil
	}

	preimage, err := txscript.CalcTaprootSignatureHash(
		txsighashes,
		txscript.SigHashDefault,
		updater.Upsbt.UnsignedTx,
		inputIndex,
		prevoutFetcher,
	)
	if err != nil {
		return err
	}

	sig, err := schnorr.Sign(txscript.TweakTaprootPrivKey(*w.privateKey, nil), preimage)
	if err != nil {
		return err
	}

	updater.Upsbt.Inputs[inputIndex].TaprootKeySpendSig = sig.Serialize()

	return nil
}

func closureContainsKey(closure script.Closure, xOnlyKey []byte) bool {
	var pubkeys []*secp256k1.PublicKey

	switch c := closure.(type) {
	case *script.MultisigClosure:
		pubkeys = c.PubKeys
	case *script.CSVMultisigClosure:
		pubkeys = c.PubKeys
	case *script.CLTVMultisigClosure:
		pubkeys = c.PubKeys
	case *script.ConditionMultisigClosure:
		pubkeys = c.PubKeys
	case *script.ConditionCSVMultisigClosure:
		pubkeys = c.PubKeys
	default:
		return false
	}

	for _, key := range pubkeys {
		if bytes.Equal(schnorr.SerializePubKey(key), xOnlyKey) {
			return true
		}
	}
	return false
}
