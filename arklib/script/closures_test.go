package script_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

var (
	ownerPrivKey, _  = secp256k1.GeneratePrivateKey()
	signerPrivKey, _ = secp256k1.GeneratePrivateKey()
	ownerPubKey      = ownerPrivKey.PubKey()
	signerPubKey     = signerPrivKey.PubKey()
)

func TestDecodeClosure(t *testing.T) {
	t.Parallel()

	preimage := []byte("secret")
	preimageHash := sha256.Sum256(preimage)
	conditionScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(preimageHash[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
	require.NoError(t, err)

	testCases := []struct {
		name    string
		closure script.Closure
	}{
		{
			name: "multisig",
			closure: &script.MultisigClosure{
				PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
			},
		},
		{
			name: "multisig checksigadd",
			closure: &script.MultisigClosure{
				PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
				Type:    script.MultisigTypeChecksigAdd,
			},
		},
		{
			name: "csv multisig blocks",
			closure: &script.CSVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144},
			},
		},
		{
			name: "csv multisig seconds",
			closure: &script.CSVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
				},
				Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 1024},
			},
		},
		{
			name: "cltv multisig",
			closure: &script.CLTVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
				},
				Locktime: arklib.AbsoluteLocktime(800000),
			},
		},
		{
			// encoded as the OP_16 opcode, not a data push
			name: "cltv multisig small locktime",
			closure: &script.CLTVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Locktime: arklib.AbsoluteLocktime(16),
			},
		},
		{
			// 81..96 push a single payload byte colliding with the
			// OP_1..OP_16 opcode range
			name: "cltv multisig locktime 81",
			closure: &script.CLTVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Locktime: arklib.AbsoluteLocktime(81),
			},
		},
		{
			name: "csv multisig blocks 96",
			closure: &script.CSVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 96},
			},
		},
		{
			name: "csv multisig blocks 16",
			closure: &script.CSVMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 16},
			},
		},
		{
			name: "condition multisig",
			closure: &script.ConditionMultisigClosure{
				MultisigClosure: script.MultisigClosure{
					PubKeys: []*secp256k1.PublicKey{ownerPubKey},
				},
				Condition: conditionScript,
			},
		},
		{
			name: "condition csv multisig",
			closure: &script.ConditionCSVMultisigClosure{
				CSVMultisigClosure: script.CSVMultisigClosure{
					MultisigClosure: script.MultisigClosure{
						PubKeys: []*secp256k1.PublicKey{ownerPubKey},
					},
					Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 512},
				},
				Condition: conditionScript,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.closure.Script()
			require.NoError(t, err)

			decoded, err := script.DecodeClosure(encoded)
			require.NoError(t, err)
			require.IsType(t, tc.closure, decoded)

			reencoded, err := decoded.Script()
			require.NoError(t, err)
			require.Equal(t, encoded, reencoded)
		})
	}

	t.Run("malleated script", func(t *testing.T) {
		multisig := &script.MultisigClosure{
			PubKeys: []*secp256k1.PublicKey{ownerPubKey},
		}
		encoded, err := multisig.Script()
		require.NoError(t, err)

		malleated := append(encoded, txscript.OP_NOP)
		closure, err := script.DecodeClosure(malleated)
		require.Error(t, err)
		require.Nil(t, closure)
	})
}

func TestCSVMultisigClosureFields(t *testing.T) {
	t.Parallel()

	csv := &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
		},
		Locktime: arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 1024},
	}

	encoded, err := csv.Script()
	require.NoError(t, err)

	var decoded script.CSVMultisigClosure
	valid, err := decoded.Decode(encoded)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, csv.Locktime, decoded.Locktime)
	require.Len(t, decoded.PubKeys, 2)
	require.Equal(
		t,
		schnorr.SerializePubKey(ownerPubKey),
		schnorr.SerializePubKey(decoded.PubKeys[0]),
	)
}

func TestMultisigClosureWitness(t *testing.T) {
	t.Parallel()

	multisig := &script.MultisigClosure{
		PubKeys: []*secp256k1.PublicKey{ownerPubKey, signerPubKey},
	}

	encoded, err := multisig.Script()
	require.NoError(t, err)

	controlBlock := []byte{0xc0}
	ownerSig := []byte("owner signature")
	signerSig := []byte("signer signature")

	witness, err := multisig.Witness(controlBlock, map[string][]byte{
		hex.EncodeToString(schnorr.SerializePubKey(ownerPubKey)):  ownerSig,
		hex.EncodeToString(schnorr.SerializePubKey(signerPubKey)): signerSig,
	})
	require.NoError(t, err)
	require.Len(t, witness, 4)

	// sigs are pushed in reverse order of the pubkeys in the script
	require.Equal(t, wire.TxWitness{signerSig, ownerSig, encoded, controlBlock}, witness)

	_, err = multisig.Witness(controlBlock, map[string][]byte{
		hex.EncodeToString(schnorr.SerializePubKey(ownerPubKey)): ownerSig,
	})
	require.Error(t, err)
}

func TestExecuteBoolScript(t *testing.T) {
	t.Parallel()

	preimage := []byte("secret")
	preimageHash := sha256.Sum256(preimage)
	conditionScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(preimageHash[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
	require.NoError(t, err)

	valid, err := script.ExecuteBoolScript(conditionScript, wire.TxWitness{preimage})
	require.NoError(t, err)
	require.True(t, valid)

	valid, err = script.ExecuteBoolScript(conditionScript, wire.TxWitness{[]byte("wrong")})
	require.NoError(t, err)
	require.False(t, valid)

	sigScript, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(ownerPubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	_, err = script.ExecuteBoolScript(sigScript, wire.TxWitness{})
	require.Error(t, err)
}
