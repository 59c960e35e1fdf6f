package txutils_test

import (
	"testing"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func newEmptyPsbt(t *testing.T) *psbt.Packet {
	t.Helper()

	ptx, err := psbt.New(nil, nil, 2, 0, nil)
	require.NoError(t, err)

	ptx.UnsignedTx.TxIn = []*wire.TxIn{{
		PreviousOutPoint: wire.OutPoint{},
		Sequence:         0,
	}}
	ptx.Inputs = []psbt.PInput{{}}
	return ptx
}

func TestPsbtCustomUnknownFields(t *testing.T) {
	t.Run("condition witness", func(t *testing.T) {
		ptx := newEmptyPsbt(t)

		witness := wire.TxWitness{
			[]byte{0x01, 0x02},
			[]byte{0x03, 0x04},
		}

		err := txutils.AddConditionWitness(0, ptx, witness)
		require.NoError(t, err)

		retrieved, err := txutils.GetConditionWitness(ptx.Inputs[0])
		require.NoError(t, err)
		require.Equal(t, len(witness), len(retrieved))

		for i := range witness {
			require.Equal(t, witness[i], retrieved[i])
		}
	})

	t.Run("vtxo tree expiry", func(t *testing.T) {
		expiries := []arklib.RelativeLocktime{
			// payload bytes in the OP_1..OP_16 opcode range must decode
			// back to their literal value
			{Type: arklib.LocktimeTypeBlock, Value: 81},
			{Type: arklib.LocktimeTypeBlock, Value: 96},
			{Type: arklib.LocktimeTypeBlock, Value: 144},
			{Type: arklib.LocktimeTypeBlock, Value: 4032},
			{Type: arklib.LocktimeTypeSecond, Value: 512},
			{Type: arklib.LocktimeTypeSecond, Value: 1024 * 512},
		}

		for _, expiry := range expiries {
			ptx := newEmptyPsbt(t)

			err := txutils.AddVtxoTreeExpiry(0, ptx, expiry)
			require.NoError(t, err)

			retrieved, err := txutils.GetVtxoTreeExpiry(ptx.Inputs[0])
			require.NoError(t, err)
			require.NotNil(t, retrieved)
			require.Equal(t, expiry.Type, retrieved.Type)
			require.Equal(t, expiry.Value, retrieved.Value)
		}
	})

	t.Run("missing vtxo tree expiry", func(t *testing.T) {
		ptx := newEmptyPsbt(t)

		retrieved, err := txutils.GetVtxoTreeExpiry(ptx.Inputs[0])
		require.NoError(t, err)
		require.Nil(t, retrieved)
	})

	t.Run("cosigner keys", func(t *testing.T) {
		ptx := newEmptyPsbt(t)

		var keys []*secp256k1.PublicKey
		for i := 0; i < 40; i++ {
			key, err := secp256k1.GeneratePrivateKey()
			require.NoError(t, err)
			keys = append(keys, key.PubKey())

			err = txutils.AddCosignerKey(0, ptx, key.PubKey())
			require.NoError(t, err)
		}

		retrieved, err := txutils.GetCosignerKeys(ptx.Inputs[0])
		require.NoError(t, err)
		require.Len(t, retrieved, 40)

		// keys must come back in insertion order
		for i := 0; i < 40; i++ {
			require.Equal(t, keys[i].SerializeCompressed(), retrieved[i].SerializeCompressed())
		}
	})

	t.Run("taproot tree", func(t *testing.T) {
		ptx := newEmptyPsbt(t)

		leaves := []string{"51024e73", "52024e73"}

		err := txutils.AddTaprootTree(0, ptx, leaves)
		require.NoError(t, err)

		retrieved, err := txutils.GetTaprootTree(ptx.Inputs[0])
		require.NoError(t, err)
		require.Equal(t, leaves, []string(retrieved))
	})
}
