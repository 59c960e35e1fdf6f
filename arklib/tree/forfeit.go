package tree

import (
	"fmt"

	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// BuildForfeitTx builds a transaction surrendering a vtxo to the server.
// It spends the vtxo outpoint together with its connector outpoint and pays
// the sum of the prevouts to the server's forfeit script. Fees are paid by
// anchor, the connector input is left unsigned for the server to co-sign.
func BuildForfeitTx(
	inputs []*wire.OutPoint,
	sequences []uint32,
	prevouts []*wire.TxOut,
	serverPkScript []byte,
	locktime uint32,
) (*psbt.Packet, error) {
	if len(inputs) != len(sequences) || len(inputs) != len(prevouts) {
		return nil, fmt.Errorf(
			"mismatching inputs, sequences and prevouts lengths: %d, %d, %d",
			len(inputs), len(sequences), len(prevouts),
		)
	}

	amount := int64(0)
	for _, prevout := range prevouts {
		amount += prevout.Value
	}

	outputs := []*wire.TxOut{
		{
			Value:    amount,
			PkScript: serverPkScript,
		},
		txutils.AnchorOutput(),
	}

	ptx, err := psbt.New(inputs, outputs, 3, locktime, sequences)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return nil, err
	}

	for i, prevout := range prevouts {
		if err := updater.AddInWitnessUtxo(prevout, i); err != nil {
			return nil, err
		}

		if err := updater.AddInSighashType(txscript.SigHashDefault, i); err != nil {
			return nil, err
		}
	}

	return ptx, nil
}
