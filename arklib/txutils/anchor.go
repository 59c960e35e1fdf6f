package txutils

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Pay-to-anchor (P2A) output appended to every offchain transaction so
// fees can be attached later via child-pays-for-parent.
var (
	ANCHOR_PKSCRIPT = []byte{
		0x51, 0x02, 0x4e, 0x73,
	}
	ANCHOR_VALUE = int64(0)
)

// AnchorOutput returns the fixed zero-value P2A output.
func AnchorOutput() *wire.TxOut {
	return &wire.TxOut{
		Value:    ANCHOR_VALUE,
		PkScript: ANCHOR_PKSCRIPT,
	}
}

// ExtractWithAnchors behaves like psbt.Extract but tolerates unsigned
// anchor inputs, copying final witnesses only where they exist.
func ExtractWithAnchors(p *psbt.Packet) (*wire.MsgTx, error) {
	finalTx := p.UnsignedTx.Copy()

	for i, tin := range finalTx.TxIn {
		pInput := p.Inputs[i]

		if pInput.WitnessUtxo != nil && bytes.Equal(pInput.WitnessUtxo.PkScript, ANCHOR_PKSCRIPT) {
			continue
		}

		if pInput.FinalScriptSig != nil {
			tin.SignatureScript = pInput.FinalScriptSig
		}

		if pInput.FinalScriptWitness != nil {
			witnessReader := bytes.NewReader(pInput.FinalScriptWitness)

			witCount, err := wire.ReadVarInt(witnessReader, 0)
			if err != nil {
				return nil, err
			}

			tin.Witness = make(wire.TxWitness, witCount)
			for j := uint64(0); j < witCount; j++ {
				wit, err := wire.ReadVarBytes(
					witnessReader, 0, txscript.MaxScriptSize, "witness",
				)
				if err != nil {
					return nil, err
				}
				tin.Witness[j] = wit
			}
		}
	}

	return finalTx, nil
}
