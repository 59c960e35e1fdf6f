package offchain

import (
	"fmt"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

const (
	// signal CLTV with input sequence number
	cltvSequence = wire.MaxTxInSequenceNum - 1
)

// BuildTxs builds the ark tx spending the given vtxos, plus one checkpoint tx
// per input. The ark tx spends the checkpoint outputs via their collaborative
// closure, so that each input keeps an independent unilateral exit path.
func BuildTxs(
	vtxos []arklib.VtxoInput, outputs []*wire.TxOut,
	serverUnrollScript *script.CSVMultisigClosure,
) (*psbt.Packet, []*psbt.Packet, error) {
	checkpointInputs := make([]arklib.VtxoInput, 0, len(vtxos))
	checkpointTxs := make([]*psbt.Packet, 0, len(vtxos))

	for _, vtxo := range vtxos {
		checkpointPtx, checkpointInput, err := buildCheckpoint(vtxo, serverUnrollScript)
		if err != nil {
			return nil, nil, err
		}

		checkpointInputs = append(checkpointInputs, checkpointInput)
		checkpointTxs = append(checkpointTxs, checkpointPtx)
	}

	arkPtx, err := buildVirtualTx(checkpointInputs, outputs)
	if err != nil {
		return nil, nil, err
	}

	return arkPtx, checkpointTxs, nil
}

// buildVirtualTx builds a virtual tx spending the given vtxos through their
// collaborative taproot path. An anchor output is always appended.
func buildVirtualTx(
	vtxos []arklib.VtxoInput,
	outputs []*wire.TxOut,
) (*psbt.Packet, error) {
	if len(vtxos) <= 0 {
		return nil, fmt.Errorf("missing vtxos")
	}

	ins := make([]*wire.OutPoint, 0, len(vtxos))
	sequences := make([]uint32, 0, len(vtxos))
	witnessUtxos := make(map[int]*wire.TxOut)
	signingTapLeaves := make(map[int]*psbt.TaprootTapLeafScript)
	tapscripts := make(map[int][]string)

	txLocktime := arklib.AbsoluteLocktime(0)

	for index, vtxo := range vtxos {
		if len(vtxo.RevealedTapscripts) == 0 {
			return nil, fmt.Errorf("missing tapscripts for input %d", index)
		}

		tapscripts[index] = vtxo.RevealedTapscripts

		rootHash := vtxo.Tapscript.ControlBlock.RootHash(vtxo.Tapscript.RevealedScript)
		taprootKey := txscript.ComputeTaprootOutputKey(script.UnspendableKey(), rootHash)

		vtxoOutputScript, err := arklib.P2TRScript(taprootKey)
		if err != nil {
			return nil, err
		}

		witnessUtxos[index] = &wire.TxOut{
			Value:    vtxo.Amount,
			PkScript: vtxoOutputScript,
		}

		ctrlBlockBytes, err := vtxo.Tapscript.ControlBlock.ToBytes()
		if err != nil {
			return nil, err
		}

		signingTapLeaves[index] = &psbt.TaprootTapLeafScript{
			ControlBlock: ctrlBlockBytes,
			Script:       vtxo.Tapscript.RevealedScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}

		closure, err := script.DecodeClosure(vtxo.Tapscript.RevealedScript)
		if err != nil {
			return nil, err
		}

		// a CLTV closure raises the tx locktime, all inputs must agree on the
		// locktime unit
		var locktime *arklib.AbsoluteLocktime
		if cltv, ok := closure.(*script.CLTVMultisigClosure); ok {
			locktime = &cltv.Locktime
			if locktime.IsSeconds() {
				if txLocktime != 0 && !txLocktime.IsSeconds() {
					return nil, fmt.Errorf("mixed absolute locktime types")
				}
			} else {
				if txLocktime != 0 && txLocktime.IsSeconds() {
					return nil, fmt.Errorf("mixed absolute locktime types")
				}
			}

			if *locktime > txLocktime {
				txLocktime = *locktime
			}
		}

		ins = append(ins, vtxo.Outpoint)
		if locktime != nil {
			sequences = append(sequences, cltvSequence)
		} else {
			sequences = append(sequences, wire.MaxTxInSequenceNum)
		}
	}

	virtualPtx, err := psbt.New(
		ins, append(outputs, txutils.AnchorOutput()), 3, uint32(txLocktime), sequences,
	)
	if err != nil {
		return nil, err
	}

	for i := range virtualPtx.Inputs {
		virtualPtx.Inputs[i].WitnessUtxo = witnessUtxos[i]
		virtualPtx.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{signingTapLeaves[i]}
		if err := txutils.AddTaprootTree(i, virtualPtx, tapscripts[i]); err != nil {
			return nil, err
		}
	}

	return virtualPtx, nil
}

// buildCheckpoint creates a virtual tx sending to a "checkpoint" vtxo script
// composed of the server unroll script + the owner's collaborative closure.
func buildCheckpoint(
	vtxo arklib.VtxoInput, serverUnrollScript *script.CSVMultisigClosure,
) (*psbt.Packet, arklib.VtxoInput, error) {
	collaborativeClosure, err := script.DecodeClosure(vtxo.Tapscript.RevealedScript)
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	checkpointVtxoScript := script.TapscriptsVtxoScript{
		Closures: []script.Closure{serverUnrollScript, collaborativeClosure},
	}

	tapKey, tapTree, err := checkpointVtxoScript.TapTree()
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	checkpointPkScript, err := arklib.P2TRScript(tapKey)
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	checkpointPtx, err := buildVirtualTx(
		[]arklib.VtxoInput{vtxo},
		[]*wire.TxOut{{Value: vtxo.Amount, PkScript: checkpointPkScript}},
	)
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	// the checkpoint output becomes the corresponding input of the ark tx
	collaborativeLeafProof, err := tapTree.GetTaprootMerkleProof(
		txscript.NewBaseTapLeaf(vtxo.Tapscript.RevealedScript).TapHash(),
	)
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	ctrlBlock, err := txscript.ParseControlBlock(collaborativeLeafProof.ControlBlock)
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	revealedTapscripts, err := checkpointVtxoScript.Encode()
	if err != nil {
		return nil, arklib.VtxoInput{}, err
	}

	checkpointInput := arklib.VtxoInput{
		Outpoint: &wire.OutPoint{
			Hash:  checkpointPtx.UnsignedTx.TxHash(),
			Index: 0,
		},
		Amount: vtxo.Amount,
		Tapscript: &waddrmgr.Tapscript{
			ControlBlock:   ctrlBlock,
			RevealedScript: collaborativeLeafProof.Script,
		},
		RevealedTapscripts: revealedTapscripts,
	}

	return checkpointPtx, checkpointInput, nil
}
