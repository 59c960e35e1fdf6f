package script

import (
	"fmt"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ExecuteBoolScript evaluates a condition script against the given
// witness and returns the resulting boolean. Signature and timelock
// opcodes are rejected, a condition must be verifiable without any
// transaction context.
func ExecuteBoolScript(script []byte, witness wire.TxWitness) (bool, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		switch tokenizer.Opcode() {
		case txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY, txscript.OP_CHECKSIGADD,
			txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY,
			txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_CHECKSEQUENCEVERIFY:
			return false, fmt.Errorf(
				"forbidden opcode %d in condition script", tokenizer.Opcode(),
			)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return false, err
	}

	// evaluate the script as a taproot leaf spent by the witness
	leaf := txscript.NewBaseTapLeaf(script)
	tapTree := txscript.AssembleTaprootScriptTree(leaf)
	root := tapTree.RootNode.TapHash()
	taprootKey := txscript.ComputeTaprootOutputKey(UnspendableKey(), root[:])

	pkScript, err := arklib.P2TRScript(taprootKey)
	if err != nil {
		return false, err
	}

	controlBlock := tapTree.LeafMerkleProofs[0].ToControlBlock(UnspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return false, err
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: pkScript})
	fullWitness := make(wire.TxWitness, 0, len(witness)+2)
	fullWitness = append(fullWitness, witness...)
	fullWitness = append(fullWitness, script, controlBlockBytes)
	tx.TxIn[0].Witness = fullWitness

	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)

	engine, err := txscript.NewEngine(
		pkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevoutFetcher), 0, prevoutFetcher,
	)
	if err != nil {
		return false, err
	}

	if err := engine.Execute(); err != nil {
		if txscript.IsErrorCode(err, txscript.ErrEvalFalse) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
