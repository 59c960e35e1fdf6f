package script

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ConditionWitnessKey is the key used to pass the witness satisfying a
// condition script to the Witness method of condition closures.
const ConditionWitnessKey = "condition"

type MultisigType int

const (
	MultisigTypeChecksig MultisigType = iota
	MultisigTypeChecksigAdd
)

// Closure is a tapscript spending condition. Decode must reconstruct
// the parameters from the script, rebuild it and byte-compare with the
// input so that a malleated script never decodes successfully.
type Closure interface {
	Script() ([]byte, error)
	Decode(script []byte) (bool, error)
	WitnessSize(conditionWitnessSizes ...int) int
	Witness(controlBlock []byte, args map[string][]byte) (wire.TxWitness, error)
}

// MultisigClosure is a n-of-n multisig between pubkeys, either as a
// chain of CHECKSIGVERIFY or as a CHECKSIGADD aggregate.
type MultisigClosure struct {
	PubKeys []*secp256k1.PublicKey
	Type    MultisigType
}

// CSVMultisigClosure is a MultisigClosure gated by a BIP68 relative
// timelock.
type CSVMultisigClosure struct {
	MultisigClosure
	Locktime arklib.RelativeLocktime
}

// CLTVMultisigClosure is a MultisigClosure gated by an absolute
// locktime.
type CLTVMultisigClosure struct {
	MultisigClosure
	Locktime arklib.AbsoluteLocktime
}

// ConditionMultisigClosure prepends an arbitrary condition script,
// verified before the multisig part.
type ConditionMultisigClosure struct {
	MultisigClosure
	Condition []byte
}

// ConditionCSVMultisigClosure prepends an arbitrary condition script to
// a CSVMultisigClosure.
type ConditionCSVMultisigClosure struct {
	CSVMultisigClosure
	Condition []byte
}

// DecodeClosure tries to decode the script against each closure type in
// a fixed order and returns the first match.
func DecodeClosure(script []byte) (Closure, error) {
	types := []Closure{
		&ConditionCSVMultisigClosure{},
		&ConditionMultisigClosure{},
		&CLTVMultisigClosure{},
		&CSVMultisigClosure{},
		&MultisigClosure{},
	}

	for _, closure := range types {
		if valid, err := closure.Decode(script); err == nil && valid {
			return closure, nil
		}
	}

	return nil, fmt.Errorf("invalid closure script %s", hex.EncodeToString(script))
}

func (f *MultisigClosure) WitnessSize(_ ...int) int {
	return 64 * len(f.PubKeys)
}

func (f *MultisigClosure) Script() ([]byte, error) {
	if len(f.PubKeys) == 0 {
		return nil, fmt.Errorf("missing public keys")
	}

	builder := txscript.NewScriptBuilder()

	switch f.Type {
	case MultisigTypeChecksig:
		for i, pubkey := range f.PubKeys {
			builder.AddData(schnorr.SerializePubKey(pubkey))
			if i == len(f.PubKeys)-1 {
				builder.AddOp(txscript.OP_CHECKSIG)
			} else {
				builder.AddOp(txscript.OP_CHECKSIGVERIFY)
			}
		}
	case MultisigTypeChecksigAdd:
		for i, pubkey := range f.PubKeys {
			builder.AddData(schnorr.SerializePubKey(pubkey))
			if i == 0 {
				builder.AddOp(txscript.OP_CHECKSIG)
			} else {
				builder.AddOp(txscript.OP_CHECKSIGADD)
			}
		}
		builder.AddInt64(int64(len(f.PubKeys)))
		builder.AddOp(txscript.OP_NUMEQUAL)
	default:
		return nil, fmt.Errorf("unknown multisig type %d", f.Type)
	}

	return builder.Script()
}

func (f *MultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	for _, multisigType := range []MultisigType{
		MultisigTypeChecksig, MultisigTypeChecksigAdd,
	} {
		pubkeys := decodeMultisigScript(script, multisigType)
		if len(pubkeys) == 0 {
			continue
		}

		f.PubKeys = pubkeys
		f.Type = multisigType

		rebuilt, err := f.Script()
		if err != nil {
			return false, err
		}
		if bytes.Equal(rebuilt, script) {
			return true, nil
		}
	}

	f.PubKeys = nil
	f.Type = MultisigTypeChecksig
	return false, nil
}

// decodeMultisigScript extracts the public keys of a multisig script,
// returns nil if the script does not have the expected shape. The
// caller is expected to rebuild and byte-compare.
func decodeMultisigScript(script []byte, multisigType MultisigType) []*secp256k1.PublicKey {
	pubkeys := make([]*secp256k1.PublicKey, 0)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		switch tokenizer.Opcode() {
		case txscript.OP_DATA_32:
			pubkey, err := schnorr.ParsePubKey(tokenizer.Data())
			if err != nil {
				return nil
			}
			pubkeys = append(pubkeys, pubkey)
		case txscript.OP_CHECKSIGVERIFY:
			if multisigType != MultisigTypeChecksig {
				return nil
			}
		case txscript.OP_CHECKSIG:
			if multisigType == MultisigTypeChecksig && tokenizer.Done() {
				continue
			}
			if multisigType == MultisigTypeChecksigAdd && len(pubkeys) == 1 {
				continue
			}
			return nil
		case txscript.OP_CHECKSIGADD, txscript.OP_NUMEQUAL:
			if multisigType != MultisigTypeChecksigAdd {
				return nil
			}
		default:
			// the CHECKSIGADD variant ends with a push of the number of keys,
			// anything else makes the rebuilt script mismatch anyway
			if multisigType != MultisigTypeChecksigAdd {
				return nil
			}
		}
	}
	if tokenizer.Err() != nil {
		return nil
	}

	return pubkeys
}

func (f *MultisigClosure) Witness(
	controlBlock []byte, args map[string][]byte,
) (wire.TxWitness, error) {
	script, err := f.Script()
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, 0, len(f.PubKeys)+2)

	// sigs are pushed in reverse order of the pubkeys in the script
	for i := len(f.PubKeys) - 1; i >= 0; i-- {
		key := hex.EncodeToString(schnorr.SerializePubKey(f.PubKeys[i]))
		sig, ok := args[key]
		if !ok {
			return nil, fmt.Errorf("missing signature for public key %s", key)
		}
		witness = append(witness, sig)
	}

	witness = append(witness, script, controlBlock)
	return witness, nil
}

func (f *CSVMultisigClosure) WitnessSize(_ ...int) int {
	return f.MultisigClosure.WitnessSize()
}

func (f *CSVMultisigClosure) Script() ([]byte, error) {
	sequence, err := arklib.BIP68Sequence(f.Locktime)
	if err != nil {
		return nil, err
	}

	csvScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(sequence)).
		AddOps([]byte{
			txscript.OP_CHECKSEQUENCEVERIFY,
			txscript.OP_DROP,
		}).
		Script()
	if err != nil {
		return nil, err
	}

	multisigScript, err := f.MultisigClosure.Script()
	if err != nil {
		return nil, err
	}
	return append(csvScript, multisigScript...), nil
}

func (f *CSVMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	csvIndex := bytes.Index(
		script, []byte{txscript.OP_CHECKSEQUENCEVERIFY, txscript.OP_DROP},
	)
	if csvIndex <= 0 {
		return false, nil
	}

	sequence, err := scriptNumPayload(script[:csvIndex])
	if err != nil {
		return false, nil
	}

	locktime, err := arklib.BIP68DecodeSequence(sequence)
	if err != nil {
		return false, err
	}

	multisig := &MultisigClosure{}
	valid, err := multisig.Decode(script[csvIndex+2:])
	if err != nil || !valid {
		return false, err
	}

	f.Locktime = *locktime
	f.MultisigClosure = *multisig

	rebuilt, err := f.Script()
	if err != nil {
		return false, err
	}
	if !bytes.Equal(rebuilt, script) {
		return false, nil
	}

	return true, nil
}

func (f *CSVMultisigClosure) Witness(
	controlBlock []byte, args map[string][]byte,
) (wire.TxWitness, error) {
	witness, err := f.MultisigClosure.Witness(controlBlock, args)
	if err != nil {
		return nil, err
	}

	// replace the multisig script with the timelocked one
	script, err := f.Script()
	if err != nil {
		return nil, err
	}
	witness[len(witness)-2] = script

	return witness, nil
}

func (f *CLTVMultisigClosure) WitnessSize(_ ...int) int {
	return f.MultisigClosure.WitnessSize()
}

func (f *CLTVMultisigClosure) Script() ([]byte, error) {
	cltvScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(f.Locktime)).
		AddOps([]byte{
			txscript.OP_CHECKLOCKTIMEVERIFY,
			txscript.OP_DROP,
		}).
		Script()
	if err != nil {
		return nil, err
	}

	multisigScript, err := f.MultisigClosure.Script()
	if err != nil {
		return nil, err
	}
	return append(cltvScript, multisigScript...), nil
}

func (f *CLTVMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	cltvIndex := bytes.Index(
		script, []byte{txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP},
	)
	if cltvIndex <= 0 {
		return false, nil
	}

	locktime, err := decodeScriptNum(script[:cltvIndex])
	if err != nil {
		return false, nil
	}

	multisig := &MultisigClosure{}
	valid, err := multisig.Decode(script[cltvIndex+2:])
	if err != nil || !valid {
		return false, err
	}

	f.Locktime = arklib.AbsoluteLocktime(locktime)
	f.MultisigClosure = *multisig

	rebuilt, err := f.Script()
	if err != nil {
		return false, err
	}
	if !bytes.Equal(rebuilt, script) {
		return false, nil
	}

	return true, nil
}

func (f *CLTVMultisigClosure) Witness(
	controlBlock []byte, args map[string][]byte,
) (wire.TxWitness, error) {
	witness, err := f.MultisigClosure.Witness(controlBlock, args)
	if err != nil {
		return nil, err
	}

	script, err := f.Script()
	if err != nil {
		return nil, err
	}
	witness[len(witness)-2] = script

	return witness, nil
}

func (f *ConditionMultisigClosure) WitnessSize(conditionWitnessSizes ...int) int {
	size := f.MultisigClosure.WitnessSize()
	for _, s := range conditionWitnessSizes {
		size += s
	}
	return size
}

func (f *ConditionMultisigClosure) Script() ([]byte, error) {
	multisigScript, err := f.MultisigClosure.Script()
	if err != nil {
		return nil, err
	}

	script := make([]byte, 0, len(f.Condition)+1+len(multisigScript))
	script = append(script, f.Condition...)
	script = append(script, txscript.OP_VERIFY)
	return append(script, multisigScript...), nil
}

func (f *ConditionMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	for _, verifyIndex := range opcodePositions(script, txscript.OP_VERIFY) {
		multisig := &MultisigClosure{}
		valid, err := multisig.Decode(script[verifyIndex+1:])
		if err != nil || !valid {
			continue
		}

		f.Condition = script[:verifyIndex]
		f.MultisigClosure = *multisig

		rebuilt, err := f.Script()
		if err != nil {
			return false, err
		}
		if bytes.Equal(rebuilt, script) {
			return true, nil
		}
	}

	return false, nil
}

func (f *ConditionMultisigClosure) Witness(
	controlBlock []byte, args map[string][]byte,
) (wire.TxWitness, error) {
	conditionWitness, err := conditionWitnessFromArgs(args)
	if err != nil {
		return nil, err
	}

	multisigWitness, err := f.MultisigClosure.Witness(controlBlock, args)
	if err != nil {
		return nil, err
	}

	script, err := f.Script()
	if err != nil {
		return nil, err
	}

	// sigs, then condition witness, then script and control block
	witness := make(wire.TxWitness, 0, len(multisigWitness)+len(conditionWitness))
	witness = append(witness, multisigWitness[:len(multisigWitness)-2]...)
	witness = append(witness, conditionWitness...)
	witness = append(witness, script, controlBlock)
	return witness, nil
}

func (f *ConditionCSVMultisigClosure) WitnessSize(conditionWitnessSizes ...int) int {
	size := f.CSVMultisigClosure.WitnessSize()
	for _, s := range conditionWitnessSizes {
		size += s
	}
	return size
}

func (f *ConditionCSVMultisigClosure) Script() ([]byte, error) {
	csvScript, err := f.CSVMultisigClosure.Script()
	if err != nil {
		return nil, err
	}

	script := make([]byte, 0, len(f.Condition)+1+len(csvScript))
	script = append(script, f.Condition...)
	script = append(script, txscript.OP_VERIFY)
	return append(script, csvScript...), nil
}

func (f *ConditionCSVMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	for _, verifyIndex := range opcodePositions(script, txscript.OP_VERIFY) {
		csvMultisig := &CSVMultisigClosure{}
		valid, err := csvMultisig.Decode(script[verifyIndex+1:])
		if err != nil || !valid {
			continue
		}

		f.Condition = script[:verifyIndex]
		f.CSVMultisigClosure = *csvMultisig

		rebuilt, err := f.Script()
		if err != nil {
			return false, err
		}
		if bytes.Equal(rebuilt, script) {
			return true, nil
		}
	}

	return false, nil
}

func (f *ConditionCSVMultisigClosure) Witness(
	controlBlock []byte, args map[string][]byte,
) (wire.TxWitness, error) {
	conditionWitness, err := conditionWitnessFromArgs(args)
	if err != nil {
		return nil, err
	}

	csvWitness, err := f.CSVMultisigClosure.Witness(controlBlock, args)
	if err != nil {
		return nil, err
	}

	script, err := f.Script()
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, 0, len(csvWitness)+len(conditionWitness))
	witness = append(witness, csvWitness[:len(csvWitness)-2]...)
	witness = append(witness, conditionWitness...)
	witness = append(witness, script, controlBlock)
	return witness, nil
}

func conditionWitnessFromArgs(args map[string][]byte) (wire.TxWitness, error) {
	serialized, ok := args[ConditionWitnessKey]
	if !ok {
		return nil, fmt.Errorf("missing condition witness")
	}

	witness, err := ReadTxWitness(serialized)
	if err != nil {
		return nil, fmt.Errorf("failed to read condition witness: %w", err)
	}
	if len(witness) == 0 {
		return nil, fmt.Errorf("empty condition witness")
	}
	return witness, nil
}

// opcodePositions returns the positions of the given opcode in the
// script, only counting opcode boundaries (not push data payloads).
func opcodePositions(script []byte, opcode byte) []int {
	positions := make([]int, 0)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	pos := 0
	for tokenizer.Next() {
		if tokenizer.Opcode() == opcode {
			positions = append(positions, pos)
		}
		pos = int(tokenizer.ByteIndex())
	}

	return positions
}

// ReadTxWitness deserializes a wire witness stack.
func ReadTxWitness(witnessSerialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(witnessSerialized)

	witCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, witCount)
	for i := uint64(0); i < witCount; i++ {
		wit, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness")
		if err != nil {
			return nil, err
		}
		witness[i] = wit
	}

	return witness, nil
}

// scriptNumPayload extracts the number payload from a minimally encoded
// script number token. The script builder emits values 0..16 as the OP_N
// opcode itself and larger values as a push opcode followed by the
// little-endian payload; a bare payload byte in the 0x51..0x60 range is a
// data push, not an opcode, and must not be remapped.
func scriptNumPayload(token []byte) ([]byte, error) {
	if len(token) == 0 {
		return nil, fmt.Errorf("empty script number")
	}

	if len(token) == 1 {
		op := token[0]
		switch {
		case op == txscript.OP_0:
			return nil, nil
		case op >= txscript.OP_1 && op <= txscript.OP_16:
			return []byte{op - (txscript.OP_1 - 1)}, nil
		default:
			return nil, fmt.Errorf("invalid script number opcode %d", op)
		}
	}

	return token[1:], nil
}

func decodeScriptNum(token []byte) (int64, error) {
	payload, err := scriptNumPayload(token)
	if err != nil {
		return 0, err
	}

	num, err := txscript.MakeScriptNum(payload, true, len(payload))
	if err != nil {
		return 0, err
	}

	return int64(num), nil
}
