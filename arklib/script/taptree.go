package script

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/txscript"
)

// TapTree is the list of tapscript leaves of a vtxo, hex encoded. Its
// binary form follows the BIP-371 PSBT_OUT_TAP_TREE layout so any psbt
// tooling can read it back.
type TapTree []string

// Encode serializes the leaves as a compact-size count followed by
// {depth, leaf version, script} records. All leaves sit at depth 1.
func (t TapTree) Encode() ([]byte, error) {
	var tapscriptsBytes bytes.Buffer

	if err := writeCompactSizeUint(&tapscriptsBytes, uint64(len(t))); err != nil {
		return nil, err
	}

	for _, tapscript := range t {
		scriptBytes, err := hex.DecodeString(tapscript)
		if err != nil {
			return nil, err
		}

		if err := tapscriptsBytes.WriteByte(1); err != nil {
			return nil, err
		}

		if err := tapscriptsBytes.WriteByte(byte(txscript.BaseLeafVersion)); err != nil {
			return nil, err
		}

		if err := writeCompactSizeUint(&tapscriptsBytes, uint64(len(scriptBytes))); err != nil {
			return nil, err
		}
		if _, err := tapscriptsBytes.Write(scriptBytes); err != nil {
			return nil, err
		}
	}

	return tapscriptsBytes.Bytes(), nil
}

// DecodeTapTree reads back the leaf scripts from the binary form. Depth
// and leaf version are skipped, only base tapscript leaves are expected.
func DecodeTapTree(data []byte) (TapTree, error) {
	leaves := make([]string, 0)

	buf := bytes.NewReader(data)

	count, err := readCompactSizeUint(buf)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < count; i++ {
		if _, err := buf.ReadByte(); err != nil {
			return nil, err
		}

		if _, err := buf.ReadByte(); err != nil {
			return nil, err
		}

		scriptLen, err := readCompactSizeUint(buf)
		if err != nil {
			return nil, err
		}

		scriptBytes := make([]byte, scriptLen)
		if _, err := buf.Read(scriptBytes); err != nil {
			return nil, err
		}

		leaves = append(leaves, hex.EncodeToString(scriptBytes))
	}

	return TapTree(leaves), nil
}

func writeCompactSizeUint(w *bytes.Buffer, val uint64) error {
	if val < 253 {
		return w.WriteByte(byte(val))
	}
	if val < 0x10000 {
		if err := w.WriteByte(253); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint16(val))
	}
	if val < 0x100000000 {
		if err := w.WriteByte(254); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint32(val))
	}
	if err := w.WriteByte(255); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, val)
}

func readCompactSizeUint(r *bytes.Reader) (uint64, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	switch firstByte {
	case 253:
		var val uint16
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return uint64(val), nil
	case 254:
		var val uint32
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return uint64(val), nil
	case 255:
		var val uint64
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return 0, err
		}
		return val, nil
	default:
		return uint64(firstByte), nil
	}
}
