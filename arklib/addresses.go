package arklib

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Address is an offchain Ark address. It commits to both the signer
// (the operator co-signing every spend path) and the taproot key of the
// vtxo script owning the coin.
type Address struct {
	HRP        string
	Signer     *secp256k1.PublicKey
	VtxoTapKey *secp256k1.PublicKey
}

// EncodeV0 serializes the address as bech32m over a version byte
// followed by the x-only signer and vtxo taproot keys.
func (a *Address) EncodeV0() (string, error) {
	if a.Signer == nil {
		return "", fmt.Errorf("missing signer public key")
	}
	if a.VtxoTapKey == nil {
		return "", fmt.Errorf("missing vtxo taproot public key")
	}
	if a.HRP != Bitcoin.Addr && a.HRP != BitcoinTestNet.Addr {
		return "", fmt.Errorf("invalid prefix %s", a.HRP)
	}

	payload := make([]byte, 0, 65)
	payload = append(payload, 0x00)
	payload = append(payload, schnorr.SerializePubKey(a.Signer)...)
	payload = append(payload, schnorr.SerializePubKey(a.VtxoTapKey)...)

	grp, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.EncodeM(a.HRP, grp)
}

func DecodeAddressV0(addr string) (*Address, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address is empty")
	}

	prefix, buf, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, err
	}
	if prefix != Bitcoin.Addr && prefix != BitcoinTestNet.Addr {
		return nil, fmt.Errorf("invalid prefix %s", prefix)
	}

	grp, err := bech32.ConvertBits(buf, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(grp) < 65 {
		return nil, fmt.Errorf("invalid address payload length %d", len(grp))
	}
	if grp[0] != 0x00 {
		return nil, fmt.Errorf("unsupported address version %d", grp[0])
	}

	signerKey, err := schnorr.ParsePubKey(grp[1:33])
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer public key: %s", err)
	}
	vtxoKey, err := schnorr.ParsePubKey(grp[33:65])
	if err != nil {
		return nil, fmt.Errorf("failed to parse vtxo taproot public key: %s", err)
	}

	return &Address{
		HRP:        prefix,
		Signer:     signerKey,
		VtxoTapKey: vtxoKey,
	}, nil
}
