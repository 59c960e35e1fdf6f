package intent

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageTypeRegister MessageType = "register"
	MessageTypeDelete   MessageType = "delete"
)

type BaseMessage struct {
	Type MessageType `json:"type"`
}

// RegisterMessage is the message signed by the proof to register an intent.
type RegisterMessage struct {
	BaseMessage
	// InputTapTrees is the list of taproot trees associated with the spent inputs.
	// The index of the taproot tree in the list corresponds to the index of the
	// input + 1 (the first bip322 input is a duplicate of the second one).
	InputTapTrees []string `json:"input_tap_trees"`
	// OnchainOutputIndexes specifies which outputs in the proof tx should be
	// considered as onchain by the Ark operator.
	OnchainOutputIndexes []int `json:"onchain_output_indexes"`
	// ValidAt is the timestamp (in seconds) at which the proof starts to be valid.
	// If set to 0, the proof is valid indefinitely or until ExpireAt is reached.
	ValidAt int64 `json:"valid_at"`
	// ExpireAt is the timestamp (in seconds) at which the proof expires.
	// If set to 0, the proof is valid indefinitely.
	ExpireAt int64 `json:"expire_at"`
	// CosignersPublicKeys contains the public keys taking part in the vtxo tree
	// signing. Required only if one of the outputs is offchain.
	CosignersPublicKeys []string `json:"cosigners_public_keys"`
}

func (m RegisterMessage) Encode() (string, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (m *RegisterMessage) Decode(data string) error {
	if err := json.Unmarshal([]byte(data), m); err != nil {
		return err
	}

	if m.Type != MessageTypeRegister {
		return fmt.Errorf("invalid intent message type: %s", m.Type)
	}

	return nil
}

// DeleteMessage is the message signed by the proof to delete a registered intent.
type DeleteMessage struct {
	BaseMessage
	// ExpireAt is the timestamp (in seconds) at which the proof expires.
	// If set to 0, the proof is valid indefinitely.
	ExpireAt int64 `json:"expire_at"`
}

func (m DeleteMessage) Encode() (string, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (m *DeleteMessage) Decode(data string) error {
	if err := json.Unmarshal([]byte(data), m); err != nil {
		return err
	}

	if m.Type != MessageTypeDelete {
		return fmt.Errorf("invalid intent message type: %s", m.Type)
	}

	return nil
}
