package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Config mirrors the server info and is rebuilt from GetInfo on every run,
// the SDK persists nothing.
type Config struct {
	ServerUrl           string
	SignerPubKey        *secp256k1.PublicKey
	Network             arklib.Network
	VtxoTreeExpiry      arklib.RelativeLocktime
	UnilateralExitDelay arklib.RelativeLocktime
	BoardingExitDelay   arklib.RelativeLocktime
	RoundInterval       int64
	Dust                uint64
	ForfeitAddress      string
	ExplorerURL         string
	UtxoMinAmount       int64
	UtxoMaxAmount       int64
	VtxoMinAmount       int64
	VtxoMaxAmount       int64
}

type Outpoint struct {
	Txid string
	VOut uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%s", o.Txid, strconv.Itoa(int(o.VOut)))
}

func (o Outpoint) Equals(other Outpoint) bool {
	return o.Txid == other.Txid && o.VOut == other.VOut
}

type Vtxo struct {
	Outpoint
	Script         string
	Amount         uint64
	CommitmentTxid string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	Preconfirmed   bool
	Swept          bool
	Spent          bool
	SpentBy        string
}

// IsRecoverable reports whether the vtxo was swept by the server but never
// spent by its owner. Such vtxos can be registered in a new batch without any
// forfeit signing.
func (v Vtxo) IsRecoverable() bool {
	return v.Swept && !v.Spent
}

type Utxo struct {
	Txid        string
	VOut        uint32
	Amount      uint64
	Delay       arklib.RelativeLocktime
	SpendableAt time.Time
	CreatedAt   time.Time
	Tapscripts  []string
	Spent       bool
	Tx          string
}

func (u *Utxo) Sequence() (uint32, error) {
	return arklib.BIP68Sequence(u.Delay)
}

// Receiver is one requested output of a settlement or offchain send.
type Receiver struct {
	To     string // onchain or offchain address
	Amount uint64
}

type TxType string

const (
	TxSent     TxType = "SENT"
	TxReceived TxType = "RECEIVED"
)

type TransactionKey struct {
	BoardingTxid   string
	CommitmentTxid string
	ArkTxid        string
}

func (t TransactionKey) String() string {
	return fmt.Sprintf("%s%s%s", t.BoardingTxid, t.CommitmentTxid, t.ArkTxid)
}

type Transaction struct {
	TransactionKey
	Amount    uint64
	Type      TxType
	Settled   bool
	CreatedAt time.Time
	Hex       string
}

func (t Transaction) IsBoarding() bool {
	return t.BoardingTxid != ""
}

func (t Transaction) IsCommitment() bool {
	return t.CommitmentTxid != ""
}

func (t Transaction) IsArkTx() bool {
	return t.ArkTxid != ""
}
