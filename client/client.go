package client

import (
	"context"

	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/types"
)

const (
	RestClient = "rest"
)

// BatchEvent is one notification of the server's settlement event stream.
type BatchEvent interface {
	isBatchEvent()
}

// TransportClient abstracts the coordinator API.
type TransportClient interface {
	GetInfo(ctx context.Context) (*Info, error)
	// RegisterIntent submits a signed BIP322 intent proof, it returns the
	// intent id assigned by the server.
	RegisterIntent(ctx context.Context, signature, message string) (string, error)
	DeleteIntent(ctx context.Context, signature, message string) error
	ConfirmRegistration(ctx context.Context, intentID string) error
	SubmitTreeNonces(
		ctx context.Context, batchID, cosignerPubkey string, nonces tree.TreeNonces,
	) error
	SubmitTreeSignatures(
		ctx context.Context, batchID, cosignerPubkey string, signatures tree.TreePartialSigs,
	) error
	SubmitSignedForfeitTxs(
		ctx context.Context, signedForfeitTxs []string, signedCommitmentTx string,
	) error
	GetEventStream(ctx context.Context, topics []string) (<-chan BatchEventChannel, func(), error)
	// SubmitTx submits a signed ark tx with its checkpoints, it returns the
	// ark txid, the fully signed ark tx and the server-signed checkpoints.
	SubmitTx(ctx context.Context, signedArkTx string, checkpointTxs []string) (
		arkTxid string, finalArkTx string, signedCheckpointTxs []string, err error,
	)
	FinalizeTx(ctx context.Context, arkTxid string, finalCheckpointTxs []string) error
	ListVtxos(ctx context.Context, scripts []string) (spendable, spent []types.Vtxo, err error)
	Close()
}

type Info struct {
	SignerPubKey        string
	VtxoTreeExpiry      int64
	UnilateralExitDelay int64
	BoardingExitDelay   int64
	RoundInterval       int64
	Network             string
	Dust                uint64
	ForfeitAddress      string
	UtxoMinAmount       int64
	UtxoMaxAmount       int64
	VtxoMinAmount       int64
	VtxoMaxAmount       int64
	Version             string
}

type BatchEventChannel struct {
	Event BatchEvent
	Err   error
}

type Input struct {
	types.Outpoint
	Tapscripts []string
}

type TapscriptsVtxo struct {
	types.Vtxo
	Tapscripts []string
}

type Output struct {
	Address string // onchain or offchain address
	Amount  uint64
}

// BatchStartedEvent notifies that a new batch attempt started, it carries the
// hashed intent ids of the selected registrations.
type BatchStartedEvent struct {
	Id              string
	HashedIntentIds []string
	BatchExpiry     int64
}

func (e BatchStartedEvent) isBatchEvent() {}

// TreeTxEvent carries one node of the vtxo tree (batch index 0) or of the
// connector tree (batch index 1).
type TreeTxEvent struct {
	Id         string
	BatchIndex int32
	Node       tree.Node
}

func (e TreeTxEvent) isBatchEvent() {}

type TreeSigningStartedEvent struct {
	Id                   string
	CosignersPubkeys     []string
	UnsignedCommitmentTx string
}

func (e TreeSigningStartedEvent) isBatchEvent() {}

type TreeNoncesAggregatedEvent struct {
	Id     string
	Nonces tree.TreeNonces
}

func (e TreeNoncesAggregatedEvent) isBatchEvent() {}

// TreeSignatureEvent carries the aggregated schnorr signature of one vtxo
// tree node.
type TreeSignatureEvent struct {
	Id         string
	BatchIndex int32
	Txid       string
	Signature  string
}

func (e TreeSignatureEvent) isBatchEvent() {}

type BatchFinalizationEvent struct {
	Id string
	Tx string
}

func (e BatchFinalizationEvent) isBatchEvent() {}

type BatchFinalizedEvent struct {
	Id   string
	Txid string
}

func (e BatchFinalizedEvent) isBatchEvent() {}

type BatchFailedEvent struct {
	Id     string
	Reason string
}

func (e BatchFailedEvent) isBatchEvent() {}

// HeartbeatEvent is a keep-alive message, consumers discard it.
type HeartbeatEvent struct{}

func (e HeartbeatEvent) isBatchEvent() {}
