package arksdk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/arklib/txutils"
	"github.com/ark-network/ark-sdk/client"
	"github.com/ark-network/ark-sdk/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

const (
	start = iota
	batchStarted
	treeSigningStarted
	treeNoncesAggregated
	batchFinalization
)

// GetEventStreamTopics returns the topics to subscribe to in order to follow
// a batch session spending the given outpoints.
func GetEventStreamTopics(
	spentOutpoints []types.Outpoint, signerSessions []tree.SignerSession,
) []string {
	topics := make([]string, 0, len(spentOutpoints)+len(signerSessions))
	for _, outpoint := range spentOutpoints {
		topics = append(topics, outpoint.String())
	}
	for _, signer := range signerSessions {
		topics = append(topics, signer.GetPublicKey())
	}
	return topics
}

// BatchEventsHandler reacts to the events of a batch session. The skip
// return values let a handler ignore a batch proposal not involving it.
type BatchEventsHandler interface {
	OnBatchStarted(ctx context.Context, event client.BatchStartedEvent) (skip bool, err error)
	OnBatchFinalized(ctx context.Context, event client.BatchFinalizedEvent) error
	OnBatchFailed(ctx context.Context, event client.BatchFailedEvent) error
	OnTreeTxEvent(ctx context.Context, event client.TreeTxEvent) error
	OnTreeSignatureEvent(ctx context.Context, event client.TreeSignatureEvent) error
	OnTreeSigningStarted(
		ctx context.Context, event client.TreeSigningStartedEvent, vtxoTree tree.TxTree,
	) (skip bool, err error)
	OnTreeNoncesAggregated(
		ctx context.Context, event client.TreeNoncesAggregatedEvent,
	) (signed bool, err error)
	OnBatchFinalization(
		ctx context.Context, event client.BatchFinalizationEvent,
		vtxoTree, connectorTree tree.TxTree,
	) error
}

type BatchSessionOption func(*batchSessionOptions)

// WithSkipVtxoTreeSigning skips the musig2 signing phase, for sessions
// registering only onchain outputs.
func WithSkipVtxoTreeSigning() BatchSessionOption {
	return func(o *batchSessionOptions) {
		o.signVtxoTree = false
	}
}

func WithCancel(cancelCh <-chan struct{}) BatchSessionOption {
	return func(o *batchSessionOptions) {
		o.cancelCh = cancelCh
	}
}

// JoinBatchSession drives a batch settlement ceremony from the event stream.
// Events arriving out of order with respect to the current step are silently
// skipped. Returns the commitment txid once the batch is finalized.
func JoinBatchSession(
	ctx context.Context, eventsCh <-chan client.BatchEventChannel,
	eventsHandler BatchEventsHandler, opts ...BatchSessionOption,
) (string, error) {
	options := &batchSessionOptions{signVtxoTree: true}
	for _, opt := range opts {
		opt(options)
	}

	step := start

	// tree txs are streamed one at a time, they are buffered flat and
	// assembled into trees when a phase needs them.
	flatVtxoTree := make([]tree.Node, 0)
	flatConnectorTree := make([]tree.Node, 0)

	var vtxoTree, connectorTree tree.TxTree

	for {
		select {
		case <-options.cancelCh:
			return "", fmt.Errorf("canceled")
		case <-ctx.Done():
			return "", fmt.Errorf("context done %s", ctx.Err())
		case notify, ok := <-eventsCh:
			if !ok {
				return "", fmt.Errorf("event stream closed")
			}
			if notify.Err != nil {
				return "", notify.Err
			}

			switch event := notify.Event.(type) {
			case client.HeartbeatEvent:
				continue

			case client.BatchStartedEvent:
				skip, err := eventsHandler.OnBatchStarted(ctx, event)
				if err != nil {
					return "", err
				}
				if !skip {
					step++
					if !options.signVtxoTree {
						step = treeNoncesAggregated
					}
				}
				continue

			case client.BatchFinalizedEvent:
				if step != batchFinalization {
					continue
				}
				if err := eventsHandler.OnBatchFinalized(ctx, event); err != nil {
					return "", err
				}
				return event.Txid, nil

			// the batch failed, forward the error only if we joined it.
			case client.BatchFailedEvent:
				if err := eventsHandler.OnBatchFailed(ctx, event); err != nil {
					return "", err
				}
				continue

			case client.TreeTxEvent:
				if step != batchStarted && step != treeNoncesAggregated {
					continue
				}

				if err := eventsHandler.OnTreeTxEvent(ctx, event); err != nil {
					return "", err
				}

				if event.BatchIndex == 0 {
					flatVtxoTree = append(flatVtxoTree, event.Node)
				} else {
					flatConnectorTree = append(flatConnectorTree, event.Node)
				}
				continue

			case client.TreeSignatureEvent:
				if step != treeNoncesAggregated {
					continue
				}
				if vtxoTree == nil {
					return "", fmt.Errorf("vtxo tree not initialized")
				}

				if err := eventsHandler.OnTreeSignatureEvent(ctx, event); err != nil {
					return "", err
				}

				if err := addSignatureToTxTree(event, vtxoTree); err != nil {
					return "", err
				}
				continue

			// the musig2 session started, send our nonces.
			case client.TreeSigningStartedEvent:
				if step != batchStarted {
					continue
				}

				var err error
				vtxoTree, err = buildTxTree(flatVtxoTree)
				if err != nil {
					return "", fmt.Errorf("failed to build vtxo tree: %s", err)
				}

				skip, err := eventsHandler.OnTreeSigningStarted(ctx, event, vtxoTree)
				if err != nil {
					return "", err
				}
				if !skip {
					step++
				}
				continue

			// nonces are aggregated, send our partial signatures.
			case client.TreeNoncesAggregatedEvent:
				if step != treeSigningStarted {
					continue
				}

				signed, err := eventsHandler.OnTreeNoncesAggregated(ctx, event)
				if err != nil {
					return "", err
				}
				if signed {
					step++
				}
				continue

			// trees are fully signed, send our forfeit txs and signed
			// boarding inputs.
			case client.BatchFinalizationEvent:
				if step != treeNoncesAggregated {
					continue
				}

				if options.signVtxoTree && vtxoTree == nil {
					return "", fmt.Errorf("vtxo tree not initialized")
				}

				if len(flatConnectorTree) > 0 {
					var err error
					connectorTree, err = buildTxTree(flatConnectorTree)
					if err != nil {
						return "", fmt.Errorf("failed to build connector tree: %s", err)
					}
				}

				if err := eventsHandler.OnBatchFinalization(
					ctx, event, vtxoTree, connectorTree,
				); err != nil {
					return "", err
				}

				log.Debug("waiting for batch finalization...")
				step++
				continue
			}
		}
	}
}

type batchSessionOptions struct {
	signVtxoTree bool
	cancelCh     <-chan struct{}
}

// buildTxTree assembles flat streamed nodes into a level matrix. The root is
// the only node whose parent txid is not part of the set.
func buildTxTree(flatTree []tree.Node) (tree.TxTree, error) {
	if len(flatTree) == 0 {
		return nil, fmt.Errorf("empty tree")
	}

	txids := make(map[string]struct{}, len(flatTree))
	for _, node := range flatTree {
		txids[node.Txid] = struct{}{}
	}

	roots := make([]tree.Node, 0, 1)
	for _, node := range flatTree {
		if _, ok := txids[node.ParentTxid]; !ok {
			roots = append(roots, node)
		}
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("expected a single root, got %d", len(roots))
	}

	txTree := tree.TxTree{{roots[0]}}
	for {
		lastLevel := txTree[len(txTree)-1]
		nextLevel := make([]tree.Node, 0)
		for _, parent := range lastLevel {
			for _, node := range flatTree {
				if node.ParentTxid == parent.Txid {
					nextLevel = append(nextLevel, node)
				}
			}
		}
		if len(nextLevel) == 0 {
			break
		}
		txTree = append(txTree, nextLevel)
	}

	if txTree.NumberOfNodes() != len(flatTree) {
		return nil, fmt.Errorf("tree contains unreachable nodes")
	}

	return txTree, nil
}

// addSignatureToTxTree sets the aggregated key spend signature on the tree
// node matching the event txid.
func addSignatureToTxTree(event client.TreeSignatureEvent, txTree tree.TxTree) error {
	if event.BatchIndex != 0 {
		return fmt.Errorf("batch index %d is not 0", event.BatchIndex)
	}

	decodedSig, err := hex.DecodeString(event.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %s", err)
	}

	sig, err := schnorr.ParseSignature(decodedSig)
	if err != nil {
		return fmt.Errorf("failed to parse signature: %s", err)
	}

	for i, level := range txTree {
		for j, node := range level {
			if node.Txid != event.Txid {
				continue
			}

			ptx, err := psbt.NewFromRawBytes(strings.NewReader(node.Tx), true)
			if err != nil {
				return err
			}

			ptx.Inputs[0].TaprootKeySpendSig = sig.Serialize()

			signedTx, err := ptx.B64Encode()
			if err != nil {
				return err
			}

			txTree[i][j].Tx = signedTx
			return nil
		}
	}

	return fmt.Errorf("tx %s not found in tree", event.Txid)
}

type defaultBatchEventsHandler struct {
	*arkClient

	intentId      string
	vtxos         []client.TapscriptsVtxo
	boardingUtxos []types.Utxo
	receivers     []types.Receiver
	signerSession tree.SignerSession

	batchSessionId string
	batchExpiry    arklib.RelativeLocktime
}

func newBatchEventsHandler(
	arkClient *arkClient,
	intentId string,
	vtxos []client.TapscriptsVtxo,
	boardingUtxos []types.Utxo,
	receivers []types.Receiver,
	signerSession tree.SignerSession,
) *defaultBatchEventsHandler {
	return &defaultBatchEventsHandler{
		arkClient:     arkClient,
		intentId:      intentId,
		vtxos:         vtxos,
		boardingUtxos: boardingUtxos,
		receivers:     receivers,
		signerSession: signerSession,
	}
}

func (h *defaultBatchEventsHandler) OnBatchStarted(
	ctx context.Context, event client.BatchStartedEvent,
) (bool, error) {
	buf := sha256.Sum256([]byte(h.intentId))
	hashedIntentId := hex.EncodeToString(buf[:])

	for _, hash := range event.HashedIntentIds {
		if hash == hashedIntentId {
			if err := h.client.ConfirmRegistration(ctx, h.intentId); err != nil {
				return false, err
			}
			h.batchSessionId = event.Id
			h.batchExpiry = toRelativeLocktime(event.BatchExpiry)
			return false, nil
		}
	}

	log.Debug("intent id not found in batch proposal, waiting for next one...")
	return true, nil
}

func (h *defaultBatchEventsHandler) OnBatchFinalized(
	ctx context.Context, event client.BatchFinalizedEvent,
) error {
	if event.Id == h.batchSessionId {
		log.Debugf("batch completed in commitment tx %s", event.Txid)
	}
	return nil
}

func (h *defaultBatchEventsHandler) OnBatchFailed(
	ctx context.Context, event client.BatchFailedEvent,
) error {
	if event.Id != h.batchSessionId {
		return nil
	}
	return fmt.Errorf("batch failed: %s", event.Reason)
}

func (h *defaultBatchEventsHandler) OnTreeTxEvent(
	ctx context.Context, event client.TreeTxEvent,
) error {
	return nil
}

func (h *defaultBatchEventsHandler) OnTreeSignatureEvent(
	ctx context.Context, event client.TreeSignatureEvent,
) error {
	return nil
}

func (h *defaultBatchEventsHandler) OnTreeSigningStarted(
	ctx context.Context, event client.TreeSigningStartedEvent, vtxoTree tree.TxTree,
) (bool, error) {
	myPubkey := h.signerSession.GetPublicKey()
	if !slices.Contains(event.CosignersPubkeys, myPubkey) {
		log.Debug("signer not in cosigner list, waiting for next one...")
		return true, nil
	}

	// the tree must be valid before any nonce leaves the session
	if err := tree.ValidateVtxoTree(
		vtxoTree, event.UnsignedCommitmentTx, h.cfg.SignerPubKey, h.batchExpiry,
	); err != nil {
		return false, fmt.Errorf("invalid vtxo tree: %w", err)
	}

	sweepClosure := script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{h.cfg.SignerPubKey},
		},
		Locktime: h.batchExpiry,
	}

	sweepScript, err := sweepClosure.Script()
	if err != nil {
		return false, err
	}

	commitmentTx, err := psbt.NewFromRawBytes(
		strings.NewReader(event.UnsignedCommitmentTx), true,
	)
	if err != nil {
		return false, err
	}

	if len(commitmentTx.UnsignedTx.TxOut) == 0 {
		return false, fmt.Errorf("commitment tx has no outputs")
	}

	batchOutputAmount := commitmentTx.UnsignedTx.TxOut[0].Value

	sweepTapLeaf := txscript.NewBaseTapLeaf(sweepScript)
	sweepTapTree := txscript.AssembleTaprootScriptTree(sweepTapLeaf)
	root := sweepTapTree.RootNode.TapHash()

	if err := h.signerSession.Init(
		root.CloneBytes(), batchOutputAmount, vtxoTree,
	); err != nil {
		return false, err
	}

	nonces, err := h.signerSession.GetNonces()
	if err != nil {
		return false, err
	}

	return false, h.client.SubmitTreeNonces(ctx, event.Id, myPubkey, nonces)
}

func (h *defaultBatchEventsHandler) OnTreeNoncesAggregated(
	ctx context.Context, event client.TreeNoncesAggregatedEvent,
) (bool, error) {
	if err := h.signerSession.SetAggregatedNonces(event.Nonces); err != nil {
		return false, err
	}

	sigs, err := h.signerSession.Sign()
	if err != nil {
		return false, err
	}

	if err := h.client.SubmitTreeSignatures(
		ctx, event.Id, h.signerSession.GetPublicKey(), sigs,
	); err != nil {
		return false, err
	}

	return true, nil
}

func (h *defaultBatchEventsHandler) OnBatchFinalization(
	ctx context.Context, event client.BatchFinalizationEvent,
	vtxoTree, connectorTree tree.TxTree,
) error {
	log.Debug("vtxo and connector trees fully signed, sending forfeit transactions...")

	if err := h.validateTrees(event, vtxoTree, connectorTree); err != nil {
		return fmt.Errorf("failed to verify vtxo tree: %s", err)
	}

	var forfeits []string
	var signedCommitmentTx string

	vtxosToForfeit := h.vtxosToForfeit()

	// spending vtxos requires signed forfeits.
	if len(vtxosToForfeit) > 0 && connectorTree != nil {
		signedForfeits, err := h.createAndSignForfeits(
			ctx, vtxosToForfeit, connectorTree.Leaves(),
		)
		if err != nil {
			return err
		}
		forfeits = signedForfeits
	}

	// spending boarding utxos requires signing the commitment tx itself.
	if len(h.boardingUtxos) > 0 {
		signed, err := h.signCommitmentTx(ctx, event.Tx)
		if err != nil {
			return err
		}
		signedCommitmentTx = signed
	}

	if len(forfeits) > 0 || len(signedCommitmentTx) > 0 {
		return h.client.SubmitSignedForfeitTxs(ctx, forfeits, signedCommitmentTx)
	}

	return nil
}

// vtxosToForfeit filters out recoverable vtxos, they are re-registered
// without any forfeit signing.
func (h *defaultBatchEventsHandler) vtxosToForfeit() []client.TapscriptsVtxo {
	withoutRecoverable := make([]client.TapscriptsVtxo, 0, len(h.vtxos))
	for _, vtxo := range h.vtxos {
		if !vtxo.IsRecoverable() {
			withoutRecoverable = append(withoutRecoverable, vtxo)
		}
	}
	return withoutRecoverable
}

func (h *defaultBatchEventsHandler) validateTrees(
	event client.BatchFinalizationEvent, vtxoTree, connectorTree tree.TxTree,
) error {
	commitmentPtx, err := psbt.NewFromRawBytes(strings.NewReader(event.Tx), true)
	if err != nil {
		return err
	}

	if !isOnchainOnly(h.receivers) {
		if err := tree.ValidateVtxoTree(
			vtxoTree, event.Tx, h.cfg.SignerPubKey, h.batchExpiry,
		); err != nil {
			return err
		}
	}

	if err := h.validateReceivers(commitmentPtx, vtxoTree); err != nil {
		return err
	}

	vtxos := h.vtxosToForfeit()
	if len(vtxos) > 0 && connectorTree != nil {
		if err := tree.ValidateConnectorTree(connectorTree, event.Tx); err != nil {
			return err
		}

		connectorsLeaves := connectorTree.Leaves()
		if len(connectorsLeaves) != len(vtxos) {
			return fmt.Errorf(
				"unexpected num of connectors received: expected %d, got %d",
				len(vtxos), len(connectorsLeaves),
			)
		}
	}

	return nil
}

// validateReceivers checks that every registered output appears either in
// the commitment tx (onchain) or in a leaf of the vtxo tree (offchain).
func (h *defaultBatchEventsHandler) validateReceivers(
	commitmentPtx *psbt.Packet, vtxoTree tree.TxTree,
) error {
	for _, receiver := range h.receivers {
		if addr, err := arklib.DecodeAddressV0(receiver.To); err == nil {
			if err := h.validateOffchainReceiver(vtxoTree, receiver, addr); err != nil {
				return err
			}
			continue
		}

		netParams := h.cfg.Network.ChainParams()
		onchainAddr, err := btcutil.DecodeAddress(receiver.To, &netParams)
		if err != nil {
			return err
		}

		pkScript, err := txscript.PayToAddrScript(onchainAddr)
		if err != nil {
			return err
		}

		found := false
		for _, output := range commitmentPtx.UnsignedTx.TxOut {
			if bytes.Equal(output.PkScript, pkScript) &&
				output.Value == int64(receiver.Amount) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf(
				"onchain output (%s, %d) not found in commitment tx",
				receiver.To, receiver.Amount,
			)
		}
	}

	return nil
}

func (h *defaultBatchEventsHandler) validateOffchainReceiver(
	vtxoTree tree.TxTree, receiver types.Receiver, addr *arklib.Address,
) error {
	expectedPkScript, err := arklib.P2TRScript(addr.VtxoTapKey)
	if err != nil {
		return err
	}

	for _, leaf := range vtxoTree.Leaves() {
		leafTx, err := psbt.NewFromRawBytes(strings.NewReader(leaf.Tx), true)
		if err != nil {
			return err
		}

		for _, output := range leafTx.UnsignedTx.TxOut {
			if bytes.Equal(output.PkScript, expectedPkScript) &&
				output.Value == int64(receiver.Amount) {
				return nil
			}
		}
	}

	return fmt.Errorf(
		"offchain output (%s, %d) not found in vtxo tree",
		receiver.To, receiver.Amount,
	)
}

func (h *defaultBatchEventsHandler) signCommitmentTx(
	ctx context.Context, commitmentTx string,
) (string, error) {
	commitmentPtx, err := psbt.NewFromRawBytes(strings.NewReader(commitmentTx), true)
	if err != nil {
		return "", err
	}

	for _, boardingUtxo := range h.boardingUtxos {
		boardingVtxoScript, err := script.ParseVtxoScript(boardingUtxo.Tapscripts)
		if err != nil {
			return "", err
		}

		forfeitClosures := boardingVtxoScript.ForfeitClosures()
		if len(forfeitClosures) == 0 {
			return "", fmt.Errorf("no forfeit closures found")
		}

		forfeitScript, err := forfeitClosures[0].Script()
		if err != nil {
			return "", err
		}

		_, taprootTree, err := boardingVtxoScript.TapTree()
		if err != nil {
			return "", err
		}

		forfeitLeaf := txscript.NewBaseTapLeaf(forfeitScript)
		forfeitProof, err := taprootTree.GetTaprootMerkleProof(forfeitLeaf.TapHash())
		if err != nil {
			return "", fmt.Errorf(
				"failed to get taproot merkle proof for boarding utxo: %s", err,
			)
		}

		tapscript := &psbt.TaprootTapLeafScript{
			ControlBlock: forfeitProof.ControlBlock,
			Script:       forfeitProof.Script,
			LeafVersion:  txscript.BaseLeafVersion,
		}

		for i := range commitmentPtx.Inputs {
			prevout := commitmentPtx.UnsignedTx.TxIn[i].PreviousOutPoint

			if boardingUtxo.Txid == prevout.Hash.String() &&
				boardingUtxo.VOut == prevout.Index {
				commitmentPtx.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
					tapscript,
				}
				break
			}
		}
	}

	b64, err := commitmentPtx.B64Encode()
	if err != nil {
		return "", err
	}

	return h.wallet.SignTransaction(ctx, h.explorer, b64)
}

func (h *defaultBatchEventsHandler) createAndSignForfeits(
	ctx context.Context, vtxosToSign []client.TapscriptsVtxo, connectorsLeaves []tree.Node,
) ([]string, error) {
	netParams := h.cfg.Network.ChainParams()
	parsedForfeitAddr, err := btcutil.DecodeAddress(h.cfg.ForfeitAddress, &netParams)
	if err != nil {
		return nil, err
	}

	forfeitPkScript, err := txscript.PayToAddrScript(parsedForfeitAddr)
	if err != nil {
		return nil, err
	}

	signedForfeitTxs := make([]string, 0, len(vtxosToSign))
	for i, vtxo := range vtxosToSign {
		connectorTx, err := psbt.NewFromRawBytes(
			strings.NewReader(connectorsLeaves[i].Tx), true,
		)
		if err != nil {
			return nil, err
		}

		var connector *wire.TxOut
		var connectorOutpoint *wire.OutPoint
		for outIndex, output := range connectorTx.UnsignedTx.TxOut {
			if bytes.Equal(txutils.ANCHOR_PKSCRIPT, output.PkScript) {
				continue
			}

			connector = output
			connectorOutpoint = &wire.OutPoint{
				Hash:  connectorTx.UnsignedTx.TxHash(),
				Index: uint32(outIndex),
			}
			break
		}

		if connector == nil {
			return nil, fmt.Errorf("connector not found for vtxo %s", vtxo.Outpoint.String())
		}

		vtxoScript, err := script.ParseVtxoScript(vtxo.Tapscripts)
		if err != nil {
			return nil, err
		}

		vtxoTapKey, vtxoTapTree, err := vtxoScript.TapTree()
		if err != nil {
			return nil, err
		}

		vtxoOutputScript, err := arklib.P2TRScript(vtxoTapKey)
		if err != nil {
			return nil, err
		}

		vtxoTxHash, err := chainhash.NewHashFromStr(vtxo.Txid)
		if err != nil {
			return nil, err
		}

		vtxoInput := &wire.OutPoint{Hash: *vtxoTxHash, Index: vtxo.VOut}

		forfeitClosures := vtxoScript.ForfeitClosures()
		if len(forfeitClosures) == 0 {
			return nil, fmt.Errorf("no forfeit closures found")
		}
		forfeitClosure := forfeitClosures[0]

		forfeitScript, err := forfeitClosure.Script()
		if err != nil {
			return nil, err
		}

		forfeitLeaf := txscript.NewBaseTapLeaf(forfeitScript)
		leafProof, err := vtxoTapTree.GetTaprootMerkleProof(forfeitLeaf.TapHash())
		if err != nil {
			return nil, err
		}

		tapscript := psbt.TaprootTapLeafScript{
			ControlBlock: leafProof.ControlBlock,
			Script:       leafProof.Script,
			LeafVersion:  txscript.BaseLeafVersion,
		}

		vtxoLocktime := arklib.AbsoluteLocktime(0)
		if cltv, ok := forfeitClosure.(*script.CLTVMultisigClosure); ok {
			vtxoLocktime = cltv.Locktime
		}

		vtxoPrevout := &wire.TxOut{
			Value:    int64(vtxo.Amount),
			PkScript: vtxoOutputScript,
		}

		vtxoSequence := wire.MaxTxInSequenceNum
		if vtxoLocktime != 0 {
			vtxoSequence = wire.MaxTxInSequenceNum - 1
		}

		forfeitTx, err := tree.BuildForfeitTx(
			[]*wire.OutPoint{vtxoInput, connectorOutpoint},
			[]uint32{vtxoSequence, wire.MaxTxInSequenceNum},
			[]*wire.TxOut{vtxoPrevout, connector},
			forfeitPkScript,
			uint32(vtxoLocktime),
		)
		if err != nil {
			return nil, err
		}

		forfeitTx.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{&tapscript}

		b64, err := forfeitTx.B64Encode()
		if err != nil {
			return nil, err
		}

		signedForfeitTx, err := h.wallet.SignTransaction(ctx, h.explorer, b64)
		if err != nil {
			return nil, err
		}

		signedForfeitTxs = append(signedForfeitTxs, signedForfeitTx)
	}

	return signedForfeitTxs, nil
}

func isOnchainOnly(receivers []types.Receiver) bool {
	for _, receiver := range receivers {
		if _, err := arklib.DecodeAddressV0(receiver.To); err == nil {
			return false
		}
	}
	return true
}
