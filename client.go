// Package arksdk exposes the high level Ark client: address derivation,
// balance inspection, batch settlement and offchain sends.
package arksdk

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/ark-network/ark-sdk/arklib/intent"
	"github.com/ark-network/ark-sdk/arklib/offchain"
	"github.com/ark-network/ark-sdk/arklib/script"
	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/client"
	"github.com/ark-network/ark-sdk/explorer"
	"github.com/ark-network/ark-sdk/types"
	"github.com/ark-network/ark-sdk/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	log "github.com/sirupsen/logrus"
)

const (
	// settlement is retried a few times before giving up, the coordinator
	// may start a batch without our intent.
	maxSettlementAttempts = 3

	intentExpiry = 2 * time.Minute
)

type ArkClient interface {
	GetConfig() *types.Config
	// Receive returns the offchain ark address and the onchain boarding
	// address of the wallet.
	Receive(ctx context.Context) (offchainAddr, boardingAddr string, err error)
	Balance(ctx context.Context) (offchain, onchain uint64, err error)
	ListVtxos(ctx context.Context) (spendable, spent []types.Vtxo, err error)
	// Settle joins the next batch session, converting boarding utxos and
	// existing vtxos into fresh vtxos in the new batch. Returns the
	// commitment txid.
	Settle(ctx context.Context) (string, error)
	// SendOffchain spends vtxos to the given receivers through checkpoint
	// and ark transactions co-signed by the operator. Returns the ark txid.
	SendOffchain(ctx context.Context, receivers []types.Receiver) (string, error)
	Stop()
}

type arkClient struct {
	cfg      *types.Config
	client   client.TransportClient
	explorer explorer.Explorer
	wallet   wallet.Wallet
}

// NewArkClient fetches the server info to build the SDK config, then wires
// a single-key wallet around the given private key.
func NewArkClient(
	ctx context.Context, transportClient client.TransportClient,
	explorerSvc explorer.Explorer, privateKey *secp256k1.PrivateKey,
) (ArkClient, error) {
	info, err := transportClient.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server info: %w", err)
	}

	signerPubkeyBytes, err := hex.DecodeString(info.SignerPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer pubkey: %w", err)
	}
	signerPubkey, err := secp256k1.ParsePubKey(signerPubkeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid signer pubkey: %w", err)
	}

	cfg := &types.Config{
		SignerPubKey:        signerPubkey,
		Network:             arklib.NetworkFromString(info.Network),
		VtxoTreeExpiry:      toRelativeLocktime(info.VtxoTreeExpiry),
		UnilateralExitDelay: toRelativeLocktime(info.UnilateralExitDelay),
		BoardingExitDelay:   toRelativeLocktime(info.BoardingExitDelay),
		RoundInterval:       info.RoundInterval,
		Dust:                info.Dust,
		ForfeitAddress:      info.ForfeitAddress,
		UtxoMinAmount:       info.UtxoMinAmount,
		UtxoMaxAmount:       info.UtxoMaxAmount,
		VtxoMinAmount:       info.VtxoMinAmount,
		VtxoMaxAmount:       info.VtxoMaxAmount,
	}

	walletSvc, err := wallet.NewSingleKeyWallet(privateKey, cfg)
	if err != nil {
		return nil, err
	}

	return &arkClient{
		cfg:      cfg,
		client:   transportClient,
		explorer: explorerSvc,
		wallet:   walletSvc,
	}, nil
}

func (a *arkClient) GetConfig() *types.Config {
	return a.cfg
}

func (a *arkClient) Stop() {
	a.client.Close()
}

func (a *arkClient) Receive(ctx context.Context) (string, string, error) {
	offchainAddr, boardingAddr, err := a.wallet.GetAddresses(ctx)
	if err != nil {
		return "", "", err
	}
	return offchainAddr.Address, boardingAddr.Address, nil
}

func (a *arkClient) Balance(ctx context.Context) (uint64, uint64, error) {
	spendableVtxos, _, err := a.getVtxos(ctx)
	if err != nil {
		return 0, 0, err
	}

	offchainBalance := uint64(0)
	for _, vtxo := range spendableVtxos {
		offchainBalance += vtxo.Amount
	}

	boardingUtxos, err := a.getBoardingUtxos(ctx)
	if err != nil {
		return 0, 0, err
	}

	onchainBalance := uint64(0)
	for _, utxo := range boardingUtxos {
		onchainBalance += utxo.Amount
	}

	return offchainBalance, onchainBalance, nil
}

func (a *arkClient) ListVtxos(ctx context.Context) ([]types.Vtxo, []types.Vtxo, error) {
	return a.getVtxos(ctx)
}

func (a *arkClient) Settle(ctx context.Context) (string, error) {
	offchainAddr, _, err := a.wallet.GetAddresses(ctx)
	if err != nil {
		return "", err
	}

	spendableVtxos, _, err := a.getVtxos(ctx)
	if err != nil {
		return "", err
	}

	boardingUtxos, err := a.getBoardingUtxos(ctx)
	if err != nil {
		return "", err
	}

	if len(spendableVtxos) == 0 && len(boardingUtxos) == 0 {
		return "", fmt.Errorf("no funds to settle")
	}

	totalAmount := uint64(0)
	vtxos := make([]client.TapscriptsVtxo, 0, len(spendableVtxos))
	for _, vtxo := range spendableVtxos {
		totalAmount += vtxo.Amount
		vtxos = append(vtxos, client.TapscriptsVtxo{
			Vtxo:       vtxo,
			Tapscripts: offchainAddr.Tapscripts,
		})
	}
	for _, utxo := range boardingUtxos {
		totalAmount += utxo.Amount
	}

	receivers := []types.Receiver{{To: offchainAddr.Address, Amount: totalAmount}}

	var joinErr error
	for attempt := 0; attempt < maxSettlementAttempts; attempt++ {
		if attempt > 0 {
			log.Debugf("settlement attempt %d failed, retrying...", attempt)
		}

		txid, err := a.joinBatch(ctx, vtxos, boardingUtxos, receivers)
		if err != nil {
			joinErr = err
			continue
		}
		return txid, nil
	}

	return "", fmt.Errorf(
		"failed to settle after %d attempts: %w", maxSettlementAttempts, joinErr,
	)
}

func (a *arkClient) joinBatch(
	ctx context.Context, vtxos []client.TapscriptsVtxo,
	boardingUtxos []types.Utxo, receivers []types.Receiver,
) (string, error) {
	signerSession, err := a.wallet.NewVtxoTreeSigner(
		ctx, fmt.Sprintf("m/%d'/%d'", 0, time.Now().UnixNano()%1000000),
	)
	if err != nil {
		return "", err
	}

	intentID, err := a.registerIntent(
		ctx, vtxos, boardingUtxos, receivers,
		[]string{signerSession.GetPublicKey()},
	)
	if err != nil {
		return "", err
	}

	spentOutpoints := make([]types.Outpoint, 0, len(vtxos)+len(boardingUtxos))
	for _, vtxo := range vtxos {
		spentOutpoints = append(spentOutpoints, vtxo.Outpoint)
	}
	for _, utxo := range boardingUtxos {
		spentOutpoints = append(spentOutpoints, types.Outpoint{
			Txid: utxo.Txid, VOut: utxo.VOut,
		})
	}

	topics := GetEventStreamTopics(spentOutpoints, []tree.SignerSession{signerSession})

	eventsCh, closeStream, err := a.client.GetEventStream(ctx, topics)
	if err != nil {
		a.deleteIntent(ctx, vtxos, boardingUtxos)
		return "", err
	}
	defer closeStream()

	handler := newBatchEventsHandler(
		a, intentID, vtxos, boardingUtxos, receivers, signerSession,
	)

	txid, err := JoinBatchSession(ctx, eventsCh, handler)
	if err != nil {
		a.deleteIntent(ctx, vtxos, boardingUtxos)
		return "", err
	}

	return txid, nil
}

func (a *arkClient) SendOffchain(
	ctx context.Context, receivers []types.Receiver,
) (string, error) {
	if len(receivers) == 0 {
		return "", fmt.Errorf("missing receivers")
	}

	offchainAddr, _, err := a.wallet.GetAddresses(ctx)
	if err != nil {
		return "", err
	}

	sumOfReceivers := uint64(0)
	for _, receiver := range receivers {
		if receiver.Amount == 0 {
			return "", fmt.Errorf("receiver amount must be greater than 0")
		}
		sumOfReceivers += receiver.Amount
	}

	spendableVtxos, _, err := a.getVtxos(ctx)
	if err != nil {
		return "", err
	}

	// recoverable vtxos require a settlement before being spendable again
	candidates := make([]types.Vtxo, 0, len(spendableVtxos))
	for _, vtxo := range spendableVtxos {
		if vtxo.IsRecoverable() {
			continue
		}
		candidates = append(candidates, vtxo)
	}

	selected, change, err := coinSelect(candidates, sumOfReceivers, a.cfg.Dust)
	if err != nil {
		return "", err
	}

	outReceivers := receivers
	if change > 0 {
		outReceivers = append(outReceivers, types.Receiver{
			To: offchainAddr.Address, Amount: change,
		})
	}

	outputs, err := a.buildOffchainOutputs(outReceivers)
	if err != nil {
		return "", err
	}

	vtxoInputs := make([]arklib.VtxoInput, 0, len(selected))
	for _, vtxo := range selected {
		vtxoInput, err := toVtxoInput(vtxo, offchainAddr.Tapscripts)
		if err != nil {
			return "", err
		}
		vtxoInputs = append(vtxoInputs, *vtxoInput)
	}

	serverUnrollScript := &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*secp256k1.PublicKey{a.cfg.SignerPubKey},
		},
		Locktime: a.cfg.UnilateralExitDelay,
	}

	arkTx, checkpointTxs, err := offchain.BuildTxs(
		vtxoInputs, outputs, serverUnrollScript,
	)
	if err != nil {
		return "", err
	}

	arkTxB64, err := arkTx.B64Encode()
	if err != nil {
		return "", err
	}

	signedArkTx, err := a.wallet.SignTransaction(ctx, a.explorer, arkTxB64)
	if err != nil {
		return "", err
	}

	checkpointB64s := make([]string, 0, len(checkpointTxs))
	for _, checkpoint := range checkpointTxs {
		b64, err := checkpoint.B64Encode()
		if err != nil {
			return "", err
		}
		checkpointB64s = append(checkpointB64s, b64)
	}

	arkTxid, _, signedCheckpoints, err := a.client.SubmitTx(
		ctx, signedArkTx, checkpointB64s,
	)
	if err != nil {
		return "", err
	}

	finalCheckpoints := make([]string, 0, len(signedCheckpoints))
	for _, checkpoint := range signedCheckpoints {
		finalCheckpoint, err := a.wallet.SignTransaction(ctx, a.explorer, checkpoint)
		if err != nil {
			return "", err
		}
		finalCheckpoints = append(finalCheckpoints, finalCheckpoint)
	}

	if err := a.client.FinalizeTx(ctx, arkTxid, finalCheckpoints); err != nil {
		return "", err
	}

	return arkTxid, nil
}

func (a *arkClient) registerIntent(
	ctx context.Context, vtxos []client.TapscriptsVtxo,
	boardingUtxos []types.Utxo, receivers []types.Receiver,
	cosignersPublicKeys []string,
) (string, error) {
	proof, message, err := a.craftRegisterProof(
		ctx, vtxos, boardingUtxos, receivers, cosignersPublicKeys,
	)
	if err != nil {
		return "", err
	}

	signature, err := a.signIntentProof(ctx, proof)
	if err != nil {
		return "", err
	}

	return a.client.RegisterIntent(ctx, signature, message)
}

// deleteIntent is a best effort cleanup, failures are only logged.
func (a *arkClient) deleteIntent(
	ctx context.Context, vtxos []client.TapscriptsVtxo, boardingUtxos []types.Utxo,
) {
	message := intent.DeleteMessage{
		BaseMessage: intent.BaseMessage{Type: intent.MessageTypeDelete},
		ExpireAt:    time.Now().Add(intentExpiry).Unix(),
	}
	messageStr, err := message.Encode()
	if err != nil {
		log.WithError(err).Debug("failed to craft delete intent message")
		return
	}

	inputs, _, err := a.craftProofInputs(vtxos, boardingUtxos)
	if err != nil {
		log.WithError(err).Debug("failed to craft delete intent inputs")
		return
	}

	proof, err := intent.New(messageStr, inputs, nil)
	if err != nil {
		log.WithError(err).Debug("failed to craft delete intent proof")
		return
	}

	if err := a.attachProofTapscripts(proof, vtxos, boardingUtxos); err != nil {
		log.WithError(err).Debug("failed to attach tapscripts to delete intent proof")
		return
	}

	signature, err := a.signIntentProof(ctx, proof)
	if err != nil {
		log.WithError(err).Debug("failed to sign delete intent proof")
		return
	}

	if err := a.client.DeleteIntent(ctx, signature, messageStr); err != nil {
		log.WithError(err).Debug("failed to delete intent")
	}
}

func (a *arkClient) craftRegisterProof(
	ctx context.Context, vtxos []client.TapscriptsVtxo,
	boardingUtxos []types.Utxo, receivers []types.Receiver,
	cosignersPublicKeys []string,
) (*intent.Proof, string, error) {
	inputs, inputTapTrees, err := a.craftProofInputs(vtxos, boardingUtxos)
	if err != nil {
		return nil, "", err
	}

	outputs, onchainOutputIndexes, err := a.buildIntentOutputs(receivers)
	if err != nil {
		return nil, "", err
	}

	message := intent.RegisterMessage{
		BaseMessage:          intent.BaseMessage{Type: intent.MessageTypeRegister},
		InputTapTrees:        inputTapTrees,
		OnchainOutputIndexes: onchainOutputIndexes,
		ValidAt:              0,
		ExpireAt:             time.Now().Add(intentExpiry).Unix(),
		CosignersPublicKeys:  cosignersPublicKeys,
	}
	messageStr, err := message.Encode()
	if err != nil {
		return nil, "", err
	}

	proof, err := intent.New(messageStr, inputs, outputs)
	if err != nil {
		return nil, "", err
	}

	if err := a.attachProofTapscripts(proof, vtxos, boardingUtxos); err != nil {
		return nil, "", err
	}

	return proof, messageStr, nil
}

// craftProofInputs resolves vtxos and boarding utxos into bip322 inputs,
// along with the encoded taptree of each input.
func (a *arkClient) craftProofInputs(
	vtxos []client.TapscriptsVtxo, boardingUtxos []types.Utxo,
) ([]intent.Input, []string, error) {
	inputs := make([]intent.Input, 0, len(vtxos)+len(boardingUtxos))
	inputTapTrees := make([]string, 0, len(vtxos)+len(boardingUtxos))

	appendInput := func(
		txid string, vout uint32, amount uint64, sequence uint32, tapscripts []string,
	) error {
		vtxoScript, err := script.ParseVtxoScript(tapscripts)
		if err != nil {
			return err
		}

		tapKey, _, err := vtxoScript.TapTree()
		if err != nil {
			return err
		}

		pkScript, err := arklib.P2TRScript(tapKey)
		if err != nil {
			return err
		}

		txHash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return err
		}

		encodedTapTree, err := script.TapTree(tapscripts).Encode()
		if err != nil {
			return err
		}

		inputs = append(inputs, intent.Input{
			OutPoint: &wire.OutPoint{Hash: *txHash, Index: vout},
			Sequence: sequence,
			WitnessUtxo: &wire.TxOut{
				Value:    int64(amount),
				PkScript: pkScript,
			},
		})
		inputTapTrees = append(inputTapTrees, hex.EncodeToString(encodedTapTree))
		return nil
	}

	for _, vtxo := range vtxos {
		if err := appendInput(
			vtxo.Txid, vtxo.VOut, vtxo.Amount, wire.MaxTxInSequenceNum,
			vtxo.Tapscripts,
		); err != nil {
			return nil, nil, err
		}
	}

	for _, utxo := range boardingUtxos {
		if err := appendInput(
			utxo.Txid, utxo.VOut, utxo.Amount, wire.MaxTxInSequenceNum,
			utxo.Tapscripts,
		); err != nil {
			return nil, nil, err
		}
	}

	return inputs, inputTapTrees, nil
}

// attachProofTapscripts reveals the forfeit leaf of every input so the
// wallet can sign the proof via tapscript spend.
func (a *arkClient) attachProofTapscripts(
	proof *intent.Proof, vtxos []client.TapscriptsVtxo, boardingUtxos []types.Utxo,
) error {
	allTapscripts := make([][]string, 0, len(vtxos)+len(boardingUtxos))
	for _, vtxo := range vtxos {
		allTapscripts = append(allTapscripts, vtxo.Tapscripts)
	}
	for _, utxo := range boardingUtxos {
		allTapscripts = append(allTapscripts, utxo.Tapscripts)
	}

	for i, tapscripts := range allTapscripts {
		vtxoScript, err := script.ParseVtxoScript(tapscripts)
		if err != nil {
			return err
		}

		forfeitClosures := vtxoScript.ForfeitClosures()
		if len(forfeitClosures) == 0 {
			return fmt.Errorf("no forfeit closures found")
		}

		forfeitScript, err := forfeitClosures[0].Script()
		if err != nil {
			return err
		}

		_, taprootTree, err := vtxoScript.TapTree()
		if err != nil {
			return err
		}

		forfeitLeaf := txscript.NewBaseTapLeaf(forfeitScript)
		leafProof, err := taprootTree.GetTaprootMerkleProof(forfeitLeaf.TapHash())
		if err != nil {
			return err
		}

		// input 0 is the bip322 duplicate of input 1
		proof.Inputs[i+1].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
			{
				ControlBlock: leafProof.ControlBlock,
				Script:       leafProof.Script,
				LeafVersion:  txscript.BaseLeafVersion,
			},
		}
		if i == 0 {
			proof.Inputs[0].TaprootLeafScript = proof.Inputs[1].TaprootLeafScript
		}
	}

	return nil
}

func (a *arkClient) signIntentProof(
	ctx context.Context, proof *intent.Proof,
) (string, error) {
	proofPtx := psbt.Packet(*proof)
	b64, err := proofPtx.B64Encode()
	if err != nil {
		return "", err
	}

	signedProof, err := a.wallet.SignTransaction(ctx, a.explorer, b64)
	if err != nil {
		return "", err
	}

	signedPtx, err := psbt.NewFromRawBytes(strings.NewReader(signedProof), true)
	if err != nil {
		return "", err
	}

	sig, err := (*intent.Proof)(signedPtx).Signature()
	if err != nil {
		return "", err
	}

	return sig.Encode()
}

func (a *arkClient) buildIntentOutputs(
	receivers []types.Receiver,
) ([]*wire.TxOut, []int, error) {
	outputs := make([]*wire.TxOut, 0, len(receivers))
	onchainOutputIndexes := make([]int, 0)

	for i, receiver := range receivers {
		if addr, err := arklib.DecodeAddressV0(receiver.To); err == nil {
			pkScript, err := arklib.P2TRScript(addr.VtxoTapKey)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, &wire.TxOut{
				Value:    int64(receiver.Amount),
				PkScript: pkScript,
			})
			continue
		}

		netParams := a.cfg.Network.ChainParams()
		onchainAddr, err := btcutil.DecodeAddress(receiver.To, &netParams)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid receiver address %s: %w", receiver.To, err)
		}

		pkScript, err := txscript.PayToAddrScript(onchainAddr)
		if err != nil {
			return nil, nil, err
		}

		outputs = append(outputs, &wire.TxOut{
			Value:    int64(receiver.Amount),
			PkScript: pkScript,
		})
		onchainOutputIndexes = append(onchainOutputIndexes, i)
	}

	return outputs, onchainOutputIndexes, nil
}

func (a *arkClient) buildOffchainOutputs(
	receivers []types.Receiver,
) ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0, len(receivers))
	hasSubDust := false

	for _, receiver := range receivers {
		addr, err := arklib.DecodeAddressV0(receiver.To)
		if err != nil {
			return nil, fmt.Errorf("invalid offchain address %s: %w", receiver.To, err)
		}

		var pkScript []byte
		if receiver.Amount < a.cfg.Dust {
			hasSubDust = true
			pkScript, err = arklib.SubDustScript(addr.VtxoTapKey)
		} else {
			pkScript, err = arklib.P2TRScript(addr.VtxoTapKey)
		}
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, &wire.TxOut{
			Value:    int64(receiver.Amount),
			PkScript: pkScript,
		})
	}

	// a sub-dust output must be alone, it cannot be unrolled onchain
	if hasSubDust && len(outputs) > 1 {
		return nil, fmt.Errorf("sub-dust output must be the only output")
	}

	return outputs, nil
}

func (a *arkClient) getVtxos(ctx context.Context) ([]types.Vtxo, []types.Vtxo, error) {
	offchainAddr, _, err := a.wallet.GetAddresses(ctx)
	if err != nil {
		return nil, nil, err
	}

	addr, err := arklib.DecodeAddressV0(offchainAddr.Address)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := arklib.P2TRScript(addr.VtxoTapKey)
	if err != nil {
		return nil, nil, err
	}

	return a.client.ListVtxos(ctx, []string{hex.EncodeToString(pkScript)})
}

func (a *arkClient) getBoardingUtxos(ctx context.Context) ([]types.Utxo, error) {
	_, boardingAddr, err := a.wallet.GetAddresses(ctx)
	if err != nil {
		return nil, err
	}

	onchainUtxos, err := a.explorer.GetUtxos(boardingAddr.Address)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	utxos := make([]types.Utxo, 0, len(onchainUtxos))
	for _, utxo := range onchainUtxos {
		createdAt := now
		if utxo.Status.Confirmed {
			createdAt = time.Unix(utxo.Status.Blocktime, 0)
		}

		spendableAt := createdAt.Add(
			time.Duration(a.cfg.BoardingExitDelay.Seconds()) * time.Second,
		)

		// once the exit path is available the server won't accept the utxo
		// in a batch anymore
		if !spendableAt.After(now) {
			continue
		}

		utxos = append(utxos, types.Utxo{
			Txid:        utxo.Txid,
			VOut:        utxo.Vout,
			Amount:      utxo.Amount,
			Delay:       a.cfg.BoardingExitDelay,
			SpendableAt: spendableAt,
			CreatedAt:   createdAt,
			Tapscripts:  boardingAddr.Tapscripts,
		})
	}

	return utxos, nil
}

// toVtxoInput resolves a vtxo into a spendable input using the first
// collaborative forfeit closure of its script.
func toVtxoInput(vtxo types.Vtxo, tapscripts []string) (*arklib.VtxoInput, error) {
	vtxoScript, err := script.ParseVtxoScript(tapscripts)
	if err != nil {
		return nil, err
	}

	forfeitClosures := vtxoScript.ForfeitClosures()
	if len(forfeitClosures) == 0 {
		return nil, fmt.Errorf("no forfeit closures found")
	}
	forfeitClosure := forfeitClosures[0]

	forfeitScript, err := forfeitClosure.Script()
	if err != nil {
		return nil, err
	}

	_, taprootTree, err := vtxoScript.TapTree()
	if err != nil {
		return nil, err
	}

	forfeitLeaf := txscript.NewBaseTapLeaf(forfeitScript)
	leafProof, err := taprootTree.GetTaprootMerkleProof(forfeitLeaf.TapHash())
	if err != nil {
		return nil, err
	}

	ctrlBlock, err := txscript.ParseControlBlock(leafProof.ControlBlock)
	if err != nil {
		return nil, err
	}

	txHash, err := chainhash.NewHashFromStr(vtxo.Txid)
	if err != nil {
		return nil, err
	}

	revealedTapscripts, err := vtxoScript.Encode()
	if err != nil {
		return nil, err
	}

	return &arklib.VtxoInput{
		Outpoint: &wire.OutPoint{Hash: *txHash, Index: vtxo.VOut},
		Amount:   int64(vtxo.Amount),
		Tapscript: &waddrmgr.Tapscript{
			ControlBlock:   ctrlBlock,
			RevealedScript: leafProof.Script,
		},
		WitnessSize:        forfeitClosure.WitnessSize(),
		RevealedTapscripts: revealedTapscripts,
	}, nil
}

func coinSelect(
	vtxos []types.Vtxo, amount, dust uint64,
) ([]types.Vtxo, uint64, error) {
	// spend older vtxos first
	sort.SliceStable(vtxos, func(i, j int) bool {
		return vtxos[i].ExpiresAt.Before(vtxos[j].ExpiresAt)
	})

	selected := make([]types.Vtxo, 0)
	notSelected := make([]types.Vtxo, 0)
	selectedAmount := uint64(0)

	for _, vtxo := range vtxos {
		if selectedAmount >= amount {
			notSelected = append(notSelected, vtxo)
			continue
		}

		selected = append(selected, vtxo)
		selectedAmount += vtxo.Amount
	}

	if selectedAmount < amount {
		return nil, 0, fmt.Errorf(
			"not enough funds to cover amount %d, got %d", amount, selectedAmount,
		)
	}

	change := selectedAmount - amount

	if change > 0 && change < dust {
		if len(notSelected) > 0 {
			selected = append(selected, notSelected[0])
			change += notSelected[0].Amount
		}
	}

	return selected, change, nil
}

func toRelativeLocktime(value int64) arklib.RelativeLocktime {
	if value >= 512 {
		return arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeSecond, Value: uint32(value),
		}
	}
	return arklib.RelativeLocktime{
		Type: arklib.LocktimeTypeBlock, Value: uint32(value),
	}
}
