// Package restclient implements the TransportClient interface over the
// coordinator's REST gateway. Settlement events are consumed as a stream of
// newline-delimited JSON messages.
package restclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ark-network/ark-sdk/arklib/tree"
	"github.com/ark-network/ark-sdk/client"
	"github.com/ark-network/ark-sdk/types"
	log "github.com/sirupsen/logrus"
)

type restClient struct {
	serverURL      string
	svc            *http.Client
	requestTimeout time.Duration
}

// NewClient returns a TransportClient talking to the given server url.
func NewClient(serverURL string) (client.TransportClient, error) {
	if len(serverURL) <= 0 {
		return nil, fmt.Errorf("missing server url")
	}

	requestTimeout := 15 * time.Second

	return &restClient{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		// stream requests use their own client with no timeout
		svc:            &http.Client{Timeout: requestTimeout},
		requestTimeout: requestTimeout,
	}, nil
}

func (c *restClient) GetInfo(ctx context.Context) (*client.Info, error) {
	var resp struct {
		SignerPubkey        string `json:"signerPubkey"`
		VtxoTreeExpiry      string `json:"vtxoTreeExpiry"`
		UnilateralExitDelay string `json:"unilateralExitDelay"`
		BoardingExitDelay   string `json:"boardingExitDelay"`
		RoundInterval       string `json:"roundInterval"`
		Network             string `json:"network"`
		Dust                string `json:"dust"`
		ForfeitAddress      string `json:"forfeitAddress"`
		UtxoMinAmount       string `json:"utxoMinAmount"`
		UtxoMaxAmount       string `json:"utxoMaxAmount"`
		VtxoMinAmount       string `json:"vtxoMinAmount"`
		VtxoMaxAmount       string `json:"vtxoMaxAmount"`
		Version             string `json:"version"`
	}

	if err := c.get(ctx, "/v1/info", &resp); err != nil {
		return nil, err
	}

	return &client.Info{
		SignerPubKey:        resp.SignerPubkey,
		VtxoTreeExpiry:      parseInt(resp.VtxoTreeExpiry),
		UnilateralExitDelay: parseInt(resp.UnilateralExitDelay),
		BoardingExitDelay:   parseInt(resp.BoardingExitDelay),
		RoundInterval:       parseInt(resp.RoundInterval),
		Network:             resp.Network,
		Dust:                uint64(parseInt(resp.Dust)),
		ForfeitAddress:      resp.ForfeitAddress,
		UtxoMinAmount:       parseInt(resp.UtxoMinAmount),
		UtxoMaxAmount:       parseInt(resp.UtxoMaxAmount),
		VtxoMinAmount:       parseInt(resp.VtxoMinAmount),
		VtxoMaxAmount:       parseInt(resp.VtxoMaxAmount),
		Version:             resp.Version,
	}, nil
}

func (c *restClient) RegisterIntent(
	ctx context.Context, signature, message string,
) (string, error) {
	req := map[string]any{
		"intent": map[string]string{
			"signature": signature,
			"message":   message,
		},
	}

	var resp struct {
		IntentId string `json:"intentId"`
	}
	if err := c.post(ctx, "/v1/batch/registerIntent", req, &resp); err != nil {
		return "", err
	}

	return resp.IntentId, nil
}

func (c *restClient) DeleteIntent(ctx context.Context, signature, message string) error {
	req := map[string]any{
		"proof": map[string]string{
			"signature": signature,
			"message":   message,
		},
	}

	return c.post(ctx, "/v1/batch/deleteIntent", req, nil)
}

func (c *restClient) ConfirmRegistration(ctx context.Context, intentID string) error {
	req := map[string]any{"intentId": intentID}
	return c.post(ctx, "/v1/batch/ack", req, nil)
}

func (c *restClient) SubmitTreeNonces(
	ctx context.Context, batchID, cosignerPubkey string, nonces tree.TreeNonces,
) error {
	encodedNonces, err := json.Marshal(nonces)
	if err != nil {
		return err
	}

	req := map[string]any{
		"batchId":    batchID,
		"pubkey":     cosignerPubkey,
		"treeNonces": string(encodedNonces),
	}

	return c.post(ctx, "/v1/batch/tree/submitNonces", req, nil)
}

func (c *restClient) SubmitTreeSignatures(
	ctx context.Context, batchID, cosignerPubkey string, signatures tree.TreePartialSigs,
) error {
	encodedSigs, err := json.Marshal(signatures)
	if err != nil {
		return err
	}

	req := map[string]any{
		"batchId":        batchID,
		"pubkey":         cosignerPubkey,
		"treeSignatures": string(encodedSigs),
	}

	return c.post(ctx, "/v1/batch/tree/submitSignatures", req, nil)
}

func (c *restClient) SubmitSignedForfeitTxs(
	ctx context.Context, signedForfeitTxs []string, signedCommitmentTx string,
) error {
	req := map[string]any{
		"signedForfeitTxs":   signedForfeitTxs,
		"signedCommitmentTx": signedCommitmentTx,
	}

	return c.post(ctx, "/v1/batch/submitForfeitTxs", req, nil)
}

func (c *restClient) SubmitTx(
	ctx context.Context, signedArkTx string, checkpointTxs []string,
) (string, string, []string, error) {
	req := map[string]any{
		"signedArkTx":   signedArkTx,
		"checkpointTxs": checkpointTxs,
	}

	var resp struct {
		ArkTxid             string   `json:"arkTxid"`
		FinalArkTx          string   `json:"finalArkTx"`
		SignedCheckpointTxs []string `json:"signedCheckpointTxs"`
	}
	if err := c.post(ctx, "/v1/tx/submit", req, &resp); err != nil {
		return "", "", nil, err
	}

	return resp.ArkTxid, resp.FinalArkTx, resp.SignedCheckpointTxs, nil
}

func (c *restClient) FinalizeTx(
	ctx context.Context, arkTxid string, finalCheckpointTxs []string,
) error {
	req := map[string]any{
		"arkTxid":            arkTxid,
		"finalCheckpointTxs": finalCheckpointTxs,
	}

	return c.post(ctx, "/v1/tx/finalize", req, nil)
}

func (c *restClient) ListVtxos(
	ctx context.Context, scripts []string,
) ([]types.Vtxo, []types.Vtxo, error) {
	query := url.Values{}
	for _, script := range scripts {
		query.Add("scripts", script)
	}

	var resp struct {
		SpendableVtxos []vtxo `json:"spendableVtxos"`
		SpentVtxos     []vtxo `json:"spentVtxos"`
	}
	if err := c.get(ctx, "/v1/vtxos?"+query.Encode(), &resp); err != nil {
		return nil, nil, err
	}

	spendable := make([]types.Vtxo, 0, len(resp.SpendableVtxos))
	for _, v := range resp.SpendableVtxos {
		spendable = append(spendable, v.toTypeVtxo())
	}

	spent := make([]types.Vtxo, 0, len(resp.SpentVtxos))
	for _, v := range resp.SpentVtxos {
		spent = append(spent, v.toTypeVtxo())
	}

	return spendable, spent, nil
}

func (c *restClient) GetEventStream(
	ctx context.Context, topics []string,
) (<-chan client.BatchEventChannel, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	eventsCh := make(chan client.BatchEventChannel)

	go func() {
		defer close(eventsCh)

		for {
			if err := c.consumeEventStream(ctx, topics, eventsCh); err != nil {
				if ctx.Err() != nil {
					return
				}

				// transient read timeouts are retried silently by reconnecting
				if isTimeoutError(err) {
					log.Debug("event stream timed out, reconnecting...")
					continue
				}

				select {
				case eventsCh <- client.BatchEventChannel{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			return
		}
	}()

	return eventsCh, cancel, nil
}

func (c *restClient) Close() {
	c.svc.CloseIdleConnections()
}

func (c *restClient) consumeEventStream(
	ctx context.Context, topics []string, eventsCh chan<- client.BatchEventChannel,
) error {
	query := url.Values{}
	for _, topic := range topics {
		query.Add("topics", topic)
	}

	streamURL := c.serverURL + "/v1/batch/events"
	if len(topics) > 0 {
		streamURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}

	// no global timeout on the stream request, the response header timeout
	// classifies a dead connection
	streamClient := &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: 3 * time.Minute},
	}

	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream failed: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		event, err := parseEvent(line)
		if err != nil {
			select {
			case eventsCh <- client.BatchEventChannel{Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if event == nil {
			continue
		}

		select {
		case eventsCh <- client.BatchEventChannel{Event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *restClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.svc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *restClient) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(buf),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.svc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("%s", errResp.Message)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}

func isTimeoutError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout awaiting response headers")
}

func parseInt(s string) int64 {
	var v int64
	fmt.Sscanf(s, "%d", &v)
	return v
}

type vtxo struct {
	Outpoint struct {
		Txid string `json:"txid"`
		Vout uint32 `json:"vout"`
	} `json:"outpoint"`
	Script         string `json:"script"`
	Amount         string `json:"amount"`
	CommitmentTxid string `json:"commitmentTxid"`
	ExpiresAt      string `json:"expiresAt"`
	CreatedAt      string `json:"createdAt"`
	Preconfirmed   bool   `json:"isPreconfirmed"`
	Swept          bool   `json:"isSwept"`
	Spent          bool   `json:"isSpent"`
	SpentBy        string `json:"spentBy"`
}

func (v vtxo) toTypeVtxo() types.Vtxo {
	return types.Vtxo{
		Outpoint: types.Outpoint{
			Txid: v.Outpoint.Txid,
			VOut: v.Outpoint.Vout,
		},
		Script:         v.Script,
		Amount:         uint64(parseInt(v.Amount)),
		CommitmentTxid: v.CommitmentTxid,
		ExpiresAt:      time.Unix(parseInt(v.ExpiresAt), 0),
		CreatedAt:      time.Unix(parseInt(v.CreatedAt), 0),
		Preconfirmed:   v.Preconfirmed,
		Swept:          v.Swept,
		Spent:          v.Spent,
		SpentBy:        v.SpentBy,
	}
}

type eventEnvelope struct {
	Result struct {
		Heartbeat *struct{} `json:"heartbeat"`

		BatchStarted *struct {
			Id              string   `json:"id"`
			HashedIntentIds []string `json:"hashedIntentIds"`
			BatchExpiry     string   `json:"batchExpiry"`
		} `json:"batchStarted"`

		BatchFinalization *struct {
			Id           string `json:"id"`
			CommitmentTx string `json:"commitmentTx"`
		} `json:"batchFinalization"`

		BatchFinalized *struct {
			Id             string `json:"id"`
			CommitmentTxid string `json:"commitmentTxid"`
		} `json:"batchFinalized"`

		BatchFailed *struct {
			Id     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"batchFailed"`

		TreeSigningStarted *struct {
			Id                   string   `json:"id"`
			CosignersPubkeys     []string `json:"cosignersPubkeys"`
			UnsignedCommitmentTx string   `json:"unsignedCommitmentTx"`
		} `json:"treeSigningStarted"`

		TreeNoncesAggregated *struct {
			Id         string `json:"id"`
			TreeNonces string `json:"treeNonces"`
		} `json:"treeNoncesAggregated"`

		TreeTx *struct {
			Id         string `json:"id"`
			BatchIndex int32  `json:"batchIndex"`
			Txid       string `json:"txid"`
			Tx         string `json:"tx"`
			ParentTxid string `json:"parentTxid"`
			Leaf       bool   `json:"leaf"`
		} `json:"treeTx"`

		TreeSignature *struct {
			Id         string `json:"id"`
			BatchIndex int32  `json:"batchIndex"`
			Txid       string `json:"txid"`
			Signature  string `json:"signature"`
		} `json:"treeSignature"`
	} `json:"result"`
}

func parseEvent(line []byte) (client.BatchEvent, error) {
	envelope := eventEnvelope{}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}

	result := envelope.Result

	switch {
	case result.Heartbeat != nil:
		return client.HeartbeatEvent{}, nil
	case result.BatchStarted != nil:
		e := result.BatchStarted
		return client.BatchStartedEvent{
			Id:              e.Id,
			HashedIntentIds: e.HashedIntentIds,
			BatchExpiry:     parseInt(e.BatchExpiry),
		}, nil
	case result.BatchFinalization != nil:
		e := result.BatchFinalization
		return client.BatchFinalizationEvent{Id: e.Id, Tx: e.CommitmentTx}, nil
	case result.BatchFinalized != nil:
		e := result.BatchFinalized
		return client.BatchFinalizedEvent{Id: e.Id, Txid: e.CommitmentTxid}, nil
	case result.BatchFailed != nil:
		e := result.BatchFailed
		return client.BatchFailedEvent{Id: e.Id, Reason: e.Reason}, nil
	case result.TreeSigningStarted != nil:
		e := result.TreeSigningStarted
		return client.TreeSigningStartedEvent{
			Id:                   e.Id,
			CosignersPubkeys:     e.CosignersPubkeys,
			UnsignedCommitmentTx: e.UnsignedCommitmentTx,
		}, nil
	case result.TreeNoncesAggregated != nil:
		e := result.TreeNoncesAggregated
		nonces := make(tree.TreeNonces)
		if err := json.Unmarshal([]byte(e.TreeNonces), &nonces); err != nil {
			return nil, fmt.Errorf("failed to parse aggregated nonces: %w", err)
		}
		return client.TreeNoncesAggregatedEvent{Id: e.Id, Nonces: nonces}, nil
	case result.TreeTx != nil:
		e := result.TreeTx
		return client.TreeTxEvent{
			Id:         e.Id,
			BatchIndex: e.BatchIndex,
			Node: tree.Node{
				Txid:       e.Txid,
				Tx:         e.Tx,
				ParentTxid: e.ParentTxid,
				Leaf:       e.Leaf,
			},
		}, nil
	case result.TreeSignature != nil:
		e := result.TreeSignature
		return client.TreeSignatureEvent{
			Id:         e.Id,
			BatchIndex: e.BatchIndex,
			Txid:       e.Txid,
			Signature:  e.Signature,
		}, nil
	}

	// unknown events are skipped
	return nil, nil
}
