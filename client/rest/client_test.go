package restclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ark-network/ark-sdk/client"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	t.Run("heartbeat", func(t *testing.T) {
		event, err := parseEvent([]byte(`{"result":{"heartbeat":{}}}`))
		require.NoError(t, err)
		require.IsType(t, client.HeartbeatEvent{}, event)
	})

	t.Run("batch started", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"batchStarted":{"id":"batch-1","hashedIntentIds":["aa","bb"],"batchExpiry":"144"}}}`,
		))
		require.NoError(t, err)

		batchStarted, ok := event.(client.BatchStartedEvent)
		require.True(t, ok)
		require.Equal(t, "batch-1", batchStarted.Id)
		require.Equal(t, []string{"aa", "bb"}, batchStarted.HashedIntentIds)
		require.Equal(t, int64(144), batchStarted.BatchExpiry)
	})

	t.Run("batch finalization", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"batchFinalization":{"id":"batch-1","commitmentTx":"cHNidP8B"}}}`,
		))
		require.NoError(t, err)

		finalization, ok := event.(client.BatchFinalizationEvent)
		require.True(t, ok)
		require.Equal(t, "cHNidP8B", finalization.Tx)
	})

	t.Run("batch finalized", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"batchFinalized":{"id":"batch-1","commitmentTxid":"txid-1"}}}`,
		))
		require.NoError(t, err)

		finalized, ok := event.(client.BatchFinalizedEvent)
		require.True(t, ok)
		require.Equal(t, "txid-1", finalized.Txid)
	})

	t.Run("batch failed", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"batchFailed":{"id":"batch-1","reason":"timed out"}}}`,
		))
		require.NoError(t, err)

		failed, ok := event.(client.BatchFailedEvent)
		require.True(t, ok)
		require.Equal(t, "timed out", failed.Reason)
	})

	t.Run("tree signing started", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"treeSigningStarted":{"id":"batch-1","cosignersPubkeys":["02aa"],"unsignedCommitmentTx":"cHNidP8B"}}}`,
		))
		require.NoError(t, err)

		signingStarted, ok := event.(client.TreeSigningStartedEvent)
		require.True(t, ok)
		require.Equal(t, []string{"02aa"}, signingStarted.CosignersPubkeys)
		require.Equal(t, "cHNidP8B", signingStarted.UnsignedCommitmentTx)
	})

	t.Run("tree nonces aggregated", func(t *testing.T) {
		nonce := strings.Repeat("01", 66)
		noncesJSON := fmt.Sprintf(`{\"txid-1\":\"%s\"}`, nonce)

		event, err := parseEvent([]byte(
			`{"result":{"treeNoncesAggregated":{"id":"batch-1","treeNonces":"` + noncesJSON + `"}}}`,
		))
		require.NoError(t, err)

		aggregated, ok := event.(client.TreeNoncesAggregatedEvent)
		require.True(t, ok)
		require.Len(t, aggregated.Nonces, 1)
		require.NotNil(t, aggregated.Nonces["txid-1"])
	})

	t.Run("tree tx", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"treeTx":{"id":"batch-1","batchIndex":1,"txid":"txid-1","tx":"cHNidP8B","parentTxid":"txid-0","leaf":true}}}`,
		))
		require.NoError(t, err)

		treeTx, ok := event.(client.TreeTxEvent)
		require.True(t, ok)
		require.Equal(t, int32(1), treeTx.BatchIndex)
		require.Equal(t, "txid-1", treeTx.Node.Txid)
		require.Equal(t, "txid-0", treeTx.Node.ParentTxid)
		require.True(t, treeTx.Node.Leaf)
	})

	t.Run("tree signature", func(t *testing.T) {
		event, err := parseEvent([]byte(
			`{"result":{"treeSignature":{"id":"batch-1","batchIndex":0,"txid":"txid-1","signature":"deadbeef"}}}`,
		))
		require.NoError(t, err)

		treeSig, ok := event.(client.TreeSignatureEvent)
		require.True(t, ok)
		require.Equal(t, "txid-1", treeSig.Txid)
		require.Equal(t, "deadbeef", treeSig.Signature)
	})

	t.Run("unknown event", func(t *testing.T) {
		event, err := parseEvent([]byte(`{"result":{"somethingElse":{}}}`))
		require.NoError(t, err)
		require.Nil(t, event)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := parseEvent([]byte(`{"result":`))
		require.Error(t, err)
	})
}

func TestGetInfo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/info", r.URL.Path)
		fmt.Fprint(w, `{
			"signerPubkey": "02aa",
			"vtxoTreeExpiry": "604672",
			"unilateralExitDelay": "1024",
			"boardingExitDelay": "604672",
			"roundInterval": "30",
			"network": "regtest",
			"dust": "1000",
			"forfeitAddress": "bcrt1q...",
			"version": "1.0.0"
		}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "02aa", info.SignerPubKey)
	require.Equal(t, int64(604672), info.VtxoTreeExpiry)
	require.Equal(t, int64(1024), info.UnilateralExitDelay)
	require.Equal(t, "regtest", info.Network)
	require.Equal(t, uint64(1000), info.Dust)
}

func TestListVtxos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/vtxos", r.URL.Path)
		require.Equal(t, []string{"aabb"}, r.URL.Query()["scripts"])
		fmt.Fprint(w, `{
			"spendableVtxos": [{
				"outpoint": {"txid": "txid-1", "vout": 1},
				"script": "aabb",
				"amount": "21000",
				"commitmentTxid": "commitment-1",
				"expiresAt": "1722688588",
				"createdAt": "1722602188",
				"isPreconfirmed": true
			}],
			"spentVtxos": []
		}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	spendable, spent, err := c.ListVtxos(context.Background(), []string{"aabb"})
	require.NoError(t, err)
	require.Empty(t, spent)
	require.Len(t, spendable, 1)

	v := spendable[0]
	require.Equal(t, "txid-1", v.Outpoint.Txid)
	require.Equal(t, uint32(1), v.Outpoint.VOut)
	require.Equal(t, uint64(21000), v.Amount)
	require.Equal(t, "commitment-1", v.CommitmentTxid)
	require.True(t, v.Preconfirmed)
	require.False(t, v.Spent)
}

func TestServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "something went wrong"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetInfo(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "something went wrong")
}
