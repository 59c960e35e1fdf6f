// Package explorer provides a thin esplora REST client used to inspect and
// broadcast onchain transactions.
package explorer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ark-network/ark-sdk/arklib"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

type Utxo struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount uint64 `json:"value"`
	Status struct {
		Confirmed bool  `json:"confirmed"`
		Blocktime int64 `json:"block_time"`
	} `json:"status"`
}

type SpentStatus struct {
	Spent   bool   `json:"spent"`
	SpentBy string `json:"txid"`
}

type Explorer interface {
	GetTxHex(txid string) (string, error)
	Broadcast(txs ...string) (string, error)
	GetUtxos(addr string) ([]Utxo, error)
	GetBalance(addr string) (uint64, error)
	GetTxBlockTime(txid string) (confirmed bool, blocktime int64, err error)
	GetTxOutspends(txid string) ([]SpentStatus, error)
	GetFeeRate() (chainfee.SatPerKVByte, error)
	CurrentHeight() (uint32, error)
	GetNetwork() arklib.Network
	BaseUrl() string
}

type explorerSvc struct {
	cache   map[string]string
	lock    *sync.RWMutex
	baseUrl string
	net     arklib.Network
}

func NewExplorer(baseUrl string, net arklib.Network) Explorer {
	return &explorerSvc{
		cache:   make(map[string]string),
		lock:    &sync.RWMutex{},
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		net:     net,
	}
}

func (e *explorerSvc) BaseUrl() string {
	return e.baseUrl
}

func (e *explorerSvc) GetNetwork() arklib.Network {
	return e.net
}

func (e *explorerSvc) GetTxHex(txid string) (string, error) {
	e.lock.RLock()
	if hex, ok := e.cache[txid]; ok {
		e.lock.RUnlock()
		return hex, nil
	}
	e.lock.RUnlock()

	resp, err := http.Get(fmt.Sprintf("%s/tx/%s/hex", e.baseUrl, txid))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s", string(body))
	}

	txHex := string(body)

	e.lock.Lock()
	e.cache[txid] = txHex
	e.lock.Unlock()

	return txHex, nil
}

// Broadcast sends one or more transactions to the network. With a single
// transaction the regular /tx endpoint is used, with more the transactions
// are submitted together as a package.
func (e *explorerSvc) Broadcast(txs ...string) (string, error) {
	if len(txs) == 0 {
		return "", fmt.Errorf("missing txs to broadcast")
	}

	hexTxs := make([]string, 0, len(txs))
	txids := make([]string, 0, len(txs))
	for _, txStr := range txs {
		tx, txHex, err := parseTx(txStr)
		if err != nil {
			return "", err
		}
		txid := tx.TxHash().String()

		hexTxs = append(hexTxs, txHex)
		txids = append(txids, txid)

		e.lock.Lock()
		e.cache[txid] = txHex
		e.lock.Unlock()
	}

	if len(hexTxs) == 1 {
		txid, err := e.broadcastTx(hexTxs[0])
		if err != nil {
			if strings.Contains(
				strings.ToLower(err.Error()), "transaction already in block chain",
			) {
				return txids[0], nil
			}
			return "", err
		}
		return txid, nil
	}

	if err := e.broadcastPackage(hexTxs); err != nil {
		return "", err
	}

	return txids[len(txids)-1], nil
}

func (e *explorerSvc) GetUtxos(addr string) ([]Utxo, error) {
	resp, err := http.Get(fmt.Sprintf("%s/address/%s/utxo", e.baseUrl, addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}

	payload := []Utxo{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}

func (e *explorerSvc) GetBalance(addr string) (uint64, error) {
	payload, err := e.GetUtxos(addr)
	if err != nil {
		return 0, err
	}

	balance := uint64(0)
	for _, p := range payload {
		balance += p.Amount
	}
	return balance, nil
}

func (e *explorerSvc) GetTxBlockTime(
	txid string,
) (confirmed bool, blocktime int64, err error) {
	resp, err := http.Get(fmt.Sprintf("%s/tx/%s", e.baseUrl, txid))
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("%s", string(body))
	}

	var tx struct {
		Status struct {
			Confirmed bool  `json:"confirmed"`
			Blocktime int64 `json:"block_time"`
		} `json:"status"`
	}
	if err := json.Unmarshal(body, &tx); err != nil {
		return false, 0, err
	}

	if !tx.Status.Confirmed {
		return false, -1, nil
	}

	return true, tx.Status.Blocktime, nil
}

func (e *explorerSvc) GetTxOutspends(txid string) ([]SpentStatus, error) {
	resp, err := http.Get(fmt.Sprintf("%s/tx/%s/outspends", e.baseUrl, txid))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}

	spentStatuses := make([]SpentStatus, 0)
	if err := json.Unmarshal(body, &spentStatuses); err != nil {
		return nil, err
	}

	return spentStatuses, nil
}

func (e *explorerSvc) GetFeeRate() (chainfee.SatPerKVByte, error) {
	resp, err := http.Get(fmt.Sprintf("%s/fee-estimates", e.baseUrl))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s", string(body))
	}

	estimates := make(map[string]float64)
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, err
	}

	// next-block target, min-relay fallback when the explorer has no estimate
	feeRate, ok := estimates["1"]
	if !ok || feeRate <= 0 {
		return chainfee.FeePerKwFloor.FeePerKVByte(), nil
	}

	return chainfee.SatPerKVByte(feeRate * 1000), nil
}

func (e *explorerSvc) CurrentHeight() (uint32, error) {
	resp, err := http.Get(fmt.Sprintf("%s/blocks/tip/height", e.baseUrl))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s", string(body))
	}

	var height uint32
	if _, err := fmt.Sscanf(string(body), "%d", &height); err != nil {
		return 0, err
	}

	return height, nil
}

func (e *explorerSvc) broadcastTx(txHex string) (string, error) {
	body := bytes.NewBuffer([]byte(txHex))

	resp, err := http.Post(fmt.Sprintf("%s/tx", e.baseUrl), "text/plain", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	bodyResponse, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s", string(bodyResponse))
	}

	return strings.TrimSpace(string(bodyResponse)), nil
}

func (e *explorerSvc) broadcastPackage(hexTxs []string) error {
	buf, err := json.Marshal(hexTxs)
	if err != nil {
		return err
	}

	resp, err := http.Post(
		fmt.Sprintf("%s/txs/package", e.baseUrl), "application/json",
		bytes.NewBuffer(buf),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	bodyResponse, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s", string(bodyResponse))
	}

	return nil
}

// parseTx accepts either a hex-encoded transaction or a base64 psbt and
// returns the underlying wire tx along with its hex serialization.
func parseTx(txStr string) (*wire.MsgTx, string, error) {
	if raw, err := hex.DecodeString(txStr); err == nil {
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, "", err
		}
		return tx, txStr, nil
	}

	ptx, err := psbt.NewFromRawBytes(strings.NewReader(txStr), true)
	if err != nil {
		return nil, "", err
	}

	tx, err := psbt.Extract(ptx)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, "", err
	}

	return tx, hex.EncodeToString(buf.Bytes()), nil
}
