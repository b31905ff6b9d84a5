package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/crosslayer/funding-go/agreement"
)

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
}

// RpcClient talks to a base-chain full node over JSON-RPC.
// It implements agreement.TxBroadcaster and agreement.FinalitySource.
type RpcClient struct {
	ServerAddr string
	Port       string
	Username   string
	Pwd        string
	client     *rpcclient.Client
}

// Create a new RPC client to interact with the base-chain node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	// Connect over HTTP POST; core nodes don't speak TLS locally.
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)

	if err != nil {
		return nil, err
	}

	return &RpcClient{rcc.ServerAddr, rcc.Port, rcc.Username, rcc.Pwd, client}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// Fetch a raw transaction by its id string.
// Notice: You need to turn on option -txindex on the node.
func (r *RpcClient) GetTx(txId string) (*btcutil.Tx, error) {
	txHash, err := chainhash.NewHashFromStr(txId)
	if err != nil {
		return nil, err
	}
	txRaw, err := r.client.GetRawTransaction(txHash)
	if err != nil {
		return nil, err
	}
	return txRaw, nil
}

// Broadcast submits a signed transaction and returns its tx id.
// Transport-level failures come back wrapped as TransientError so the
// gateway retries them; node policy rejections come back as-is.
// The rpcclient call itself is not context aware, so cancellation is
// honored at the call boundary.
func (r *RpcClient) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txHash, err := r.client.SendRawTransaction(tx, false)
	if err != nil {
		if isTransportError(err) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	return txHash, nil
}

// jsonFinalityLock mirrors the node's fast-finality lock RPC response.
type jsonFinalityLock struct {
	TxId       string `json:"txid"`
	QuorumHash string `json:"quorum_hash"`
	Signature  string `json:"signature"`
}

// QueryFastFinalityLock asks the node whether the quorum has locked txId.
// Returns (nil, nil) while no lock is known yet.
func (r *RpcClient) QueryFastFinalityLock(txId *chainhash.Hash) (*agreement.FastFinalityLock, error) {
	param, err := json.Marshal(txId.String())
	if err != nil {
		return nil, err
	}
	raw, err := r.client.RawRequest("getfinalitylock", []json.RawMessage{param})
	if err != nil {
		// Nodes answer "not found" for txs without a lock yet.
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, nil
		}
		return nil, err
	}

	var jl jsonFinalityLock
	if err := json.Unmarshal(raw, &jl); err != nil {
		return nil, err
	}

	lock := &agreement.FastFinalityLock{
		TxId:       *txId,
		ObservedAt: time.Now(),
	}
	qh, err := hex.DecodeString(jl.QuorumHash)
	if err != nil {
		return nil, err
	}
	copy(lock.QuorumHash[:], qh)
	lock.QuorumSignature, err = hex.DecodeString(jl.Signature)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// QueryConfirmationHeight returns the height the tx confirmed at, ok=false
// while it is still in the mempool.
// Enable -txindex on your node before using this function.
func (r *RpcClient) QueryConfirmationHeight(txId *chainhash.Hash) (int32, bool, error) {
	verbose, err := r.client.GetRawTransactionVerbose(txId)
	if err != nil {
		return 0, false, err
	}
	if verbose.Confirmations == 0 || verbose.BlockHash == "" {
		return 0, false, nil
	}

	blockHash, err := chainhash.NewHashFromStr(verbose.BlockHash)
	if err != nil {
		return 0, false, err
	}
	header, err := r.client.GetBlockHeaderVerbose(blockHash)
	if err != nil {
		return 0, false, err
	}
	return header.Height, true, nil
}

// isTransportError picks out connectivity failures from rpc errors.
func isTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "timed out", "connection reset", "connection refused", "broken pipe", "eof", "no such host"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
