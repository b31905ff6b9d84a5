package gateway

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/crosslayer/funding-go/utxo"
)

// Consider a tx spendable after this many confirmations.
const MIN_CONFIRM = 1
const MAX_CONFIRM = 9999999

// RpcWallet lists the spendable UTXOs of a single tracked address from a
// full node. It implements agreement.WalletSource for host processes that
// do not run their own wallet.
//
// Notice: You need to turn on option -txindex on the node.
// Notice: This won't scale well once the query goes very large.
type RpcWallet struct {
	rpc     *RpcClient
	address btcutil.Address
	minConf int
}

func NewRpcWallet(rpc *RpcClient, address btcutil.Address) *RpcWallet {
	return &RpcWallet{rpc: rpc, address: address, minConf: MIN_CONFIRM}
}

func (w *RpcWallet) ListSpendableUtxos() ([]*utxo.UTXO, error) {
	unspentOutputs, err := w.rpc.client.ListUnspentMinMaxAddresses(w.minConf, MAX_CONFIRM, []btcutil.Address{w.address})
	if err != nil {
		return nil, err
	}

	var out []*utxo.UTXO
	for _, item := range unspentOutputs {
		txRaw, err := w.rpc.GetTx(item.TxID)
		if err != nil {
			return nil, err
		}
		outputPoint := txRaw.MsgTx().TxOut[item.Vout]

		var pkType utxo.PubKeyScriptType
		if txscript.IsPayToPubKeyHash(outputPoint.PkScript) {
			pkType = utxo.P2PKH_SCRIPT_T
		} else if txscript.IsPayToWitnessPubKeyHash(outputPoint.PkScript) {
			pkType = utxo.P2WPKH_SCRIPT_T
		} else {
			pkType = utxo.ANY_SCRIPT_T
		}

		out = append(out, &utxo.UTXO{
			TxID:      item.TxID,
			TxHash:    txRaw.Hash(),
			Vout:      item.Vout,
			Amount:    outputPoint.Value,
			PkScriptT: pkType,
			PkScript:  outputPoint.PkScript,
		})
	}
	return out, nil
}
