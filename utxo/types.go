/*
This file contains low-level custom data structures about the base (layer-1) chain.
  - PubKeyScriptType: the locking script type (as part of UTXO)
  - UTXO, the unspent transaction output offered by the wallet for funding.
*/
package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PubKeyScript (LockingScript) type
type PubKeyScriptType int

// Enumerate of PubKeyScriptType
const (
	ANY_SCRIPT_T = iota
	P2PKH_SCRIPT_T
	P2WPKH_SCRIPT_T
)

// Represents the unspent transaction output (UTXO)
// in our program
type UTXO struct {
	TxID      string           // Identifier, human readable
	TxHash    *chainhash.Hash  // Identifier, used for tx search
	Vout      uint32           // exact index of the Tx's outputs to be spent
	Amount    int64            // in the smallest base-chain unit
	PkScriptT PubKeyScriptType // Type of the locking script
	PkScript  []byte           // Locking Script itself
}

// OutpointKey composes the unique "txid:vout" identifier of this UTXO.
// The reservation vault uses this key to track in-flight outpoints.
func (u *UTXO) OutpointKey() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// Return a human-readable amount in whole coins.
// eg. 1e8 (smallest unit) = 1.0 (coin)
func (u *UTXO) AmountHuman() float64 {
	return float64(u.Amount) / 1e8
}
