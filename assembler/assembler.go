/*
This file implements the commitment transaction builder.

The commitment transaction is the special layer-1 transaction whose first
output is an unspendable OP_RETURN commitment to a layer-2 public key,
carrying exactly the funding amount. Layer 1 burns the value; layer 2
recognizes the output and credits the identity behind the key.

Outputs are always ordered: [0] commitment, [1] change (optional).
The funding proof's output index refers to this ordering.
*/
package assembler

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/crosslayer/funding-go/utxo"
)

const (
	// CommitmentOutputIndex is where the commitment output always sits.
	CommitmentOutputIndex = uint32(0)

	// Beneficiary keys are 20-byte key hashes or 32/33-byte public keys.
	minBeneficiaryKeyLen = 20
	maxBeneficiaryKeyLen = 33
)

var (
	ErrBeneficiaryKeyInvalid = errors.New("beneficiary key length out of range")
	ErrTargetAmountInvalid   = errors.New("target amount must be positive")
	ErrInputsDoNotCover      = errors.New("selected inputs do not cover amount plus fee")

	// ErrFeeMismatch means the built transaction's implied fee drifted from
	// the selector's estimate by more than the dust threshold even after the
	// one allowed recompute. It signals a builder defect, not a bad request.
	ErrFeeMismatch = errors.New("built tx fee disagrees with selector estimate")
)

// CommitmentAssembler builds unsigned commitment transactions.
// Signing is delegated; the assembler never touches private keys.
type CommitmentAssembler struct {
	ChainConfig *chaincfg.Params // which base chain (mainnet, testnet, regtest)
	FeePerKB    int64            // same deterministic rate the selector used
}

func NewCommitmentAssembler(chainConfig *chaincfg.Params, feePerKB int64) *CommitmentAssembler {
	if feePerKB <= 0 {
		feePerKB = utxo.DefaultFeePerKB
	}
	return &CommitmentAssembler{ChainConfig: chainConfig, FeePerKB: feePerKB}
}

// CommitmentScript crafts the unspendable OP_RETURN locking script
// embedding the beneficiary key.
func CommitmentScript(beneficiaryKey []byte) ([]byte, error) {
	if len(beneficiaryKey) < minBeneficiaryKeyLen || len(beneficiaryKey) > maxBeneficiaryKeyLen {
		return nil, ErrBeneficiaryKeyInvalid
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(beneficiaryKey).
		Script()
}

// ExtractCommitmentKey reads the beneficiary key back out of a commitment
// output script. Used by tests and by hosts inspecting foreign txs.
func ExtractCommitmentKey(pkScript []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, errors.New("not a commitment script")
	}
	if !tokenizer.Next() {
		return nil, errors.New("commitment script carries no data push")
	}
	return tokenizer.Data(), nil
}

// BuildCommitmentTx assembles the unsigned commitment transaction from an
// immutable selection. The inputs' unlocking scripts stay empty; a TxSigner
// fills them later.
//
// The implied fee (inputs - outputs) must agree with the selection's fee
// estimate. On drift beyond the dust threshold the change is recomputed
// once and only once; if it still disagrees, ErrFeeMismatch.
func (ca *CommitmentAssembler) BuildCommitmentTx(
	sel *utxo.Selection,
	beneficiaryKey []byte,
	targetAmount int64,
	changeAddr string,
) (*wire.MsgTx, error) {
	if targetAmount <= 0 {
		return nil, ErrTargetAmountInvalid
	}
	if sel.Total < targetAmount+sel.Fee {
		return nil, ErrInputsDoNotCover
	}

	tx, err := ca.craftOutputs(sel, beneficiaryKey, targetAmount, changeAddr, sel.Change)
	if err != nil {
		return nil, err
	}

	// Add the inputs with empty unlocking scripts.
	for _, item := range sel.UTXOs {
		txIn := wire.NewTxIn(wire.NewOutPoint(item.TxHash, item.Vout), nil, nil)
		tx.AddTxIn(txIn)
	}

	impliedFee := sel.Total - targetAmount - sel.Change
	estimated := utxo.EstimateFee(len(tx.TxIn), len(tx.TxOut), ca.FeePerKB)
	if diff(impliedFee, estimated) <= utxo.DustThreshold {
		return tx, nil
	}

	// One recompute: rebuild the change against the fresh estimate.
	change := sel.Total - targetAmount - estimated
	if change < 0 {
		return nil, ErrInputsDoNotCover
	}
	if change < utxo.DustThreshold {
		change = 0
	}
	tx, err = ca.craftOutputs(sel, beneficiaryKey, targetAmount, changeAddr, change)
	if err != nil {
		return nil, err
	}
	for _, item := range sel.UTXOs {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(item.TxHash, item.Vout), nil, nil))
	}

	impliedFee = sel.Total - targetAmount - change
	estimated = utxo.EstimateFee(len(tx.TxIn), len(tx.TxOut), ca.FeePerKB)
	if diff(impliedFee, estimated) > utxo.DustThreshold {
		return nil, ErrFeeMismatch
	}
	return tx, nil
}

// craftOutputs builds a fresh tx holding only the output section:
// [0] the commitment, [1] the change (when change > 0).
func (ca *CommitmentAssembler) craftOutputs(
	sel *utxo.Selection,
	beneficiaryKey []byte,
	targetAmount int64,
	changeAddr string,
	change int64,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	commitScript, err := CommitmentScript(beneficiaryKey)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(targetAmount, commitScript))

	if change > 0 {
		tx, err = AppendPayToAddress(tx, ca.ChainConfig, changeAddr, change)
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func diff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
