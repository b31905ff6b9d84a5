// Implements a single-private-key reference signer.
// 1) Uses a local private key as backbone.
// 2) Satisfies the agreement.TxSigner interface for demo hosts and tests.
//
// Production wallets plug their own signer in; the funding core only ever
// sees the TxSigner interface.

package assembler

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/crosslayer/funding-go/utxo"
)

// NativeSigner signs with one local private key and receives change on the
// matching legacy (P2PKH) address.
type NativeSigner struct {
	ChainConfig *chaincfg.Params           // which base chain (mainnet, testnet, regtest)
	PrivKey     *btcec.PrivateKey          // private key
	PubKey      *btcec.PublicKey           // public key accordingly
	P2PKH       *btcutil.AddressPubKeyHash // legacy address, .EncodeAddress() for the string form
}

// Recover a native signer from a private key string
// (aka wallet-import-format, WIF).
func NewNativeSigner(priv_key_wif_str string, chain_config *chaincfg.Params) (*NativeSigner, error) {
	priv_key_wif, err := DecodeWIF(priv_key_wif_str)
	if err != nil {
		return nil, err
	}
	return NewNativeSignerFromKey(priv_key_wif.PrivKey, chain_config)
}

// NewNativeSignerFromKey builds a native signer from a raw private key.
func NewNativeSignerFromKey(privKey *btcec.PrivateKey, chain_config *chaincfg.Params) (*NativeSigner, error) {
	pubKey := privKey.PubKey()
	p2pkhAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), chain_config)
	if err != nil {
		return nil, err
	}
	return &NativeSigner{
		ChainConfig: chain_config,
		PrivKey:     privKey,
		PubKey:      pubKey,
		P2PKH:       p2pkhAddr,
	}, nil
}

// ChangeAddress is where the builder sends the change output.
func (ns *NativeSigner) ChangeAddress() string {
	return ns.P2PKH.EncodeAddress()
}

// Sign fills each input's SignatureScript.
// Warning: outputs and inputs must both be final on tx before signing,
// otherwise the signature won't pass node validation.
// Signing is local and fast, so the context is only checked up front.
func (ns *NativeSigner) Sign(ctx context.Context, tx *wire.MsgTx, prevOutputs []*utxo.UTXO) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for idx, item := range prevOutputs {
		script, err := txscript.SignatureScript(tx, idx, item.PkScript, txscript.SigHashAll, ns.PrivKey, true)
		if err != nil {
			return nil, err
		}
		tx.TxIn[idx].SignatureScript = script
	}
	return tx, nil
}
