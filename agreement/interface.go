// Implement following interfaces to plug your wallet, base-chain node and
// layer-2 platform into the funding coordinator.

package agreement

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/crosslayer/funding-go/utxo"
)

// WalletSource is the wallet/key subsystem seen from the funding side.
// Key derivation, address gap scanning etc. happen behind it.
type WalletSource interface {
	// List UTXOs the wallet is willing to spend for funding.
	// The coordinator filters out outpoints already reserved by
	// other in-flight funding requests.
	ListSpendableUtxos() ([]*utxo.UTXO, error)
}

// TxSigner signs a fully assembled commitment transaction.
// The funding core never holds private key material itself.
type TxSigner interface {
	// Sign fills the unlocking section of tx.
	// prevOutputs are the UTXOs being spent, in input order.
	// External signers may block on user or HSM interaction; the
	// context bounds the wait.
	Sign(ctx context.Context, tx *wire.MsgTx, prevOutputs []*utxo.UTXO) (*wire.MsgTx, error)
}

// TxBroadcaster submits a signed transaction to the base-chain network.
type TxBroadcaster interface {
	// Broadcast returns the network-accepted tx id.
	// Implementations shall distinguish transient transport failures
	// from policy rejections (see gateway package error taxonomy) and
	// honor context cancellation.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// FinalitySource answers finality queries about a broadcast transaction.
type FinalitySource interface {
	// QueryFastFinalityLock returns the quorum lock for txId,
	// or (nil, nil) when no lock has been observed yet.
	QueryFastFinalityLock(txId *chainhash.Hash) (*FastFinalityLock, error)

	// QueryConfirmationHeight returns the block height the tx confirmed at.
	// ok is false while the tx is still unconfirmed.
	QueryConfirmationHeight(txId *chainhash.Hash) (height int32, ok bool, err error)
}

// PlatformClient is the layer-2 platform seen from the funding side.
type PlatformClient interface {
	// FundIdentity submits the serialized funding proof to create or
	// top up the identity behind beneficiaryKey.
	// A rejection is permanent: the layer-1 funds are already spent.
	FundIdentity(beneficiaryKey []byte, proof []byte) (*IdentityFundingReceipt, error)
}
