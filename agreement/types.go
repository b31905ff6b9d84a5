// Global Agreement on types

package agreement

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Outpoint identifies one spendable output on the base chain.
type Outpoint struct {
	TxId chainhash.Hash
	Idx  uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxId.String(), o.Idx)
}

// FastFinalityLock is the quorum-signed attestation that the base chain
// accepted a transaction ahead of normal block confirmation.
// Its absence after a timeout does not mean the tx is invalid, only that
// the fast path did not confirm in time.
type FastFinalityLock struct {
	TxId            chainhash.Hash
	QuorumHash      [32]byte // the signing quorum's identifier
	QuorumSignature []byte   // aggregate signature over the tx id
	ObservedAt      time.Time
}

func (l *FastFinalityLock) String() string {
	return fmt.Sprintf("FastFinalityLock { TxId: %s, QuorumHash: %x, ObservedAt: %s }",
		l.TxId.String(), l.QuorumHash, l.ObservedAt)
}

// IdentityFundingReceipt is what the layer-2 platform returns once it has
// accepted a funding proof and credited the identity.
type IdentityFundingReceipt struct {
	IdentityId     [32]byte
	CreditsGranted uint64
}

func (r *IdentityFundingReceipt) String() string {
	return fmt.Sprintf("IdentityFundingReceipt { IdentityId: %x, CreditsGranted: %d }",
		r.IdentityId, r.CreditsGranted)
}
