// Simulated collaborators for tests and local demos.
// They stand in for the wallet, the base-chain node and the layer-2
// platform, with scriptable behavior per phase.

package coordinator

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/utxo"
)

// SimWallet serves a fixed UTXO list.
type SimWallet struct {
	mu    sync.Mutex
	utxos []*utxo.UTXO
}

func NewSimWallet(utxos []*utxo.UTXO) *SimWallet {
	return &SimWallet{utxos: utxos}
}

func (w *SimWallet) ListSpendableUtxos() ([]*utxo.UTXO, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*utxo.UTXO, len(w.utxos))
	copy(out, w.utxos)
	return out, nil
}

func (w *SimWallet) SetUtxos(utxos []*utxo.UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxos = utxos
}

// SimSigner pretends to sign by stamping each input.
// With Block set it hangs until released or the context ends, like an
// external signer waiting on operator approval.
type SimSigner struct {
	mu        sync.Mutex
	SignCalls int
	Err       error         // returned instead of signing when set
	Block     chan struct{} // when set, Sign waits for a close or ctx
}

func (s *SimSigner) Sign(ctx context.Context, tx *wire.MsgTx, prevOutputs []*utxo.UTXO) (*wire.MsgTx, error) {
	s.mu.Lock()
	s.SignCalls++
	err, block := s.Err, s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	for _, in := range tx.TxIn {
		in.SignatureScript = bytes.Repeat([]byte{0xab}, 72)
	}
	return tx, nil
}

// SimChain plays the base-chain node: it accepts broadcasts and hands out
// finality evidence after a scripted number of polls.
type SimChain struct {
	mu sync.Mutex

	BroadcastErrs []error // consumed one per call; nil entry = accept
	Broadcasts    int
	SentTxs       []*wire.MsgTx

	LockAfterPolls   int // -1: lock never appears
	HeightAfterPolls int // -1: confirmation never appears
	lockPolls        int
	heightPolls      int
}

func NewSimChain() *SimChain {
	return &SimChain{LockAfterPolls: 0, HeightAfterPolls: -1}
}

func (sc *SimChain) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var err error
	if sc.Broadcasts < len(sc.BroadcastErrs) {
		err = sc.BroadcastErrs[sc.Broadcasts]
	}
	sc.Broadcasts++
	if err != nil {
		return nil, err
	}

	sc.SentTxs = append(sc.SentTxs, tx)
	h := tx.TxHash()
	return &h, nil
}

func (sc *SimChain) QueryFastFinalityLock(txId *chainhash.Hash) (*agreement.FastFinalityLock, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lockPolls++
	if sc.LockAfterPolls >= 0 && sc.lockPolls > sc.LockAfterPolls {
		return &agreement.FastFinalityLock{
			TxId:            *txId,
			QuorumSignature: bytes.Repeat([]byte{0x05}, 96),
			ObservedAt:      time.Now(),
		}, nil
	}
	return nil, nil
}

func (sc *SimChain) QueryConfirmationHeight(txId *chainhash.Hash) (int32, bool, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.heightPolls++
	if sc.HeightAfterPolls >= 0 && sc.heightPolls > sc.HeightAfterPolls {
		return 210000, true, nil
	}
	return 0, false, nil
}

// SimPlatform accepts or rejects funding proofs.
type SimPlatform struct {
	mu        sync.Mutex
	RejectErr error
	Calls     int
	LastKey   []byte
	LastProof []byte
}

func (p *SimPlatform) FundIdentity(beneficiaryKey []byte, proof []byte) (*agreement.IdentityFundingReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	p.LastKey = append([]byte(nil), beneficiaryKey...)
	p.LastProof = append([]byte(nil), proof...)
	if p.RejectErr != nil {
		return nil, p.RejectErr
	}
	receipt := &agreement.IdentityFundingReceipt{CreditsGranted: uint64(len(proof))}
	copy(receipt.IdentityId[:], beneficiaryKey)
	return receipt, nil
}
