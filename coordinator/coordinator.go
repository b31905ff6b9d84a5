/*
This package implements the funding coordinator, the only surface exposed
to callers. It drives one funding request through selection, assembly,
signing, broadcast, the finality wait and the layer-2 submission, while
guaranteeing:

  - per-request exclusivity: one logical task per request id, ever;
  - idempotency: re-entry past broadcast resumes the stored tx, it never
    re-selects or re-broadcasts;
  - deterministic reservation handling: released on pre-broadcast
    terminals, consumed on broadcast.

Failures are recorded on the request and observed via QueryStatus; they
do not propagate as errors across the caller boundary.
*/
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/assembler"
	"github.com/crosslayer/funding-go/fundingproof"
	"github.com/crosslayer/funding-go/gateway"
	"github.com/crosslayer/funding-go/lockmonitor"
	"github.com/crosslayer/funding-go/state"
	"github.com/crosslayer/funding-go/utxo"
	"github.com/crosslayer/funding-go/vault"
)

var (
	ErrRequestUnknown   = errors.New("unknown funding request")
	ErrRequestNotActive = errors.New("funding request has no live task")
)

type Config struct {
	ChainConfig   *chaincfg.Params
	FeePerKB      int64  // deterministic fee rate shared by selector and builder
	ChangeAddress string // where change outputs go
	Monitor       lockmonitor.Config
}

// FundingHandle lets the caller await one request without polling.
type FundingHandle struct {
	RequestId string
	done      chan struct{}
}

// Done closes once the request reached a terminal state.
func (h *FundingHandle) Done() <-chan struct{} {
	return h.done
}

// task is the single driver of one request id.
type task struct {
	handle *FundingHandle
	cancel context.CancelFunc
}

type Coordinator struct {
	cfg       *Config
	statedb   *state.StateDB
	vault     *vault.ReservationTable
	assembler *assembler.CommitmentAssembler
	gateway   *gateway.Gateway
	monitor   *lockmonitor.Monitor

	wallet   agreement.WalletSource
	signer   agreement.TxSigner
	platform agreement.PlatformClient

	tasksMu sync.Mutex
	tasks   map[string]*task
}

func New(
	cfg *Config,
	statedb *state.StateDB,
	reservations *vault.ReservationTable,
	wallet agreement.WalletSource,
	signer agreement.TxSigner,
	broadcaster agreement.TxBroadcaster,
	finality agreement.FinalitySource,
	platform agreement.PlatformClient,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		statedb:   statedb,
		vault:     reservations,
		assembler: assembler.NewCommitmentAssembler(cfg.ChainConfig, cfg.FeePerKB),
		gateway:   gateway.NewGateway(broadcaster),
		monitor:   lockmonitor.NewMonitor(finality, cfg.Monitor),
		wallet:    wallet,
		signer:    signer,
		platform:  platform,
		tasks:     make(map[string]*task),
	}
}

// BeginFunding starts (or resumes) the funding request behind requestId.
//
// The same requestId handed in twice is safe: a live task returns its
// existing handle; a finished terminal request returns a closed handle;
// a request interrupted past broadcast resumes the stored transaction.
// Only a pre-broadcast retryable failure restarts from scratch.
func (c *Coordinator) BeginFunding(amount int64, beneficiaryKey []byte, requestId string) (*FundingHandle, error) {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()

	if t, ok := c.tasks[requestId]; ok {
		return t.handle, nil
	}

	fr, found, err := c.statedb.GetRequest(requestId)
	if err != nil {
		return nil, err
	}

	switch {
	case !found:
		fr, err = state.NewFundingRequest(requestId, amount, beneficiaryKey)
		if err != nil {
			return nil, err
		}
		if err := c.statedb.InsertRequest(fr); err != nil {
			return nil, err
		}
	case fr.Status.IsTerminal() && fr.Status == state.StatusFailed && fr.TxId == "" && !fr.Abandoned && fr.Retryable:
		// Retryable pre-broadcast failure: nothing was ever observable
		// on-chain, so a fresh attempt is safe.
		if err := fr.ResetForRetry(); err != nil {
			return nil, err
		}
		if err := c.statedb.UpdateRequest(fr); err != nil {
			return nil, err
		}
	case fr.Status.IsTerminal():
		done := make(chan struct{})
		close(done)
		return &FundingHandle{RequestId: requestId, done: done}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		handle: &FundingHandle{RequestId: requestId, done: make(chan struct{})},
		cancel: cancel,
	}
	c.tasks[requestId] = t

	go c.run(ctx, fr, t)
	return t.handle, nil
}

// QueryStatus returns a snapshot of the request, including the proof or
// failure reason once terminal.
func (c *Coordinator) QueryStatus(requestId string) (*state.FundingRequest, error) {
	fr, found, err := c.statedb.GetRequest(requestId)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRequestUnknown
	}
	return fr, nil
}

// Cancel stops the request's task.
//
// Before broadcast the reservation is fully released and nothing was
// spent. After broadcast the on-chain tx cannot be unwound: the request
// terminates as "abandoned post-broadcast" so callers can tell the two
// apart.
//
// A request that exists but already finished returns ErrRequestNotActive;
// an id never seen returns ErrRequestUnknown.
func (c *Coordinator) Cancel(requestId string) error {
	c.tasksMu.Lock()
	t, ok := c.tasks[requestId]
	c.tasksMu.Unlock()
	if !ok {
		_, found, err := c.statedb.GetRequest(requestId)
		if err != nil {
			return err
		}
		if !found {
			return ErrRequestUnknown
		}
		return ErrRequestNotActive
	}
	t.cancel()
	return nil
}

// run drives one request to a terminal state. It is the only goroutine
// ever touching this request.
func (c *Coordinator) run(ctx context.Context, fr *state.FundingRequest, t *task) {
	defer func() {
		c.tasksMu.Lock()
		delete(c.tasks, fr.RequestId)
		c.tasksMu.Unlock()
		close(t.handle.done)
	}()

	reqLogger := logger.WithField("requestId", fr.RequestId)

	// A crash between selection and broadcast loses the in-memory
	// transaction; nothing reached the chain, so retry from scratch.
	if fr.Status == state.StatusUtxosSelected || fr.Status == state.StatusSigned {
		_ = c.vault.ReleaseByRequest(fr.RequestId)
		if err := fr.ResetForRetry(); err != nil {
			c.terminate(fr, reqLogger, err.Error(), false)
			return
		}
		c.persist(fr, reqLogger)
	}

	// In-memory carry between the pre-broadcast phases of this run.
	var (
		sel      *utxo.Selection
		signedTx *wire.MsgTx
	)

	for !fr.Status.IsTerminal() {
		if err := ctx.Err(); err != nil {
			c.cancelled(fr, reqLogger)
			return
		}

		switch fr.Status {
		case state.StatusCreated:
			var err error
			sel, err = c.selectAndReserve(fr)
			if err != nil {
				c.terminate(fr, reqLogger, err.Error(), false)
				return
			}
			c.advance(fr, state.StatusUtxosSelected, reqLogger)

		case state.StatusUtxosSelected:
			tx, err := c.buildAndSign(ctx, fr, sel)
			if err != nil {
				_ = c.vault.ReleaseByRequest(fr.RequestId)
				if errors.Is(err, context.Canceled) {
					c.cancelled(fr, reqLogger)
					return
				}
				c.terminate(fr, reqLogger, err.Error(), false)
				return
			}
			signedTx = tx
			c.advance(fr, state.StatusSigned, reqLogger)

		case state.StatusSigned:
			if err := c.broadcast(ctx, fr, signedTx); err != nil {
				_ = c.vault.ReleaseByRequest(fr.RequestId)
				if errors.Is(err, context.Canceled) {
					c.cancelled(fr, reqLogger)
					return
				}
				if errors.Is(err, gateway.ErrBroadcastRejected) {
					// The node saw the raw tx; whether it propagated is
					// unknowable from here, so the id must not rebuild
					// and resubmit a second commitment.
					c.terminatePermanent(fr, reqLogger, err.Error(), false)
					return
				}
				c.terminate(fr, reqLogger, err.Error(), false)
				return
			}
			c.advance(fr, state.StatusBroadcast, reqLogger)

		case state.StatusBroadcast:
			c.advance(fr, state.StatusAwaitingLock, reqLogger)

		case state.StatusAwaitingLock:
			if err := c.awaitFinality(ctx, fr, reqLogger); err != nil {
				return
			}
			c.advance(fr, state.StatusLocked, reqLogger)

		case state.StatusLocked:
			// Proof bytes were persisted together with the finality
			// outcome; nothing further to compute here.
			c.advance(fr, state.StatusProofReady, reqLogger)

		case state.StatusProofReady:
			if receipt, err := c.platform.FundIdentity(fr.BeneficiaryKey, fr.Proof); err != nil {
				// The layer-1 funds are spent; record the rejection
				// distinctly so it is never mistaken for a cheap failure.
				c.terminatePermanent(fr, reqLogger, fmt.Sprintf("platform rejected funding proof: %v", err), false)
				return
			} else {
				reqLogger.WithField("receipt", receipt.String()).Info("identity funded")
			}
			c.advance(fr, state.StatusFunded, reqLogger)

		default:
			c.terminate(fr, reqLogger, fmt.Sprintf("request stuck in unknown status %s", fr.Status), false)
			return
		}
	}
}

// selectAndReserve picks and locks the UTXO set for this request.
func (c *Coordinator) selectAndReserve(fr *state.FundingRequest) (*utxo.Selection, error) {
	candidates, err := c.wallet.ListSpendableUtxos()
	if err != nil {
		return nil, fmt.Errorf("wallet query failed: %v", err)
	}

	// Filter, pick and reserve under one vault lock so a concurrent
	// request cannot grab an outpoint between the filter and the reserve.
	var sel *utxo.Selection
	err = c.vault.ReserveMatching(fr.RequestId, candidates, func(available []*utxo.UTXO) ([]*utxo.UTXO, error) {
		picked, err := utxo.Select(available, fr.TargetAmount, c.cfg.FeePerKB)
		if err != nil {
			return nil, err
		}
		sel = picked
		return picked.UTXOs, nil
	})
	if err != nil {
		return nil, err
	}

	fr.Outpoints = nil
	for _, u := range sel.UTXOs {
		fr.Outpoints = append(fr.Outpoints, agreement.Outpoint{TxId: *u.TxHash, Idx: u.Vout})
	}
	return sel, nil
}

// buildAndSign assembles the commitment tx and hands it to the external
// signer. The signer may block; the context bounds the wait.
func (c *Coordinator) buildAndSign(ctx context.Context, fr *state.FundingRequest, sel *utxo.Selection) (*wire.MsgTx, error) {
	if sel == nil {
		return nil, errors.New("no selection carried into signing phase")
	}
	unsigned, err := c.assembler.BuildCommitmentTx(sel, fr.BeneficiaryKey, fr.TargetAmount, c.cfg.ChangeAddress)
	if err != nil {
		return nil, err
	}

	signed, err := c.signer.Sign(ctx, unsigned, sel.UTXOs)
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("signer failed: %v", err)
	}
	return signed, nil
}

// broadcast submits via the gateway and converts the reservation to spent.
func (c *Coordinator) broadcast(ctx context.Context, fr *state.FundingRequest, signedTx *wire.MsgTx) error {
	if signedTx == nil {
		return errors.New("no signed tx carried into broadcast phase")
	}
	txHash, attempts, err := c.gateway.Submit(ctx, signedTx)
	fr.BroadcastAttempts += attempts
	if err != nil {
		return err
	}

	fr.TxId = txHash.String()
	fr.OutputIndex = assembler.CommitmentOutputIndex
	return c.vault.ConsumeByRequest(fr.RequestId)
}

// awaitFinality races the fast lock against the confirmation fallback and
// persists the assembled proof on success. On timeout or cancellation it
// records the terminal state itself and reports a non-nil error to stop
// the phase loop.
func (c *Coordinator) awaitFinality(ctx context.Context, fr *state.FundingRequest, reqLogger *logger.Entry) error {
	txHash := fr.TxHash()
	if txHash == nil {
		c.terminate(fr, reqLogger, "awaiting lock without a broadcast tx id", false)
		return errors.New("missing tx id")
	}

	fr.LockWaitAttempts++
	c.persist(fr, reqLogger)

	outcome, err := c.monitor.Wait(ctx, txHash)
	if err != nil {
		if errors.Is(err, lockmonitor.ErrWaitTimedOut) {
			c.timedOut(fr, reqLogger)
			return err
		}
		// cancelled while waiting: the tx is on-chain, mark abandoned
		c.cancelled(fr, reqLogger)
		return err
	}

	proof, err := fundingproof.Assemble(*txHash, fr.OutputIndex, outcome.Lock, outcome.ConfirmationHeight, outcome.HeightValid)
	if err != nil {
		// unreachable by construction; a hit means a defect
		c.terminate(fr, reqLogger, fmt.Sprintf("proof construction failed: %v", err), false)
		return err
	}
	raw, err := proof.Serialize()
	if err != nil {
		c.terminate(fr, reqLogger, fmt.Sprintf("proof serialization failed: %v", err), false)
		return err
	}
	fr.Proof = raw
	return nil
}

// advance moves the request forward and persists it.
func (c *Coordinator) advance(fr *state.FundingRequest, to state.RequestStatus, reqLogger *logger.Entry) {
	if err := fr.Advance(to); err != nil {
		reqLogger.Errorf("refusing illegal transition: err=%v", err)
		c.terminate(fr, reqLogger, err.Error(), false)
		return
	}
	reqLogger.Debugf("request advanced to %s", to)
	c.persist(fr, reqLogger)
}

// terminate records a failure reason and persists the terminal state.
func (c *Coordinator) terminate(fr *state.FundingRequest, reqLogger *logger.Entry, reason string, abandoned bool) {
	if err := fr.Fail(reason); err != nil {
		reqLogger.Errorf("cannot fail request: err=%v", err)
		return
	}
	fr.Abandoned = abandoned
	reqLogger.WithField("reason", reason).Warn("funding request failed")
	c.persist(fr, reqLogger)
}

// terminatePermanent records a failure whose effects may already be
// observable outside this process, so the id must never be re-run.
func (c *Coordinator) terminatePermanent(fr *state.FundingRequest, reqLogger *logger.Entry, reason string, abandoned bool) {
	if err := fr.FailPermanently(reason); err != nil {
		reqLogger.Errorf("cannot fail request: err=%v", err)
		return
	}
	fr.Abandoned = abandoned
	reqLogger.WithField("reason", reason).Warn("funding request failed permanently")
	c.persist(fr, reqLogger)
}

// cancelled handles caller cancellation at a suspension point.
func (c *Coordinator) cancelled(fr *state.FundingRequest, reqLogger *logger.Entry) {
	if fr.Status.PastBroadcast() {
		// The tx is on the chain; funds may still be recoverable via
		// external inspection, which is exactly what Abandoned flags.
		c.terminatePermanent(fr, reqLogger, "abandoned post-broadcast", true)
		return
	}
	_ = c.vault.ReleaseByRequest(fr.RequestId)
	c.terminate(fr, reqLogger, "cancelled before broadcast", false)
}

// timedOut records the TimedOut terminal state.
func (c *Coordinator) timedOut(fr *state.FundingRequest, reqLogger *logger.Entry) {
	if err := fr.Advance(state.StatusTimedOut); err != nil {
		reqLogger.Errorf("cannot time out request: err=%v", err)
		return
	}
	fr.FailureReason = "neither fast lock nor confirmation within bound"
	reqLogger.Warn("funding request timed out waiting for finality")
	c.persist(fr, reqLogger)
}

func (c *Coordinator) persist(fr *state.FundingRequest, reqLogger *logger.Entry) {
	if err := c.statedb.UpdateRequest(fr); err != nil {
		reqLogger.Errorf("failed to persist funding request: err=%v", err)
	}
}
