/*
This file implements the fast-finality lock monitor.

The wait for finality is a race between two completion sources feeding one
outcome: the quorum fast-lock poller (bounded by LockTimeout) and the
normal-confirmation poller (bounded by the larger FallbackTimeout). The
timeout is a third race participant. There is no nested blocking: whichever
source reports first wins. A fast-lock timeout alone never fails the
request; the confirmation poller keeps running.
*/
package lockmonitor

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"

	"github.com/crosslayer/funding-go/agreement"
)

const (
	DefaultInitialPollInterval = 500 * time.Millisecond
	DefaultMaxPollInterval     = 8 * time.Second
	DefaultLockTimeout         = 30 * time.Second

	// The fallback path gets its own, larger bound: a commitment tx that
	// missed the fast path can still confirm normally, but not forever.
	DefaultFallbackFactor = 10
)

// ErrWaitTimedOut means neither a fast lock nor a confirmation arrived
// within the overall bound. The tx may still confirm later; the caller
// decides what to do with the request.
var ErrWaitTimedOut = errors.New("finality wait timed out")

type Config struct {
	InitialPollInterval time.Duration
	MaxPollInterval     time.Duration
	LockTimeout         time.Duration // fast path bound (caller-configurable)
	FallbackTimeout     time.Duration // overall bound; 0 means LockTimeout * DefaultFallbackFactor
}

func DefaultConfig() Config {
	return Config{
		InitialPollInterval: DefaultInitialPollInterval,
		MaxPollInterval:     DefaultMaxPollInterval,
		LockTimeout:         DefaultLockTimeout,
	}
}

func (c *Config) sanitize() {
	if c.InitialPollInterval <= 0 {
		c.InitialPollInterval = DefaultInitialPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = c.LockTimeout * DefaultFallbackFactor
	}
}

// Outcome carries exactly one finality source.
type Outcome struct {
	Lock               *agreement.FastFinalityLock // fast path, nil on fallback
	ConfirmationHeight int32                       // fallback path
	HeightValid        bool
}

// Monitor waits for finality evidence of broadcast transactions.
type Monitor struct {
	source agreement.FinalitySource
	cfg    Config
}

func NewMonitor(source agreement.FinalitySource, cfg Config) *Monitor {
	cfg.sanitize()
	return &Monitor{source: source, cfg: cfg}
}

// Wait blocks until the tx gains a fast-finality lock, confirms normally,
// the overall bound expires (ErrWaitTimedOut), or ctx is cancelled.
func (m *Monitor) Wait(ctx context.Context, txId *chainhash.Hash) (*Outcome, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *Outcome, 2)

	go m.pollFastLock(raceCtx, txId, results)
	go m.pollConfirmation(raceCtx, txId, results)

	overall := time.NewTimer(m.cfg.FallbackTimeout)
	defer overall.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-overall.C:
		logger.Warnf("finality wait exhausted for tx %s", txId.String())
		return nil, ErrWaitTimedOut
	case outcome := <-results:
		return outcome, nil
	}
}

// pollFastLock polls the quorum lock until LockTimeout, then exits quietly;
// the confirmation poller carries on.
func (m *Monitor) pollFastLock(ctx context.Context, txId *chainhash.Hash, results chan<- *Outcome) {
	deadline := time.Now().Add(m.cfg.LockTimeout)
	interval := m.cfg.InitialPollInterval

	for {
		lock, err := m.source.QueryFastFinalityLock(txId)
		if err != nil {
			logger.Debugf("fast lock query failed, will retry: err=%v", err)
		}
		if lock != nil {
			results <- &Outcome{Lock: lock}
			return
		}

		if time.Now().After(deadline) {
			logger.Infof("no fast lock for tx %s within %s, relying on confirmation fallback",
				txId.String(), m.cfg.LockTimeout)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		// geometric backoff up to the ceiling
		interval *= 2
		if interval > m.cfg.MaxPollInterval {
			interval = m.cfg.MaxPollInterval
		}
	}
}

// pollConfirmation polls the chain height until the race context ends.
func (m *Monitor) pollConfirmation(ctx context.Context, txId *chainhash.Hash, results chan<- *Outcome) {
	interval := m.cfg.InitialPollInterval

	for {
		height, ok, err := m.source.QueryConfirmationHeight(txId)
		if err != nil {
			logger.Debugf("confirmation query failed, will retry: err=%v", err)
		}
		if ok {
			results <- &Outcome{ConfirmationHeight: height, HeightValid: true}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval *= 2
		if interval > m.cfg.MaxPollInterval {
			interval = m.cfg.MaxPollInterval
		}
	}
}
