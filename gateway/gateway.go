/*
This file implements the broadcaster gateway.

It is a thin pass-through to the base-chain network client, adding exactly
one policy: transient transport failures are retried with exponential
backoff a small fixed number of times, while policy rejections (fee too
low, conflicting spend, malformed tx) surface immediately and are never
retried. Exhausting the retry budget degrades to a rejection as well.
*/
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/crosslayer/funding-go/agreement"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// ErrBroadcastRejected is terminal for the owning funding request.
var ErrBroadcastRejected = errors.New("broadcast rejected")

// TransientError marks a network-level failure worth retrying.
// Chain clients wrap timeouts and resets in it before returning.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient broadcast error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient classifies an error as a retryable transport failure.
// Anything not recognizably transient is treated as a policy rejection.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "timed out", "connection reset", "connection refused", "broken pipe", "eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Gateway retries a TxBroadcaster within a bounded budget.
type Gateway struct {
	client      agreement.TxBroadcaster
	maxAttempts int
	baseBackoff time.Duration
}

func NewGateway(client agreement.TxBroadcaster) *Gateway {
	return &Gateway{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}
}

// NewGatewayWithBudget overrides the retry budget (tests, impatient hosts).
func NewGatewayWithBudget(client agreement.TxBroadcaster, maxAttempts int, baseBackoff time.Duration) *Gateway {
	return &Gateway{client: client, maxAttempts: maxAttempts, baseBackoff: baseBackoff}
}

// Submit broadcasts the signed tx, retrying transient failures.
// Returns the attempts consumed alongside the result so the coordinator
// can record them on the funding request.
func (g *Gateway) Submit(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, int, error) {
	backoff := g.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		txHash, err := g.client.Broadcast(ctx, tx)
		if err == nil {
			return txHash, attempt, nil
		}

		if !IsTransient(err) {
			logger.Errorf("broadcast rejected by network policy: err=%v", err)
			return nil, attempt, fmt.Errorf("%w: %v", ErrBroadcastRejected, err)
		}

		lastErr = err
		logger.Warnf("broadcast attempt %d/%d failed transiently: err=%v", attempt, g.maxAttempts, err)

		if attempt == g.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, g.maxAttempts, fmt.Errorf("%w: retry budget exhausted: %v", ErrBroadcastRejected, lastErr)
}
