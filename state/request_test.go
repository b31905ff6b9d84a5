package state

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/common"
)

func TestNewFundingRequestValidation(t *testing.T) {
	_, err := NewFundingRequest("", 1000, []byte{0x01})
	assert.ErrorIs(t, err, ErrorRequestIdEmpty)

	_, err = NewFundingRequest("req-1", 0, []byte{0x01})
	assert.ErrorIs(t, err, ErrorAmountInvalid)

	_, err = NewFundingRequest("req-1", 1000, nil)
	assert.ErrorIs(t, err, ErrorBeneficiaryKeyEmpty)

	fr, err := NewFundingRequest("req-1", 1000, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, fr.Status)
}

func TestTransitionsAreMonotonic(t *testing.T) {
	forward := []RequestStatus{
		StatusCreated, StatusUtxosSelected, StatusSigned, StatusBroadcast,
		StatusAwaitingLock, StatusLocked, StatusProofReady, StatusFunded,
	}
	for i := 0; i < len(forward)-1; i++ {
		assert.True(t, CanTransition(forward[i], forward[i+1]), "%s -> %s", forward[i], forward[i+1])
	}

	// No skipping ahead, no walking back.
	assert.False(t, CanTransition(StatusCreated, StatusSigned))
	assert.False(t, CanTransition(StatusBroadcast, StatusCreated))
	assert.False(t, CanTransition(StatusLocked, StatusAwaitingLock))
}

func TestTerminalReachableFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []RequestStatus{
		StatusCreated, StatusUtxosSelected, StatusSigned, StatusBroadcast,
		StatusAwaitingLock, StatusLocked, StatusProofReady,
	}
	for _, s := range nonTerminal {
		assert.True(t, CanTransition(s, StatusFailed), "%s -> failed", s)
		assert.True(t, CanTransition(s, StatusTimedOut), "%s -> timed_out", s)
	}

	// Terminal states are sinks.
	assert.False(t, CanTransition(StatusFunded, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusCreated))
	assert.False(t, CanTransition(StatusTimedOut, StatusAwaitingLock))
}

func TestAwaitingLockMayReEnter(t *testing.T) {
	assert.True(t, CanTransition(StatusAwaitingLock, StatusAwaitingLock))
	assert.False(t, CanTransition(StatusBroadcast, StatusBroadcast))
}

func TestPastBroadcast(t *testing.T) {
	assert.False(t, CanTransition(StatusFunded, StatusFunded))
	assert.False(t, StatusSigned.PastBroadcast())
	assert.True(t, StatusBroadcast.PastBroadcast())
	assert.True(t, StatusFunded.PastBroadcast())
	assert.False(t, StatusFailed.PastBroadcast())
}

func TestFailRecordsReason(t *testing.T) {
	fr, err := NewFundingRequest("req-1", 1000, []byte{0x01})
	require.NoError(t, err)

	require.NoError(t, fr.Fail("insufficient funds"))
	assert.Equal(t, StatusFailed, fr.Status)
	assert.Equal(t, "insufficient funds", fr.FailureReason)

	// Terminal: further failing is illegal.
	assert.ErrorIs(t, fr.Fail("again"), ErrorTransitionIllegal)
}

func TestResetForRetryHonorsFailureClass(t *testing.T) {
	fr, err := NewFundingRequest("req-1", 1000, []byte{0x01})
	require.NoError(t, err)
	assert.True(t, fr.Retryable)

	// A plain failure rewinds cleanly.
	require.NoError(t, fr.Fail("signer unavailable"))
	require.NoError(t, fr.ResetForRetry())
	assert.Equal(t, StatusCreated, fr.Status)
	assert.Empty(t, fr.FailureReason)

	// A permanent failure never rewinds.
	require.NoError(t, fr.FailPermanently("broadcast rejected"))
	assert.False(t, fr.Retryable)
	assert.ErrorIs(t, fr.ResetForRetry(), ErrorTransitionIllegal)
	assert.Equal(t, StatusFailed, fr.Status)
	assert.Equal(t, "broadcast rejected", fr.FailureReason)
}

func TestResetForRetryRefusesBroadcastFootprint(t *testing.T) {
	fr, err := NewFundingRequest("req-1", 1000, []byte{0x01})
	require.NoError(t, err)
	fr.Status = StatusFailed
	fr.TxId = "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"

	assert.ErrorIs(t, fr.ResetForRetry(), ErrorTransitionIllegal)
}

func TestUnmarshalRejectsUnknownStatus(t *testing.T) {
	raw := []byte(`{"request_id":"req-1","target_amount":1000,"beneficiary_key":"01","status":"limbo"}`)
	var fr FundingRequest
	assert.ErrorIs(t, json.Unmarshal(raw, &fr), ErrorRequestUnknownStatus)
}

func TestRequestJSONRoundTrip(t *testing.T) {
	fr, err := NewFundingRequest("req-json", 250000, common.RandBytes(20))
	require.NoError(t, err)

	h, err := chainhash.NewHashFromStr("dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, err)
	fr.Outpoints = []agreement.Outpoint{{TxId: *h, Idx: 2}}
	fr.Status = StatusBroadcast
	fr.TxId = h.String()
	fr.BroadcastAttempts = 2

	raw, err := json.Marshal(fr)
	require.NoError(t, err)

	var back FundingRequest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, fr.RequestId, back.RequestId)
	assert.Equal(t, fr.TargetAmount, back.TargetAmount)
	assert.Equal(t, fr.BeneficiaryKey, back.BeneficiaryKey)
	assert.Equal(t, fr.Status, back.Status)
	assert.Equal(t, fr.Outpoints, back.Outpoints)
	assert.Equal(t, fr.BroadcastAttempts, back.BroadcastAttempts)
}
