package lockmonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslayer/funding-go/agreement"
)

// fakeFinalitySource hands out a lock and/or a height after a set number
// of polls.
type fakeFinalitySource struct {
	mu sync.Mutex

	lockAfterPolls   int // -1: never
	heightAfterPolls int // -1: never
	lockPolls        int
	heightPolls      int
}

func (f *fakeFinalitySource) QueryFastFinalityLock(txId *chainhash.Hash) (*agreement.FastFinalityLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockPolls++
	if f.lockAfterPolls >= 0 && f.lockPolls > f.lockAfterPolls {
		return &agreement.FastFinalityLock{
			TxId:            *txId,
			QuorumSignature: []byte{0x01},
			ObservedAt:      time.Now(),
		}, nil
	}
	return nil, nil
}

func (f *fakeFinalitySource) QueryConfirmationHeight(txId *chainhash.Hash) (int32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heightPolls++
	if f.heightAfterPolls >= 0 && f.heightPolls > f.heightAfterPolls {
		return 123456, true, nil
	}
	return 0, false, nil
}

func testTxId(t *testing.T) *chainhash.Hash {
	h, err := chainhash.NewHashFromStr("cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	return h
}

func quickConfig() Config {
	return Config{
		InitialPollInterval: time.Millisecond,
		MaxPollInterval:     5 * time.Millisecond,
		LockTimeout:         50 * time.Millisecond,
		FallbackTimeout:     time.Second,
	}
}

func TestWaitFastLockWins(t *testing.T) {
	source := &fakeFinalitySource{lockAfterPolls: 1, heightAfterPolls: -1}
	m := NewMonitor(source, quickConfig())

	outcome, err := m.Wait(context.Background(), testTxId(t))
	require.NoError(t, err)
	require.NotNil(t, outcome.Lock)
	assert.False(t, outcome.HeightValid)
}

func TestWaitFallsBackToConfirmation(t *testing.T) {
	// Fast lock never arrives; confirmation shows up after the lock timeout.
	source := &fakeFinalitySource{lockAfterPolls: -1, heightAfterPolls: 10}
	m := NewMonitor(source, quickConfig())

	outcome, err := m.Wait(context.Background(), testTxId(t))
	require.NoError(t, err)
	assert.Nil(t, outcome.Lock)
	assert.True(t, outcome.HeightValid)
	assert.Equal(t, int32(123456), outcome.ConfirmationHeight)
}

func TestWaitTimesOutWhenNothingArrives(t *testing.T) {
	source := &fakeFinalitySource{lockAfterPolls: -1, heightAfterPolls: -1}
	cfg := quickConfig()
	cfg.FallbackTimeout = 50 * time.Millisecond
	m := NewMonitor(source, cfg)

	outcome, err := m.Wait(context.Background(), testTxId(t))
	assert.ErrorIs(t, err, ErrWaitTimedOut)
	assert.Nil(t, outcome)
}

func TestWaitHonorsCancellation(t *testing.T) {
	source := &fakeFinalitySource{lockAfterPolls: -1, heightAfterPolls: -1}
	m := NewMonitor(source, quickConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := m.Wait(ctx, testTxId(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigSanitizeFallbackBound(t *testing.T) {
	cfg := Config{LockTimeout: time.Second}
	cfg.sanitize()
	assert.Equal(t, 10*time.Second, cfg.FallbackTimeout)
	assert.Equal(t, DefaultInitialPollInterval, cfg.InitialPollInterval)
}
