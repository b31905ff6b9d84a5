package fundingproof

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/common"
)

func testLock(txId chainhash.Hash) *agreement.FastFinalityLock {
	return &agreement.FastFinalityLock{
		TxId:            txId,
		QuorumHash:      common.HexStrToBytes32("4444444444444444444444444444444444444444444444444444444444444444"),
		QuorumSignature: common.HexStrToByteSlice("deadbeef"),
		ObservedAt:      time.Unix(1700000000, 0),
	}
}

func TestAssembleRequiresOneSource(t *testing.T) {
	var txId chainhash.Hash
	_, err := Assemble(txId, 0, nil, 0, false)
	assert.ErrorIs(t, err, ErrNoFinalitySource)
}

func TestAssemblePrefersFastLock(t *testing.T) {
	var txId chainhash.Hash
	p, err := Assemble(txId, 0, testLock(txId), 500, true)
	require.NoError(t, err)
	assert.NotNil(t, p.Lock)
	assert.False(t, p.HeightValid)
}

func TestSerializeDeterministic(t *testing.T) {
	var txId chainhash.Hash
	copy(txId[:], common.HexStrToByteSlice("5555555555555555555555555555555555555555555555555555555555555555"))

	first, err := Assemble(txId, 1, testLock(txId), 0, false)
	require.NoError(t, err)
	firstBytes, err := first.Serialize()
	require.NoError(t, err)

	// Observation time differs; serialized form must not.
	lock := testLock(txId)
	lock.ObservedAt = time.Unix(1800000000, 0)
	second, err := Assemble(txId, 1, lock, 0, false)
	require.NoError(t, err)
	secondBytes, err := second.Serialize()
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
}

func TestFastLockProofRoundTrip(t *testing.T) {
	var txId chainhash.Hash
	copy(txId[:], common.HexStrToByteSlice("6666666666666666666666666666666666666666666666666666666666666666"))

	p, err := Assemble(txId, 3, testLock(txId), 0, false)
	require.NoError(t, err)
	raw, err := p.Serialize()
	require.NoError(t, err)

	assert.Equal(t, ProofVersion, raw[0])
	assert.Equal(t, ProofTypeFastLock, raw[1])

	parsed, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, p.TxId, parsed.TxId)
	assert.Equal(t, uint32(3), parsed.OutputIndex)
	require.NotNil(t, parsed.Lock)
	assert.Equal(t, p.Lock.QuorumHash, parsed.Lock.QuorumHash)
	assert.Equal(t, p.Lock.QuorumSignature, parsed.Lock.QuorumSignature)
}

func TestConfirmationProofRoundTrip(t *testing.T) {
	var txId chainhash.Hash

	p, err := Assemble(txId, 0, nil, 800123, true)
	require.NoError(t, err)
	raw, err := p.Serialize()
	require.NoError(t, err)

	assert.Equal(t, ProofTypeConfirmation, raw[1])

	parsed, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Nil(t, parsed.Lock)
	assert.True(t, parsed.HeightValid)
	assert.Equal(t, int32(800123), parsed.ConfirmationHeight)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte{0x01})
	assert.Error(t, err)

	_, err = Deserialize([]byte{0x09, 0x01, 0x00})
	assert.Error(t, err)
}
