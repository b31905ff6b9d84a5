package state

import (
	"database/sql"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/common"
)

func getMemoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	return db
}

func newTestStateDB(t *testing.T) (*StateDB, func()) {
	db := getMemoryDB(t)
	statedb, err := NewStateDB(db)
	require.NoError(t, err)
	return statedb, func() {
		statedb.Close()
		db.Close()
	}
}

func TestInsertAndGetRequest(t *testing.T) {
	statedb, done := newTestStateDB(t)
	defer done()

	fr, err := NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))

	got, ok, err := statedb.GetRequest("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fr.RequestId, got.RequestId)
	assert.Equal(t, fr.TargetAmount, got.TargetAmount)
	assert.Equal(t, fr.BeneficiaryKey, got.BeneficiaryKey)
	assert.Equal(t, StatusCreated, got.Status)

	_, ok, err = statedb.GetRequest("req-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDoubleInsertSameRequestIdFails(t *testing.T) {
	statedb, done := newTestStateDB(t)
	defer done()

	fr, err := NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))
	assert.ErrorIs(t, statedb.InsertRequest(fr), ErrInsertRequest)
}

func TestUpdatePersistsFullLifecycle(t *testing.T) {
	statedb, done := newTestStateDB(t)
	defer done()

	fr, err := NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))

	h, err := chainhash.NewHashFromStr("eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	require.NoError(t, err)

	fr.Status = StatusBroadcast
	fr.TxId = h.String()
	fr.Outpoints = []agreement.Outpoint{{TxId: *h, Idx: 1}}
	fr.BroadcastAttempts = 2
	require.NoError(t, statedb.UpdateRequest(fr))

	got, ok, err := statedb.GetRequest("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusBroadcast, got.Status)
	assert.Equal(t, h.String(), got.TxId)
	assert.Equal(t, fr.Outpoints, got.Outpoints)
	assert.Equal(t, 2, got.BroadcastAttempts)
}

func TestPermanentFailurePersists(t *testing.T) {
	statedb, done := newTestStateDB(t)
	defer done()

	fr, err := NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))

	got, ok, err := statedb.GetRequest("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Retryable)

	require.NoError(t, fr.FailPermanently("broadcast rejected"))
	require.NoError(t, statedb.UpdateRequest(fr))

	got, ok, err = statedb.GetRequest("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Retryable)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestTerminalFailureSurvivesReopen(t *testing.T) {
	// Same db handle, fresh StateDB: simulates a host restart.
	db := getMemoryDB(t)
	defer db.Close()

	statedb, err := NewStateDB(db)
	require.NoError(t, err)

	fr, err := NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))
	require.NoError(t, fr.Fail("platform rejected proof"))
	require.NoError(t, statedb.UpdateRequest(fr))
	statedb.Close()

	reopened, err := NewStateDB(db)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.GetRequest("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "platform rejected proof", got.FailureReason)
}

func TestGetRequestsByStatus(t *testing.T) {
	statedb, done := newTestStateDB(t)
	defer done()

	for _, id := range []string{"a", "b"} {
		fr, err := NewFundingRequest(id, 100000, common.RandBytes(20))
		require.NoError(t, err)
		require.NoError(t, statedb.InsertRequest(fr))
	}
	frB, ok, err := statedb.GetRequest("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, frB.Advance(StatusUtxosSelected))
	require.NoError(t, statedb.UpdateRequest(frB))

	created, err := statedb.GetRequestsByStatus(StatusCreated)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "a", created[0].RequestId)
}
