package reporter

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslayer/funding-go/common"
	"github.com/crosslayer/funding-go/state"
)

func newTestReporter(t *testing.T) (*HttpReporter, *state.StateDB) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	statedb, err := state.NewStateDB(db)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)

	gin.SetMode(gin.TestMode)
	return NewHttpReporter("127.0.0.1", "0", statedb), statedb
}

func get(router *gin.Engine, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHelloRoute(t *testing.T) {
	reporter, _ := newTestReporter(t)
	w := get(reporter.SetupRouter(), ROUTE_HELLO)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"world"}`, w.Body.String())
}

func TestFundingRouteByRequestId(t *testing.T) {
	reporter, statedb := newTestReporter(t)

	fr, err := state.NewFundingRequest("req-1", 100000, common.RandBytes(20))
	require.NoError(t, err)
	require.NoError(t, statedb.InsertRequest(fr))

	router := reporter.SetupRouter()

	w := get(router, ROUTE_FUNDING+"?request_id=req-1")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data state.JSONFundingRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.Data.RequestId)
	assert.Equal(t, string(state.StatusCreated), body.Data.Status)

	w = get(router, ROUTE_FUNDING+"?request_id=req-missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFundingRouteByStatus(t *testing.T) {
	reporter, statedb := newTestReporter(t)

	for _, id := range []string{"req-1", "req-2"} {
		fr, err := state.NewFundingRequest(id, 100000, common.RandBytes(20))
		require.NoError(t, err)
		require.NoError(t, statedb.InsertRequest(fr))
	}

	router := reporter.SetupRouter()

	w := get(router, ROUTE_FUNDING+"?status=created")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []state.JSONFundingRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)

	w = get(router, ROUTE_FUNDING+"?status=funded")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFundingRouteMissingParams(t *testing.T) {
	reporter, _ := newTestReporter(t)
	w := get(reporter.SetupRouter(), ROUTE_FUNDING)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
