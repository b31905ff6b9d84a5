package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/common"
	"github.com/crosslayer/funding-go/database"
)

var (
	ErrInsertRequest = errors.New("failed to insert funding request in statedb")
	ErrUpdateRequest = errors.New("failed to update funding request in statedb")
	ErrGetRequest    = errors.New("failed to get funding request from statedb")
)

// StateDB persists funding requests so the coordinator's outcome survives
// a host restart. It stores exactly the serializable fields of
// FundingRequest, nothing more.
type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	if _, err := db.Exec(fundingRequestTable); err != nil {
		return nil, err
	}
	return &StateDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (st *StateDB) Close() {
	st.stmtCache.Clear()
}

// InsertRequest stores a fresh request. The request id is the primary
// key, so double insertion of the same idempotency key fails here.
func (st *StateDB) InsertRequest(fr *FundingRequest) error {
	query := `INSERT INTO funding_request (` + fundingRequestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	outpoints, err := marshalOutpoints(fr)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		fr.RequestId,
		fr.TargetAmount,
		common.ByteSliceToPureHexStr(fr.BeneficiaryKey),
		string(fr.Status),
		outpoints,
		fr.TxId,
		fr.OutputIndex,
		fr.Proof,
		fr.FailureReason,
		fr.Abandoned,
		fr.Retryable,
		fr.BroadcastAttempts,
		fr.LockWaitAttempts,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsertRequest, err)
	}
	return nil
}

// UpdateRequest overwrites the mutable columns of an existing request.
func (st *StateDB) UpdateRequest(fr *FundingRequest) error {
	query := `UPDATE funding_request SET
		status = ?, outpoints = ?, txid = ?, output_index = ?, proof = ?,
		failure_reason = ?, abandoned = ?, retryable = ?, broadcast_attempts = ?, lock_wait_attempts = ?
		WHERE request_id = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	outpoints, err := marshalOutpoints(fr)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(
		string(fr.Status),
		outpoints,
		fr.TxId,
		fr.OutputIndex,
		fr.Proof,
		fr.FailureReason,
		fr.Abandoned,
		fr.Retryable,
		fr.BroadcastAttempts,
		fr.LockWaitAttempts,
		fr.RequestId,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUpdateRequest
	}
	return nil
}

// GetRequest retrieves one request by its idempotency key.
// (nil, false, nil) when no such request exists.
func (st *StateDB) GetRequest(requestId string) (*FundingRequest, bool, error) {
	query := `SELECT` + fundingRequestColumns + `FROM funding_request WHERE request_id = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	fr, err := scanRequest(stmt.QueryRow(requestId))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrGetRequest, err)
	}
	return fr, true, nil
}

// GetRequestsByStatus lists requests currently in one phase.
// Hosts use it after restart to find in-flight work.
func (st *StateDB) GetRequestsByStatus(status RequestStatus) ([]*FundingRequest, error) {
	query := `SELECT` + fundingRequestColumns + `FROM funding_request WHERE status = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FundingRequest
	for rows.Next() {
		fr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*FundingRequest, error) {
	var (
		fr            FundingRequest
		beneficiary   string
		status        string
		outpointsBlob []byte
		txId          sql.NullString
	)
	if err := row.Scan(
		&fr.RequestId,
		&fr.TargetAmount,
		&beneficiary,
		&status,
		&outpointsBlob,
		&txId,
		&fr.OutputIndex,
		&fr.Proof,
		&fr.FailureReason,
		&fr.Abandoned,
		&fr.Retryable,
		&fr.BroadcastAttempts,
		&fr.LockWaitAttempts,
	); err != nil {
		return nil, err
	}

	fr.BeneficiaryKey = common.HexStrToByteSlice(beneficiary)
	fr.Status = RequestStatus(status)
	if txId.Valid {
		fr.TxId = txId.String
	}
	if len(outpointsBlob) > 0 {
		var jOutpoints []JSONOutpoint
		if err := json.Unmarshal(outpointsBlob, &jOutpoints); err != nil {
			return nil, err
		}
		for _, jop := range jOutpoints {
			h, err := chainhash.NewHashFromStr(jop.TxId)
			if err != nil {
				return nil, err
			}
			fr.Outpoints = append(fr.Outpoints, agreement.Outpoint{TxId: *h, Idx: jop.Idx})
		}
	}
	return &fr, nil
}

func marshalOutpoints(fr *FundingRequest) ([]byte, error) {
	jOutpoints := []JSONOutpoint{}
	for _, op := range fr.Outpoints {
		jOutpoints = append(jOutpoints, JSONOutpoint{TxId: op.TxId.String(), Idx: op.Idx})
	}
	return json.Marshal(jOutpoints)
}
