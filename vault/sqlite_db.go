package vault

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/crosslayer/funding-go/database"
)

// SQLiteStorage implements ReservationStorage on SQLite,
// so reservations survive a host restart.
type SQLiteStorage struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

const reservationTable = `CREATE TABLE IF NOT EXISTS reservation (
	outpoint_key TEXT PRIMARY KEY NOT NULL,
	request_id TEXT NOT NULL,
	consumed BOOLEAN NOT NULL DEFAULT 0,
	timeout INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reservation_request ON reservation (request_id);`

func NewSQLiteStorage(db *sql.DB) (*SQLiteStorage, error) {
	if _, err := db.Exec(reservationTable); err != nil {
		return nil, err
	}
	return &SQLiteStorage{db: db, stmtCache: database.NewStmtCache(db)}, nil
}

func (s *SQLiteStorage) Close() {
	s.stmtCache.Clear()
}

func (s *SQLiteStorage) InsertReservation(r Reservation) error {
	query := `INSERT INTO reservation (outpoint_key, request_id, consumed, timeout) VALUES (?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(r.OutpointKey, r.RequestId, r.Consumed, r.Timeout)
	return err
}

func (s *SQLiteStorage) QueryByOutpoint(outpointKey string) (*Reservation, error) {
	query := `SELECT outpoint_key, request_id, consumed, timeout FROM reservation WHERE outpoint_key = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	var r Reservation
	if err := stmt.QueryRow(outpointKey).Scan(&r.OutpointKey, &r.RequestId, &r.Consumed, &r.Timeout); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStorage) QueryByRequest(requestId string) ([]Reservation, error) {
	query := `SELECT outpoint_key, request_id, consumed, timeout FROM reservation WHERE request_id = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(requestId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.OutpointKey, &r.RequestId, &r.Consumed, &r.Timeout); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) DeleteByRequest(requestId string) error {
	query := `DELETE FROM reservation WHERE request_id = ? AND consumed = 0`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(requestId)
	return err
}

func (s *SQLiteStorage) MarkConsumedByRequest(requestId string) error {
	query := `UPDATE reservation SET consumed = 1 WHERE request_id = ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(requestId)
	return err
}

func (s *SQLiteStorage) DeleteExpired(t int64) error {
	query := `DELETE FROM reservation WHERE consumed = 0 AND timeout != 0 AND timeout < ?`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(t)
	return err
}
