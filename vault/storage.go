package vault

// Reservation marks one outpoint as owned by an in-flight funding request.
type Reservation struct {
	OutpointKey string // "txid:vout"
	RequestId   string // owning funding request
	Consumed    bool   // true once the spending tx has been broadcast
	Timeout     int64  // Unix timestamp in seconds; lock expires after this point
}

// ReservationStorage defines the backend operations on reservations.
// Implementations: MemoryStorage (tests, embedded hosts) and
// SQLiteStorage (crash-recoverable hosts).
type ReservationStorage interface {
	// InsertReservation stores a new reservation.
	// It must fail if the outpoint already has a row.
	InsertReservation(r Reservation) error

	// QueryByOutpoint retrieves the reservation for an outpoint, nil if none.
	QueryByOutpoint(outpointKey string) (*Reservation, error)

	// QueryByRequest retrieves all reservations owned by a request.
	QueryByRequest(requestId string) ([]Reservation, error)

	// DeleteByRequest removes all unconsumed reservations of a request.
	DeleteByRequest(requestId string) error

	// MarkConsumedByRequest flags all reservations of a request as consumed.
	// Consumed rows never expire and are never released.
	MarkConsumedByRequest(requestId string) error

	// DeleteExpired removes unconsumed reservations whose timeout passed t.
	DeleteExpired(t int64) error
}
