package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/crosslayer/funding-go/utxo"
)

const (
	// Default lifetime of a reservation.
	// A crashed host that never released its locks self-heals after this.
	TIMEOUT_DELAY int64 = 1800 // half an hour
)

// ReservationTable is the process-wide set of "in-flight reserved outpoints".
// Two concurrent funding requests can never reserve the same UTXO: the
// reserve path is serialized by a single mutex.
type ReservationTable struct {
	backend  ReservationStorage
	updateMu sync.Mutex // prevent concurrent updates
}

func NewReservationTable(backend ReservationStorage) *ReservationTable {
	return &ReservationTable{backend: backend}
}

// FilterAvailable drops candidates whose outpoint is reserved or consumed.
func (rt *ReservationTable) FilterAvailable(candidates []*utxo.UTXO) ([]*utxo.UTXO, error) {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	return rt.filterAvailableLocked(candidates)
}

// Reserve locks every outpoint of the selection for requestId, all or nothing.
// An outpoint already reserved by another request fails the whole call.
func (rt *ReservationTable) Reserve(requestId string, selected []*utxo.UTXO) error {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	return rt.reserveLocked(requestId, selected)
}

// ReserveMatching filters the candidates, lets choose pick a subset of
// what is left and reserves the pick, all under one lock acquisition.
// Nothing can slip in between filtering and reserving, so choose never
// picks an outpoint another request reserved meanwhile.
func (rt *ReservationTable) ReserveMatching(requestId string, candidates []*utxo.UTXO, choose func(available []*utxo.UTXO) ([]*utxo.UTXO, error)) error {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()

	available, err := rt.filterAvailableLocked(candidates)
	if err != nil {
		return err
	}
	selected, err := choose(available)
	if err != nil {
		return err
	}
	return rt.reserveLocked(requestId, selected)
}

func (rt *ReservationTable) filterAvailableLocked(candidates []*utxo.UTXO) ([]*utxo.UTXO, error) {
	available := []*utxo.UTXO{}
	for _, c := range candidates {
		r, err := rt.backend.QueryByOutpoint(c.OutpointKey())
		if err != nil {
			return nil, err
		}
		if r == nil {
			available = append(available, c)
		}
	}
	return available, nil
}

func (rt *ReservationTable) reserveLocked(requestId string, selected []*utxo.UTXO) error {
	timepoint := time.Now().Unix() + TIMEOUT_DELAY
	for _, u := range selected {
		old, err := rt.backend.QueryByOutpoint(u.OutpointKey())
		if err == nil && old != nil && old.RequestId != requestId {
			err = fmt.Errorf("outpoint %s already reserved by request %s", u.OutpointKey(), old.RequestId)
		}
		if err == nil && old == nil {
			err = rt.backend.InsertReservation(Reservation{
				OutpointKey: u.OutpointKey(),
				RequestId:   requestId,
				Consumed:    false,
				Timeout:     timepoint,
			})
		}
		if err != nil {
			// roll back what this call inserted so far
			_ = rt.backend.DeleteByRequest(requestId)
			return err
		}
	}
	return nil
}

// ReleaseByRequest frees every unconsumed outpoint of a request.
// Called on every terminal transition that happened before broadcast.
func (rt *ReservationTable) ReleaseByRequest(requestId string) error {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	return rt.backend.DeleteByRequest(requestId)
}

// ConsumeByRequest converts a request's reservations to "spent".
// Called on successful broadcast; consumed outpoints are gone for good.
func (rt *ReservationTable) ConsumeByRequest(requestId string) error {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	return rt.backend.MarkConsumedByRequest(requestId)
}

// ReleaseByExpire releases unconsumed reservations past their timeout.
func (rt *ReservationTable) ReleaseByExpire() error {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	return rt.backend.DeleteExpired(time.Now().Unix())
}

// IsReserved tells whether an outpoint currently has a reservation row.
func (rt *ReservationTable) IsReserved(outpointKey string) (bool, error) {
	rt.updateMu.Lock()
	defer rt.updateMu.Unlock()
	r, err := rt.backend.QueryByOutpoint(outpointKey)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}
