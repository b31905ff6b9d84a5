package vault

import (
	"fmt"
	"sync"
)

// MemoryStorage implements ReservationStorage in process memory.
// Suitable for tests and hosts that rebuild reservations on restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	rows map[string]Reservation // keyed by outpoint
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{rows: make(map[string]Reservation)}
}

func (m *MemoryStorage) InsertReservation(r Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.OutpointKey]; ok {
		return fmt.Errorf("reservation already exists for %s", r.OutpointKey)
	}
	m.rows[r.OutpointKey] = r
	return nil
}

func (m *MemoryStorage) QueryByOutpoint(outpointKey string) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[outpointKey]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStorage) QueryByRequest(requestId string) ([]Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reservation
	for _, r := range m.rows {
		if r.RequestId == requestId {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStorage) DeleteByRequest(requestId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.rows {
		if r.RequestId == requestId && !r.Consumed {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *MemoryStorage) MarkConsumedByRequest(requestId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.rows {
		if r.RequestId == requestId {
			r.Consumed = true
			m.rows[k] = r
		}
	}
	return nil
}

func (m *MemoryStorage) DeleteExpired(t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.rows {
		if !r.Consumed && r.Timeout != 0 && r.Timeout < t {
			delete(m.rows, k)
		}
	}
	return nil
}
