package authflow

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Pending is a registered permission whose transfer has not gone through yet.
// It can be retried without re-signing until Deadline.
type Pending struct {
	ID         string
	Token      common.Address
	Owner      common.Address
	Spender    common.Address
	Value      *big.Int
	Deadline   uint64
	PermitTxID string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

type PendingStore struct {
	mu    sync.Mutex
	items map[string]*Pending
}

func NewPendingStore() *PendingStore {
	return &PendingStore{items: make(map[string]*Pending)}
}

// Add stores p under a new id and returns it.
func (s *PendingStore) Add(p Pending) string {
	p.ID = uuid.NewString()
	p.Value = new(big.Int).Set(p.Value)
	s.mu.Lock()
	s.items[p.ID] = &p
	s.mu.Unlock()
	return p.ID
}

// Get returns a copy of the record.
func (s *PendingStore) Get(id string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

func (s *PendingStore) failed(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[id]; ok {
		p.Attempts++
		p.LastError = err.Error()
	}
}

func (s *PendingStore) Remove(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// List returns all records, oldest first.
func (s *PendingStore) List() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, *p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
