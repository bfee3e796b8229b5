package inventory

import (
	"errors"
	"sync"

	"github.com/cataloghq/mailroom/internal/models"
)

var ErrNotFound = errors.New("product not found")

// Store holds live stock counts shared by all concurrent runs. Decrements are
// serialized per product, not globally, so unrelated products never contend.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	mu    sync.Mutex
	stock int
}

func NewStore() *Store {
	return &Store{records: map[string]*record{}}
}

// Load replaces the full inventory. Called once at startup and again when a
// snapshot is restored between batches.
func (s *Store) Load(records []models.InventoryRecord) {
	next := make(map[string]*record, len(records))
	for _, r := range records {
		stock := r.StockCount
		if stock < 0 {
			stock = 0
		}
		next[r.ProductID] = &record{stock: stock}
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

// GetStock returns the current stock count. The value may be stale relative
// to a concurrent decrement; only TryDecrement needs exactness.
func (s *Store) GetStock(productID string) (int, error) {
	s.mu.RLock()
	rec, ok := s.records[productID]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	rec.mu.Lock()
	stock := rec.stock
	rec.mu.Unlock()
	return stock, nil
}

// TryDecrement atomically removes min(amount, stock) units and returns the
// amount actually removed. Stock never goes negative; two concurrent calls
// for the same product can never jointly remove more than was available when
// they began.
func (s *Store) TryDecrement(productID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	rec, ok := s.records[productID]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	actual := amount
	if rec.stock < actual {
		actual = rec.stock
	}
	rec.stock -= actual
	return actual, nil
}

// Snapshot captures current stock levels for later restore.
func (s *Store) Snapshot() []models.InventoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InventoryRecord, 0, len(s.records))
	for id, rec := range s.records {
		rec.mu.Lock()
		out = append(out, models.InventoryRecord{ProductID: id, StockCount: rec.stock})
		rec.mu.Unlock()
	}
	return out
}

// Restore is Load under a name that matches its batch-boundary use.
func (s *Store) Restore(records []models.InventoryRecord) {
	s.Load(records)
}
