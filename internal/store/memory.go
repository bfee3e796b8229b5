package store

import (
	"context"
	"sync"

	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
)

// MemoryStore serves reference data from memory. Used by tests and by
// deployments run without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	catalog   []models.CatalogProduct
	rules     []promo.Rule
	inventory []models.InventoryRecord
}

func NewMemoryStore(catalog []models.CatalogProduct, rules []promo.Rule, inventory []models.InventoryRecord) *MemoryStore {
	return &MemoryStore{
		catalog:   append([]models.CatalogProduct(nil), catalog...),
		rules:     append([]promo.Rule(nil), rules...),
		inventory: append([]models.InventoryRecord(nil), inventory...),
	}
}

func (m *MemoryStore) LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CatalogProduct(nil), m.catalog...), nil
}

func (m *MemoryStore) LoadPromotionRules(ctx context.Context) ([]promo.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]promo.Rule(nil), m.rules...), nil
}

func (m *MemoryStore) LoadInventory(ctx context.Context) ([]models.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.InventoryRecord(nil), m.inventory...), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
