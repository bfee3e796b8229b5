package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
)

var ErrNotFound = errors.New("not found")

// Store loads the reference data a processing batch needs: the product
// catalog, the declarative promotion rules, and the opening inventory.
// Catalog and rules are immutable for the life of a batch; live stock is
// owned by the inventory store, not here.
type Store interface {
	LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error)
	LoadPromotionRules(ctx context.Context) ([]promo.Rule, error)
	LoadInventory(ctx context.Context) ([]models.InventoryRecord, error)
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error) {
	const query = `
		SELECT product_id, name, category, unit_price, COALESCE(season, '')
		FROM catalog_products
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	var out []models.CatalogProduct
	for rows.Next() {
		var p models.CatalogProduct
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Category, &p.UnitPrice, &p.Season); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

func (s *PGStore) LoadPromotionRules(ctx context.Context) ([]promo.Rule, error) {
	const query = `
		SELECT name, product_id, conditions, effect
		FROM promotion_rules
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load promotion rules: %w", err)
	}
	defer rows.Close()

	var out []promo.Rule
	for rows.Next() {
		var (
			rule       promo.Rule
			conditions []byte
			effect     []byte
		)
		if err := rows.Scan(&rule.Name, &rule.ProductID, &conditions, &effect); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("rule %s: decode conditions: %w", rule.Name, err)
		}
		if err := json.Unmarshal(effect, &rule.Effect); err != nil {
			return nil, fmt.Errorf("rule %s: decode effect: %w", rule.Name, err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule rows: %w", err)
	}
	return out, nil
}

func (s *PGStore) LoadInventory(ctx context.Context) ([]models.InventoryRecord, error) {
	const query = `SELECT product_id, stock_count FROM inventory`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryRecord
	for rows.Next() {
		var r models.InventoryRecord
		if err := rows.Scan(&r.ProductID, &r.StockCount); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory rows: %w", err)
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
