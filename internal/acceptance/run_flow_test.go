package acceptance

import (
	"context"
	"strings"
	"testing"

	"github.com/cataloghq/mailroom/internal/classify"
	"github.com/cataloghq/mailroom/internal/coordinator"
	"github.com/cataloghq/mailroom/internal/fulfillment"
	"github.com/cataloghq/mailroom/internal/inventory"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
	"github.com/cataloghq/mailroom/internal/store"
)

func fixtureStore() *store.MemoryStore {
	catalog := []models.CatalogProduct{
		{ProductID: "LTH1098", Name: "Leather Backpack", Category: "Bags", UnitPrice: 43.99},
		{ProductID: "CNV5678", Name: "Canvas Tote", Category: "Bags", UnitPrice: 24.00},
		{ProductID: "NYL4321", Name: "Nylon Duffel", Category: "Bags", UnitPrice: 52.50},
		{ProductID: "CSH1098", Name: "Cashmere Scarf", Category: "Accessories", UnitPrice: 31.50, Season: "Winter"},
	}
	rules := []promo.Rule{{
		Name:       "tote-pair-deal",
		ProductID:  "CNV5678",
		Conditions: promo.Conditions{AppliesEvery: 2},
		Effect:     promo.Effect{Kind: promo.EffectFreeUnits, Count: 1, DiscountPercent: 50},
	}}
	records := []models.InventoryRecord{
		{ProductID: "LTH1098", StockCount: 3},
		{ProductID: "CNV5678", StockCount: 10},
		{ProductID: "NYL4321", StockCount: 2},
		{ProductID: "CSH1098", StockCount: 5},
	}
	return store.NewMemoryStore(catalog, rules, records)
}

func buildCoordinator(t *testing.T) (*coordinator.Coordinator, *inventory.Store) {
	t.Helper()
	ctx := context.Background()
	st := fixtureStore()

	catalog, err := st.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	rules, err := st.LoadPromotionRules(ctx)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	records, err := st.LoadInventory(ctx)
	if err != nil {
		t.Fatalf("load inventory: %v", err)
	}

	inv := inventory.NewStore()
	inv.Load(records)
	engine := fulfillment.New(catalog, promo.NewEvaluator(rules), inv, fulfillment.Options{})
	coord := coordinator.New(
		engine,
		classify.NewStaticClassifier(catalog),
		classify.NewCatalogAnswerer(catalog),
		classify.NewTemplateComposer(),
		coordinator.Options{},
	)
	return coord, inv
}

// An order email for two discounted totes: $48 list, $36 charged under the
// pair deal, with both units reserved from stock.
func TestOrderEmailWithPairDeal(t *testing.T) {
	coord, inv := buildCoordinator(t)

	result, err := coord.Submit(context.Background(), models.Email{
		ID:      "em-100",
		Subject: "order",
		Body:    "Hi, I would like to buy 2 Canvas Tote bags.",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.OrderResult == nil {
		t.Fatalf("expected an order result")
	}
	if result.OrderResult.OverallStatus != models.OrderFulfilled {
		t.Fatalf("overall = %s", result.OrderResult.OverallStatus)
	}
	if result.OrderResult.TotalPrice != 36.00 {
		t.Fatalf("total = %.2f, want 36.00", result.OrderResult.TotalPrice)
	}
	if stock, _ := inv.GetStock("CNV5678"); stock != 8 {
		t.Fatalf("stock = %d, want 8 (both units reserved)", stock)
	}
	if result.ComposedText == "" {
		t.Fatalf("expected a composed reply")
	}
}

// A mixed email runs both branches and the reply covers both.
func TestMixedOrderAndInquiryEmail(t *testing.T) {
	coord, _ := buildCoordinator(t)

	result, err := coord.Submit(context.Background(), models.Email{
		ID:      "em-101",
		Subject: "backpack",
		Body:    "Please send me 1 Leather Backpack. Also, what season is the Cashmere Scarf for?",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Classification == nil || !result.Classification.HasOrder || !result.Classification.HasInquiry {
		t.Fatalf("classification = %+v", result.Classification)
	}
	if result.OrderResult == nil || result.InquiryResult == nil {
		t.Fatalf("expected both branch results, got order=%v inquiry=%v", result.OrderResult, result.InquiryResult)
	}
	if !strings.Contains(result.ComposedText, "Winter") {
		t.Fatalf("reply should answer the scarf question: %q", result.ComposedText)
	}
}

// Short stock yields a partial line with in-stock same-category suggestions.
func TestOversizedOrderSuggestsAlternatives(t *testing.T) {
	coord, _ := buildCoordinator(t)

	result, err := coord.Submit(context.Background(), models.Email{
		ID:   "em-102",
		Body: "I want to order 5 Leather Backpack",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	line := result.OrderResult.Lines[0]
	if line.Status != models.LinePartiallyFulfilled || line.FulfilledQuantity != 3 {
		t.Fatalf("line = %+v", line)
	}
	if len(line.Alternatives) == 0 || len(line.Alternatives) > 2 {
		t.Fatalf("alternatives = %v", line.Alternatives)
	}
	for _, alt := range line.Alternatives {
		if alt == "LTH1098" {
			t.Fatalf("suggested the product itself")
		}
	}
}

// Scarce stock under concurrent submissions is never oversold.
func TestConcurrentRunsNeverOversell(t *testing.T) {
	coord, inv := buildCoordinator(t)

	emails := make([]models.Email, 6)
	for i := range emails {
		emails[i] = models.Email{ID: "em-batch", Body: "buy 1 Nylon Duffel"}
	}
	results := coord.ProcessBatch(context.Background(), emails, 6)

	totalShipped := 0
	for _, r := range results {
		if r.OrderResult == nil {
			t.Fatalf("missing order result: %+v", r)
		}
		for _, line := range r.OrderResult.Lines {
			totalShipped += line.FulfilledQuantity
		}
	}
	if totalShipped != 2 {
		t.Fatalf("shipped %d units of a stock of 2", totalShipped)
	}
	if stock, _ := inv.GetStock("NYL4321"); stock != 0 {
		t.Fatalf("stock = %d, want 0", stock)
	}
}
