package fulfillment

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/cataloghq/mailroom/internal/inventory"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
)

// Engine resolves product references against the catalog, prices them with
// the promotion evaluator, and allocates stock. One Engine is shared by all
// concurrent runs; the inventory store's per-product decrement is the only
// synchronization point.
type Engine struct {
	catalog   []models.CatalogProduct
	byID      map[string]models.CatalogProduct
	byName    map[string]models.CatalogProduct
	evaluator *promo.Evaluator
	inv       *inventory.Store
	maxAlts   int
}

type Options struct {
	// MaxAlternatives caps suggestions on short or empty lines. Defaults to 2.
	MaxAlternatives int
}

func New(catalog []models.CatalogProduct, evaluator *promo.Evaluator, inv *inventory.Store, opts Options) *Engine {
	if opts.MaxAlternatives <= 0 {
		opts.MaxAlternatives = 2
	}
	e := &Engine{
		catalog:   catalog,
		byID:      make(map[string]models.CatalogProduct, len(catalog)),
		byName:    make(map[string]models.CatalogProduct, len(catalog)),
		evaluator: evaluator,
		inv:       inv,
		maxAlts:   opts.MaxAlternatives,
	}
	for _, p := range catalog {
		e.byID[p.ProductID] = p
		e.byName[strings.ToLower(p.Name)] = p
	}
	return e
}

// Resolve matches a reference to a catalog product, by id first, then by
// case-insensitive name.
func (e *Engine) Resolve(ref models.ProductReference) (models.CatalogProduct, bool) {
	if ref.InferredProductID != "" {
		if p, ok := e.byID[ref.InferredProductID]; ok {
			return p, true
		}
	}
	for _, name := range []string{ref.InferredName, ref.MentionText} {
		if name == "" {
			continue
		}
		if p, ok := e.byName[strings.ToLower(name)]; ok {
			return p, true
		}
	}
	return models.CatalogProduct{}, false
}

// ProcessOrder turns the classifier's product references into a priced,
// allocated order. A failure on one line never aborts its siblings; the
// result is always returned with whatever lines succeeded.
func (e *Engine) ProcessOrder(refs []models.ProductReference) models.OrderResult {
	lines := make([]models.OrderLine, len(refs))
	products := make([]models.CatalogProduct, len(refs))
	resolvedAt := make([]bool, len(refs))

	// Resolution pass first, so combo conditions can see every line on the order.
	lineIDs := make(map[string]struct{}, len(refs))
	for i, ref := range refs {
		if ref.RequestedQuantity < 1 {
			lines[i] = models.OrderLine{
				ProductName:       ref.MentionText,
				RequestedQuantity: ref.RequestedQuantity,
				Status:            models.LineInvalid,
				Message:           fmt.Sprintf("invalid quantity %d", ref.RequestedQuantity),
			}
			continue
		}
		product, ok := e.Resolve(ref)
		if !ok {
			lines[i] = models.OrderLine{
				ProductName:       ref.MentionText,
				RequestedQuantity: ref.RequestedQuantity,
				Status:            models.LineNotFound,
			}
			continue
		}
		lineIDs[product.ProductID] = struct{}{}
		products[i] = product
		resolvedAt[i] = true
	}

	// Pricing pass writes back by index so lines keep the mention order.
	for i, ref := range refs {
		if resolvedAt[i] {
			lines[i] = e.priceAndAllocate(ref, products[i], lineIDs)
		}
	}

	return models.OrderResult{
		OrderID:       uuid.New(),
		OverallStatus: aggregate(lines),
		Lines:         lines,
		TotalPrice:    sumTotals(lines),
	}
}

func (e *Engine) priceAndAllocate(ref models.ProductReference, product models.CatalogProduct, lineIDs map[string]struct{}) (line models.OrderLine) {
	line = models.OrderLine{
		ProductID:         product.ProductID,
		ProductName:       product.Name,
		RequestedQuantity: ref.RequestedQuantity,
	}
	// A panicking rule or store must cost us one line, not the order.
	defer func() {
		if r := recover(); r != nil {
			line.Status = models.LineInvalid
			line.FulfilledQuantity = 0
			line.LineTotal = 0
			line.Message = fmt.Sprintf("line processing failed: %v", r)
		}
	}()

	outcome := e.evaluator.Evaluate(product.ProductID, ref.RequestedQuantity, product.UnitPrice, lineIDs)
	line.UnitPrice = outcome.UnitPrice
	line.PromotionNote = outcome.Note

	actual, err := e.inv.TryDecrement(product.ProductID, ref.RequestedQuantity)
	if err != nil {
		if err == inventory.ErrNotFound {
			line.Status = models.LineNotFound
			return line
		}
		line.Status = models.LineInvalid
		line.Message = fmt.Sprintf("allocation failed: %v", err)
		return line
	}

	line.FulfilledQuantity = actual
	switch {
	case actual == ref.RequestedQuantity:
		line.Status = models.LineFulfilled
		line.LineTotal = outcome.TotalPrice
	case actual > 0:
		line.Status = models.LinePartiallyFulfilled
		// Charge only what ships; promotions re-evaluate at the shipped quantity.
		short := e.evaluator.Evaluate(product.ProductID, actual, product.UnitPrice, lineIDs)
		line.UnitPrice = short.UnitPrice
		line.PromotionNote = short.Note
		line.LineTotal = short.TotalPrice
		line.Alternatives = e.alternatives(product)
	default:
		line.Status = models.LineOutOfStock
		line.LineTotal = 0
		line.Alternatives = e.alternatives(product)
	}
	return line
}

// alternatives suggests up to maxAlts in-stock products from the same
// category, excluding the product itself. Catalog order breaks ties.
func (e *Engine) alternatives(product models.CatalogProduct) []string {
	var out []string
	for _, candidate := range e.catalog {
		if candidate.ProductID == product.ProductID || candidate.Category != product.Category {
			continue
		}
		stock, err := e.inv.GetStock(candidate.ProductID)
		if err != nil || stock <= 0 {
			continue
		}
		out = append(out, candidate.ProductID)
		if len(out) == e.maxAlts {
			break
		}
	}
	return out
}

func aggregate(lines []models.OrderLine) models.OrderStatus {
	var resolvable, fulfilled, outOfStock int
	for _, l := range lines {
		switch l.Status {
		case models.LineNotFound, models.LineInvalid:
			continue
		case models.LineFulfilled:
			fulfilled++
		case models.LineOutOfStock:
			outOfStock++
		}
		resolvable++
	}
	switch {
	case resolvable == 0:
		return models.OrderNoValidProducts
	case fulfilled == len(lines):
		return models.OrderFulfilled
	case outOfStock == resolvable:
		return models.OrderOutOfStock
	default:
		return models.OrderPartiallyFulfilled
	}
}

func sumTotals(lines []models.OrderLine) float64 {
	var total float64
	for _, l := range lines {
		total += l.LineTotal
	}
	// Totals are sums of already-rounded line totals; re-round to keep
	// float noise out of the JSON surface.
	return math.Round(total*100) / 100
}
