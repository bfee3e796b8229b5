package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cataloghq/mailroom/internal/classify"
	"github.com/cataloghq/mailroom/internal/fulfillment"
	"github.com/cataloghq/mailroom/internal/inventory"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
)

var testCatalog = []models.CatalogProduct{
	{ProductID: "LTH1098", Name: "Leather Backpack", Category: "Bags", UnitPrice: 43.99},
	{ProductID: "CNV5678", Name: "Canvas Tote", Category: "Bags", UnitPrice: 24.00},
}

type fakeClassifier struct {
	cls models.Classification
	err error
}

func (f *fakeClassifier) Classify(ctx context.Context, email models.Email) (models.Classification, error) {
	return f.cls, f.err
}

type fakeAnswerer struct {
	err   error
	calls int32
}

func (f *fakeAnswerer) Answer(ctx context.Context, refs []models.ProductReference) (models.InquiryResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return models.InquiryResult{}, f.err
	}
	return models.InquiryResult{Answers: []models.InquiryAnswer{{Answer: "it is waterproof"}}}, nil
}

type fakePublisher struct {
	published []models.RunResult
}

func (f *fakePublisher) PublishRunCompleted(ctx context.Context, result models.RunResult) error {
	f.published = append(f.published, result)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestCoordinator(t *testing.T, classifier classify.Classifier, answerer classify.InquiryAnswerer, opts Options) (*Coordinator, *inventory.Store) {
	t.Helper()
	inv := inventory.NewStore()
	inv.Load([]models.InventoryRecord{
		{ProductID: "LTH1098", StockCount: 5},
		{ProductID: "CNV5678", StockCount: 5},
	})
	engine := fulfillment.New(testCatalog, promo.NewEvaluator(nil), inv, fulfillment.Options{})
	return New(engine, classifier, answerer, classify.NewTemplateComposer(), opts), inv
}

func TestSubmitOrderAndInquiry(t *testing.T) {
	classifier := &fakeClassifier{cls: models.Classification{
		HasOrder:   true,
		HasInquiry: true,
		ProductReferences: []models.ProductReference{
			{InferredProductID: "LTH1098", RequestedQuantity: 2},
		},
	}}
	answerer := &fakeAnswerer{}
	pub := &fakePublisher{}
	c, inv := newTestCoordinator(t, classifier, answerer, Options{Publisher: pub})

	result, err := c.Submit(context.Background(), models.Email{ID: "em-1", Body: "2 backpacks please, is it waterproof?"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.OrderResult == nil || result.OrderResult.OverallStatus != models.OrderFulfilled {
		t.Fatalf("order result = %+v", result.OrderResult)
	}
	if result.InquiryResult == nil || len(result.InquiryResult.Answers) != 1 {
		t.Fatalf("inquiry result = %+v", result.InquiryResult)
	}
	if result.ComposedText == "" {
		t.Fatalf("expected composed reply")
	}
	if !strings.Contains(result.ComposedText, "waterproof") {
		t.Fatalf("reply missing inquiry answer: %q", result.ComposedText)
	}
	if len(result.StageErrors) != 0 {
		t.Fatalf("unexpected stage errors: %v", result.StageErrors)
	}
	if stock, _ := inv.GetStock("LTH1098"); stock != 3 {
		t.Fatalf("stock = %d, want 3", stock)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}

	// The collected run is retrievable afterwards.
	stored, ok := c.GetRun(result.RunID)
	if !ok || stored.EmailID != "em-1" {
		t.Fatalf("stored run lookup failed: %+v ok=%v", stored, ok)
	}
}

func TestSubmitClassificationFailure(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("model unavailable")}
	answerer := &fakeAnswerer{}
	c, _ := newTestCoordinator(t, classifier, answerer, Options{})

	result, err := c.Submit(context.Background(), models.Email{ID: "em-2", Body: "hi"})
	if err == nil {
		t.Fatalf("expected classification error")
	}
	if result.ComposedText != "" {
		t.Fatalf("compose must not run without classification")
	}
	if result.OrderResult != nil || result.InquiryResult != nil {
		t.Fatalf("no branch may run without classification")
	}
	if len(result.StageErrors) != 1 || result.StageErrors[StageAnalyze] == "" {
		t.Fatalf("stage errors = %v, want only analyze", result.StageErrors)
	}
	if answerer.calls != 0 {
		t.Fatalf("answerer ran despite failed classification")
	}
}

func TestSubmitInquiryOnly(t *testing.T) {
	classifier := &fakeClassifier{cls: models.Classification{
		HasInquiry: true,
		ProductReferences: []models.ProductReference{
			{InferredName: "Canvas Tote", RequestedQuantity: 1},
		},
	}}
	answerer := &fakeAnswerer{}
	c, inv := newTestCoordinator(t, classifier, answerer, Options{})

	result, err := c.Submit(context.Background(), models.Email{ID: "em-3", Body: "is the tote big?"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.OrderResult != nil {
		t.Fatalf("order stage must not run for inquiry-only email")
	}
	if result.InquiryResult == nil {
		t.Fatalf("inquiry result missing")
	}
	if stock, _ := inv.GetStock("CNV5678"); stock != 5 {
		t.Fatalf("inquiry must not touch inventory, stock = %d", stock)
	}
}

func TestSubmitBranchFailureDegrades(t *testing.T) {
	classifier := &fakeClassifier{cls: models.Classification{
		HasOrder:   true,
		HasInquiry: true,
		ProductReferences: []models.ProductReference{
			{InferredProductID: "CNV5678", RequestedQuantity: 1},
		},
	}}
	answerer := &fakeAnswerer{err: errors.New("search index down")}
	c, _ := newTestCoordinator(t, classifier, answerer, Options{})

	result, err := c.Submit(context.Background(), models.Email{ID: "em-4", Body: "a tote please; also, a question"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.OrderResult == nil {
		t.Fatalf("sibling branch must be unaffected")
	}
	if result.InquiryResult != nil {
		t.Fatalf("failed branch must not produce a result")
	}
	if result.ComposedText == "" {
		t.Fatalf("compose must still run with partial results")
	}
	if result.StageErrors[StageInquiry] == "" {
		t.Fatalf("stage errors = %v, want inquiry recorded", result.StageErrors)
	}
}

type panickingAnswerer struct{}

func (panickingAnswerer) Answer(ctx context.Context, refs []models.ProductReference) (models.InquiryResult, error) {
	panic("index out of range [3] with length 0")
}

// A collaborator that panics is contained like one that errors: the run
// completes, the sibling branch survives, and compose still produces a reply.
func TestSubmitCollaboratorPanicDegrades(t *testing.T) {
	classifier := &fakeClassifier{cls: models.Classification{
		HasOrder:   true,
		HasInquiry: true,
		ProductReferences: []models.ProductReference{
			{InferredProductID: "CNV5678", RequestedQuantity: 1},
		},
	}}
	c, _ := newTestCoordinator(t, classifier, panickingAnswerer{}, Options{})

	result, err := c.Submit(context.Background(), models.Email{ID: "em-5", Body: "a tote; also, a question"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.OrderResult == nil || result.OrderResult.OverallStatus != models.OrderFulfilled {
		t.Fatalf("sibling branch must be unaffected, got %+v", result.OrderResult)
	}
	if result.InquiryResult != nil {
		t.Fatalf("panicked branch must not produce a result")
	}
	if result.ComposedText == "" {
		t.Fatalf("compose must still run with partial results")
	}
	if !strings.Contains(result.StageErrors[StageInquiry], "index out of range") {
		t.Fatalf("stage errors = %v, want panic recorded under inquiry", result.StageErrors)
	}
}

func TestProcessBatchSharesInventory(t *testing.T) {
	classifier := &fakeClassifier{cls: models.Classification{
		HasOrder: true,
		ProductReferences: []models.ProductReference{
			{InferredProductID: "LTH1098", RequestedQuantity: 1},
		},
	}}
	c, inv := newTestCoordinator(t, classifier, &fakeAnswerer{}, Options{})

	// 8 concurrent orders of 1 against a stock of 5: exactly 5 fulfilled.
	emails := make([]models.Email, 8)
	for i := range emails {
		emails[i] = models.Email{ID: "batch", Body: "one backpack"}
	}
	results := c.ProcessBatch(context.Background(), emails, 8)

	fulfilled := 0
	for _, r := range results {
		if r.OrderResult != nil && r.OrderResult.OverallStatus == models.OrderFulfilled {
			fulfilled++
		}
	}
	if fulfilled != 5 {
		t.Fatalf("fulfilled = %d, want 5", fulfilled)
	}
	if stock, _ := inv.GetStock("LTH1098"); stock != 0 {
		t.Fatalf("stock = %d, want 0", stock)
	}
}
