package classify

import (
	"context"

	"github.com/cataloghq/mailroom/internal/models"
)

// The coordinator consumes these collaborators as black boxes: ask an
// oracle, get a typed answer. Production deployments back them with LLM and
// similarity-search services; the static implementations in this package are
// deterministic stand-ins with the same contracts.

// Classifier extracts intent flags and product references from one email.
type Classifier interface {
	Classify(ctx context.Context, email models.Email) (models.Classification, error)
}

// InquiryAnswerer answers product questions using the catalog.
type InquiryAnswerer interface {
	Answer(ctx context.Context, refs []models.ProductReference) (models.InquiryResult, error)
}

// ComposeInput carries whatever partial results the run produced. Either
// result pointer may be nil; the composer must cope.
type ComposeInput struct {
	Email          models.Email
	Classification models.Classification
	OrderResult    *models.OrderResult
	InquiryResult  *models.InquiryResult
}

// Composer renders the final reply text.
type Composer interface {
	Compose(ctx context.Context, in ComposeInput) (string, error)
}
