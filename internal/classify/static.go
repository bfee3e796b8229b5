package classify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cataloghq/mailroom/internal/models"
)

var orderKeywords = []string{
	"order", "buy", "purchase", "send me", "ship", "i'd like", "i would like",
}

var inquiryKeywords = []string{
	"?", "how ", "what ", "when ", "does ", "is the", "are the", "wondering",
	"tell me", "question",
}

// productIDPattern matches catalog-style SKUs such as LTH1098.
var productIDPattern = regexp.MustCompile(`\b[A-Z]{3}\d{4}\b`)

// StaticClassifier is a keyword heuristic over subject and body that stands
// in for the LLM classifier during tests and database-less deployments. It
// resolves mentions against the catalog by SKU and by product name.
type StaticClassifier struct {
	catalog []models.CatalogProduct
	byID    map[string]models.CatalogProduct
}

func NewStaticClassifier(catalog []models.CatalogProduct) *StaticClassifier {
	byID := make(map[string]models.CatalogProduct, len(catalog))
	for _, p := range catalog {
		byID[p.ProductID] = p
	}
	return &StaticClassifier{catalog: catalog, byID: byID}
}

func (c *StaticClassifier) Classify(ctx context.Context, email models.Email) (models.Classification, error) {
	text := email.Subject + "\n" + email.Body
	lower := strings.ToLower(text)

	out := models.Classification{
		HasOrder:   containsAny(lower, orderKeywords),
		HasInquiry: containsAny(lower, inquiryKeywords),
	}

	seen := map[string]struct{}{}

	// SKU mentions first; they resolve unambiguously.
	for _, id := range productIDPattern.FindAllString(text, -1) {
		p, ok := c.byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[p.ProductID]; dup {
			continue
		}
		seen[p.ProductID] = struct{}{}
		out.ProductReferences = append(out.ProductReferences, models.ProductReference{
			MentionText:       id,
			InferredProductID: p.ProductID,
			InferredName:      p.Name,
			RequestedQuantity: quantityNear(lower, strings.ToLower(id)),
		})
	}

	// Then product names appearing verbatim in the text.
	for _, p := range c.catalog {
		name := strings.ToLower(p.Name)
		if !strings.Contains(lower, name) {
			continue
		}
		if _, dup := seen[p.ProductID]; dup {
			continue
		}
		seen[p.ProductID] = struct{}{}
		out.ProductReferences = append(out.ProductReferences, models.ProductReference{
			MentionText:       p.Name,
			InferredProductID: p.ProductID,
			InferredName:      p.Name,
			RequestedQuantity: quantityNear(lower, name),
		})
	}

	if len(out.ProductReferences) > 0 && !out.HasOrder && !out.HasInquiry {
		// A bare product mention with no other signal reads as a question.
		out.HasInquiry = true
	}
	return out, nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// quantityNear finds a count like "2 canvas totes" or "3 x LTH1098"
// immediately before the mention. Defaults to 1.
func quantityNear(lower, mention string) int {
	idx := strings.Index(lower, mention)
	if idx < 0 {
		return 1
	}
	prefix := strings.TrimRight(lower[:idx], " ")
	prefix = strings.TrimSuffix(prefix, "x")
	prefix = strings.TrimRight(prefix, " ")
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return 1
	}
	if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil && n > 0 {
		return n
	}
	return 1
}

// CatalogAnswerer answers inquiries straight from catalog data.
type CatalogAnswerer struct {
	byID   map[string]models.CatalogProduct
	byName map[string]models.CatalogProduct
}

func NewCatalogAnswerer(catalog []models.CatalogProduct) *CatalogAnswerer {
	a := &CatalogAnswerer{
		byID:   make(map[string]models.CatalogProduct, len(catalog)),
		byName: make(map[string]models.CatalogProduct, len(catalog)),
	}
	for _, p := range catalog {
		a.byID[p.ProductID] = p
		a.byName[strings.ToLower(p.Name)] = p
	}
	return a
}

func (a *CatalogAnswerer) Answer(ctx context.Context, refs []models.ProductReference) (models.InquiryResult, error) {
	var result models.InquiryResult
	for _, ref := range refs {
		p, ok := a.byID[ref.InferredProductID]
		if !ok {
			p, ok = a.byName[strings.ToLower(ref.InferredName)]
		}
		if !ok {
			result.Answers = append(result.Answers, models.InquiryAnswer{
				MentionText: ref.MentionText,
				Answer:      fmt.Sprintf("We could not find %q in our catalog.", ref.MentionText),
			})
			continue
		}
		answer := fmt.Sprintf("%s (%s) is priced at $%.2f in our %s range.", p.Name, p.ProductID, p.UnitPrice, p.Category)
		if p.Season != "" {
			answer += fmt.Sprintf(" It is part of our %s collection.", p.Season)
		}
		result.Answers = append(result.Answers, models.InquiryAnswer{
			MentionText: ref.MentionText,
			ProductID:   p.ProductID,
			Answer:      answer,
		})
	}
	return result, nil
}

// TemplateComposer assembles a plain-text reply from whatever partial
// results exist. Wording is deliberately unremarkable; it carries no
// contract.
type TemplateComposer struct{}

func NewTemplateComposer() *TemplateComposer {
	return &TemplateComposer{}
}

func (c *TemplateComposer) Compose(ctx context.Context, in ComposeInput) (string, error) {
	var b strings.Builder
	b.WriteString("Hello,\n\nThank you for reaching out.\n")

	if in.OrderResult != nil {
		b.WriteString("\n")
		switch in.OrderResult.OverallStatus {
		case models.OrderFulfilled:
			b.WriteString("Good news: your order is confirmed.\n")
		case models.OrderPartiallyFulfilled:
			b.WriteString("We could fulfill part of your order.\n")
		case models.OrderOutOfStock:
			b.WriteString("Unfortunately the items you asked for are currently out of stock.\n")
		case models.OrderNoValidProducts:
			b.WriteString("We could not match the items you mentioned to our catalog.\n")
		}
		for _, line := range in.OrderResult.Lines {
			switch line.Status {
			case models.LineFulfilled:
				fmt.Fprintf(&b, "- %s x%d: $%.2f", line.ProductName, line.FulfilledQuantity, line.LineTotal)
			case models.LinePartiallyFulfilled:
				fmt.Fprintf(&b, "- %s: %d of %d available, $%.2f", line.ProductName, line.FulfilledQuantity, line.RequestedQuantity, line.LineTotal)
			case models.LineOutOfStock:
				fmt.Fprintf(&b, "- %s: out of stock", line.ProductName)
			case models.LineNotFound:
				fmt.Fprintf(&b, "- %s: not found in our catalog", line.ProductName)
			case models.LineInvalid:
				fmt.Fprintf(&b, "- %s: could not be processed", line.ProductName)
			}
			if line.PromotionNote != "" {
				fmt.Fprintf(&b, " (%s)", line.PromotionNote)
			}
			if len(line.Alternatives) > 0 {
				fmt.Fprintf(&b, "; you might like: %s", strings.Join(line.Alternatives, ", "))
			}
			b.WriteString("\n")
		}
		if in.OrderResult.TotalPrice > 0 {
			fmt.Fprintf(&b, "Order total: $%.2f\n", in.OrderResult.TotalPrice)
		}
	}

	if in.InquiryResult != nil && len(in.InquiryResult.Answers) > 0 {
		b.WriteString("\n")
		for _, ans := range in.InquiryResult.Answers {
			b.WriteString(ans.Answer)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nBest regards,\nThe Catalog Team\n")
	return b.String(), nil
}
