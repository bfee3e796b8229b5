package models

import (
	"time"

	"github.com/google/uuid"
)

// Email is one inbound customer message submitted to the pipeline.
type Email struct {
	ID         string    `json:"id"`
	From       string    `json:"from,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// ProductReference is a product mention extracted by the classifier.
// It is consumed read-only by the fulfillment engine.
type ProductReference struct {
	MentionText       string `json:"mentionText"`
	InferredProductID string `json:"inferredProductId,omitempty"`
	InferredName      string `json:"inferredName,omitempty"`
	RequestedQuantity int    `json:"requestedQuantity"`
}

// Classification is the structured result of the analyze stage.
type Classification struct {
	HasOrder          bool               `json:"hasOrder"`
	HasInquiry        bool               `json:"hasInquiry"`
	ProductReferences []ProductReference `json:"productReferences,omitempty"`
}

// CatalogProduct is immutable reference data, loaded once per batch.
type CatalogProduct struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	UnitPrice float64 `json:"unitPrice"`
	Season    string  `json:"season,omitempty"`
}

// InventoryRecord is the only mutable shared entity; stock is decremented
// by fulfillment and restorable from a snapshot between batches.
type InventoryRecord struct {
	ProductID  string `json:"productId"`
	StockCount int    `json:"stockCount"`
}

type LineStatus string

const (
	LineFulfilled          LineStatus = "fulfilled"
	LinePartiallyFulfilled LineStatus = "partially_fulfilled"
	LineOutOfStock         LineStatus = "out_of_stock"
	LineNotFound           LineStatus = "not_found"
	LineInvalid            LineStatus = "invalid"
)

type OrderStatus string

const (
	OrderFulfilled          OrderStatus = "fulfilled"
	OrderPartiallyFulfilled OrderStatus = "partially_fulfilled"
	OrderOutOfStock         OrderStatus = "out_of_stock"
	OrderNoValidProducts    OrderStatus = "no_valid_products"
)

// OrderLine is the terminal record for one product reference; it is never
// mutated after the fulfillment engine returns it.
type OrderLine struct {
	ProductID         string     `json:"productId,omitempty"`
	ProductName       string     `json:"productName,omitempty"`
	RequestedQuantity int        `json:"requestedQuantity"`
	FulfilledQuantity int        `json:"fulfilledQuantity"`
	Status            LineStatus `json:"status"`
	UnitPrice         float64    `json:"unitPrice,omitempty"`
	LineTotal         float64    `json:"lineTotal,omitempty"`
	PromotionNote     string     `json:"promotionNote,omitempty"`
	Alternatives      []string   `json:"alternatives,omitempty"`
	Message           string     `json:"message,omitempty"`
}

type OrderResult struct {
	OrderID       uuid.UUID   `json:"orderId"`
	OverallStatus OrderStatus `json:"overallStatus"`
	Lines         []OrderLine `json:"lines"`
	TotalPrice    float64     `json:"totalPrice"`
}

// InquiryResult is opaque to the order engine; the answerer fills it in.
type InquiryResult struct {
	Answers []InquiryAnswer `json:"answers"`
}

type InquiryAnswer struct {
	MentionText string `json:"mentionText"`
	ProductID   string `json:"productId,omitempty"`
	Answer      string `json:"answer"`
}

// RunResult is what the coordinator hands back per email.
type RunResult struct {
	RunID          uuid.UUID         `json:"runId"`
	EmailID        string            `json:"emailId"`
	Classification *Classification   `json:"classification,omitempty"`
	OrderResult    *OrderResult      `json:"orderResult,omitempty"`
	InquiryResult  *InquiryResult    `json:"inquiryResult,omitempty"`
	ComposedText   string            `json:"composedText,omitempty"`
	StageErrors    map[string]string `json:"stageErrors,omitempty"`
	CompletedAt    time.Time         `json:"completedAt"`
}
