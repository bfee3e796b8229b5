package promo

// EffectKind enumerates the closed set of promotion effects. Rules are
// declarative configuration: a condition block plus exactly one effect.
type EffectKind string

const (
	EffectPercentageDiscount EffectKind = "percentage_discount"
	EffectFixedDiscount      EffectKind = "fixed_discount"
	EffectFreeUnits          EffectKind = "free_units"
	EffectFreeGift           EffectKind = "free_gift"
	EffectComboDiscount      EffectKind = "combo_discount"
)

// Conditions gate a rule. Zero values mean "no constraint".
type Conditions struct {
	// MinQuantity is satisfied iff the evaluated line's quantity >= MinQuantity.
	MinQuantity int `json:"minQuantity,omitempty"`

	// AppliesEvery batches the free_units effect: one grant per N units.
	AppliesEvery int `json:"appliesEvery,omitempty"`

	// RequiredProductIDs must all be present among the order's line product
	// ids, or the rule fires for no line at all (combo deals).
	RequiredProductIDs []string `json:"requiredProductIds,omitempty"`
}

// Effect is the tagged variant interpreted by the evaluator. Only the fields
// matching Kind are meaningful.
type Effect struct {
	Kind EffectKind `json:"kind"`

	// Amount is the percentage for percentage_discount or the per-unit
	// currency amount for fixed_discount.
	Amount float64 `json:"amount,omitempty"`

	// Count is the number of units granted per AppliesEvery batch (free_units).
	Count int `json:"count,omitempty"`

	// DiscountPercent, when nonzero, charges each granted unit at
	// (100-DiscountPercent)% of the unit price instead of zero. Covers
	// buy-one-get-one-half-off style deals with the same batching.
	DiscountPercent float64 `json:"discountPercent,omitempty"`

	// GiftText is the promotional note for free_gift.
	GiftText string `json:"giftText,omitempty"`

	// TargetProductID and Percentage drive combo_discount: the percentage is
	// taken off the target product's line, not the triggering line.
	TargetProductID string  `json:"targetProductId,omitempty"`
	Percentage      float64 `json:"percentage,omitempty"`
}

// Rule binds conditions and an effect to the product whose line triggers it.
type Rule struct {
	Name       string     `json:"name"`
	ProductID  string     `json:"productId"`
	Conditions Conditions `json:"conditions"`
	Effect     Effect     `json:"effect"`
}
