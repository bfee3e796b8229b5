package promo

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is the priced result for one order line.
type Outcome struct {
	UnitPrice  float64
	TotalPrice float64
	Note       string
}

// Evaluator applies the configured rule set to one line at a time. It is a
// pure function of its inputs; rules for a product are independent and all
// matching rules compose, in configuration order (first-match-wins is not
// used).
type Evaluator struct {
	rules []Rule
}

func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate prices quantity units of the given product. lineIDs is the set of
// all product ids on the order, used for combo conditions; it includes the
// evaluated product itself.
func (e *Evaluator) Evaluate(productID string, quantity int, basePrice float64, lineIDs map[string]struct{}) Outcome {
	unit := basePrice
	freeUnits := 0
	freeUnitCharge := 0.0 // residual charge for discounted (not fully free) granted units
	var notes []string

	for _, rule := range e.rules {
		if !e.applies(rule, productID, quantity, lineIDs) {
			continue
		}
		switch rule.Effect.Kind {
		case EffectPercentageDiscount:
			next := unit * (1 - rule.Effect.Amount/100)
			if next < 0 {
				continue
			}
			unit = next
			notes = append(notes, fmt.Sprintf("%s: %.0f%% off", rule.Name, rule.Effect.Amount))

		case EffectFixedDiscount:
			next := unit - rule.Effect.Amount
			if next < 0 {
				continue
			}
			unit = next
			notes = append(notes, fmt.Sprintf("%s: %.2f off per unit", rule.Name, rule.Effect.Amount))

		case EffectFreeUnits:
			every := rule.Conditions.AppliesEvery
			if every <= 0 || rule.Effect.Count <= 0 {
				continue
			}
			granted := (quantity / every) * rule.Effect.Count
			if granted <= 0 {
				continue
			}
			if granted > quantity-freeUnits {
				granted = quantity - freeUnits
			}
			freeUnits += granted
			if p := rule.Effect.DiscountPercent; p > 0 && p < 100 {
				freeUnitCharge += float64(granted) * unit * (1 - p/100)
				notes = append(notes, fmt.Sprintf("%s: %d unit(s) at %.0f%% off", rule.Name, granted, p))
			} else {
				notes = append(notes, fmt.Sprintf("%s: %d free unit(s)", rule.Name, granted))
			}

		case EffectFreeGift:
			notes = append(notes, rule.Effect.GiftText)

		case EffectComboDiscount:
			next := unit * (1 - rule.Effect.Percentage/100)
			if next < 0 {
				continue
			}
			unit = next
			notes = append(notes, fmt.Sprintf("%s: %.0f%% off with combo", rule.Name, rule.Effect.Percentage))
		}
	}

	paid := quantity - freeUnits
	if paid < 0 {
		paid = 0
	}
	total := float64(paid)*unit + freeUnitCharge
	if total < 0 {
		// Defensive clamp: composed rules may never charge below zero.
		total = 0
	}
	return Outcome{
		UnitPrice:  round2(unit),
		TotalPrice: round2(total),
		Note:       strings.Join(notes, "; "),
	}
}

// applies reports whether a rule fires for the evaluated line.
//
// Non-combo rules fire only for their own product. A combo_discount rule
// fires for the line matching its TargetProductID, provided its triggering
// product is on the order; the triggering line's own price is unaffected.
func (e *Evaluator) applies(rule Rule, productID string, quantity int, lineIDs map[string]struct{}) bool {
	for _, req := range rule.Conditions.RequiredProductIDs {
		if _, ok := lineIDs[req]; !ok {
			return false
		}
	}
	if rule.Effect.Kind == EffectComboDiscount {
		if rule.Effect.TargetProductID != productID {
			return false
		}
		if _, ok := lineIDs[rule.ProductID]; !ok {
			return false
		}
		return true
	}
	if rule.ProductID != productID {
		return false
	}
	if rule.Conditions.MinQuantity > 0 && quantity < rule.Conditions.MinQuantity {
		return false
	}
	return true
}

// round2 rounds to two decimal places, halves away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
