package pricing

import (
	"github.com/shopspring/decimal"

	"kiosque/register/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Compute derives the cart's price breakdown. It is pure: the same items and
// promotions always produce the same result, which is what makes an offline
// replay price out identically to the online commit it stands in for.
//
// Promotions are evaluated independently against the raw subtotal, not
// against the discounted remainder. Every active promotion whose minimum
// qualifying amount is met contributes; discounts are additive, never
// compounding or mutually exclusive. The total is floored at zero.
func Compute(items []domain.CartItem, promotions []domain.Promotion) domain.PricingResult {
	res := domain.PricingResult{
		Subtotal:               decimal.Zero,
		ItemDiscountTotal:      decimal.Zero,
		PromotionDiscountTotal: decimal.Zero,
		Total:                  decimal.Zero,
	}

	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		res.Subtotal = res.Subtotal.Add(line)
		res.ItemCount += item.Quantity
		if item.DiscountPercent.IsPositive() {
			res.ItemDiscountTotal = res.ItemDiscountTotal.Add(line.Mul(item.DiscountPercent).Div(hundred))
		}
	}

	for _, promo := range promotions {
		if !promo.Active || res.Subtotal.LessThan(promo.MinimumAmount) {
			continue
		}
		switch promo.Kind {
		case domain.PromotionPercentage:
			res.PromotionDiscountTotal = res.PromotionDiscountTotal.Add(res.Subtotal.Mul(promo.Value).Div(hundred))
		case domain.PromotionFixedAmount:
			res.PromotionDiscountTotal = res.PromotionDiscountTotal.Add(promo.Value)
		default:
			// Unknown promotion kinds from a newer remote schema contribute nothing.
		}
	}

	res.Total = res.Subtotal.Sub(res.ItemDiscountTotal).Sub(res.PromotionDiscountTotal)
	if res.Total.IsNegative() {
		res.Total = decimal.Zero
	}
	return res
}
