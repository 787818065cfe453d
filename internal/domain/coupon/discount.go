package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeDiscount calculates the discount c grants for the given purchase
// amount. Percentage discounts are capped at MaxDiscount when set; fixed
// discounts never exceed the purchase amount. The result is rounded to the
// smallest currency unit (2 decimal places) exactly once, at the end.
func ComputeDiscount(c *Coupon, purchase decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal

	switch c.DiscountType {
	case DiscountPercentage:
		amount = purchase.Mul(c.Value).Div(hundred)
		if c.MaxDiscount.IsPositive() && amount.GreaterThan(c.MaxDiscount) {
			amount = c.MaxDiscount
		}
	case DiscountFixed:
		amount = decimal.Min(c.Value, purchase)
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}
