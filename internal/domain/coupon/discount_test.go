package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		purchase string
		want     string
	}{
		{
			name: "percentage capped at max discount",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(10),
				MaxDiscount:  decimal.NewFromInt(500),
				MinPurchase:  decimal.NewFromInt(1000),
			},
			purchase: "2000",
			want:     "200",
		},
		{
			name: "percentage hits the cap",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(10),
				MaxDiscount:  decimal.NewFromInt(500),
			},
			purchase: "10000",
			want:     "500",
		},
		{
			name: "percentage without cap",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(25),
			},
			purchase: "80",
			want:     "20",
		},
		{
			name: "percentage rounds to 2dp once",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromFloat(12.5),
			},
			purchase: "99.99",
			want:     "12.50",
		},
		{
			name: "fixed discount",
			coupon: Coupon{
				DiscountType: DiscountFixed,
				Value:        decimal.NewFromInt(50),
			},
			purchase: "200",
			want:     "50",
		},
		{
			name: "fixed discount clamped to purchase amount",
			coupon: Coupon{
				DiscountType: DiscountFixed,
				Value:        decimal.NewFromInt(50),
			},
			purchase: "30",
			want:     "30",
		},
		{
			name: "unknown type yields zero",
			coupon: Coupon{
				DiscountType: DiscountType("bogus"),
				Value:        decimal.NewFromInt(50),
			},
			purchase: "200",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purchase := decimal.RequireFromString(tt.purchase)
			want := decimal.RequireFromString(tt.want)

			got := ComputeDiscount(&tt.coupon, purchase)
			assert.True(t, want.Equal(got), "expected %s, got %s", want, got)
		})
	}
}
