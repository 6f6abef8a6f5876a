package domain

import (
	"strings"
	"time"

	"github.com/smallbiznis/orderflow/internal/keylock"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Promotion is a redeemable discount code. RemainingUses is nil for
// unlimited codes.
type Promotion struct {
	ID            int64        `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code          string       `json:"code" gorm:"size:64;not null;uniqueIndex:ux_promotions_code"`
	DiscountType  DiscountType `json:"discount_type" gorm:"size:16;not null"`
	Value         int64        `json:"value" gorm:"not null"`
	MinOrderValue int64        `json:"min_order_value" gorm:"not null;default:0"`
	MaxDiscount   *int64       `json:"max_discount,omitempty"`
	UsageLimit    *int64       `json:"usage_limit,omitempty"`
	RemainingUses *int64       `json:"remaining_uses,omitempty" gorm:"check:chk_promotions_remaining,remaining_uses IS NULL OR remaining_uses >= 0"`
	TimesUsed     int64        `json:"times_used" gorm:"not null;default:0"`
	StartsAt      *time.Time   `json:"starts_at,omitempty"`
	EndsAt        *time.Time   `json:"ends_at,omitempty"`
	Active        bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

func (Promotion) TableName() string { return "promotions" }

// Quote is the priced result of applying a promotion to a subtotal.
type Quote struct {
	PromotionID int64  `json:"promotion_id,string"`
	Code        string `json:"code"`
	Discount    int64  `json:"discount"`
}

// NormalizeCode canonicalises user input to the stored upper-case form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LockKey names the critical section guarding a code's usage counter.
func LockKey(code string) string {
	return keylock.Key("promo", NormalizeCode(code))
}

// Evaluate checks p against subtotal at now and returns the discount.
// Inactive codes are reported as not found.
func Evaluate(p *Promotion, subtotal int64, now time.Time) (int64, error) {
	if p == nil || !p.Active {
		return 0, ErrCodeNotFound
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return 0, ErrCodeExpired
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return 0, ErrCodeExpired
	}
	if p.RemainingUses != nil && *p.RemainingUses <= 0 {
		return 0, ErrUsageExhausted
	}
	if subtotal < p.MinOrderValue {
		return 0, ErrBelowMinimum
	}
	return Discount(p, subtotal), nil
}

// Discount computes the clamped discount for subtotal. The result is never
// negative and never exceeds subtotal.
func Discount(p *Promotion, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var amount int64
	switch p.DiscountType {
	case DiscountPercentage:
		amount = percentOf(subtotal, p.Value)
		if p.MaxDiscount != nil && amount > *p.MaxDiscount {
			amount = *p.MaxDiscount
		}
	case DiscountFixed:
		amount = p.Value
	}
	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}

func percentOf(amount, pct int64) int64 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return amount
	}
	// amount*pct may overflow for very large subtotals.
	return amount/100*pct + amount%100*pct/100
}
