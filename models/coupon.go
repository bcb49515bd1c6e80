package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CouponType string

const (
	CouponPercentage  CouponType = "percentage"
	CouponFixedAmount CouponType = "fixed_amount"
	CouponBogo        CouponType = "bogo"
	CouponFreeUpgrade CouponType = "free_upgrade"
	CouponFreeService CouponType = "free_service"
)

func IsValidCouponType(t CouponType) bool {
	switch t {
	case CouponPercentage, CouponFixedAmount, CouponBogo, CouponFreeUpgrade, CouponFreeService:
		return true
	}
	return false
}

type CouponStatus string

const (
	CouponStatusDraft     CouponStatus = "draft"
	CouponStatusActive    CouponStatus = "active"
	CouponStatusPaused    CouponStatus = "paused"
	CouponStatusExpired   CouponStatus = "expired"
	CouponStatusExhausted CouponStatus = "exhausted"
)

// AllowedCouponTransitions defines the template status state machine.
// Draft, active and paused toggle freely for admins; expired and
// exhausted are terminal.
var AllowedCouponTransitions = map[CouponStatus][]CouponStatus{
	CouponStatusDraft:     {CouponStatusActive, CouponStatusPaused, CouponStatusExpired},
	CouponStatusActive:    {CouponStatusDraft, CouponStatusPaused, CouponStatusExpired, CouponStatusExhausted},
	CouponStatusPaused:    {CouponStatusDraft, CouponStatusActive, CouponStatusExpired},
	CouponStatusExpired:   {},
	CouponStatusExhausted: {},
}

// IsValidCouponTransition checks if a template status transition is allowed.
func IsValidCouponTransition(from, to CouponStatus) bool {
	if from == to {
		return true
	}
	allowed, exists := AllowedCouponTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Coupon is a template. User-scoped instances are UserCoupon rows.
type Coupon struct {
	ID                  uuid.UUID    `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Code                string       `gorm:"uniqueIndex;not null" json:"code"`
	Name                string       `gorm:"not null" json:"name"`
	Description         string       `json:"description"`
	TermsAndConditions  string       `json:"terms_and_conditions"`
	Type                CouponType   `gorm:"not null" json:"type"`
	Value               float64      `gorm:"default:0" json:"value"`
	Currency            string       `gorm:"default:THB" json:"currency"`
	MinimumSpend        *float64     `json:"minimum_spend,omitempty"`
	MaximumDiscount     *float64     `json:"maximum_discount,omitempty"`
	ValidFrom           time.Time    `json:"valid_from"`
	ValidUntil          *time.Time   `json:"valid_until,omitempty"`
	UsageLimit          *int         `json:"usage_limit,omitempty"`
	UsageLimitPerUser   int          `gorm:"default:1" json:"usage_limit_per_user"`
	UsedCount           int          `gorm:"default:0" json:"used_count"` // incremented on redemption only
	TierRestrictions    string       `json:"tier_restrictions"`          // JSON array of tier names, empty = all tiers
	Status              CouponStatus `gorm:"default:draft" json:"status"`
	CreatedBy           *uuid.UUID   `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (cp *Coupon) BeforeCreate(tx *gorm.DB) error {
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.ValidFrom.IsZero() {
		cp.ValidFrom = time.Now()
	}
	return nil
}

// WithinValidity reports whether now falls inside the template window.
func (cp *Coupon) WithinValidity(now time.Time) bool {
	if now.Before(cp.ValidFrom) {
		return false
	}
	return cp.ValidUntil == nil || now.Before(*cp.ValidUntil)
}

// DiscountFor computes the discount against originalAmount. Percentage
// discounts are capped at MaximumDiscount when set; fixed discounts never
// exceed the amount. Non-monetary types (bogo, free_upgrade, free_service)
// use Value as a fixed discount when configured, otherwise the benefit is
// fulfilled operationally and the discount is zero.
func (cp *Coupon) DiscountFor(originalAmount float64) float64 {
	var discount float64
	switch cp.Type {
	case CouponPercentage:
		discount = originalAmount * cp.Value / 100
		if cp.MaximumDiscount != nil && discount > *cp.MaximumDiscount {
			discount = *cp.MaximumDiscount
		}
	case CouponFixedAmount:
		discount = cp.Value
	default:
		discount = cp.Value
	}
	if discount > originalAmount {
		discount = originalAmount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
