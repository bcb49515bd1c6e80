package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CouponRedemption is the immutable audit record of a successful
// redemption. It is inserted in the same transaction as the UserCoupon
// status flip; the unique index on UserCouponID guarantees at most one
// audit row per instance.
type CouponRedemption struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserCouponID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"user_coupon_id"`
	UserCoupon           UserCoupon `gorm:"foreignKey:UserCouponID" json:"-"`
	UserID               uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	CouponID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"coupon_id"`
	Coupon               Coupon     `gorm:"foreignKey:CouponID" json:"coupon,omitempty"`
	OriginalAmount       float64    `gorm:"not null" json:"original_amount"`
	DiscountAmount       float64    `gorm:"not null" json:"discount_amount"`
	FinalAmount          float64    `gorm:"not null" json:"final_amount"`
	Currency             string     `gorm:"default:THB" json:"currency"`
	TransactionReference string     `json:"transaction_reference,omitempty"`
	Channel              string     `gorm:"default:pos" json:"channel"`
	StaffMemberID        *uuid.UUID `gorm:"type:uuid" json:"staff_member_id,omitempty"`
	Location             string     `json:"location,omitempty"`
	Metadata             string     `json:"metadata,omitempty"` // JSON blob from the POS
	CreatedAt            time.Time  `json:"created_at"`
}

func (r *CouponRedemption) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
