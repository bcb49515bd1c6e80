package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserCouponStatus string

const (
	UserCouponAvailable UserCouponStatus = "available"
	UserCouponUsed      UserCouponStatus = "used"
	UserCouponExpired   UserCouponStatus = "expired"
	UserCouponRevoked   UserCouponStatus = "revoked"
)

// The instance state machine is one-way: available moves to exactly one of
// used, expired or revoked, and the terminal states are immutable.
var AllowedUserCouponTransitions = map[UserCouponStatus][]UserCouponStatus{
	UserCouponAvailable: {UserCouponUsed, UserCouponExpired, UserCouponRevoked},
	UserCouponUsed:      {},
	UserCouponExpired:   {},
	UserCouponRevoked:   {},
}

func IsValidUserCouponTransition(from, to UserCouponStatus) bool {
	allowed, exists := AllowedUserCouponTransitions[from]
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

// UserCoupon is a single-use coupon instance. QRCode is the redemption
// token; its uniqueness is enforced by the database, which is the final
// line of defense against double issuance.
type UserCoupon struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID             uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	User               User             `gorm:"foreignKey:UserID" json:"-"`
	CouponID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"coupon_id"`
	Coupon             Coupon           `gorm:"foreignKey:CouponID" json:"coupon,omitempty"`
	Status             UserCouponStatus `gorm:"default:available;index" json:"status"`
	QRCode             string           `gorm:"uniqueIndex;not null" json:"qr_code"`
	UsedAt             *time.Time       `json:"used_at,omitempty"`
	UsedByAdmin        *uuid.UUID       `gorm:"type:uuid" json:"used_by_admin,omitempty"`
	RedemptionLocation string           `json:"redemption_location,omitempty"`
	AssignedBy         *uuid.UUID       `gorm:"type:uuid" json:"assigned_by,omitempty"`
	AssignedReason     string           `json:"assigned_reason,omitempty"`
	RevokedReason      string           `json:"revoked_reason,omitempty"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (uc *UserCoupon) BeforeCreate(tx *gorm.DB) error {
	if uc.ID == uuid.Nil {
		uc.ID = uuid.New()
	}
	return nil
}

// EffectiveExpiry is the instance expiry when set, else the template's
// valid-until.
func (uc *UserCoupon) EffectiveExpiry() *time.Time {
	if uc.ExpiresAt != nil {
		return uc.ExpiresAt
	}
	return uc.Coupon.ValidUntil
}
