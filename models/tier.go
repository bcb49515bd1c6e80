package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoyaltyTier is static reference data. Tiers partition the non-negative
// balance line: MinPoints inclusive, MaxPoints exclusive, MaxPoints nil on
// the top tier. A user's tier is always derived from the current balance.
type LoyaltyTier struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Level     int       `gorm:"uniqueIndex;not null" json:"level"`
	MinPoints int       `gorm:"not null" json:"min_points"`
	MaxPoints *int      `json:"max_points,omitempty"`
	Benefits  string    `json:"benefits"` // JSON array of benefit strings
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *LoyaltyTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Contains reports whether balance falls inside this tier's band.
func (t *LoyaltyTier) Contains(balance int) bool {
	if balance < t.MinPoints {
		return false
	}
	return t.MaxPoints == nil || balance < *t.MaxPoints
}

// ResolveTier returns the unique tier whose band contains balance.
// Negative balances resolve to the lowest tier. tiers must be the full
// seeded set; order does not matter.
func ResolveTier(tiers []LoyaltyTier, balance int) *LoyaltyTier {
	if balance < 0 {
		balance = 0
	}
	var lowest *LoyaltyTier
	for i := range tiers {
		if tiers[i].Contains(balance) {
			return &tiers[i]
		}
		if lowest == nil || tiers[i].Level < lowest.Level {
			lowest = &tiers[i]
		}
	}
	return lowest
}

// NextTier returns the tier one level above t, or nil at the top.
func NextTier(tiers []LoyaltyTier, t *LoyaltyTier) *LoyaltyTier {
	if t == nil {
		return nil
	}
	for i := range tiers {
		if tiers[i].Level == t.Level+1 {
			return &tiers[i]
		}
	}
	return nil
}
