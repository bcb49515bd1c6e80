package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"loyalty-backend/models"
	"loyalty-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RedemptionHandler struct {
	DB *gorm.DB
}

// redeemOutcome separates malformed requests (HTTP errors) from business
// declines, which are normal responses with success=false so POS clients
// can show the message to the guest.
type redeemOutcome struct {
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
	DiscountAmount *float64   `json:"discount_amount,omitempty"`
	FinalAmount    *float64   `json:"final_amount,omitempty"`
	UserCouponID   *uuid.UUID `json:"user_coupon_id,omitempty"`
	RedemptionID   *uuid.UUID `json:"redemption_id,omitempty"`
}

func decline(message string) redeemOutcome {
	return redeemOutcome{Success: false, Message: message}
}

// RedeemCoupon is the point-of-sale entry point. All three writes, the
// instance status flip, the template counter bump and the audit record,
// commit in one transaction with the instance row locked.
func (h *RedemptionHandler) RedeemCoupon(c *gin.Context) {
	staffID, _ := c.Get("user_id")

	var req struct {
		QRCode               string  `json:"qr_code" binding:"required"`
		OriginalAmount       float64 `json:"original_amount" binding:"required,gt=0"`
		Location             string  `json:"location"`
		Channel              string  `json:"channel"`
		TransactionReference string  `json:"transaction_reference"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	staffUUID := staffID.(uuid.UUID)
	channel := req.Channel
	if channel == "" {
		channel = "pos"
	}

	var outcome redeemOutcome
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var instance models.UserCoupon
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("qr_code = ?", req.QRCode).
			First(&instance).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = decline("Coupon not found")
				return nil
			}
			return err
		}

		// The lock serializes concurrent scans of the same code; the
		// loser of the race sees the flipped status here.
		switch instance.Status {
		case models.UserCouponUsed:
			outcome = decline("Coupon has already been used")
			return nil
		case models.UserCouponExpired:
			outcome = decline("Coupon has expired")
			return nil
		case models.UserCouponRevoked:
			outcome = decline("Coupon has been revoked")
			return nil
		}

		// The template row is locked too: used_count is shared across all
		// instances, so concurrent redemptions of different instances must
		// serialize on it before the limit check below.
		var coupon models.Coupon
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", instance.CouponID).
			First(&coupon).Error; err != nil {
			return err
		}
		instance.Coupon = coupon

		now := time.Now()
		if expiry := instance.EffectiveExpiry(); expiry != nil && !expiry.After(now) {
			outcome = decline("Coupon has expired")
			return nil
		}

		if coupon.Status != models.CouponStatusActive {
			outcome = decline("Coupon is not active")
			return nil
		}
		if !coupon.WithinValidity(now) {
			outcome = decline("Coupon is outside its validity period")
			return nil
		}
		// Per-user limits are enforced at issuance; only the shared
		// counter needs re-checking here.
		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			outcome = decline("Coupon usage limit reached")
			return nil
		}
		if coupon.MinimumSpend != nil && req.OriginalAmount < *coupon.MinimumSpend {
			outcome = decline("Purchase amount is below the minimum spend")
			return nil
		}

		discount := coupon.DiscountFor(req.OriginalAmount)
		finalAmount := req.OriginalAmount - discount

		if err := tx.Model(&instance).Updates(map[string]interface{}{
			"status":              models.UserCouponUsed,
			"used_at":             now,
			"used_by_admin":       staffUUID,
			"redemption_location": req.Location,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Coupon{}).
			Where("id = ?", coupon.ID).
			Update("used_count", gorm.Expr("used_count + 1")).Error; err != nil {
			return err
		}

		if coupon.UsageLimit != nil && coupon.UsedCount+1 >= *coupon.UsageLimit {
			if err := tx.Model(&models.Coupon{}).
				Where("id = ?", coupon.ID).
				Update("status", models.CouponStatusExhausted).Error; err != nil {
				return err
			}
		}

		redemption := models.CouponRedemption{
			UserCouponID:         instance.ID,
			UserID:               instance.UserID,
			CouponID:             coupon.ID,
			OriginalAmount:       req.OriginalAmount,
			DiscountAmount:       discount,
			FinalAmount:          finalAmount,
			Currency:             coupon.Currency,
			Channel:              channel,
			Location:             req.Location,
			TransactionReference: req.TransactionReference,
			StaffMemberID:        &staffUUID,
		}
		if err := tx.Create(&redemption).Error; err != nil {
			return err
		}

		outcome = redeemOutcome{
			Success:        true,
			Message:        "Coupon redeemed successfully",
			DiscountAmount: &discount,
			FinalAmount:    &finalAmount,
			UserCouponID:   &instance.ID,
			RedemptionID:   &redemption.ID,
		}
		return nil
	})

	if err != nil {
		log.Printf("Redemption failed for qr %s: %v", req.QRCode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to redeem coupon"})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ValidateCoupon previews what a scan would do without changing state.
// POS screens call this while the cashier confirms the order.
func (h *RedemptionHandler) ValidateCoupon(c *gin.Context) {
	qrCode := c.Param("qrCode")
	if qrCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "QR code is required"})
		return
	}

	var instance models.UserCoupon
	if err := h.DB.Preload("Coupon").Preload("User").
		Where("qr_code = ?", qrCode).
		First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"valid": false, "message": "Coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate coupon"})
		return
	}

	now := time.Now()
	valid := true
	message := "Coupon is valid"

	switch {
	case instance.Status == models.UserCouponUsed:
		valid, message = false, "Coupon has already been used"
	case instance.Status == models.UserCouponExpired:
		valid, message = false, "Coupon has expired"
	case instance.Status == models.UserCouponRevoked:
		valid, message = false, "Coupon has been revoked"
	default:
		if expiry := instance.EffectiveExpiry(); expiry != nil && !expiry.After(now) {
			valid, message = false, "Coupon has expired"
		} else if instance.Coupon.Status != models.CouponStatusActive {
			valid, message = false, "Coupon is not active"
		} else if !instance.Coupon.WithinValidity(now) {
			valid, message = false, "Coupon is outside its validity period"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":   valid,
		"message": message,
		"coupon": gin.H{
			"code":             instance.Coupon.Code,
			"name":             instance.Coupon.Name,
			"type":             instance.Coupon.Type,
			"value":            instance.Coupon.Value,
			"currency":         instance.Coupon.Currency,
			"minimum_spend":    instance.Coupon.MinimumSpend,
			"maximum_discount": instance.Coupon.MaximumDiscount,
		},
		"member": gin.H{
			"name":              instance.User.Name,
			"membership_number": instance.User.MembershipNumber,
		},
	})
}

// GetRedemptionHistory lists redemptions, newest first, with optional
// coupon and user filters.
func (h *RedemptionHandler) GetRedemptionHistory(c *gin.Context) {
	query := h.DB.Model(&models.CouponRedemption{}).
		Preload("Coupon").
		Order("created_at DESC")

	if couponID := c.Query("coupon_id"); couponID != "" {
		query = query.Where("coupon_id = ?", couponID)
	}
	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	limit := 50
	var redemptions []models.CouponRedemption
	if err := query.Limit(limit).Find(&redemptions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch redemption history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"redemptions": redemptions})
}
