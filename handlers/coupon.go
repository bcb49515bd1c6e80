package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loyalty-backend/models"
	"loyalty-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CouponHandler struct {
	DB *gorm.DB
}

// qrCodeFor builds a redemption code for one coupon instance. Uniqueness
// is ultimately enforced by the qr_code unique index; the random suffix
// just makes collisions vanishingly rare.
func qrCodeFor(couponCode string, userID uuid.UUID) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("CPN-%s-%s-%s", couponCode, userID.String()[:8], hex.EncodeToString(buf)), nil
}

func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	adminID, _ := c.Get("user_id")

	var req struct {
		Code               string     `json:"code" binding:"required"`
		Name               string     `json:"name" binding:"required"`
		Description        string     `json:"description"`
		TermsAndConditions string     `json:"terms_and_conditions"`
		Type               string     `json:"type" binding:"required"`
		Value              float64    `json:"value"`
		Currency           string     `json:"currency"`
		MinimumSpend       *float64   `json:"minimum_spend"`
		MaximumDiscount    *float64   `json:"maximum_discount"`
		ValidFrom          *time.Time `json:"valid_from"`
		ValidUntil         *time.Time `json:"valid_until"`
		UsageLimit         *int       `json:"usage_limit"`
		UsageLimitPerUser  *int       `json:"usage_limit_per_user"`
		TierRestrictions   []string   `json:"tier_restrictions"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	couponType := models.CouponType(req.Type)
	if !models.IsValidCouponType(couponType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon type"})
		return
	}

	if couponType == models.CouponPercentage && (req.Value <= 0 || req.Value > 100) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Percentage value must be between 0 and 100"})
		return
	}

	// Code matching is case-sensitive; SUMMER20 and summer20 are
	// different templates.
	var existing models.Coupon
	if err := h.DB.Where("code = ?", req.Code).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Coupon code already exists"})
		return
	}

	adminUUID := adminID.(uuid.UUID)
	coupon := models.Coupon{
		Code:               req.Code,
		Name:               req.Name,
		Description:        req.Description,
		TermsAndConditions: req.TermsAndConditions,
		Type:               couponType,
		Value:              req.Value,
		MinimumSpend:       req.MinimumSpend,
		MaximumDiscount:    req.MaximumDiscount,
		ValidUntil:         req.ValidUntil,
		UsageLimit:         req.UsageLimit,
		Status:             models.CouponStatusDraft,
		CreatedBy:          &adminUUID,
	}
	if req.Currency != "" {
		coupon.Currency = req.Currency
	} else {
		coupon.Currency = "THB"
	}
	if req.ValidFrom != nil {
		coupon.ValidFrom = *req.ValidFrom
	}
	if req.UsageLimitPerUser != nil {
		coupon.UsageLimitPerUser = *req.UsageLimitPerUser
	} else {
		coupon.UsageLimitPerUser = 1
	}
	if len(req.TierRestrictions) > 0 {
		raw, err := json.Marshal(req.TierRestrictions)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tier restrictions"})
			return
		}
		coupon.TierRestrictions = string(raw)
	}

	if err := h.DB.Create(&coupon).Error; err != nil {
		// The unique index is the final defense against a concurrent
		// create with the same code.
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			c.JSON(http.StatusConflict, gin.H{"error": "Coupon code already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create coupon"})
		return
	}

	c.JSON(http.StatusCreated, coupon)
}

func (h *CouponHandler) UpdateCoupon(c *gin.Context) {
	couponID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon id"})
		return
	}

	var req struct {
		Name               *string    `json:"name"`
		Description        *string    `json:"description"`
		TermsAndConditions *string    `json:"terms_and_conditions"`
		Value              *float64   `json:"value"`
		MinimumSpend       *float64   `json:"minimum_spend"`
		MaximumDiscount    *float64   `json:"maximum_discount"`
		ValidFrom          *time.Time `json:"valid_from"`
		ValidUntil         *time.Time `json:"valid_until"`
		UsageLimit         *int       `json:"usage_limit"`
		UsageLimitPerUser  *int       `json:"usage_limit_per_user"`
		Status             *string    `json:"status"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	var coupon models.Coupon
	if err := h.DB.Where("id = ?", couponID).First(&coupon).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
		return
	}

	if req.Status != nil {
		newStatus := models.CouponStatus(*req.Status)
		if !models.IsValidCouponTransition(coupon.Status, newStatus) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Cannot change coupon status from %s to %s", coupon.Status, newStatus),
			})
			return
		}
		coupon.Status = newStatus
	}

	if req.Name != nil {
		coupon.Name = *req.Name
	}
	if req.Description != nil {
		coupon.Description = *req.Description
	}
	if req.TermsAndConditions != nil {
		coupon.TermsAndConditions = *req.TermsAndConditions
	}
	if req.Value != nil {
		coupon.Value = *req.Value
	}
	if req.MinimumSpend != nil {
		coupon.MinimumSpend = req.MinimumSpend
	}
	if req.MaximumDiscount != nil {
		coupon.MaximumDiscount = req.MaximumDiscount
	}
	if req.ValidFrom != nil {
		coupon.ValidFrom = *req.ValidFrom
	}
	if req.ValidUntil != nil {
		coupon.ValidUntil = req.ValidUntil
	}
	if req.UsageLimit != nil {
		coupon.UsageLimit = req.UsageLimit
	}
	if req.UsageLimitPerUser != nil {
		coupon.UsageLimitPerUser = *req.UsageLimitPerUser
	}

	if err := h.DB.Save(&coupon).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update coupon"})
		return
	}

	c.JSON(http.StatusOK, coupon)
}

func (h *CouponHandler) ListCoupons(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := h.DB.Model(&models.Coupon{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if couponType := c.Query("type"); couponType != "" {
		query = query.Where("type = ?", couponType)
	}
	if search := c.Query("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("code LIKE ? OR name LIKE ? OR description LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	query.Count(&total)

	var coupons []models.Coupon
	if err := query.Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&coupons).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch coupons"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"coupons": coupons,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// AssignCoupon assigns a coupon to a list of users. Each assignment runs
// in its own transaction: one user hitting a limit does not roll back the
// others. Partial success is the documented behavior, so the response
// carries both the created instances and the skipped users with reasons.
func (h *CouponHandler) AssignCoupon(c *gin.Context) {
	adminID, _ := c.Get("user_id")

	couponID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon id"})
		return
	}

	var req struct {
		UserIDs        []string   `json:"user_ids" binding:"required,min=1"`
		AssignedReason string     `json:"assigned_reason"`
		ExpiresAt      *time.Time `json:"expires_at"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	var coupon models.Coupon
	if err := h.DB.Where("id = ?", couponID).First(&coupon).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
		return
	}

	adminUUID := adminID.(uuid.UUID)
	assigned := make([]models.UserCoupon, 0, len(req.UserIDs))
	skipped := make([]gin.H, 0)

	for _, rawID := range req.UserIDs {
		userID, err := uuid.Parse(rawID)
		if err != nil {
			skipped = append(skipped, gin.H{"user_id": rawID, "reason": "invalid user id"})
			continue
		}

		instance, reason := h.assignToUser(coupon.ID, userID, adminUUID, req.AssignedReason, req.ExpiresAt)
		if instance == nil {
			log.Printf("Coupon %s not assigned to user %s: %s", coupon.Code, userID, reason)
			skipped = append(skipped, gin.H{"user_id": rawID, "reason": reason})
			continue
		}
		assigned = append(assigned, *instance)
	}

	c.JSON(http.StatusOK, gin.H{
		"assigned": assigned,
		"skipped":  skipped,
	})
}

// assignToUser performs one assignment in its own transaction, re-reading
// the coupon under a row lock so limits and status hold at commit time,
// not just when the batch started.
func (h *CouponHandler) assignToUser(couponID, userID, assignedBy uuid.UUID, reason string, customExpiry *time.Time) (*models.UserCoupon, string) {
	var created *models.UserCoupon
	var failReason string

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var coupon models.Coupon
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", couponID).First(&coupon).Error; err != nil {
			failReason = "coupon not found"
			return err
		}

		if coupon.Status != models.CouponStatusActive {
			failReason = "coupon is not active"
			return errSkipped
		}

		now := time.Now()
		if !coupon.WithinValidity(now) {
			failReason = "coupon is outside its validity window"
			return errSkipped
		}

		// Usage limits track redemptions, not assignments; the global
		// limit still gates issuance so exhausted coupons stop going out.
		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			failReason = "coupon usage limit reached"
			return errSkipped
		}

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			failReason = "user not found"
			return errSkipped
		}

		var issuedToUser int64
		if err := tx.Model(&models.UserCoupon{}).
			Where("user_id = ? AND coupon_id = ?", userID, couponID).
			Count(&issuedToUser).Error; err != nil {
			failReason = "failed to check per-user limit"
			return err
		}
		if issuedToUser >= int64(coupon.UsageLimitPerUser) {
			failReason = "per-user limit reached"
			return errSkipped
		}

		if coupon.TierRestrictions != "" {
			eligible, err := tierEligible(tx, coupon.TierRestrictions, userID, now)
			if err != nil {
				failReason = "failed to resolve user tier"
				return err
			}
			if !eligible {
				failReason = "user tier not eligible"
				return errSkipped
			}
		}

		expiresAt := customExpiry
		if expiresAt == nil {
			expiresAt = coupon.ValidUntil
		}

		// Bounded retry on the qr_code unique constraint.
		for attempt := 0; attempt < 3; attempt++ {
			qr, err := qrCodeFor(coupon.Code, userID)
			if err != nil {
				failReason = "failed to generate redemption code"
				return err
			}
			instance := models.UserCoupon{
				UserID:         userID,
				CouponID:       couponID,
				Status:         models.UserCouponAvailable,
				QRCode:         qr,
				AssignedBy:     &assignedBy,
				AssignedReason: reason,
				ExpiresAt:      expiresAt,
			}
			err = tx.Create(&instance).Error
			if err == nil {
				created = &instance
				return nil
			}
			if !strings.Contains(err.Error(), "UNIQUE") && !strings.Contains(err.Error(), "duplicate") {
				failReason = "failed to create coupon instance"
				return err
			}
		}

		failReason = "could not generate a unique redemption code"
		return errSkipped
	})

	if err != nil {
		return nil, failReason
	}
	return created, ""
}

// errSkipped aborts an assignment sub-transaction for a business reason.
var errSkipped = errors.New("assignment skipped")

// tierEligible checks the user's current tier against a coupon's
// restriction list (a JSON array of tier names). An empty list means no
// restriction. The tier is derived from the live balance, same as the
// points summary.
func tierEligible(tx *gorm.DB, restrictions string, userID uuid.UUID, now time.Time) (bool, error) {
	var allowed []string
	if err := json.Unmarshal([]byte(restrictions), &allowed); err != nil {
		return false, err
	}
	if len(allowed) == 0 {
		return true, nil
	}

	var tiers []models.LoyaltyTier
	if err := tx.Find(&tiers).Error; err != nil {
		return false, err
	}
	balance, err := activeBalance(tx, userID, now)
	if err != nil {
		return false, err
	}

	tier := models.ResolveTier(tiers, balance)
	if tier == nil {
		return false, nil
	}
	for _, name := range allowed {
		if name == tier.Name {
			return true, nil
		}
	}
	return false, nil
}

// GetMyCoupons returns the caller's available, unexpired coupons.
func (h *CouponHandler) GetMyCoupons(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	now := time.Now()
	var instances []models.UserCoupon
	if err := h.DB.Preload("Coupon").
		Where("user_id = ? AND status = ?", userID, models.UserCouponAvailable).
		Order("created_at DESC").
		Find(&instances).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch coupons"})
		return
	}

	result := make([]gin.H, 0, len(instances))
	for i := range instances {
		uc := &instances[i]
		expiry := uc.EffectiveExpiry()
		if expiry != nil && !expiry.After(now) {
			// Past-expiry rows the sweeper has not flipped yet are
			// hidden rather than offered.
			continue
		}
		expiringSoon := expiry != nil && !expiry.After(now.AddDate(0, 0, 7))
		result = append(result, gin.H{
			"id":               uc.ID,
			"coupon_id":        uc.CouponID,
			"qr_code":          uc.QRCode,
			"status":           uc.Status,
			"expires_at":       expiry,
			"expiring_soon":    expiringSoon,
			"assigned_at":      uc.CreatedAt,
			"code":             uc.Coupon.Code,
			"name":             uc.Coupon.Name,
			"description":      uc.Coupon.Description,
			"type":             uc.Coupon.Type,
			"value":            uc.Coupon.Value,
			"currency":         uc.Coupon.Currency,
			"minimum_spend":    uc.Coupon.MinimumSpend,
			"maximum_discount": uc.Coupon.MaximumDiscount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"coupons": result})
}

// RevokeUserCoupon flips an available instance to revoked. Revoking an
// instance that is already used, expired or revoked is a no-op that
// reports success=false, not an error.
func (h *CouponHandler) RevokeUserCoupon(c *gin.Context) {
	adminID, _ := c.Get("user_id")

	userCouponID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user coupon id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for revocation.
	_ = c.ShouldBindJSON(&req)

	var instance models.UserCoupon
	if err := h.DB.Where("id = ?", userCouponID).First(&instance).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User coupon not found"})
		return
	}

	// The status guard in the WHERE clause makes the flip atomic: a
	// concurrent redemption and revocation cannot both win.
	result := h.DB.Model(&models.UserCoupon{}).
		Where("id = ? AND status = ?", userCouponID, models.UserCouponAvailable).
		Updates(map[string]interface{}{
			"status":         models.UserCouponRevoked,
			"revoked_reason": req.Reason,
			"used_by_admin":  adminID,
		})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke coupon"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": result.RowsAffected == 1})
}
