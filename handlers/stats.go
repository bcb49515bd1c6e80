package handlers

import (
	"net/http"

	"loyalty-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type StatsHandler struct {
	DB *gorm.DB
}

// GetLoyaltyStats aggregates program-wide numbers for the admin dashboard.
func (h *StatsHandler) GetLoyaltyStats(c *gin.Context) {
	var totalMembers int64
	h.DB.Model(&models.User{}).Where("role = ?", "customer").Count(&totalMembers)

	var issued, redeemed, expired, revoked int64
	h.DB.Model(&models.UserCoupon{}).Count(&issued)
	h.DB.Model(&models.UserCoupon{}).Where("status = ?", models.UserCouponUsed).Count(&redeemed)
	h.DB.Model(&models.UserCoupon{}).Where("status = ?", models.UserCouponExpired).Count(&expired)
	h.DB.Model(&models.UserCoupon{}).Where("status = ?", models.UserCouponRevoked).Count(&revoked)

	conversionRate := 0.0
	if issued > 0 {
		conversionRate = float64(redeemed) / float64(issued) * 100
	}

	type pointsRow struct {
		Earned   int
		Redeemed int
		Expired  int
	}
	var points pointsRow
	h.DB.Model(&models.PointsTransaction{}).
		Select(`
			COALESCE(SUM(CASE WHEN points > 0 AND type != ? THEN points ELSE 0 END), 0) AS earned,
			COALESCE(SUM(CASE WHEN type IN (?, ?) THEN -points ELSE 0 END), 0) AS redeemed,
			COALESCE(SUM(CASE WHEN type = ? THEN -points ELSE 0 END), 0) AS expired`,
			models.PointsExpired,
			models.PointsRedeemedCoupon, models.PointsAdminDeduction,
			models.PointsExpired).
		Scan(&points)

	type topCoupon struct {
		CouponID    string `json:"coupon_id"`
		Code        string `json:"code"`
		Name        string `json:"name"`
		Redemptions int64  `json:"redemptions"`
	}
	var topCoupons []topCoupon
	h.DB.Model(&models.CouponRedemption{}).
		Select("coupon_redemptions.coupon_id, coupons.code, coupons.name, COUNT(*) as redemptions").
		Joins("JOIN coupons ON coupons.id = coupon_redemptions.coupon_id").
		Group("coupon_redemptions.coupon_id, coupons.code, coupons.name").
		Order("redemptions DESC").
		Limit(5).
		Scan(&topCoupons)

	var totalDiscount float64
	h.DB.Model(&models.CouponRedemption{}).
		Select("COALESCE(SUM(discount_amount), 0)").
		Scan(&totalDiscount)

	c.JSON(http.StatusOK, gin.H{
		"members": gin.H{
			"total": totalMembers,
		},
		"coupons": gin.H{
			"issued":          issued,
			"redeemed":        redeemed,
			"expired":         expired,
			"revoked":         revoked,
			"conversion_rate": conversionRate,
			"total_discount":  totalDiscount,
			"top_coupons":     topCoupons,
		},
		"points": gin.H{
			"earned":   points.Earned,
			"redeemed": points.Redeemed,
			"expired":  points.Expired,
		},
	})
}
