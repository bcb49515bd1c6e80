package routes

import (
	"time"

	"loyalty-backend/handlers"
	"loyalty-backend/middleware"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func SetupRoutes(r *gin.Engine, db *gorm.DB) {
	// Initialize handlers
	authHandler := &handlers.AuthHandler{DB: db}
	pointsHandler := &handlers.PointsHandler{DB: db}
	couponHandler := &handlers.CouponHandler{DB: db}
	redemptionHandler := &handlers.RedemptionHandler{DB: db}
	statsHandler := &handlers.StatsHandler{DB: db}
	adminHandler := &handlers.AdminHandler{DB: db}

	// POS terminals poll validation aggressively; keep a lid on it.
	redeemLimiter := middleware.NewRateLimiter(60, time.Minute)

	// Public routes
	api := r.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)

		// Tier bands are public marketing material
		api.GET("/loyalty/tiers", pointsHandler.GetTiers)
	}

	// Protected routes (require authentication)
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/auth/profile", authHandler.GetProfile)

		// Points routes
		protected.GET("/loyalty/points", pointsHandler.GetMyPoints)
		protected.GET("/loyalty/points/history", pointsHandler.GetHistory)

		// Member coupon wallet
		protected.GET("/coupons/my", couponHandler.GetMyCoupons)
	}

	// Staff routes (staff or admin role)
	staff := api.Group("")
	staff.Use(middleware.AuthMiddleware(), middleware.StaffMiddleware())
	{
		staff.GET("/coupons/validate/:qrCode", redemptionHandler.ValidateCoupon)
		staff.POST("/coupons/redeem", redeemLimiter.Middleware(), redemptionHandler.RedeemCoupon)
	}

	// Admin routes (require admin role)
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		// Member management
		admin.GET("/users", adminHandler.ListUsers)
		admin.GET("/users/:id/points", pointsHandler.GetUserPoints)
		admin.POST("/loyalty/points/award", pointsHandler.AwardPoints)
		admin.POST("/loyalty/points/deduct", pointsHandler.DeductPoints)

		// Coupon template management
		admin.POST("/coupons", couponHandler.CreateCoupon)
		admin.GET("/coupons", couponHandler.ListCoupons)
		admin.PUT("/coupons/:id", couponHandler.UpdateCoupon)
		admin.POST("/coupons/:id/assign", couponHandler.AssignCoupon)
		admin.POST("/user-coupons/:id/revoke", couponHandler.RevokeUserCoupon)

		// Reporting and operations
		admin.GET("/redemptions", redemptionHandler.GetRedemptionHistory)
		admin.GET("/loyalty/stats", statsHandler.GetLoyaltyStats)
		admin.POST("/loyalty/expire", adminHandler.TriggerSweep)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
