package handlers

import (
	"net/http"
	"strconv"
	"time"

	"loyalty-backend/config"
	"loyalty-backend/models"
	"loyalty-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PointsHandler is the ledger engine. The points_transactions table is
// append-only; balances are always derived by summing it, never cached.
type PointsHandler struct {
	DB *gorm.DB
}

const defaultPointsExpiryDays = 365
const expiringSoonDays = 30

// activeBalance computes the spendable balance on the supplied handle so
// callers inside a transaction see the transaction's own view. Positive
// entries past expiry that the sweeper has not yet offset are excluded;
// once a compensating entry exists, the pair cancels out in the plain sum.
func activeBalance(db *gorm.DB, userID uuid.UUID, now time.Time) (int, error) {
	var total int
	err := db.Model(&models.PointsTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}

	var unsweptExpired int
	err = db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND points > 0 AND expires_at IS NOT NULL AND expires_at <= ?", userID, now).
		Where("id NOT IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&models.PointsTransaction{}).
			Select("source_transaction_id").
			Where("source_transaction_id IS NOT NULL")).
		Select("COALESCE(SUM(points), 0)").
		Scan(&unsweptExpired).Error
	if err != nil {
		return 0, err
	}

	return total - unsweptExpired, nil
}

// AwardPoints appends an earning entry. Admin only.
func (h *PointsHandler) AwardPoints(c *gin.Context) {
	adminID, _ := c.Get("user_id")

	var req struct {
		UserID        string `json:"user_id" binding:"required"`
		Points        int    `json:"points" binding:"required,gt=0"`
		Type          string `json:"type" binding:"required"`
		Description   string `json:"description" binding:"required"`
		AdminReason   string `json:"admin_reason"`
		ExpiresInDays *int   `json:"expires_in_days"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return
	}

	txType := models.PointsTransactionType(req.Type)
	if !txType.IsCredit() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid award type"})
		return
	}

	var user models.User
	if err := h.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if req.ExpiresInDays != nil && *req.ExpiresInDays <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in_days must be positive"})
		return
	}

	// Explicit expiry wins; promotional types expire by default, stay
	// credits and admin awards do not.
	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		t := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &t
	} else if txType.Expires() {
		days := config.GetEnvInt("POINTS_EXPIRY_DAYS", defaultPointsExpiryDays)
		t := time.Now().AddDate(0, 0, days)
		expiresAt = &t
	}

	adminUUID := adminID.(uuid.UUID)
	entry := models.PointsTransaction{
		UserID:      userID,
		Points:      req.Points,
		Type:        txType,
		Description: req.Description,
		AdminUserID: &adminUUID,
		AdminReason: req.AdminReason,
		ExpiresAt:   expiresAt,
	}

	if err := h.DB.Create(&entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to award points"})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// DeductPoints appends a negative entry after validating the balance
// inside the same transaction. The user row is locked first so two
// concurrent deductions cannot both validate against a stale balance.
func (h *PointsHandler) DeductPoints(c *gin.Context) {
	adminID, _ := c.Get("user_id")

	var req struct {
		UserID      string `json:"user_id" binding:"required"`
		Points      int    `json:"points" binding:"required,gt=0"`
		Type        string `json:"type"`
		Description string `json:"description" binding:"required"`
		AdminReason string `json:"admin_reason"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return
	}

	txType := models.PointsTransactionType(req.Type)
	if req.Type == "" {
		txType = models.PointsAdminDeduction
	}
	if !txType.IsDebit() || txType == models.PointsExpired {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deduction type"})
		return
	}

	tx := h.DB.Begin()

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).First(&user).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	balance, err := activeBalance(tx, userID, time.Now())
	if err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute balance"})
		return
	}

	if balance < req.Points {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient points"})
		return
	}

	adminUUID := adminID.(uuid.UUID)
	entry := models.PointsTransaction{
		UserID:      userID,
		Points:      -req.Points,
		Type:        txType,
		Description: req.Description,
		AdminUserID: &adminUUID,
		AdminReason: req.AdminReason,
	}

	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deduct points"})
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deduct points"})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// summarizePoints builds the balance view plus the derived tier. Tier is
// resolved fresh on every call; nothing caches it across mutations.
func (h *PointsHandler) summarizePoints(userID uuid.UUID) (gin.H, error) {
	now := time.Now()

	var entries []models.PointsTransaction
	if err := h.DB.Where("user_id = ?", userID).Find(&entries).Error; err != nil {
		return nil, err
	}

	compensated := make(map[uuid.UUID]bool)
	for _, e := range entries {
		if e.SourceTransactionID != nil {
			compensated[*e.SourceTransactionID] = true
		}
	}

	summary := models.PointsSummary{}
	var soonestExpiry *time.Time
	horizon := now.AddDate(0, 0, expiringSoonDays)

	for _, e := range entries {
		summary.TotalPoints += e.Points
		summary.ActivePoints += e.Points

		// Expired-but-unswept positives are not spendable; once swept,
		// the compensating entry subtracts them from the plain sum.
		if e.Points > 0 && e.ExpiresAt != nil && !e.ExpiresAt.After(now) && !compensated[e.ID] {
			summary.ActivePoints -= e.Points
		}

		if e.Points > 0 && e.ExpiresAt != nil && e.ExpiresAt.After(now) && !e.ExpiresAt.After(horizon) {
			summary.ExpiringPoints += e.Points
			if soonestExpiry == nil || e.ExpiresAt.Before(*soonestExpiry) {
				t := *e.ExpiresAt
				soonestExpiry = &t
			}
		}

		switch {
		case e.Type.IsCredit():
			summary.Breakdown.Earned += e.Points
		case e.Type == models.PointsRedeemedCoupon || e.Type == models.PointsAdminDeduction:
			summary.Breakdown.Redeemed += -e.Points
		case e.Type == models.PointsExpired:
			summary.Breakdown.Expired += -e.Points
		default:
			summary.Breakdown.Adjusted += e.Points
		}
	}
	summary.ExpirationDate = soonestExpiry

	var tiers []models.LoyaltyTier
	if err := h.DB.Find(&tiers).Error; err != nil {
		return nil, err
	}

	result := gin.H{
		"total_points":    summary.TotalPoints,
		"active_points":   summary.ActivePoints,
		"expiring_points": summary.ExpiringPoints,
		"expiration_date": summary.ExpirationDate,
		"breakdown":       summary.Breakdown,
	}

	tier := models.ResolveTier(tiers, summary.ActivePoints)
	if tier != nil {
		tierInfo := gin.H{
			"name":       tier.Name,
			"level":      tier.Level,
			"min_points": tier.MinPoints,
			"max_points": tier.MaxPoints,
			"benefits":   tier.Benefits,
		}
		if next := models.NextTier(tiers, tier); next != nil {
			tierInfo["next_tier"] = next.Name
			tierInfo["points_to_next_tier"] = next.MinPoints - summary.ActivePoints
		}
		result["tier"] = tierInfo
	}

	return result, nil
}

// GetMyPoints returns the caller's balance breakdown and derived tier.
func (h *PointsHandler) GetMyPoints(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	result, err := h.summarizePoints(userID.(uuid.UUID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate points"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetUserPoints is the admin view of any user's balance breakdown.
func (h *PointsHandler) GetUserPoints(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	var user models.User
	if err := h.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	result, err := h.summarizePoints(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate points"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetHistory returns the caller's ledger page, newest first. The id
// tie-break keeps pagination stable when entries share a timestamp.
func (h *PointsHandler) GetHistory(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	h.DB.Model(&models.PointsTransaction{}).Where("user_id = ?", userID).Count(&total)

	var entries []models.PointsTransaction
	if err := h.DB.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": entries,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetTiers lists the tier bands, lowest first.
func (h *PointsHandler) GetTiers(c *gin.Context) {
	var tiers []models.LoyaltyTier
	if err := h.DB.Order("level ASC").Find(&tiers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tiers"})
		return
	}

	c.JSON(http.StatusOK, tiers)
}
