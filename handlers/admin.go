package handlers

import (
	"net/http"
	"strconv"

	"loyalty-backend/models"
	"loyalty-backend/sweeper"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AdminHandler struct {
	DB *gorm.DB
}

// TriggerSweep runs the expiration sweep on demand. The scheduled run and
// this endpoint share the same idempotent implementation, so overlap is
// harmless.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	result, err := sweeper.New(h.DB).Run()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Sweep finished with errors",
			"partial": result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListUsers pages through members for the admin console.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := h.DB.Model(&models.User{})
	if search := c.Query("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("email LIKE ? OR name LIKE ? OR membership_number LIKE ?", pattern, pattern, pattern)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	query.Count(&total)

	var users []models.User
	if err := query.Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	result := make([]gin.H, 0, len(users))
	for _, u := range users {
		result = append(result, gin.H{
			"id":                u.ID,
			"email":             u.Email,
			"name":              u.Name,
			"role":              u.Role,
			"membership_number": u.MembershipNumber,
			"is_blocked":        u.IsBlocked,
			"created_at":        u.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"users": result,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
