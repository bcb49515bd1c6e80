package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"loyalty-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", "test-secret-for-routes")
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS "users" (
			"id" TEXT PRIMARY KEY, "email" TEXT NOT NULL UNIQUE, "password" TEXT NOT NULL,
			"name" TEXT, "role" TEXT DEFAULT 'customer', "membership_number" TEXT NOT NULL UNIQUE,
			"phone" TEXT, "is_blocked" INTEGER DEFAULT 0,
			"created_at" DATETIME, "updated_at" DATETIME, "deleted_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "loyalty_tiers" (
			"id" TEXT PRIMARY KEY, "name" TEXT NOT NULL UNIQUE, "level" INTEGER NOT NULL UNIQUE,
			"min_points" INTEGER NOT NULL, "max_points" INTEGER, "benefits" TEXT,
			"created_at" DATETIME, "updated_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "points_transactions" (
			"id" TEXT PRIMARY KEY, "user_id" TEXT NOT NULL, "points" INTEGER NOT NULL,
			"type" TEXT NOT NULL, "description" TEXT, "admin_user_id" TEXT, "admin_reason" TEXT,
			"source_transaction_id" TEXT UNIQUE, "expires_at" DATETIME, "created_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "coupons" (
			"id" TEXT PRIMARY KEY, "code" TEXT NOT NULL UNIQUE, "name" TEXT NOT NULL,
			"description" TEXT, "terms_and_conditions" TEXT, "type" TEXT NOT NULL,
			"value" REAL DEFAULT 0, "currency" TEXT DEFAULT 'THB', "minimum_spend" REAL,
			"maximum_discount" REAL, "valid_from" DATETIME, "valid_until" DATETIME,
			"usage_limit" INTEGER, "usage_limit_per_user" INTEGER DEFAULT 1,
			"used_count" INTEGER DEFAULT 0, "tier_restrictions" TEXT, "status" TEXT DEFAULT 'draft',
			"created_by" TEXT, "created_at" DATETIME, "updated_at" DATETIME, "deleted_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "user_coupons" (
			"id" TEXT PRIMARY KEY, "user_id" TEXT NOT NULL, "coupon_id" TEXT NOT NULL,
			"status" TEXT DEFAULT 'available', "qr_code" TEXT NOT NULL UNIQUE,
			"used_at" DATETIME, "used_by_admin" TEXT, "redemption_location" TEXT,
			"assigned_by" TEXT, "assigned_reason" TEXT, "revoked_reason" TEXT,
			"expires_at" DATETIME, "created_at" DATETIME, "updated_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "coupon_redemptions" (
			"id" TEXT PRIMARY KEY, "user_coupon_id" TEXT NOT NULL UNIQUE,
			"user_id" TEXT NOT NULL, "coupon_id" TEXT NOT NULL,
			"original_amount" REAL NOT NULL, "discount_amount" REAL NOT NULL,
			"final_amount" REAL NOT NULL, "currency" TEXT DEFAULT 'THB',
			"transaction_reference" TEXT, "channel" TEXT DEFAULT 'pos',
			"staff_member_id" TEXT, "location" TEXT, "metadata" TEXT, "created_at" DATETIME
		)`,
	}
	for _, sql := range tables {
		if err := db.Exec(sql).Error; err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := setupTestDB(t)
	r := gin.New()
	SetupRoutes(r, db)
	return r, db
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPublicTiersRoute(t *testing.T) {
	r, _ := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/loyalty/tiers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	r, _ := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/loyalty/points", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminRouteBlocksNonAdmin(t *testing.T) {
	r, _ := setupRouter(t)
	token, _ := utils.GenerateToken(uuid.New(), "user@test.com", "customer")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/admin/coupons", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRedeemRouteBlocksCustomers(t *testing.T) {
	r, _ := setupRouter(t)
	token, _ := utils.GenerateToken(uuid.New(), "user@test.com", "customer")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/coupons/redeem", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
