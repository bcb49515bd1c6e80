package sweeper

import (
	"os"
	"testing"
	"time"

	"loyalty-backend/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	var err error
	testDB, err = gorm.Open(sqlite.Open("file:sweeperdb?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	sqlDB, _ := testDB.DB()
	sqlDB.SetMaxOpenConns(1)

	// Raw DDL because the GORM model tags carry PostgreSQL-specific defaults.
	tables := []string{
		`CREATE TABLE IF NOT EXISTS "users" (
			"id" TEXT PRIMARY KEY,
			"email" TEXT NOT NULL UNIQUE,
			"password" TEXT NOT NULL,
			"name" TEXT,
			"role" TEXT DEFAULT 'customer',
			"membership_number" TEXT NOT NULL UNIQUE,
			"phone" TEXT,
			"is_blocked" INTEGER DEFAULT 0,
			"created_at" DATETIME,
			"updated_at" DATETIME,
			"deleted_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "points_transactions" (
			"id" TEXT PRIMARY KEY,
			"user_id" TEXT NOT NULL,
			"points" INTEGER NOT NULL,
			"type" TEXT NOT NULL,
			"description" TEXT,
			"admin_user_id" TEXT,
			"admin_reason" TEXT,
			"source_transaction_id" TEXT UNIQUE,
			"expires_at" DATETIME,
			"created_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "coupons" (
			"id" TEXT PRIMARY KEY,
			"code" TEXT NOT NULL UNIQUE,
			"name" TEXT NOT NULL,
			"description" TEXT,
			"terms_and_conditions" TEXT,
			"type" TEXT NOT NULL,
			"value" REAL DEFAULT 0,
			"currency" TEXT DEFAULT 'THB',
			"minimum_spend" REAL,
			"maximum_discount" REAL,
			"valid_from" DATETIME,
			"valid_until" DATETIME,
			"usage_limit" INTEGER,
			"usage_limit_per_user" INTEGER DEFAULT 1,
			"used_count" INTEGER DEFAULT 0,
			"tier_restrictions" TEXT,
			"status" TEXT DEFAULT 'draft',
			"created_by" TEXT,
			"created_at" DATETIME,
			"updated_at" DATETIME,
			"deleted_at" DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS "user_coupons" (
			"id" TEXT PRIMARY KEY,
			"user_id" TEXT NOT NULL,
			"coupon_id" TEXT NOT NULL,
			"status" TEXT DEFAULT 'available',
			"qr_code" TEXT NOT NULL UNIQUE,
			"used_at" DATETIME,
			"used_by_admin" TEXT,
			"redemption_location" TEXT,
			"assigned_by" TEXT,
			"assigned_reason" TEXT,
			"revoked_reason" TEXT,
			"expires_at" DATETIME,
			"created_at" DATETIME,
			"updated_at" DATETIME
		)`,
	}
	for _, sql := range tables {
		if err := testDB.Exec(sql).Error; err != nil {
			panic("failed to migrate test database: " + err.Error())
		}
	}

	os.Exit(m.Run())
}

func freshDB() *gorm.DB {
	testDB.Exec("DELETE FROM user_coupons")
	testDB.Exec("DELETE FROM coupons")
	testDB.Exec("DELETE FROM points_transactions")
	testDB.Exec("DELETE FROM users")
	return testDB
}

func seedUser(db *gorm.DB) models.User {
	user := models.User{
		ID:       uuid.New(),
		Email:    "guest-" + uuid.New().String()[:8] + "@test.com",
		Password: "x",
	}
	db.Create(&user)
	return user
}

func seedEntry(db *gorm.DB, userID uuid.UUID, points int, expiresAt *time.Time) models.PointsTransaction {
	entry := models.PointsTransaction{
		ID:        uuid.New(),
		UserID:    userID,
		Points:    points,
		Type:      models.PointsBonus,
		ExpiresAt: expiresAt,
	}
	db.Create(&entry)
	return entry
}

func TestExpirePointsWritesCompensation(t *testing.T) {
	db := freshDB()
	user := seedUser(db)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expired := seedEntry(db, user.ID, 300, &past)
	seedEntry(db, user.ID, 200, &future)
	seedEntry(db, user.ID, 500, nil)

	entries, points, err := New(db).ExpirePoints()
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if entries != 1 || points != 300 {
		t.Errorf("expected 1 entry / 300 points expired, got %d / %d", entries, points)
	}

	var compensation models.PointsTransaction
	if err := db.Where("source_transaction_id = ?", expired.ID).First(&compensation).Error; err != nil {
		t.Fatalf("compensating entry missing: %v", err)
	}
	if compensation.Points != -300 || compensation.Type != models.PointsExpired {
		t.Errorf("unexpected compensation: %+v", compensation)
	}

	// The ledger sums to the active balance after the sweep
	var total int
	db.Model(&models.PointsTransaction{}).
		Where("user_id = ?", user.ID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total)
	if total != 700 {
		t.Errorf("expected post-sweep sum 700, got %d", total)
	}
}

func TestExpirePointsIsIdempotent(t *testing.T) {
	db := freshDB()
	user := seedUser(db)
	past := time.Now().Add(-time.Hour)
	seedEntry(db, user.ID, 300, &past)

	sw := New(db)
	if _, _, err := sw.ExpirePoints(); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	entries, points, err := sw.ExpirePoints()
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if entries != 0 || points != 0 {
		t.Errorf("second sweep must be a no-op, got %d entries / %d points", entries, points)
	}

	var count int64
	db.Model(&models.PointsTransaction{}).
		Where("user_id = ? AND type = ?", user.ID, models.PointsExpired).
		Count(&count)
	if count != 1 {
		t.Errorf("expected exactly 1 compensation, got %d", count)
	}
}

func TestExpireUserCouponsFlipsOnlyAvailable(t *testing.T) {
	db := freshDB()
	user := seedUser(db)
	past := time.Now().Add(-time.Hour)

	coupon := models.Coupon{
		ID:        uuid.New(),
		Code:      "SWEEP",
		Name:      "Sweep target",
		Type:      models.CouponFixedAmount,
		Value:     10,
		ValidFrom: time.Now().Add(-48 * time.Hour),
		Status:    models.CouponStatusActive,
	}
	db.Create(&coupon)

	stale := models.UserCoupon{
		ID: uuid.New(), UserID: user.ID, CouponID: coupon.ID,
		Status: models.UserCouponAvailable, QRCode: "QR-1", ExpiresAt: &past,
	}
	used := models.UserCoupon{
		ID: uuid.New(), UserID: user.ID, CouponID: coupon.ID,
		Status: models.UserCouponUsed, QRCode: "QR-2", ExpiresAt: &past,
	}
	live := models.UserCoupon{
		ID: uuid.New(), UserID: user.ID, CouponID: coupon.ID,
		Status: models.UserCouponAvailable, QRCode: "QR-3",
	}
	db.Create(&stale)
	db.Create(&used)
	db.Create(&live)

	flipped, err := New(db).ExpireUserCoupons()
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if flipped != 1 {
		t.Errorf("expected 1 instance flipped, got %d", flipped)
	}

	var check models.UserCoupon
	db.First(&check, "id = ?", stale.ID)
	if check.Status != models.UserCouponExpired {
		t.Errorf("stale instance should be expired, got %s", check.Status)
	}
	check = models.UserCoupon{}
	db.First(&check, "id = ?", used.ID)
	if check.Status != models.UserCouponUsed {
		t.Errorf("used instance must not change, got %s", check.Status)
	}
	check = models.UserCoupon{}
	db.First(&check, "id = ?", live.ID)
	if check.Status != models.UserCouponAvailable {
		t.Errorf("live instance must not change, got %s", check.Status)
	}
}

func TestExpireUserCouponsViaTemplateWindow(t *testing.T) {
	db := freshDB()
	user := seedUser(db)
	past := time.Now().Add(-time.Hour)

	coupon := models.Coupon{
		ID:         uuid.New(),
		Code:       "WINDOW",
		Name:       "Closed window",
		Type:       models.CouponFixedAmount,
		Value:      10,
		ValidFrom:  time.Now().Add(-48 * time.Hour),
		ValidUntil: &past,
		Status:     models.CouponStatusActive,
	}
	db.Create(&coupon)

	// No instance-level expiry; the template window governs
	instance := models.UserCoupon{
		ID: uuid.New(), UserID: user.ID, CouponID: coupon.ID,
		Status: models.UserCouponAvailable, QRCode: "QR-W",
	}
	db.Create(&instance)

	flipped, err := New(db).ExpireUserCoupons()
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if flipped != 1 {
		t.Errorf("expected 1 instance flipped via template window, got %d", flipped)
	}
}

func TestExpireCouponTemplates(t *testing.T) {
	db := freshDB()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	over := models.Coupon{
		ID: uuid.New(), Code: "OVER", Name: "Over", Type: models.CouponFixedAmount,
		ValidFrom: time.Now().Add(-48 * time.Hour), ValidUntil: &past,
		Status: models.CouponStatusActive,
	}
	open := models.Coupon{
		ID: uuid.New(), Code: "OPEN", Name: "Open", Type: models.CouponFixedAmount,
		ValidFrom: time.Now().Add(-48 * time.Hour), ValidUntil: &future,
		Status: models.CouponStatusActive,
	}
	db.Create(&over)
	db.Create(&open)

	flipped, err := New(db).ExpireCoupons()
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if flipped != 1 {
		t.Errorf("expected 1 template expired, got %d", flipped)
	}

	var check models.Coupon
	db.First(&check, "id = ?", over.ID)
	if check.Status != models.CouponStatusExpired {
		t.Errorf("expected expired, got %s", check.Status)
	}
	check = models.Coupon{}
	db.First(&check, "id = ?", open.ID)
	if check.Status != models.CouponStatusActive {
		t.Errorf("open template must stay active, got %s", check.Status)
	}
}

func TestRunAggregatesAllPhases(t *testing.T) {
	db := freshDB()
	user := seedUser(db)
	past := time.Now().Add(-time.Hour)
	seedEntry(db, user.ID, 150, &past)

	result, err := New(db).Run()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.PointsExpired != 150 {
		t.Errorf("expected 150 points expired, got %d", result.PointsExpired)
	}
}
