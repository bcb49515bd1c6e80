package database

import (
	"testing"

	"loyalty-backend/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

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
	}
	for _, sql := range tables {
		if err := db.Exec(sql).Error; err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func TestCreateDefaultTiersSeedsContiguousBands(t *testing.T) {
	db := setupTestDB(t)

	if err := CreateDefaultTiers(db); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	var tiers []models.LoyaltyTier
	if err := db.Order("level ASC").Find(&tiers).Error; err != nil {
		t.Fatal(err)
	}
	if len(tiers) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(tiers))
	}

	// Bands are contiguous: each tier's max is the next tier's min
	for i := 0; i < len(tiers)-1; i++ {
		if tiers[i].MaxPoints == nil {
			t.Fatalf("tier %s below the top must have a max", tiers[i].Name)
		}
		if *tiers[i].MaxPoints != tiers[i+1].MinPoints {
			t.Errorf("gap between %s and %s: %d != %d",
				tiers[i].Name, tiers[i+1].Name, *tiers[i].MaxPoints, tiers[i+1].MinPoints)
		}
	}
	if tiers[len(tiers)-1].MaxPoints != nil {
		t.Error("top tier must be unbounded")
	}
	if tiers[0].MinPoints != 0 {
		t.Errorf("lowest tier must start at 0, got %d", tiers[0].MinPoints)
	}
}

func TestCreateDefaultTiersIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := CreateDefaultTiers(db); err != nil {
		t.Fatal(err)
	}
	if err := CreateDefaultTiers(db); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Model(&models.LoyaltyTier{}).Count(&count)
	if count != 4 {
		t.Errorf("expected 4 tiers after double seed, got %d", count)
	}
}

func TestCreateDefaultAdminIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatal(err)
	}
	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)
	if count != 1 {
		t.Errorf("expected 1 admin, got %d", count)
	}
}
