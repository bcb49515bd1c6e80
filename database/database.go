package database

import (
	"fmt"
	"log"
	"os"

	"loyalty-backend/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=loyalty port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	// Ensure PostgreSQL has gen_random_uuid() available (pgcrypto extension).
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		return fmt.Errorf("failed to enable pgcrypto extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.LoyaltyTier{},
		&models.PointsTransaction{},
		&models.Coupon{},
		&models.UserCoupon{},
		&models.CouponRedemption{},
	); err != nil {
		return err
	}

	return nil
}

// CreateDefaultTiers seeds the tier bands if the table is empty. The bands
// partition the non-negative balance line with no gaps or overlaps; the
// ledger engine derives tiers from these rows on every read.
func CreateDefaultTiers(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.LoyaltyTier{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	silverMax := 5000
	goldMax := 15000
	bronzeMax := 1000

	tiers := []models.LoyaltyTier{
		{Name: "Bronze", Level: 1, MinPoints: 0, MaxPoints: &bronzeMax,
			Benefits: `["Member rates","Late checkout on request"]`},
		{Name: "Silver", Level: 2, MinPoints: 1000, MaxPoints: &silverMax,
			Benefits: `["Member rates","Welcome drink","Late checkout"]`},
		{Name: "Gold", Level: 3, MinPoints: 5000, MaxPoints: &goldMax,
			Benefits: `["Room upgrade on availability","Breakfast for two","Late checkout"]`},
		{Name: "Platinum", Level: 4, MinPoints: 15000, MaxPoints: nil,
			Benefits: `["Guaranteed upgrade","Executive lounge","Breakfast for two","4pm checkout"]`},
	}

	if err := db.Create(&tiers).Error; err != nil {
		return err
	}

	log.Printf("Seeded %d loyalty tiers", len(tiers))
	return nil
}

func CreateDefaultAdmin(db *gorm.DB) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" {
		adminEmail = "admin@hotel-loyalty.local"
	}
	if adminPassword == "" {
		adminPassword = "admin123"
	}

	var existingUser models.User
	result := db.Where("email = ?", adminEmail).First(&existingUser)
	if result.Error == nil {
		// Admin already exists
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:    adminEmail,
		Password: string(hashedPassword),
		Role:     "admin",
		Name:     "Loyalty Admin",
	}

	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	log.Printf("Default admin created: %s", adminEmail)
	return nil
}
