package database

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/config"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

var db *gorm.DB

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return db
}

// Initialize sets up the database connection from the app config:
// PostgreSQL for deployments, the CGO-free SQLite driver when a file
// path (or :memory:) is configured for development.
func Initialize(cfg *config.AppConfig) error {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var err error
	if cfg.Database.SQLitePath != "" {
		db, err = gorm.Open(sqlite.Open(cfg.Database.SQLitePath), gormConfig)
	} else {
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN()), gormConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.SQLitePath == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := SeedInitialData(db); err != nil {
		log.Printf("Warning: failed to seed initial data: %v", err)
	}

	return nil
}

// OpenForTest opens an isolated in-memory database with migrations
// applied, without touching the package-level connection.
func OpenForTest() (*gorm.DB, error) {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(testDB); err != nil {
		return nil, err
	}
	return testDB, nil
}

// RunMigrations creates or updates the schema.
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		// Product models
		&models.Category{},
		&models.Product{},

		// Ingredient models
		&models.Ingredient{},
		&models.ProductIngredient{},
		&models.IngredientMovement{},

		// Employee models
		&models.Employee{},

		// Order models
		&models.Table{},
		&models.Order{},
		&models.OrderItem{},

		// Sale models
		&models.PaymentMethod{},
		&models.Sale{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	createIndexes(db)
	return nil
}

// createIndexes creates indexes for the hot query paths.
func createIndexes(db *gorm.DB) {
	db.Exec("CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_orders_kitchen_state ON orders(kitchen_state)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_order_items_state ON order_items(state)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at)")
}

// SeedInitialData seeds the defaults a fresh venue needs.
func SeedInitialData(db *gorm.DB) error {
	paymentMethods := []models.PaymentMethod{
		{Name: "Efectivo", Type: "cash", IsActive: true, DisplayOrder: 1},
		{Name: "Tarjeta Débito", Type: "card", IsActive: true, DisplayOrder: 2},
		{Name: "Tarjeta Crédito", Type: "card", IsActive: true, DisplayOrder: 3},
		{Name: "Transferencia", Type: "digital", IsActive: true, DisplayOrder: 4},
	}
	for _, pm := range paymentMethods {
		var count int64
		db.Model(&models.PaymentMethod{}).Where("name = ?", pm.Name).Count(&count)
		if count == 0 {
			db.Create(&pm)
		}
	}

	categories := []models.Category{
		{Name: "Entradas", Description: "Platos de entrada", Color: "#FF6B6B", DisplayOrder: 1, IsActive: true},
		{Name: "Platos Principales", Description: "Platos principales", Color: "#4ECDC4", DisplayOrder: 2, IsActive: true},
		{Name: "Bebidas", Description: "Bebidas y refrescos", Color: "#45B7D1", DisplayOrder: 3, IsActive: true},
		{Name: "Postres", Description: "Postres y dulces", Color: "#FFA07A", DisplayOrder: 4, IsActive: true},
	}
	for _, cat := range categories {
		var count int64
		db.Model(&models.Category{}).Where("name = ?", cat.Name).Count(&count)
		if count == 0 {
			db.Create(&cat)
		}
	}

	return nil
}

// Close closes the database connection.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
