package models

import (
	"time"

	"gorm.io/gorm"
)

// Product represents a product in the menu.
type Product struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Price       float64        `gorm:"not null" json:"price"`
	CategoryID  uint           `json:"category_id"`
	Category    *Category      `json:"category,omitempty"`
	Image       string         `gorm:"type:text" json:"image"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Category represents a product category.
type Category struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"not null;unique" json:"name"`
	Description  string         `json:"description"`
	Color        string         `json:"color"`
	DisplayOrder int            `json:"display_order"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	Products     []Product      `json:"products,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
