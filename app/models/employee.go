package models

import (
	"time"

	"gorm.io/gorm"
)

// Employee represents an employee/user of the system.
type Employee struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Username    string         `gorm:"unique;not null" json:"username"`
	PIN         string         `json:"-"`    // bcrypt hash of the quick access PIN
	Role        string         `json:"role"` // "admin", "cashier", "waiter", "kitchen"
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
