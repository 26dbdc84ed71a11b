package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMethod represents an accepted payment method.
type PaymentMethod struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"not null;unique" json:"name"`
	Type         string         `json:"type"` // "cash", "card", "digital"
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	DisplayOrder int            `json:"display_order"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Sale is the finalization record written when an order is paid.
type Sale struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	OrderID       string     `gorm:"index;not null" json:"order_id"`
	Order         *Order     `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	ReceiptURL    string     `json:"receipt_url,omitempty"`
	EmployeeID    *uint      `gorm:"index" json:"employee_id,omitempty"`
	Employee      *Employee  `gorm:"foreignKey:EmployeeID" json:"employee,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
