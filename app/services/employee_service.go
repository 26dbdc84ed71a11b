package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// ErrInvalidPIN is returned when PIN verification fails.
var ErrInvalidPIN = errors.New("invalid PIN")

// EmployeeService handles employee lookups and PIN verification.
type EmployeeService struct {
	db *gorm.DB
}

// NewEmployeeService creates a new employee service.
func NewEmployeeService(db *gorm.DB) *EmployeeService {
	return &EmployeeService{db: db}
}

// GetEmployees gets all active employees.
func (s *EmployeeService) GetEmployees(ctx context.Context) ([]models.Employee, error) {
	var employees []models.Employee
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&employees).Error
	return employees, err
}

// CreateEmployee creates an employee with a hashed PIN.
func (s *EmployeeService) CreateEmployee(ctx context.Context, employee *models.Employee, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN: %w", err)
	}
	employee.PIN = string(hash)
	return s.db.WithContext(ctx).Create(employee).Error
}

// SetPIN replaces an employee's PIN.
func (s *EmployeeService) SetPIN(ctx context.Context, employeeID uint, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN: %w", err)
	}
	return s.db.WithContext(ctx).Model(&models.Employee{}).
		Where("id = ?", employeeID).Update("pin", string(hash)).Error
}

// VerifyPIN checks a PIN against an active employee and records the
// login time.
func (s *EmployeeService) VerifyPIN(ctx context.Context, username, pin string) (*models.Employee, error) {
	var employee models.Employee
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_active = ?", username, true).
		First(&employee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidPIN
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(employee.PIN), []byte(pin)) != nil {
		return nil, ErrInvalidPIN
	}

	now := time.Now().UTC()
	employee.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(&employee).Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	return &employee, nil
}

// GenerateLoginQR renders the waiter-app pairing QR for an employee.
func (s *EmployeeService) GenerateLoginQR(ctx context.Context, employeeID uint, serverURL string) ([]byte, error) {
	var employee models.Employee
	if err := s.db.WithContext(ctx).First(&employee, employeeID).Error; err != nil {
		return nil, err
	}
	payload := fmt.Sprintf("%s/pair?user=%s", serverURL, employee.Username)
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login QR: %w", err)
	}
	return png, nil
}
