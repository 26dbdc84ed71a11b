package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// ReportsService builds the sales summaries the back office reads.
type ReportsService struct {
	db *gorm.DB
}

// NewReportsService creates a new reports service.
func NewReportsService(db *gorm.DB) *ReportsService {
	return &ReportsService{db: db}
}

// DailySummary aggregates one day of sales.
type DailySummary struct {
	Date            string             `json:"date"`
	SaleCount       int64              `json:"sale_count"`
	Total           float64            `json:"total"`
	ByPaymentMethod map[string]float64 `json:"by_payment_method"`
}

// GetDailySummary summarizes the sales of the given day.
func (s *ReportsService) GetDailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var sales []models.Sale
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Find(&sales).Error
	if err != nil {
		return nil, err
	}

	summary := &DailySummary{
		Date:            start.Format("2006-01-02"),
		ByPaymentMethod: make(map[string]float64),
	}
	for _, sale := range sales {
		summary.SaleCount++
		summary.Total += sale.Total
		summary.ByPaymentMethod[sale.PaymentMethod] += sale.Total
	}
	return summary, nil
}

// GetSalesByRange returns the raw sales in a date range, newest first.
func (s *ReportsService) GetSalesByRange(ctx context.Context, start, end time.Time) ([]models.Sale, error) {
	var sales []models.Sale
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at DESC").
		Find(&sales).Error
	return sales, err
}
