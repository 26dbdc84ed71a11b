package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// IngredientService handles ingredient stock and recipe lookups.
type IngredientService struct {
	db *gorm.DB
}

// NewIngredientService creates a new ingredient service.
func NewIngredientService(db *gorm.DB) *IngredientService {
	return &IngredientService{db: db}
}

// GetIngredients gets all active ingredients.
func (s *IngredientService) GetIngredients(ctx context.Context) ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&ingredients).Error
	return ingredients, err
}

// CreateIngredient creates a new ingredient.
func (s *IngredientService) CreateIngredient(ctx context.Context, ingredient *models.Ingredient) error {
	return s.db.WithContext(ctx).Create(ingredient).Error
}

// UpdateIngredient updates an ingredient.
func (s *IngredientService) UpdateIngredient(ctx context.Context, ingredient *models.Ingredient) error {
	return s.db.WithContext(ctx).Save(ingredient).Error
}

// AdjustStock changes an ingredient's stock and records the movement.
func (s *IngredientService) AdjustStock(ctx context.Context, ingredientID uint, delta float64, movementType, reference string, employeeID *uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.adjustStockTx(tx, ingredientID, delta, movementType, reference, employeeID)
	})
}

// DeductForItems consumes recipe ingredients for items committed to the
// kitchen. Stock shortages are reported as warnings, never as failures:
// the kitchen send must not be blocked by bookkeeping.
func (s *IngredientService) DeductForItems(tx *gorm.DB, items []models.OrderItem, orderID string) []string {
	var warnings []string
	for _, item := range items {
		var recipe []models.ProductIngredient
		if err := tx.Where("product_id = ?", item.ProductID).Find(&recipe).Error; err != nil {
			warnings = append(warnings, fmt.Sprintf("recipe lookup for product %d failed: %v", item.ProductID, err))
			continue
		}
		for _, line := range recipe {
			// Excluded ingredients are not prepared, so not consumed.
			if containsUint(item.ExcludedIngredients, line.IngredientID) {
				continue
			}
			amount := line.Quantity * float64(item.Quantity)
			reference := fmt.Sprintf("Order %s", orderID)
			if err := s.adjustStockTx(tx, line.IngredientID, -amount, "sale", reference, nil); err != nil {
				warnings = append(warnings, fmt.Sprintf("ingredient %d deduction failed: %v", line.IngredientID, err))
			}
		}
	}
	return warnings
}

func (s *IngredientService) adjustStockTx(tx *gorm.DB, ingredientID uint, delta float64, movementType, reference string, employeeID *uint) error {
	var ingredient models.Ingredient
	if err := tx.First(&ingredient, ingredientID).Error; err != nil {
		return err
	}

	previous := ingredient.Stock
	ingredient.Stock += delta
	if err := tx.Save(&ingredient).Error; err != nil {
		return err
	}

	movement := models.IngredientMovement{
		IngredientID: ingredientID,
		Type:         movementType,
		Quantity:     delta,
		PreviousQty:  previous,
		NewQty:       ingredient.Stock,
		Reference:    reference,
		EmployeeID:   employeeID,
	}
	return tx.Create(&movement).Error
}

func containsUint(set models.UintSet, v uint) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
