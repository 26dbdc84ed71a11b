package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// ProductService handles product and recipe operations.
type ProductService struct {
	db *gorm.DB
}

// NewProductService creates a new product service.
func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{db: db}
}

// GetProducts gets all active products with their categories.
func (s *ProductService) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).Preload("Category").
		Where("is_active = ?", true).Order("name").Find(&products).Error
	return products, err
}

// GetProduct gets a product by id.
func (s *ProductService) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Preload("Category").First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateProduct creates a new product.
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) error {
	return s.db.WithContext(ctx).Create(product).Error
}

// UpdateProduct updates a product.
func (s *ProductService) UpdateProduct(ctx context.Context, product *models.Product) error {
	return s.db.WithContext(ctx).Save(product).Error
}

// DeleteProduct soft deletes a product.
func (s *ProductService) DeleteProduct(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Product{}, id).Error
}

// GetRecipe gets the ingredient lines for a product.
func (s *ProductService) GetRecipe(ctx context.Context, productID uint) ([]models.ProductIngredient, error) {
	var recipe []models.ProductIngredient
	err := s.db.WithContext(ctx).Preload("Ingredient").
		Where("product_id = ?", productID).Find(&recipe).Error
	return recipe, err
}

// SetRecipe replaces the ingredient lines for a product.
func (s *ProductService) SetRecipe(ctx context.Context, productID uint, lines []models.ProductIngredient) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&models.ProductIngredient{}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].ID = 0
			lines[i].ProductID = productID
			if err := tx.Create(&lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCategories gets all active categories in display order.
func (s *ProductService) GetCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := s.db.WithContext(ctx).Where("is_active = ?", true).
		Order("display_order, name").Find(&categories).Error
	return categories, err
}
