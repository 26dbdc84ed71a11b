package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/session"
)

// ErrQuantityInvalid rejects a write carrying an item quantity below 1.
var ErrQuantityInvalid = errors.New("item quantity must be at least 1")

// ErrOrderAlreadySent rejects cancellation of an order the kitchen has
// already received.
var ErrOrderAlreadySent = errors.New("order was already sent to kitchen")

// OrderService is the relational implementation of the editing core's
// Backend contract, plus table management.
type OrderService struct {
	db            *gorm.DB
	bus           *pubsub.Bus
	ingredientSvc *IngredientService
}

// NewOrderService creates a new order service.
func NewOrderService(db *gorm.DB, bus *pubsub.Bus) *OrderService {
	return &OrderService{
		db:            db,
		bus:           bus,
		ingredientSvc: NewIngredientService(db),
	}
}

var _ session.Backend = (*OrderService)(nil)

// GetOrder gets an order by id with its items and table.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_items.created_at ASC")
		}).
		Preload("Table").
		Preload("Employee").
		First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrGetOrderForTable returns the table's open order, creating one
// on first access and marking the table seated.
func (s *OrderService) CreateOrGetOrderForTable(ctx context.Context, tableID uint) (*models.Order, error) {
	var table models.Table
	if err := s.db.WithContext(ctx).First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrOrderNotFound
		}
		return nil, err
	}

	if table.CurrentOrderID != nil {
		existing, err := s.GetOrder(ctx, *table.CurrentOrderID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, session.ErrOrderNotFound) {
			return nil, err
		}
		log.Printf("OrderService: table %d pointed at missing order %s, creating a new one",
			tableID, *table.CurrentOrderID)
	}

	order := &models.Order{
		ID:           uuid.NewString(),
		Kind:         models.OrderDineIn,
		TableID:      &table.ID,
		CoverCount:   table.Capacity,
		Status:       models.OrderInProgress,
		KitchenState: models.KitchenNotSent,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Model(&models.Table{}).Where("id = ?", table.ID).Updates(map[string]interface{}{
			"status":           models.TableSeated,
			"current_order_id": order.ID,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create order for table %d: %w", tableID, err)
	}

	s.publishOrdersUpdated(order.ID)
	return s.GetOrder(ctx, order.ID)
}

// CreateTakeawayOrder records a customer self-submitted order. It awaits
// validation before anything is routed to the kitchen.
func (s *OrderService) CreateTakeawayOrder(ctx context.Context, items []models.OrderItem) (*models.Order, error) {
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, ErrQuantityInvalid
		}
	}
	order := &models.Order{
		ID:           uuid.NewString(),
		Kind:         models.OrderTakeaway,
		Status:       models.OrderPendingValidation,
		KitchenState: models.KitchenNotSent,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = models.NewPersistedID()
			items[i].OrderID = order.ID
			items[i].State = models.ItemPending
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return s.recomputeStoredTotal(tx, order.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create takeaway order: %w", err)
	}

	s.publishOrdersUpdated(order.ID)
	return s.GetOrder(ctx, order.ID)
}

// ValidateTakeaway accepts a self-submitted takeaway order for
// preparation.
func (s *OrderService) ValidateTakeaway(ctx context.Context, orderID string) (*models.Order, error) {
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderPendingValidation).
		Update("status", models.OrderInProgress).Error
	if err != nil {
		return nil, err
	}
	s.publishOrdersUpdated(orderID)
	return s.GetOrder(ctx, orderID)
}

// UpdateOrder applies an editing session's write: temporary items are
// created with permanent ids, persisted pending items are updated in
// place, and the removed ids (always persisted, always pending) are
// deleted. Sent items are immutable here.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID string, update session.OrderUpdate) (*models.Order, error) {
	for _, item := range update.Items {
		if item.Quantity < 1 {
			return nil, ErrQuantityInvalid
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return session.ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderFinalized {
			return fmt.Errorf("order %s is finalized", orderID)
		}

		for _, id := range update.RemovedItemIDs {
			if !id.IsPersisted() {
				continue
			}
			if err := tx.Where("id = ? AND order_id = ? AND state = ?",
				id, orderID, models.ItemPending).Delete(&models.OrderItem{}).Error; err != nil {
				return fmt.Errorf("failed to delete item %s: %w", id, err)
			}
		}

		for i := range update.Items {
			item := update.Items[i]
			item.OrderID = orderID
			if item.ID.IsTemporary() || item.ID.IsZero() {
				item.ID = models.NewPersistedID()
				item.State = models.ItemPending
				if err := tx.Create(&item).Error; err != nil {
					return fmt.Errorf("failed to create item: %w", err)
				}
				continue
			}
			var existing models.OrderItem
			err := tx.First(&existing, "id = ? AND order_id = ?", item.ID, orderID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Deleted by a concurrent writer; the poll will settle it.
				log.Printf("OrderService: skipping update for vanished item %s on order %s", item.ID, orderID)
				continue
			}
			if err != nil {
				return err
			}
			if existing.State != models.ItemPending {
				continue
			}
			existing.Quantity = item.Quantity
			existing.Comment = item.Comment
			existing.ExcludedIngredients = item.ExcludedIngredients.Normalized()
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update item %s: %w", item.ID, err)
			}
		}

		return s.recomputeStoredTotal(tx, orderID)
	})
	if err != nil {
		return nil, err
	}

	s.publishOrdersUpdated(orderID)
	return s.GetOrder(ctx, orderID)
}

// SendItemsToKitchen marks the given pending items sent with one shared
// timestamp, moves the order into the kitchen pipeline and deducts
// recipe ingredients from stock.
func (s *OrderService) SendItemsToKitchen(ctx context.Context, orderID string, itemIDs []models.Identifier) (*models.Order, error) {
	if len(itemIDs) == 0 {
		return nil, session.ErrNothingToSend
	}
	for _, id := range itemIDs {
		if !id.IsPersisted() {
			return nil, session.ErrStaleTemporaryItems
		}
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return session.ErrOrderNotFound
			}
			return err
		}

		byID := make(map[models.Identifier]*models.OrderItem, len(order.Items))
		for i := range order.Items {
			byID[order.Items[i].ID] = &order.Items[i]
		}

		var sent []models.OrderItem
		for _, id := range itemIDs {
			item, ok := byID[id]
			if !ok {
				return fmt.Errorf("item %s not found on order %s", id, orderID)
			}
			if item.State != models.ItemPending {
				continue
			}
			if err := tx.Model(&models.OrderItem{}).Where("id = ?", id).Updates(map[string]interface{}{
				"state":   models.ItemSent,
				"sent_at": now,
			}).Error; err != nil {
				return fmt.Errorf("failed to mark item %s sent: %w", id, err)
			}
			item.SentAt = &now
			sent = append(sent, *item)
		}
		if len(sent) == 0 {
			return session.ErrNothingToSend
		}

		updates := map[string]interface{}{"kitchen_state": models.KitchenReceived}
		if order.SentToKitchenAt == nil {
			updates["sent_to_kitchen_at"] = now
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			return err
		}
		if order.TableID != nil {
			if err := tx.Model(&models.Table{}).Where("id = ?", *order.TableID).
				Update("status", models.TableInKitchen).Error; err != nil {
				return err
			}
		}

		warnings := s.ingredientSvc.DeductForItems(tx, sent, orderID)
		for _, warning := range warnings {
			log.Printf("OrderService: %s", warning)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("OrderService: order %s sent %d items to kitchen", orderID, len(itemIDs))
	s.publishOrdersUpdated(orderID)
	return s.GetOrder(ctx, orderID)
}

// MarkReady flags the order's kitchen work as done and notifies service.
func (s *OrderService) MarkReady(ctx context.Context, orderID string) (*models.Order, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND kitchen_state = ?", orderID, models.KitchenReceived).
		Updates(map[string]interface{}{"kitchen_state": models.KitchenReady, "ready_at": now}).Error
	if err != nil {
		return nil, err
	}
	s.publishOrdersUpdated(orderID)
	if s.bus != nil {
		s.bus.Publish(pubsub.TopicNotificationsUpdated, map[string]string{
			"type":     "order_ready",
			"order_id": orderID,
		})
	}
	return s.GetOrder(ctx, orderID)
}

// MarkServed records that the order reached the guests.
func (s *OrderService) MarkServed(ctx context.Context, orderID string) (*models.Order, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return session.ErrOrderNotFound
			}
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).
			Updates(map[string]interface{}{"kitchen_state": models.KitchenServed, "served_at": now}).Error; err != nil {
			return err
		}
		if order.TableID != nil {
			return tx.Model(&models.Table{}).Where("id = ?", *order.TableID).
				Update("status", models.TableServed).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishOrdersUpdated(orderID)
	return s.GetOrder(ctx, orderID)
}

// Finalize closes the order with its payment, writes the sale record and
// frees the table.
func (s *OrderService) Finalize(ctx context.Context, orderID string, paymentMethod, receiptURL string) (*models.Order, error) {
	if paymentMethod == "" {
		return nil, errors.New("payment method is required")
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return session.ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderFinalized {
			return fmt.Errorf("order %s is already finalized", orderID)
		}

		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
			"status":         models.OrderFinalized,
			"payment_method": paymentMethod,
			"receipt_url":    receiptURL,
			"finalized_at":   now,
		}).Error; err != nil {
			return err
		}

		sale := models.Sale{
			OrderID:       orderID,
			Total:         order.Total,
			PaymentMethod: paymentMethod,
			ReceiptURL:    receiptURL,
			EmployeeID:    order.EmployeeID,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		if order.TableID != nil {
			if err := tx.Model(&models.Table{}).Where("id = ?", *order.TableID).Updates(map[string]interface{}{
				"status":           models.TableFree,
				"current_order_id": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("OrderService: order %s finalized with %s", orderID, paymentMethod)
	s.publishOrdersUpdated(orderID)
	return s.GetOrder(ctx, orderID)
}

// GetKitchenOrders returns the orders the kitchen is working on: state
// received, at least one sent item, oldest send first.
func (s *OrderService) GetKitchenOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_items.created_at ASC")
		}).
		Preload("Table").
		Where("kitchen_state = ?", models.KitchenReceived).
		Where("EXISTS (SELECT 1 FROM order_items WHERE order_items.order_id = orders.id AND order_items.state = ?)",
			models.ItemSent).
		Order("sent_to_kitchen_at ASC").
		Find(&orders).Error
	return orders, err
}

// CancelUnsentOrder deletes an order nothing was ever sent for, freeing
// its table.
func (s *OrderService) CancelUnsentOrder(ctx context.Context, orderID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return session.ErrOrderNotFound
			}
			return err
		}
		if order.KitchenState != models.KitchenNotSent {
			return ErrOrderAlreadySent
		}

		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}
		if err := tx.Delete(&order).Error; err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		if order.TableID != nil {
			return tx.Model(&models.Table{}).Where("id = ?", *order.TableID).Updates(map[string]interface{}{
				"status":           models.TableFree,
				"current_order_id": nil,
			}).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("OrderService: unsent order %s cancelled", orderID)
	s.publishOrdersUpdated(orderID)
	return nil
}

// Table management

// GetTables gets all active tables with their board descriptors derived
// client-side from Status.
func (s *OrderService) GetTables(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	err := s.db.WithContext(ctx).Where("is_active = ?", true).
		Order("number").Find(&tables).Error
	return tables, err
}

// CreateTable creates a new table, free by default.
func (s *OrderService) CreateTable(ctx context.Context, table *models.Table) error {
	if table.Status == "" {
		table.Status = models.TableFree
	}
	return s.db.WithContext(ctx).Create(table).Error
}

// UpdateTable updates a table.
func (s *OrderService) UpdateTable(ctx context.Context, table *models.Table) error {
	return s.db.WithContext(ctx).Save(table).Error
}

// DeleteTable soft deletes a table.
func (s *OrderService) DeleteTable(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Table{}, id).Error
}

// GenerateTableQR renders the self-order QR for a table as a PNG.
func (s *OrderService) GenerateTableQR(ctx context.Context, tableID uint, baseURL string) ([]byte, error) {
	var table models.Table
	if err := s.db.WithContext(ctx).First(&table, tableID).Error; err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/self-order?table=%s", baseURL, table.Number)
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR for table %s: %w", table.Number, err)
	}
	return png, nil
}

// recomputeStoredTotal recalculates the durable total from the item rows.
func (s *OrderService) recomputeStoredTotal(tx *gorm.DB, orderID string) error {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}
	order := models.Order{Items: items}
	order.RecomputeTotal()
	return tx.Model(&models.Order{}).Where("id = ?", orderID).Update("total", order.Total).Error
}

func (s *OrderService) publishOrdersUpdated(orderID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(pubsub.TopicOrdersUpdated, map[string]string{"order_id": orderID})
}
