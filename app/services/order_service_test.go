package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/database"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/session"
)

type fixture struct {
	db      *gorm.DB
	bus     *pubsub.Bus
	svc     *OrderService
	table   models.Table
	arepa   models.Product
	cheese  models.Ingredient
	updates []pubsub.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenForTest()
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	f := &fixture{db: db, bus: pubsub.New()}
	f.bus.Subscribe(pubsub.TopicOrdersUpdated, func(e pubsub.Event) {
		f.updates = append(f.updates, e)
	})
	f.svc = NewOrderService(db, f.bus)

	f.table = models.Table{Number: "1", Name: "Ventana", Capacity: 4, Status: models.TableFree, IsActive: true}
	if err := db.Create(&f.table).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	f.arepa = models.Product{Name: "Arepa", Price: 5.00, IsActive: true}
	if err := db.Create(&f.arepa).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}

	f.cheese = models.Ingredient{Name: "Queso", Unit: "gramos", Stock: 100, IsActive: true}
	if err := db.Create(&f.cheese).Error; err != nil {
		t.Fatalf("create ingredient: %v", err)
	}
	recipe := models.ProductIngredient{ProductID: f.arepa.ID, IngredientID: f.cheese.ID, Quantity: 20}
	if err := db.Create(&recipe).Error; err != nil {
		t.Fatalf("create recipe: %v", err)
	}

	return f
}

func (f *fixture) openOrderWithItems(t *testing.T, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()

	order, err := f.svc.CreateOrGetOrderForTable(ctx, f.table.ID)
	if err != nil {
		t.Fatalf("CreateOrGetOrderForTable: %v", err)
	}

	item := models.NewTemporaryItem(&f.arepa, qty)
	order, err = f.svc.UpdateOrder(ctx, order.ID, session.OrderUpdate{Items: []models.OrderItem{item}})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	return order
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrGetOrderForTable(ctx, f.table.ID)
	if err != nil {
		t.Fatalf("CreateOrGetOrderForTable: %v", err)
	}
	if order.Status != models.OrderInProgress || order.KitchenState != models.KitchenNotSent {
		t.Errorf("fresh order = %s/%s, want in_progress/not_sent", order.Status, order.KitchenState)
	}

	var table models.Table
	f.db.First(&table, f.table.ID)
	if table.Status != models.TableSeated || table.CurrentOrderID == nil || *table.CurrentOrderID != order.ID {
		t.Errorf("table = %+v, want seated pointing at %s", table, order.ID)
	}

	// Re-opening the table resumes the same order.
	again, err := f.svc.CreateOrGetOrderForTable(ctx, f.table.ID)
	if err != nil {
		t.Fatalf("CreateOrGetOrderForTable again: %v", err)
	}
	if again.ID != order.ID {
		t.Errorf("second open created order %s, want %s resumed", again.ID, order.ID)
	}

	// Two arepas at 5.00.
	item := models.NewTemporaryItem(&f.arepa, 2)
	order, err = f.svc.UpdateOrder(ctx, order.ID, session.OrderUpdate{Items: []models.OrderItem{item}})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if len(order.Items) != 1 || !order.Items[0].ID.IsPersisted() {
		t.Fatalf("items = %+v, want one persisted line", order.Items)
	}
	if order.Total != 10.00 {
		t.Errorf("total = %v, want 10.00", order.Total)
	}

	// Send to kitchen.
	var ids []models.Identifier
	for _, it := range order.PendingItems() {
		ids = append(ids, it.ID)
	}
	order, err = f.svc.SendItemsToKitchen(ctx, order.ID, ids)
	if err != nil {
		t.Fatalf("SendItemsToKitchen: %v", err)
	}
	if order.KitchenState != models.KitchenReceived || order.SentToKitchenAt == nil {
		t.Errorf("order = %s sent_at %v, want received with timestamp", order.KitchenState, order.SentToKitchenAt)
	}
	if order.Items[0].State != models.ItemSent || order.Items[0].SentAt == nil {
		t.Errorf("item = %+v, want sent with timestamp", order.Items[0])
	}
	f.db.First(&table, f.table.ID)
	if table.Status != models.TableInKitchen {
		t.Errorf("table status = %s, want in_kitchen", table.Status)
	}

	// Recipe deduction: 2 arepas x 20g cheese.
	var cheese models.Ingredient
	f.db.First(&cheese, f.cheese.ID)
	if cheese.Stock != 60 {
		t.Errorf("cheese stock = %v, want 60 after deducting 40", cheese.Stock)
	}
	var movement models.IngredientMovement
	if err := f.db.Where("ingredient_id = ? AND type = ?", f.cheese.ID, "sale").First(&movement).Error; err != nil {
		t.Fatalf("expected a sale movement: %v", err)
	}
	if movement.Quantity != -40 || movement.PreviousQty != 100 || movement.NewQty != 60 {
		t.Errorf("movement = %+v, want -40 from 100 to 60", movement)
	}

	// Kitchen done, guests served, bill paid.
	order, err = f.svc.MarkReady(ctx, order.ID)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if order.KitchenState != models.KitchenReady || order.ReadyAt == nil {
		t.Errorf("order = %s, want ready with timestamp", order.KitchenState)
	}

	order, err = f.svc.MarkServed(ctx, order.ID)
	if err != nil {
		t.Fatalf("MarkServed: %v", err)
	}
	if order.KitchenState != models.KitchenServed {
		t.Errorf("order = %s, want served", order.KitchenState)
	}
	f.db.First(&table, f.table.ID)
	if table.Status != models.TableServed {
		t.Errorf("table status = %s, want served", table.Status)
	}

	order, err = f.svc.Finalize(ctx, order.ID, "Efectivo", "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if order.Status != models.OrderFinalized || order.FinalizedAt == nil {
		t.Errorf("order = %s, want finalized with timestamp", order.Status)
	}

	var sale models.Sale
	if err := f.db.Where("order_id = ?", order.ID).First(&sale).Error; err != nil {
		t.Fatalf("expected a sale record: %v", err)
	}
	if sale.Total != 10.00 || sale.PaymentMethod != "Efectivo" {
		t.Errorf("sale = %+v, want 10.00 Efectivo", sale)
	}

	f.db.First(&table, f.table.ID)
	if table.Status != models.TableFree || table.CurrentOrderID != nil {
		t.Errorf("table = %+v, want freed", table)
	}

	if len(f.updates) == 0 {
		t.Error("no orders_updated events published across the lifecycle")
	}
}

func TestUpdateOrderRejectsInvalidQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrGetOrderForTable(ctx, f.table.ID)
	if err != nil {
		t.Fatalf("CreateOrGetOrderForTable: %v", err)
	}

	item := models.NewTemporaryItem(&f.arepa, 1)
	item.Quantity = 0
	_, err = f.svc.UpdateOrder(ctx, order.ID, session.OrderUpdate{Items: []models.OrderItem{item}})
	if !errors.Is(err, ErrQuantityInvalid) {
		t.Errorf("err = %v, want ErrQuantityInvalid", err)
	}
}

func TestUpdateOrderDeletesOnlyPendingItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrderWithItems(t, 1)

	sentID := order.Items[0].ID
	if _, err := f.svc.SendItemsToKitchen(ctx, order.ID, []models.Identifier{sentID}); err != nil {
		t.Fatalf("SendItemsToKitchen: %v", err)
	}

	// Trying to remove the sent line is silently ignored by the state
	// guard; the row must survive.
	updated, err := f.svc.UpdateOrder(ctx, order.ID, session.OrderUpdate{
		RemovedItemIDs: []models.Identifier{sentID},
	})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].State != models.ItemSent {
		t.Errorf("items = %+v, want the sent line untouched", updated.Items)
	}
}

func TestUpdateOrderRejectsFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrderWithItems(t, 1)

	if _, err := f.svc.SendItemsToKitchen(ctx, order.ID, []models.Identifier{order.Items[0].ID}); err != nil {
		t.Fatalf("SendItemsToKitchen: %v", err)
	}
	if _, err := f.svc.Finalize(ctx, order.ID, "Efectivo", ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	item := models.NewTemporaryItem(&f.arepa, 1)
	if _, err := f.svc.UpdateOrder(ctx, order.ID, session.OrderUpdate{Items: []models.OrderItem{item}}); err == nil {
		t.Error("writes to a finalized order must fail")
	}
}

func TestSendItemsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrderWithItems(t, 1)

	if _, err := f.svc.SendItemsToKitchen(ctx, order.ID, nil); !errors.Is(err, session.ErrNothingToSend) {
		t.Errorf("empty send err = %v, want ErrNothingToSend", err)
	}

	temp := models.NewTemporaryID()
	_, err := f.svc.SendItemsToKitchen(ctx, order.ID, []models.Identifier{temp})
	if !errors.Is(err, session.ErrStaleTemporaryItems) {
		t.Errorf("temporary id err = %v, want ErrStaleTemporaryItems", err)
	}
}

func TestCancelUnsentOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrderWithItems(t, 1)

	if err := f.svc.CancelUnsentOrder(ctx, order.ID); err != nil {
		t.Fatalf("CancelUnsentOrder: %v", err)
	}

	if _, err := f.svc.GetOrder(ctx, order.ID); !errors.Is(err, session.ErrOrderNotFound) {
		t.Errorf("cancelled order lookup err = %v, want ErrOrderNotFound", err)
	}
	var table models.Table
	f.db.First(&table, f.table.ID)
	if table.Status != models.TableFree || table.CurrentOrderID != nil {
		t.Errorf("table = %+v, want freed after cancel", table)
	}
}

func TestCancelRefusedAfterSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrderWithItems(t, 1)

	if _, err := f.svc.SendItemsToKitchen(ctx, order.ID, []models.Identifier{order.Items[0].ID}); err != nil {
		t.Fatalf("SendItemsToKitchen: %v", err)
	}
	if err := f.svc.CancelUnsentOrder(ctx, order.ID); !errors.Is(err, ErrOrderAlreadySent) {
		t.Errorf("err = %v, want ErrOrderAlreadySent", err)
	}
}

func TestGetKitchenOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An order with only pending items never reaches the kitchen board.
	pending := f.openOrderWithItems(t, 1)

	boards, err := f.svc.GetKitchenOrders(ctx)
	if err != nil {
		t.Fatalf("GetKitchenOrders: %v", err)
	}
	if len(boards) != 0 {
		t.Fatalf("board has %d orders before any send, want 0", len(boards))
	}

	if _, err := f.svc.SendItemsToKitchen(ctx, pending.ID, []models.Identifier{pending.Items[0].ID}); err != nil {
		t.Fatalf("SendItemsToKitchen: %v", err)
	}

	boards, err = f.svc.GetKitchenOrders(ctx)
	if err != nil {
		t.Fatalf("GetKitchenOrders: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != pending.ID {
		t.Fatalf("board = %+v, want the sent order", boards)
	}

	// Ready orders drop off the board.
	if _, err := f.svc.MarkReady(ctx, pending.ID); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	boards, _ = f.svc.GetKitchenOrders(ctx)
	if len(boards) != 0 {
		t.Errorf("board has %d orders after ready, want 0", len(boards))
	}
}

func TestTakeawayValidationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := models.NewTemporaryItem(&f.arepa, 2)
	order, err := f.svc.CreateTakeawayOrder(ctx, []models.OrderItem{item})
	if err != nil {
		t.Fatalf("CreateTakeawayOrder: %v", err)
	}
	if order.Kind != models.OrderTakeaway || order.Status != models.OrderPendingValidation {
		t.Errorf("order = %s/%s, want takeaway pending_validation", order.Kind, order.Status)
	}
	if order.Total != 10.00 {
		t.Errorf("total = %v, want 10.00", order.Total)
	}

	order, err = f.svc.ValidateTakeaway(ctx, order.ID)
	if err != nil {
		t.Fatalf("ValidateTakeaway: %v", err)
	}
	if order.Status != models.OrderInProgress {
		t.Errorf("status = %s after validation, want in_progress", order.Status)
	}
}
