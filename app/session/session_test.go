package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
)

var (
	cafe  = &models.Product{ID: 1, Name: "Cafe", Price: 2.50}
	arepa = &models.Product{ID: 2, Name: "Arepa", Price: 5.00}
)

func newTestSession(t *testing.T, backend *fakeBackend, orderID string, cfg Config) *Session {
	t.Helper()
	if cfg.DebounceInterval == 0 {
		// Tests drive syncs explicitly; park the debounced write so it
		// never races the assertions.
		cfg.DebounceInterval = time.Hour
	}
	s, err := NewForOrder(context.Background(), backend, nil, orderID, cfg)
	if err != nil {
		t.Fatalf("NewForOrder: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestAddProductMergesEquivalentLine(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	s.AddProduct(ctx, arepa)
	s.AddProduct(ctx, arepa)
	s.AddProduct(ctx, cafe)

	order := s.Order()
	if len(order.Items) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(order.Items), order.Items)
	}
	if order.Items[0].ProductID != arepa.ID || order.Items[0].Quantity != 2 {
		t.Errorf("first line = %+v, want arepa x2", order.Items[0])
	}
	if order.Total != 12.50 {
		t.Errorf("total = %v, want 12.50", order.Total)
	}
}

func TestAddProductDoesNotMergeIntoCommentedLine(t *testing.T) {
	commented := pendingLine(arepa.ID, arepa.Name, 1, arepa.Price)
	commented.Comment = "bien asada"
	initial := testOrder(commented)
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	s.AddProduct(context.Background(), arepa)

	order := s.Order()
	if len(order.Items) != 2 {
		t.Fatalf("got %d lines, want 2 (commented line stays alone): %+v", len(order.Items), order.Items)
	}
	if order.Items[0].Quantity != 1 {
		t.Errorf("commented line quantity = %d, want 1", order.Items[0].Quantity)
	}
}

func TestChangeQuantityTotalInvariant(t *testing.T) {
	initial := testOrder(pendingLine(arepa.ID, arepa.Name, 1, arepa.Price))
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	if err := s.ChangeQuantity(ctx, 0, +2); err != nil {
		t.Fatalf("ChangeQuantity: %v", err)
	}
	order := s.Order()
	if order.Items[0].Quantity != 3 || order.Total != 15.00 {
		t.Errorf("after +2: quantity %d total %v, want 3 and 15.00", order.Items[0].Quantity, order.Total)
	}

	if err := s.ChangeQuantity(ctx, 0, -3); err != nil {
		t.Fatalf("ChangeQuantity: %v", err)
	}
	order = s.Order()
	if len(order.Items) != 0 {
		t.Errorf("line should vanish at quantity zero: %+v", order.Items)
	}
	if order.Total != 0 {
		t.Errorf("total = %v, want 0", order.Total)
	}
}

func TestRemoveItemDeletesFromStore(t *testing.T) {
	line := pendingLine(arepa.ID, arepa.Name, 2, arepa.Price)
	initial := testOrder(line)
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	if err := s.RemoveItem(ctx, 0); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if err := s.Reconciler().Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	backend.mu.Lock()
	removed := backend.lastUpdate.RemovedItemIDs
	backend.mu.Unlock()
	if len(removed) != 1 || removed[0] != line.ID {
		t.Errorf("RemovedItemIDs = %v, want [%v]", removed, line.ID)
	}

	server, _ := backend.GetOrder(ctx, initial.ID)
	if len(server.Items) != 0 {
		t.Errorf("store still has %d items", len(server.Items))
	}
}

func TestToggleExclusion(t *testing.T) {
	initial := testOrder(pendingLine(arepa.ID, arepa.Name, 1, arepa.Price))
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	if err := s.ToggleExclusion(ctx, 0, 7); err != nil {
		t.Fatalf("ToggleExclusion: %v", err)
	}
	if got := s.Order().Items[0].ExcludedIngredients; !got.Equal(models.UintSet{7}) {
		t.Errorf("exclusions = %v, want [7]", got)
	}

	if err := s.ToggleExclusion(ctx, 0, 7); err != nil {
		t.Fatalf("ToggleExclusion: %v", err)
	}
	if got := s.Order().Items[0].ExcludedIngredients; len(got) != 0 {
		t.Errorf("exclusions = %v, want empty after second toggle", got)
	}
}

func TestSetCommentSplitsMultiUnitLine(t *testing.T) {
	line := pendingLine(arepa.ID, arepa.Name, 3, arepa.Price)
	initial := testOrder(line)
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	totalBefore := s.Order().Total
	if err := s.SetComment(0, "sin queso"); err != nil {
		t.Fatalf("SetComment: %v", err)
	}

	order := s.Order()
	if len(order.Items) != 2 {
		t.Fatalf("got %d lines, want 2 after split: %+v", len(order.Items), order.Items)
	}
	original, split := order.Items[0], order.Items[1]
	if original.Quantity != 2 || original.HasComment() {
		t.Errorf("original line = %+v, want quantity 2 without comment", original)
	}
	if split.Quantity != 1 || split.Comment != "sin queso" {
		t.Errorf("split line = %+v, want quantity 1 with the comment", split)
	}
	if !split.ID.IsTemporary() {
		t.Error("split line must carry a temporary id until persisted")
	}
	if order.Total != totalBefore {
		t.Errorf("total changed across split: %v -> %v", totalBefore, order.Total)
	}

	// Comment editing is local; nothing hits the store until commit.
	backend.mu.Lock()
	calls := backend.updateCalls
	backend.mu.Unlock()
	if calls != 0 {
		t.Errorf("updateCalls = %d before commit, want 0", calls)
	}

	if err := s.CommitComment(context.Background()); err != nil {
		t.Fatalf("CommitComment: %v", err)
	}
	server, _ := backend.GetOrder(context.Background(), initial.ID)
	if len(server.Items) != 2 {
		t.Errorf("store has %d lines after commit, want 2", len(server.Items))
	}
	for _, item := range s.Order().Items {
		if !item.ID.IsPersisted() {
			t.Errorf("item %v still temporary after commit", item.ID)
		}
	}
}

func TestSetCommentEditsCommentedLineInPlace(t *testing.T) {
	line := pendingLine(arepa.ID, arepa.Name, 3, arepa.Price)
	line.Comment = "old"
	initial := testOrder(line)
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	if err := s.SetComment(0, "new"); err != nil {
		t.Fatalf("SetComment: %v", err)
	}

	order := s.Order()
	if len(order.Items) != 1 {
		t.Fatalf("line with a comment must not split: %+v", order.Items)
	}
	if order.Items[0].Comment != "new" || order.Items[0].Quantity != 3 {
		t.Errorf("line = %+v, want full quantity with the new comment", order.Items[0])
	}
}

func TestSetCommentBlankOnSingleUnitLine(t *testing.T) {
	line := pendingLine(arepa.ID, arepa.Name, 1, arepa.Price)
	initial := testOrder(line)
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	if err := s.SetComment(0, "   "); err != nil {
		t.Fatalf("SetComment: %v", err)
	}
	order := s.Order()
	if len(order.Items) != 1 {
		t.Fatalf("blank comment must not split: %+v", order.Items)
	}
}

func TestEditDuringInFlightWriteSurvives(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	s.AddProduct(ctx, arepa)

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.updateGate = gate
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Reconciler().Sync(ctx) }()

	// The write is in flight and the line still carries its temporary
	// id; tap +1 before the store hands back the permanent one.
	<-gate
	if err := s.ChangeQuantity(ctx, 0, +1); err != nil {
		t.Fatalf("ChangeQuantity: %v", err)
	}
	backend.mu.Lock()
	backend.updateGate = nil
	backend.mu.Unlock()
	gate <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("Sync: %v", err)
	}

	order := s.Order()
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Fatalf("working view = %+v, want one line at quantity 2 (the mid-write tap must survive)",
			order.Items)
	}
	if !s.HasUnsentChanges() {
		t.Error("the surviving tap is unacknowledged and must be reported")
	}

	if err := s.Reconciler().Sync(ctx); err != nil {
		t.Fatalf("drain sync: %v", err)
	}
	server, _ := backend.GetOrder(ctx, initial.ID)
	if len(server.Items) != 1 || server.Items[0].Quantity != 2 {
		t.Errorf("store = %+v, want one line at quantity 2", server.Items)
	}
	if s.HasUnsentChanges() {
		t.Error("session should be synced after the drain")
	}
}

func TestEditsRejectSentLines(t *testing.T) {
	sentAt := time.Now().UTC()
	sent := pendingLine(arepa.ID, arepa.Name, 2, arepa.Price)
	sent.State = models.ItemSent
	sent.SentAt = &sentAt
	initial := testOrder(sent)
	initial.KitchenState = models.KitchenReceived
	initial.SentToKitchenAt = &sentAt

	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	if err := s.ChangeQuantity(ctx, 0, -1); !errors.Is(err, ErrItemImmutable) {
		t.Errorf("ChangeQuantity err = %v, want ErrItemImmutable", err)
	}
	if err := s.RemoveItem(ctx, 0); !errors.Is(err, ErrItemImmutable) {
		t.Errorf("RemoveItem err = %v, want ErrItemImmutable", err)
	}
	if err := s.SetComment(0, "sin queso"); !errors.Is(err, ErrItemImmutable) {
		t.Errorf("SetComment err = %v, want ErrItemImmutable", err)
	}
	if err := s.ToggleExclusion(ctx, 0, 7); !errors.Is(err, ErrItemImmutable) {
		t.Errorf("ToggleExclusion err = %v, want ErrItemImmutable", err)
	}

	order := s.Order()
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 || order.Items[0].HasComment() {
		t.Errorf("sent line changed: %+v", order.Items[0])
	}
	if s.HasUnsentChanges() {
		t.Error("rejected edits must not dirty the session")
	}
}

func TestSendToKitchenPersistsTemporariesFirst(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	s.AddProduct(ctx, arepa)
	s.AddProduct(ctx, cafe)

	updated, err := s.SendToKitchen(ctx)
	if err != nil {
		t.Fatalf("SendToKitchen: %v", err)
	}

	if updated.KitchenState != models.KitchenReceived {
		t.Errorf("kitchen state = %v, want received", updated.KitchenState)
	}
	var sentAt *time.Time
	for _, item := range updated.Items {
		if item.State != models.ItemSent {
			t.Errorf("item %s state = %v, want sent", item.ProductName, item.State)
		}
		if item.SentAt == nil {
			t.Fatalf("item %s has no send timestamp", item.ProductName)
		}
		if sentAt == nil {
			sentAt = item.SentAt
		} else if !sentAt.Equal(*item.SentAt) {
			t.Error("items of one send must share the same timestamp")
		}
	}

	backend.mu.Lock()
	sends := backend.sendCalls
	backend.mu.Unlock()
	if sends != 1 {
		t.Errorf("sendCalls = %d, want 1", sends)
	}
	if s.HasUnsentChanges() {
		t.Error("session should be fully synced after the kitchen commit")
	}
}

func TestSendToKitchenRejectsStaleTemporaries(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	backend.leaveTemporary = true
	s := newTestSession(t, backend, initial.ID, Config{})
	ctx := context.Background()

	s.AddProduct(ctx, arepa)

	_, err := s.SendToKitchen(ctx)
	if !errors.Is(err, ErrStaleTemporaryItems) {
		t.Fatalf("err = %v, want ErrStaleTemporaryItems", err)
	}

	backend.mu.Lock()
	calls := backend.updateCalls
	sends := backend.sendCalls
	backend.mu.Unlock()
	if calls != maxPersistAttempts {
		t.Errorf("updateCalls = %d, want %d persist attempts", calls, maxPersistAttempts)
	}
	if sends != 0 {
		t.Error("kitchen send must not happen with temporary ids")
	}
}

func TestSendToKitchenNothingPending(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	if _, err := s.SendToKitchen(context.Background()); !errors.Is(err, ErrNothingToSend) {
		t.Errorf("err = %v, want ErrNothingToSend", err)
	}
}

func TestGuardExitNeverSentOrder(t *testing.T) {
	initial := testOrder(pendingLine(arepa.ID, arepa.Name, 1, arepa.Price))
	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	decision := s.GuardExit()
	if !decision.MustConfirm || !decision.NeverSent {
		t.Fatalf("decision = %+v, want confirm with never-sent", decision)
	}

	if err := s.ConfirmDiscard(context.Background()); err != nil {
		t.Fatalf("ConfirmDiscard: %v", err)
	}
	backend.mu.Lock()
	cancelled := append([]string(nil), backend.cancelled...)
	backend.mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != initial.ID {
		t.Errorf("cancelled = %v, want [%s]", cancelled, initial.ID)
	}
}

func TestGuardExitDirtySentOrder(t *testing.T) {
	sentAt := time.Now().UTC()
	sent := pendingLine(arepa.ID, arepa.Name, 1, arepa.Price)
	sent.State = models.ItemSent
	sent.SentAt = &sentAt
	initial := testOrder(sent)
	initial.KitchenState = models.KitchenReceived
	initial.SentToKitchenAt = &sentAt

	backend := newFakeBackend(initial)
	s := newTestSession(t, backend, initial.ID, Config{})

	if decision := s.GuardExit(); decision.MustConfirm {
		t.Fatalf("clean sent order should exit freely, got %+v", decision)
	}

	s.AddProduct(context.Background(), cafe)
	decision := s.GuardExit()
	if !decision.MustConfirm || decision.NeverSent {
		t.Fatalf("decision = %+v, want confirm without never-sent", decision)
	}

	if err := s.ConfirmDiscard(context.Background()); err != nil {
		t.Fatalf("ConfirmDiscard: %v", err)
	}
	order := s.Order()
	if len(order.Items) != 1 {
		t.Errorf("working items = %+v, want only the sent line after rollback", order.Items)
	}
	if s.HasUnsentChanges() {
		t.Error("session should be clean after rollback")
	}
}

func TestBusEventTriggersRepoll(t *testing.T) {
	initial := testOrder(pendingLine(arepa.ID, arepa.Name, 1, arepa.Price))
	backend := newFakeBackend(initial)
	bus := pubsub.New()

	changes := make(chan *models.Order, 8)
	s, err := NewForOrder(context.Background(), backend, bus, initial.ID, Config{
		DebounceInterval: 5 * time.Millisecond,
		OnChange:         func(o *models.Order) { changes <- o },
	})
	if err != nil {
		t.Fatalf("NewForOrder: %v", err)
	}
	defer s.Close()

	backend.mutate(initial.ID, func(o *models.Order) {
		o.Items[0].Quantity = 4
		o.RecomputeTotal()
	})
	bus.Publish(pubsub.TopicOrdersUpdated, nil)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case order := <-changes:
			if order.Items[0].Quantity == 4 {
				return
			}
		case <-deadline:
			t.Fatal("re-poll never adopted the store change")
		}
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	initial := testOrder()
	backend := newFakeBackend(initial)
	bus := pubsub.New()

	s, err := NewForOrder(context.Background(), backend, bus, initial.ID, Config{})
	if err != nil {
		t.Fatalf("NewForOrder: %v", err)
	}
	if n := bus.SubscriberCount(pubsub.TopicOrdersUpdated); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}
	s.Close()
	if n := bus.SubscriberCount(pubsub.TopicOrdersUpdated); n != 0 {
		t.Errorf("SubscriberCount = %d after Close, want 0", n)
	}
}
