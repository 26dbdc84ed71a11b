package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
)

// maxPersistAttempts bounds the pre-send loop that forces pending items
// through the store so they get permanent ids.
const maxPersistAttempts = 3

// Session is a per-order editing session: item-level operations on top of
// the reconciler, plus the send-to-kitchen commit and the exit guard.
type Session struct {
	reconciler *Reconciler
	backend    Backend
	bus        *pubsub.Bus
	sub        *pubsub.Subscription
}

// Config carries the optional session knobs.
type Config struct {
	DebounceInterval time.Duration
	OnChange         func(*models.Order)
}

// NewForTable opens (or resumes) the editing session for a table,
// creating the order on first access.
func NewForTable(ctx context.Context, backend Backend, bus *pubsub.Bus, tableID uint, cfg Config) (*Session, error) {
	order, err := backend.CreateOrGetOrderForTable(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("open session for table %d: %w", tableID, err)
	}
	return newSession(backend, bus, order, cfg), nil
}

// NewForOrder opens the editing session for an existing order.
func NewForOrder(ctx context.Context, backend Backend, bus *pubsub.Bus, orderID string, cfg Config) (*Session, error) {
	order, err := backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("open session for order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return newSession(backend, bus, order, cfg), nil
}

func newSession(backend Backend, bus *pubsub.Bus, order *models.Order, cfg Config) *Session {
	opts := []Option{}
	if cfg.DebounceInterval > 0 {
		opts = append(opts, WithDebounceInterval(cfg.DebounceInterval))
	}
	if cfg.OnChange != nil {
		opts = append(opts, WithOnChange(cfg.OnChange))
	}
	s := &Session{
		reconciler: NewReconciler(backend, order, opts...),
		backend:    backend,
		bus:        bus,
	}
	if bus != nil {
		// Store mutations fan out on orders_updated; re-poll so edits
		// from other screens land without waiting for the next tick.
		s.sub = bus.Subscribe(pubsub.TopicOrdersUpdated, func(pubsub.Event) {
			go s.pollOnce(context.Background())
		})
	}
	return s
}

// Close releases the session's bus subscription.
func (s *Session) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

// Order returns a deep copy of the current working view.
func (s *Session) Order() *models.Order {
	return s.reconciler.Working()
}

// Reconciler exposes the underlying state machine (polling loop, poll
// injection).
func (s *Session) Reconciler() *Reconciler {
	return s.reconciler
}

// HasUnsentChanges reports whether local edits await acknowledgment.
func (s *Session) HasUnsentChanges() bool {
	return !s.reconciler.IsSynced()
}

// AddProduct adds one unit of a product. An equivalent pending line (same
// product, no comment, no exclusions) absorbs the unit; otherwise a new
// temporary line is appended.
func (s *Session) AddProduct(ctx context.Context, product *models.Product) {
	fresh := models.NewTemporaryItem(product, 1)
	s.reconciler.ApplyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
		for i := range items {
			if items[i].State == models.ItemPending &&
				items[i].ProductID == product.ID &&
				!items[i].HasComment() &&
				len(items[i].ExcludedIngredients) == 0 {
				items[i].Quantity++
				return items
			}
		}
		return append(items, fresh)
	})
	s.reconciler.ScheduleSync(ctx)
}

// ChangeQuantity adjusts the quantity of the line at the given index of
// the working view. A quantity dropping to zero or below removes the
// line entirely.
func (s *Session) ChangeQuantity(ctx context.Context, index int, delta int) error {
	target, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if target.State != models.ItemPending {
		return ErrItemImmutable
	}
	id := target.ID
	s.reconciler.ApplyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			items[i].Quantity += delta
			if items[i].Quantity <= 0 {
				return append(items[:i], items[i+1:]...)
			}
			return items
		}
		return items
	})
	s.reconciler.ScheduleSync(ctx)
	return nil
}

// RemoveItem drops the line at the given index.
func (s *Session) RemoveItem(ctx context.Context, index int) error {
	target, err := s.itemAt(index)
	if err != nil {
		return err
	}
	return s.ChangeQuantity(ctx, index, -target.Quantity)
}

// ToggleExclusion flips an excluded ingredient on the line at the given
// index.
func (s *Session) ToggleExclusion(ctx context.Context, index int, ingredientID uint) error {
	target, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if target.State != models.ItemPending {
		return ErrItemImmutable
	}
	id := target.ID
	s.reconciler.ApplyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			set := items[i].ExcludedIngredients
			for j, v := range set {
				if v == ingredientID {
					items[i].ExcludedIngredients = append(set[:j], set[j+1:]...)
					return items
				}
			}
			items[i].ExcludedIngredients = append(set, ingredientID).Normalized()
			return items
		}
		return items
	})
	s.reconciler.ScheduleSync(ctx)
	return nil
}

// SetComment edits the comment of the line at the given index. A comment
// is scoped to a single unit: on a multi-unit line without a comment, a
// non-empty text splits one unit off into a fresh temporary line carrying
// the comment. Editing a line that already has a comment updates the
// whole line in place, whatever its quantity.
//
// This is a local-only edit; call CommitComment when comment editing
// ends.
func (s *Session) SetComment(index int, text string) error {
	target, err := s.itemAt(index)
	if err != nil {
		return err
	}
	if target.State != models.ItemPending {
		return ErrItemImmutable
	}
	id := target.ID
	trimmed := strings.TrimSpace(text)

	if target.Quantity > 1 && !target.HasComment() && trimmed != "" {
		split := target
		split.ID = models.NewTemporaryID()
		split.Quantity = 1
		split.Comment = text
		split.ExcludedIngredients = append(models.UintSet(nil), target.ExcludedIngredients...)
		s.reconciler.ApplyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
			for i := range items {
				if items[i].ID == id {
					items[i].Quantity--
					return append(items, split)
				}
			}
			return items
		})
		return nil
	}

	s.reconciler.ApplyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Comment = text
				return items
			}
		}
		return items
	})
	return nil
}

// CommitComment persists comment edits once editing loses focus.
func (s *Session) CommitComment(ctx context.Context) error {
	return s.reconciler.Sync(ctx)
}

// SendToKitchen commits pending items to the kitchen. With no explicit
// ids every pending line is sent. All selected items must carry
// persisted ids: the store assigns permanent ids before a line can be
// marked sent, so pending temporary items are pushed through a
// synchronous sync loop first. On success the returned order forcibly
// replaces the whole session state; this is the one user-confirmed path
// allowed to do so while dirty.
func (s *Session) SendToKitchen(ctx context.Context, itemIDs ...models.Identifier) (*models.Order, error) {
	for attempt := 0; s.hasTemporaryPending(); attempt++ {
		if attempt >= maxPersistAttempts {
			log.Printf("Session: order %s still has temporary pending items after %d syncs",
				s.reconciler.OrderID(), maxPersistAttempts)
			return nil, ErrStaleTemporaryItems
		}
		if err := s.reconciler.Sync(ctx); err != nil {
			return nil, fmt.Errorf("persist pending items: %w", err)
		}
	}

	working := s.reconciler.Working()
	targets := itemIDs
	if len(targets) == 0 {
		for _, item := range working.PendingItems() {
			targets = append(targets, item.ID)
		}
	}
	if len(targets) == 0 {
		return nil, ErrNothingToSend
	}
	for _, id := range targets {
		if !id.IsPersisted() {
			log.Printf("Session: refusing kitchen send for order %s, item %s is not persisted",
				working.ID, id)
			return nil, ErrStaleTemporaryItems
		}
	}

	updated, err := s.backend.SendItemsToKitchen(ctx, working.ID, targets)
	if err != nil {
		return nil, fmt.Errorf("send to kitchen: %w", err)
	}
	s.reconciler.ForceReplace(updated)
	return updated, nil
}

// ExitDecision tells the navigation layer whether leaving the editing
// screen needs explicit confirmation.
type ExitDecision struct {
	MustConfirm bool
	// NeverSent means the order has items but was never sent to the
	// kitchen; confirming deletes it and frees the table.
	NeverSent bool
}

// GuardExit evaluates the navigation guard for the current state.
func (s *Session) GuardExit() ExitDecision {
	working := s.reconciler.Working()
	if working.KitchenState == models.KitchenNotSent && len(working.Items) > 0 {
		return ExitDecision{MustConfirm: true, NeverSent: true}
	}
	if s.HasUnsentChanges() {
		return ExitDecision{MustConfirm: true}
	}
	return ExitDecision{}
}

// ConfirmDiscard executes the confirmed exit: a never-sent order is
// deleted outright (dine-in table freed); otherwise the working view
// rolls back to the last confirmed item set.
func (s *Session) ConfirmDiscard(ctx context.Context) error {
	decision := s.GuardExit()
	if !decision.MustConfirm {
		return nil
	}
	if decision.NeverSent {
		if err := s.backend.CancelUnsentOrder(ctx, s.reconciler.OrderID()); err != nil {
			return fmt.Errorf("cancel unsent order: %w", err)
		}
		return nil
	}
	s.reconciler.RestoreLastConfirmed()
	return nil
}

func (s *Session) hasTemporaryPending() bool {
	for _, item := range s.reconciler.Working().PendingItems() {
		if !item.ID.IsPersisted() {
			return true
		}
	}
	return false
}

func (s *Session) itemAt(index int) (models.OrderItem, error) {
	working := s.reconciler.Working()
	if index < 0 || index >= len(working.Items) {
		return models.OrderItem{}, fmt.Errorf("item index %d out of range (%d items)", index, len(working.Items))
	}
	return working.Items[index], nil
}

func (s *Session) pollOnce(ctx context.Context) {
	order, err := s.backend.GetOrder(ctx, s.reconciler.OrderID())
	if err != nil || order == nil {
		return
	}
	s.reconciler.OnPoll(order)
}
