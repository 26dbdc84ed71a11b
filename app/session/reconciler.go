package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// DefaultDebounceInterval is the quiet period that coalesces rapid local
// edits (repeated quantity taps) into a single store write.
const DefaultDebounceInterval = 100 * time.Millisecond

// Mutator is a replayable logical edit over an item list. It receives a
// private copy it may modify in place or reshape, and returns the result.
// Mutators locate items by id, never by index, so re-applying them
// against a newer server base stays deterministic.
type Mutator func(items []models.OrderItem) []models.OrderItem

// Reconciler keeps a working order view consistent across three
// concurrent sources: user edits, periodic polling and responses to the
// session's own writes. It tracks three snapshots:
//
//	working       - current in-memory state including unsynced edits
//	lastConfirmed - last state acknowledged by a successful write
//	pendingServer - a poll result held back while local edits are dirty
type Reconciler struct {
	mu      sync.Mutex
	backend Backend
	orderID string

	working       *models.Order
	lastConfirmed *models.Order
	pendingServer *models.Order

	// Edits applied to working but not yet acknowledged. Consumed
	// front-to-back by Sync; edits arriving mid-write stay queued.
	pendingEdits []Mutator
	// Persisted item ids captured when the session went dirty; the
	// removal reference for computing RemovedItemIDs.
	removalRef []models.Identifier

	debounced func(func())
	// writeMu serializes writes for this order: one in flight, callers
	// queue FIFO behind it regardless of individual failure.
	writeMu sync.Mutex

	onChange func(*models.Order)
	lastErr  error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDebounceInterval overrides the edit-coalescing window.
func WithDebounceInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.debounced = debounce.New(d)
	}
}

// WithOnChange registers the observer notified whenever the working view
// changes in a way worth re-rendering.
func WithOnChange(fn func(*models.Order)) Option {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

// NewReconciler starts a reconciler from a known server snapshot.
func NewReconciler(backend Backend, initial *models.Order, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:       backend,
		orderID:       initial.ID,
		working:       initial.Clone(),
		lastConfirmed: initial.Clone(),
		debounced:     debounce.New(DefaultDebounceInterval),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OrderID returns the id of the order under edit.
func (r *Reconciler) OrderID() string {
	return r.orderID
}

// Working returns a deep copy of the current working view.
func (r *Reconciler) Working() *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.working.Clone()
}

// LastError returns the most recent write failure, if any.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// IsSynced reports whether the working view matches the last confirmed
// server state, item for item.
func (r *Reconciler) IsSynced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isSyncedLocked()
}

func (r *Reconciler) isSyncedLocked() bool {
	return len(r.pendingEdits) == 0 &&
		models.ItemsEqual(r.working.Items, r.lastConfirmed.Items)
}

// OnPoll feeds a periodic server snapshot into the reconciler.
//
// Synced: the server is authoritative, adopt it outright. Dirty: never
// overwrite working; a snapshot identical to lastConfirmed carries
// nothing new and is discarded, a newer one is held as pendingServer
// until the in-flight write settles.
func (r *Reconciler) OnPoll(server *models.Order) {
	if server == nil {
		return
	}
	r.mu.Lock()
	if r.isSyncedLocked() {
		changed := !ordersEqual(r.working, server)
		r.working = server.Clone()
		r.lastConfirmed = server.Clone()
		r.pendingServer = nil
		r.mu.Unlock()
		if changed {
			r.notify()
		}
		return
	}
	if ordersEqual(r.lastConfirmed, server) {
		r.mu.Unlock()
		return
	}
	r.pendingServer = server.Clone()
	r.mu.Unlock()
}

// ApplyLocalEdit applies a mutator to the working copy optimistically
// and queues it for the next write. No store contact happens here.
func (r *Reconciler) ApplyLocalEdit(m Mutator) {
	r.mu.Lock()
	if len(r.pendingEdits) == 0 {
		r.removalRef = persistedIDs(r.working.Items)
	}
	r.working.Items = m(models.CloneItems(r.working.Items))
	r.working.RecomputeTotal()
	r.pendingEdits = append(r.pendingEdits, m)
	r.mu.Unlock()
	r.notify()
}

// ScheduleSync arms the debounced write; a subsequent call before the
// quiet period expires cancels and restarts the timer.
func (r *Reconciler) ScheduleSync(ctx context.Context) {
	r.debounced(func() {
		if err := r.Sync(ctx); err != nil {
			log.Printf("Reconciler: debounced sync for order %s failed: %v", r.orderID, err)
		}
	})
}

// Sync pushes the queued edits to the store. Writes for the same order
// are strictly serialized; a call made while another write is in flight
// queues behind it.
//
// The queued edits are replayed against the freshest known base
// (pendingServer if one is held, else lastConfirmed) rather than against
// the possibly-stale working copy, so concurrent server-side changes are
// not clobbered. On failure the optimistic working copy is left visible
// and a re-fetch re-establishes the baseline.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if len(r.pendingEdits) == 0 {
		changed := r.applyPendingServerLocked()
		r.mu.Unlock()
		if changed {
			r.notify()
		}
		return nil
	}

	base := r.pendingServer
	if base == nil {
		base = r.lastConfirmed
	}
	edits := make([]Mutator, len(r.pendingEdits))
	copy(edits, r.pendingEdits)
	consumed := len(edits)
	removalRef := append([]models.Identifier(nil), r.removalRef...)
	r.mu.Unlock()

	if base == nil {
		fetched, err := r.backend.GetOrder(ctx, r.orderID)
		if err != nil {
			return fmt.Errorf("sync: no base available and re-fetch failed: %w", err)
		}
		base = fetched
	}

	finalItems := models.CloneItems(base.Items)
	for _, m := range edits {
		finalItems = m(finalItems)
	}
	removedIDs := removedPersistedIDs(removalRef, finalItems)

	updated, err := r.backend.UpdateOrder(ctx, r.orderID, OrderUpdate{
		Items:          finalItems,
		RemovedItemIDs: removedIDs,
	})
	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		log.Printf("Reconciler: sync for order %s failed, keeping optimistic state: %v", r.orderID, err)
		r.refetchBaseline(ctx)
		return fmt.Errorf("sync order %s: %w", r.orderID, err)
	}

	r.mu.Lock()
	r.lastErr = nil
	r.pendingEdits = r.pendingEdits[consumed:]
	r.lastConfirmed = updated.Clone()
	// The acknowledged write supersedes any held poll snapshot; the next
	// poll re-establishes whatever happened concurrently.
	r.pendingServer = nil
	if len(r.pendingEdits) == 0 {
		r.working = updated.Clone()
		r.removalRef = nil
	} else {
		// Edits landed while the write was in flight. Their mutators may
		// target items that were still temporary when the write started,
		// so retarget them at the store-assigned ids before replaying on
		// top of the acknowledged state.
		if aliases := temporaryAliases(finalItems, updated.Items); len(aliases) > 0 {
			for i, m := range r.pendingEdits {
				r.pendingEdits[i] = retargeted(m, aliases)
			}
		}
		items := models.CloneItems(updated.Items)
		for _, m := range r.pendingEdits {
			items = m(items)
		}
		r.working = updated.Clone()
		r.working.Items = items
		r.working.RecomputeTotal()
		r.removalRef = persistedIDs(updated.Items)
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// ForceReplace overwrites every snapshot with a server-returned order.
// Only user-confirmed explicit commits (send to kitchen) may do this
// while dirty.
func (r *Reconciler) ForceReplace(server *models.Order) {
	r.mu.Lock()
	r.working = server.Clone()
	r.lastConfirmed = server.Clone()
	r.pendingServer = nil
	r.pendingEdits = nil
	r.removalRef = nil
	r.mu.Unlock()
	r.notify()
}

// RestoreLastConfirmed discards unsynced edits and rolls the working view
// back to the last acknowledged state (the exit-guard "restore" path).
func (r *Reconciler) RestoreLastConfirmed() {
	r.mu.Lock()
	r.working = r.lastConfirmed.Clone()
	r.pendingEdits = nil
	r.removalRef = nil
	r.applyPendingServerLocked()
	r.mu.Unlock()
	r.notify()
}

// Run polls the store on the given interval until ctx is done, feeding
// snapshots through OnPoll.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, err := r.backend.GetOrder(ctx, r.orderID)
			if err != nil {
				log.Printf("Reconciler: poll for order %s failed: %v", r.orderID, err)
				continue
			}
			r.OnPoll(order)
		}
	}
}

// applyPendingServerLocked adopts a deferred poll snapshot once the
// session is synced again, reporting whether the working view changed.
// Callers notify after releasing the lock so observers see updates in
// the order they happened.
func (r *Reconciler) applyPendingServerLocked() bool {
	if r.pendingServer == nil || !r.isSyncedLocked() {
		return false
	}
	pending := r.pendingServer
	r.pendingServer = nil
	changed := !ordersEqual(r.working, pending)
	r.working = pending.Clone()
	r.lastConfirmed = pending.Clone()
	return changed
}

// refetchBaseline re-establishes a known-good lastConfirmed after a
// failed write, leaving the dirty working copy untouched so the user's
// edits stay visible and replayable.
func (r *Reconciler) refetchBaseline(ctx context.Context) {
	fetched, err := r.backend.GetOrder(ctx, r.orderID)
	if err != nil {
		log.Printf("Reconciler: baseline re-fetch for order %s failed: %v", r.orderID, err)
		return
	}
	r.mu.Lock()
	r.lastConfirmed = fetched.Clone()
	r.mu.Unlock()
}

func (r *Reconciler) notify() {
	if r.onChange == nil {
		return
	}
	r.onChange(r.Working())
}

func persistedIDs(items []models.OrderItem) []models.Identifier {
	var ids []models.Identifier
	for _, item := range items {
		if item.ID.IsPersisted() {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// removedPersistedIDs returns the persisted ids present in the removal
// reference but absent from the final item list. Temporary ids are never
// reported as deletions.
func removedPersistedIDs(ref []models.Identifier, finalItems []models.OrderItem) []models.Identifier {
	remaining := make(map[models.Identifier]bool, len(finalItems))
	for _, item := range finalItems {
		remaining[item.ID] = true
	}
	var removed []models.Identifier
	for _, id := range ref {
		if !remaining[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

// temporaryAliases correlates the temporary items of a write payload
// with the ids the store assigned to them. The store creates new rows
// in payload order and returns items in creation order, so the nth
// unrecognized id among the acknowledged items belongs to the nth
// temporary item sent.
func temporaryAliases(sent, acked []models.OrderItem) map[models.Identifier]models.Identifier {
	sentIDs := make(map[models.Identifier]bool, len(sent))
	var temps []models.Identifier
	for _, item := range sent {
		if item.ID.IsPersisted() {
			sentIDs[item.ID] = true
		} else {
			temps = append(temps, item.ID)
		}
	}
	if len(temps) == 0 {
		return nil
	}
	aliases := make(map[models.Identifier]models.Identifier, len(temps))
	next := 0
	for _, item := range acked {
		if sentIDs[item.ID] || next >= len(temps) {
			continue
		}
		aliases[temps[next]] = item.ID
		next++
	}
	return aliases
}

// retargeted wraps a queued mutator so it still finds items whose
// temporary ids were swapped for persisted ones by the write it raced.
// The replay input is presented under the ids the mutator was captured
// against, then mapped back so the result carries persisted ids.
func retargeted(m Mutator, aliases map[models.Identifier]models.Identifier) Mutator {
	reverse := make(map[models.Identifier]models.Identifier, len(aliases))
	for temp, persisted := range aliases {
		reverse[persisted] = temp
	}
	return func(items []models.OrderItem) []models.OrderItem {
		for i := range items {
			if temp, ok := reverse[items[i].ID]; ok {
				items[i].ID = temp
			}
		}
		items = m(items)
		for i := range items {
			if persisted, ok := aliases[items[i].ID]; ok {
				items[i].ID = persisted
			}
		}
		return items
	}
}

// ordersEqual compares the fields a poll can meaningfully change.
func ordersEqual(a, b *models.Order) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status == b.Status &&
		a.KitchenState == b.KitchenState &&
		a.Total == b.Total &&
		a.PaymentMethod == b.PaymentMethod &&
		models.ItemsEqual(a.Items, b.Items)
}
