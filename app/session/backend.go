// Package session implements the order editing core: a per-order editing
// session that mutates a working copy optimistically, coalesces writes,
// and reconciles periodic server snapshots without ever discarding
// unsynced user input.
package session

import (
	"context"
	"errors"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// Backend is the relational store the editing core writes through. The
// core owns the in-memory working copy; the backend owns the durable one.
type Backend interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	CreateOrGetOrderForTable(ctx context.Context, tableID uint) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID string, update OrderUpdate) (*models.Order, error)
	SendItemsToKitchen(ctx context.Context, orderID string, itemIDs []models.Identifier) (*models.Order, error)
	MarkReady(ctx context.Context, orderID string) (*models.Order, error)
	MarkServed(ctx context.Context, orderID string) (*models.Order, error)
	Finalize(ctx context.Context, orderID string, paymentMethod, receiptURL string) (*models.Order, error)
	GetKitchenOrders(ctx context.Context) ([]models.Order, error)
	CancelUnsentOrder(ctx context.Context, orderID string) error
}

// OrderUpdate is the write payload for UpdateOrder. Items carrying
// temporary ids are created by the store; RemovedItemIDs only ever holds
// persisted ids, temporary ones simply vanish with the working copy.
type OrderUpdate struct {
	Items          []models.OrderItem  `json:"items"`
	RemovedItemIDs []models.Identifier `json:"removed_item_ids,omitempty"`
}

var (
	// ErrOrderNotFound is returned when an order (or its table) does not
	// exist; screens navigate back to a safe list view on it.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStaleTemporaryItems signals that items selected for the kitchen
	// still carry temporary ids after the pre-send persist loop. The
	// commit is aborted, never papered over.
	ErrStaleTemporaryItems = errors.New("selected items still have temporary ids")

	// ErrNothingToSend signals a kitchen commit with no pending items.
	ErrNothingToSend = errors.New("no pending items to send to kitchen")

	// ErrItemImmutable rejects edits targeting a line already committed
	// to the kitchen; sent lines can only change through kitchen flow.
	ErrItemImmutable = errors.New("item was already sent to kitchen")
)
