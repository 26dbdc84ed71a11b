// Package kitchen turns flat sent-item lists into the tickets the
// kitchen display works from: one ticket per send batch, oldest first.
package kitchen

import (
	"fmt"
	"sort"
	"time"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
)

// Line is one display row of a ticket. Uncommented lines for the same
// product are merged with summed quantities; a line carrying a comment is
// always listed on its own, even for a product that also appears
// uncommented, because the comment may distinguish preparation per unit.
type Line struct {
	ProductID           uint           `json:"product_id"`
	ProductName         string         `json:"product_name"`
	Quantity            int            `json:"quantity"`
	Comment             string         `json:"comment,omitempty"`
	ExcludedIngredients models.UintSet `json:"excluded_ingredients,omitempty"`
}

// Ticket is one kitchen-facing submission batch of an order.
type Ticket struct {
	// Key is stable across polls: "<orderID>-<unix ms of the batch>".
	Key         string    `json:"key"`
	OrderID     string    `json:"order_id"`
	OrderKind   models.OrderKind `json:"order_kind"`
	TableNumber string    `json:"table_number,omitempty"`
	SentAt      time.Time `json:"sent_at"`
	Lines       []Line    `json:"lines"`
	Urgency     Urgency   `json:"urgency"`
}

// GroupOrder builds the tickets for a single order from its sent items.
// Items are grouped by their shared send timestamp; an item without one
// falls back to the order's kitchen-received timestamp, then to its
// creation timestamp. Tickets come back ordered oldest first.
func GroupOrder(order *models.Order, now time.Time) []Ticket {
	batches := make(map[int64][]models.OrderItem)
	for _, item := range order.SentItems() {
		ts := batchTimestamp(order, item)
		batches[ts.UnixMilli()] = append(batches[ts.UnixMilli()], item)
	}

	tickets := make([]Ticket, 0, len(batches))
	for ms, items := range batches {
		sentAt := time.UnixMilli(ms)
		ticket := Ticket{
			Key:       fmt.Sprintf("%s-%d", order.ID, ms),
			OrderID:   order.ID,
			OrderKind: order.Kind,
			SentAt:    sentAt,
			Lines:     mergeLines(items),
			Urgency:   ClassifyAt(sentAt, now),
		}
		if order.Table != nil {
			ticket.TableNumber = order.Table.Number
		}
		tickets = append(tickets, ticket)
	}

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].SentAt.Before(tickets[j].SentAt)
	})
	return tickets
}

// GroupOrders builds the whole kitchen board from the polled orders,
// oldest batch first across all orders.
func GroupOrders(orders []models.Order, now time.Time) []Ticket {
	var all []Ticket
	for i := range orders {
		all = append(all, GroupOrder(&orders[i], now)...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].SentAt.Before(all[j].SentAt)
	})
	return all
}

// mergeLines de-duplicates the items of one batch. Only uncommented items
// merge, and only with items for the same product carrying the same
// excluded-ingredient set; everything with a comment stays its own row.
func mergeLines(items []models.OrderItem) []Line {
	var lines []Line
	for _, item := range items {
		if !item.HasComment() {
			merged := false
			for i := range lines {
				if lines[i].Comment == "" &&
					lines[i].ProductID == item.ProductID &&
					lines[i].ExcludedIngredients.Equal(item.ExcludedIngredients) {
					lines[i].Quantity += item.Quantity
					merged = true
					break
				}
			}
			if merged {
				continue
			}
		}
		line := Line{
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			ExcludedIngredients: item.ExcludedIngredients.Normalized(),
		}
		if item.HasComment() {
			line.Comment = models.NormalizeComment(item.Comment)
		}
		lines = append(lines, line)
	}
	return lines
}

func batchTimestamp(order *models.Order, item models.OrderItem) time.Time {
	if item.SentAt != nil {
		return *item.SentAt
	}
	if order.SentToKitchenAt != nil {
		return *order.SentToKitchenAt
	}
	return order.CreatedAt
}
