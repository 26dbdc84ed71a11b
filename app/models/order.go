package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// OrderKind distinguishes dine-in orders (tied to a table) from takeaway
// orders (customer self-submitted, validated before kitchen routing).
type OrderKind string

const (
	OrderDineIn   OrderKind = "dine_in"
	OrderTakeaway OrderKind = "takeaway"
)

func (k OrderKind) String() string { return string(k) }

func (k *OrderKind) Scan(value interface{}) error {
	*k = OrderKind(value.(string))
	return nil
}

func (k OrderKind) Value() (driver.Value, error) {
	return string(k), nil
}

// OrderStatus represents the commercial status of an order.
type OrderStatus string

const (
	OrderInProgress        OrderStatus = "in_progress"
	OrderPendingValidation OrderStatus = "pending_validation"
	OrderFinalized         OrderStatus = "finalized"
)

func (s OrderStatus) String() string { return string(s) }

func (s *OrderStatus) Scan(value interface{}) error {
	*s = OrderStatus(value.(string))
	return nil
}

func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// KitchenState represents where an order sits in the kitchen pipeline.
type KitchenState string

const (
	KitchenNotSent  KitchenState = "not_sent"
	KitchenReceived KitchenState = "received"
	KitchenReady    KitchenState = "ready"
	KitchenServed   KitchenState = "served"
)

func (s KitchenState) String() string { return string(s) }

func (s *KitchenState) Scan(value interface{}) error {
	*s = KitchenState(value.(string))
	return nil
}

func (s KitchenState) Value() (driver.Value, error) {
	return string(s), nil
}

// ItemState represents the send-state of a single order line.
type ItemState string

const (
	ItemPending   ItemState = "pending"
	ItemSent      ItemState = "sent"
	ItemCancelled ItemState = "cancelled"
)

func (s ItemState) String() string { return string(s) }

func (s *ItemState) Scan(value interface{}) error {
	*s = ItemState(value.(string))
	return nil
}

func (s ItemState) Value() (driver.Value, error) {
	return string(s), nil
}

// Order represents a customer order, dine-in or takeaway.
type Order struct {
	ID              string       `gorm:"primaryKey" json:"id"`
	Kind            OrderKind    `gorm:"index" json:"kind"`
	TableID         *uint        `gorm:"index" json:"table_id,omitempty"`
	Table           *Table       `gorm:"foreignKey:TableID" json:"table,omitempty"`
	CoverCount      int          `json:"cover_count"`
	Status          OrderStatus  `gorm:"index" json:"status"`
	KitchenState    KitchenState `gorm:"index" json:"kitchen_state"`
	Items           []OrderItem  `gorm:"foreignKey:OrderID" json:"items"`
	Total           float64      `json:"total"`
	PaymentMethod   string       `json:"payment_method,omitempty"`
	ReceiptURL      string       `json:"receipt_url,omitempty"`
	EmployeeID      *uint        `gorm:"index" json:"employee_id,omitempty"`
	Employee        *Employee    `gorm:"foreignKey:EmployeeID" json:"employee,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	SentToKitchenAt *time.Time   `json:"sent_to_kitchen_at,omitempty"`
	ReadyAt         *time.Time   `json:"ready_at,omitempty"`
	ServedAt        *time.Time   `json:"served_at,omitempty"`
	FinalizedAt     *time.Time   `json:"finalized_at,omitempty"`
}

// RecomputeTotal recalculates the order total from its non-cancelled
// items. The store recomputes on every write; editing sessions recompute
// on every local mutation.
func (o *Order) RecomputeTotal() {
	var total float64
	for _, item := range o.Items {
		if item.State == ItemCancelled {
			continue
		}
		total += item.UnitPrice * float64(item.Quantity)
	}
	o.Total = total
}

// PendingItems returns the order lines not yet committed to the kitchen.
func (o *Order) PendingItems() []OrderItem {
	var pending []OrderItem
	for _, item := range o.Items {
		if item.State == ItemPending {
			pending = append(pending, item)
		}
	}
	return pending
}

// SentItems returns the order lines committed to the kitchen.
func (o *Order) SentItems() []OrderItem {
	var sent []OrderItem
	for _, item := range o.Items {
		if item.State == ItemSent {
			sent = append(sent, item)
		}
	}
	return sent
}

// Clone returns a deep copy of the order, items included. The
// reconciliation snapshots must never alias each other's item slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	dup := *o
	dup.Items = CloneItems(o.Items)
	return &dup
}

// TableStatus is the closed set of table board states.
type TableStatus string

const (
	TableFree      TableStatus = "free"
	TableSeated    TableStatus = "seated"
	TableInKitchen TableStatus = "in_kitchen"
	TableServed    TableStatus = "served"
	TablePaying    TableStatus = "paying"
)

func (s TableStatus) String() string { return string(s) }

func (s *TableStatus) Scan(value interface{}) error {
	*s = TableStatus(value.(string))
	return nil
}

func (s TableStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// StatusDescriptor carries the display attributes for a table status.
type StatusDescriptor struct {
	Code  TableStatus `json:"code"`
	Label string      `json:"label"`
	Color string      `json:"color"`
}

// Descriptor maps every table status to its display descriptor. The
// mapping is total: an unknown status falls back to the free descriptor
// rather than leaking a raw string to the board.
func (s TableStatus) Descriptor() StatusDescriptor {
	switch s {
	case TableSeated:
		return StatusDescriptor{Code: s, Label: "Ocupada", Color: "#F59E0B"}
	case TableInKitchen:
		return StatusDescriptor{Code: s, Label: "En cocina", Color: "#EF4444"}
	case TableServed:
		return StatusDescriptor{Code: s, Label: "Servida", Color: "#10B981"}
	case TablePaying:
		return StatusDescriptor{Code: s, Label: "Pagando", Color: "#8B5CF6"}
	case TableFree:
		return StatusDescriptor{Code: s, Label: "Libre", Color: "#3B82F6"}
	default:
		return StatusDescriptor{Code: TableFree, Label: "Libre", Color: "#3B82F6"}
	}
}

// Table represents a physical restaurant table.
type Table struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Number         string         `gorm:"not null" json:"number"`
	Name           string         `json:"name"`
	Capacity       int            `json:"capacity"`
	Status         TableStatus    `json:"status"`
	CurrentOrderID *string        `gorm:"index" json:"current_order_id,omitempty"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
