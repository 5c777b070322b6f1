package db

import (
	"encoding/json"
	"time"

	"github.com/proofcart/proofcart/go/core"
)

// Order is the customer order of record. Money fields are integer
// minor units; Total = Subtotal + Tax + Fees + Tip and is immutable
// once PaymentStatus is AUTHORIZED.
type Order struct {
	ID                string
	CustomerID        string
	StoreID           string
	AddressID         string
	Status            core.OrderStatus
	DisclosureVersion string
	SubtotalCents     int64
	TaxCents          int64
	FeesCents         int64
	TipCents          int64
	TotalCents        int64
	Items             []OrderItem
	PaymentStatus     core.PaymentStatus
	CreatedAt         time.Time
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// OrderEvent is one link of an order's hash-chained dossier.
// Events are append-only and never mutated.
type OrderEvent struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Seq       int64           `json:"seq"`
	TS        time.Time       `json:"ts"`
	ActorType core.ActorType  `json:"actor_type"`
	ActorID   string          `json:"actor_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	HashPrev  *string         `json:"hash_prev"`
	HashSelf  string          `json:"hash_self"`
}

// TaskRoute describes what a delivery task is carrying where.
// Type is DELIVERY for the normal leg or RETURN for carrying refused
// goods back to the originating store.
type TaskRoute struct {
	Type      string `json:"type"`
	ToStoreID string `json:"to_store_id,omitempty"`
}

// DeliveryTask is a unit of courier work for one order. At most one
// task per order may be in an active status (OFFERED, ACCEPTED,
// IN_PROGRESS); OfferExpiresAt is set iff Status is OFFERED.
type DeliveryTask struct {
	ID                string
	OrderID           string
	DriverID          *string
	Status            core.TaskStatus
	OfferedToDriverID *string
	OfferExpiresAt    *time.Time
	Route             TaskRoute
	CreatedAt         time.Time
}

// DriverMetrics are the rolling stats feeding the acceptance heuristic.
type DriverMetrics struct {
	AcceptRate7d    float64 `json:"accept_rate_7d"`
	CancelRate7d    float64 `json:"cancel_rate_7d"`
	RecentTimeouts  int     `json:"recent_timeouts"`
	FairnessPenalty float64 `json:"fairness_penalty"`
}

// Driver is a courier with location, eligibility, and rolling metrics.
type Driver struct {
	ID                   string
	Status               core.DriverStatus
	Lat, Lng             *float64
	ZoneID               string
	InsuranceVerified    bool
	RegistrationVerified bool
	VehicleVerified      bool
	BackgroundClear      bool
	Metrics              DriverMetrics
}

// OfferLog is an immutable record of one offer for later analysis.
// Outcome stays null until accepted, rejected, timed out, or canceled.
type OfferLog struct {
	ID                string
	TaskID            string
	OrderID           string
	DriverID          string
	CreatedAt         time.Time
	Features          json.RawMessage
	Outcome           *string
	OutcomeMs         *int64
	ResponseLatencyMs *int64
}

// Product is a catalog entry used to price order items at checkout.
type Product struct {
	ID          string
	StoreID     string
	Name        string
	PriceCents  int64
	IsAvailable bool
}

// Store is a merchant location. Lat/Lng feed the dispatch snapshot's
// pickup coordinates and RETURN task destinations.
type Store struct {
	ID       string
	Name     string
	Address  string
	Lat, Lng *float64
}

// CustomerAddress is a delivery drop location.
type CustomerAddress struct {
	ID         string
	CustomerID string
	Address    string
	Lat, Lng   *float64
}
