package models

import "time"

// DeliveryStatus is the terminal outcome of delivering one message to one
// mapping.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed" // Retry budget exhausted
)

// Delivery records the resolution of (mapping, message). Its presence is
// what suppresses duplicate sends on retry and lets the cursor advance.
type Delivery struct {
	ID        int64          `db:"id"`
	MappingID int64          `db:"mapping_id"`
	MessageID int64          `db:"message_id"` // Telegram message id within the source
	Status    DeliveryStatus `db:"status"`
	Attempts  int            `db:"attempts"`
	LastError string         `db:"last_error"`
	CreatedAt time.Time      `db:"created_at"`
}
