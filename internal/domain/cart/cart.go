package cart

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no cart has been saved for an identity.
// A miss on import is a normal outcome, not a storage failure.
var ErrNotFound = errors.New("saved cart not found")

// Identity is the verified (customer, shop) pair. It is produced only by a
// successful verification step and is the sole key for persistence.
type Identity struct {
	CustomerID string `json:"customer_id"`
	Shop       string `json:"shop"`
}

type SavedItem struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type SavedCart struct {
	ID         int64       `json:"id"`
	CustomerID string      `json:"customerId"`
	Shop       string      `json:"shop"`
	Items      []SavedItem `json:"items"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}
