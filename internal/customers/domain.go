package customers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Customer is the account an outstanding credit balance is kept for.
type Customer struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Contact           string          `json:"contact"`
	OutstandingCredit decimal.Decimal `json:"outstandingCredit"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ErrNotFound is returned when the customer row does not exist.
var ErrNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)
