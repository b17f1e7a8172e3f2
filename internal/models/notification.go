package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type NotificationCategory string

const CategoryOrder NotificationCategory = "order"

type NotificationAction string

const (
	ActionCreate       NotificationAction = "create"
	ActionUpdate       NotificationAction = "update"
	ActionStatusChange NotificationAction = "status_change"
)

type Details struct {
	ClientName string          `json:"clientName"`
	Phone      string          `json:"phone"`
	City       string          `json:"city"`
	Price      decimal.Decimal `json:"price"`
}

type Notification struct {
	ID        string               `json:"id"`
	OrderID   string               `json:"orderId"`
	Category  NotificationCategory `json:"category"`
	Action    NotificationAction   `json:"action"`
	Stage     Stage                `json:"canonicalStage"`
	RawStatus string               `json:"rawStatusSnapshot"`
	Message   string               `json:"message"`
	Details   Details              `json:"details"`
	CreatedAt time.Time            `json:"createdAt"`
	Read      bool                 `json:"read"`
}

// NotifiedKey is the unit of notification deduplication.
type NotifiedKey struct {
	OrderID string
	Stage   Stage
}

func (k NotifiedKey) String() string {
	return k.OrderID + "|" + string(k.Stage)
}

// ParseNotifiedKey разбирает ключ, записанный через String. Order id может
// содержать "|", поэтому режем по последнему разделителю.
func ParseNotifiedKey(s string) (NotifiedKey, bool) {
	i := strings.LastIndex(s, "|")
	if i <= 0 {
		return NotifiedKey{}, false
	}
	return NotifiedKey{OrderID: s[:i], Stage: Stage(s[i+1:])}, true
}
