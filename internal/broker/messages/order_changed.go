package messages

import (
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
)

// OrderChanged публикует сервис заказов после create/update.
type OrderChanged struct {
	Action     string       `json:"action"`
	Actor      string       `json:"actor,omitempty"`
	Order      models.Order `json:"order"`
	OccurredAt time.Time    `json:"occurred_at,omitempty"`
}
