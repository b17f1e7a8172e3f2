package messages

import (
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
)

// TrackingUpdated уходит в Kafka, когда провайдер вернул новый статус посылки.
type TrackingUpdated struct {
	ParcelCode string    `json:"parcel_code"`
	OrderIDs   []string  `json:"order_ids,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`

	DeliveryStatus    string `json:"delivery_status"`
	SecondaryStatus   string `json:"secondary_status,omitempty"`
	PaymentStatus     string `json:"payment_status,omitempty"`
	PaymentStatusText string `json:"payment_status_text,omitempty"`

	Stage    models.Stage `json:"stage"`
	Terminal bool         `json:"terminal"`

	PreviousStatus *string `json:"previous_status,omitempty"`
}
