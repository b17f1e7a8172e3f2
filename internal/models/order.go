package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order принадлежит внешнему сервису заказов; здесь он только читается.
type Order struct {
	ID                 string          `json:"id"`
	ParcelCode         string          `json:"parcelCode,omitempty"`
	ReceiverName       string          `json:"receiverName"`
	ReceiverPhone      string          `json:"receiverPhone"`
	City               string          `json:"city"`
	Address            string          `json:"address,omitempty"`
	Price              decimal.Decimal `json:"price"`
	Quantity           int             `json:"quantity"`
	RawStatus          string          `json:"rawStatus"`
	RawSecondaryStatus string          `json:"rawSecondaryStatus,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// HasParcel reports whether the order has an external tracking key.
func (o Order) HasParcel() bool {
	return o.ParcelCode != ""
}

// WithTracking returns a copy of the order carrying the provider's raw statuses.
func (o Order) WithTracking(s TrackingSnapshot) Order {
	o.RawStatus = s.DeliveryStatus
	o.RawSecondaryStatus = s.SecondaryStatus
	return o
}
