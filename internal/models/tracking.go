package models

import "time"

type TrackingSnapshot struct {
	ParcelCode        string    `json:"parcelCode"`
	DeliveryStatus    string    `json:"deliveryStatus"`
	SecondaryStatus   string    `json:"secondaryStatus,omitempty"`
	PaymentStatus     string    `json:"paymentStatus,omitempty"`
	PaymentStatusText string    `json:"paymentStatusText,omitempty"`
	LastFetchedAt     time.Time `json:"lastFetchedAt"`
}

// SameContent сравнивает снапшоты без учёта времени запроса.
func (s TrackingSnapshot) SameContent(o TrackingSnapshot) bool {
	return s.ParcelCode == o.ParcelCode &&
		s.DeliveryStatus == o.DeliveryStatus &&
		s.SecondaryStatus == o.SecondaryStatus &&
		s.PaymentStatus == o.PaymentStatus &&
		s.PaymentStatusText == o.PaymentStatusText
}
