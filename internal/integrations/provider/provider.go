package provider

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("parcel not found")
	ErrUnavailable = errors.New("tracking provider unavailable")
)

// TrackingResult: то, что провайдер знает о посылке прямо сейчас.
type TrackingResult struct {
	DeliveryStatus    string
	SecondaryStatus   string
	PaymentStatus     string
	PaymentStatusText string
}

type Client interface {
	FetchTracking(ctx context.Context, parcelCode string) (TrackingResult, error)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error, msg string) error {
	return &classified{kind: ErrUnavailable, err: errors.Wrap(err, msg)}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }
