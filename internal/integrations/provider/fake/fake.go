package fake

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/pkg/errors"
)

// FakeClient: заглушка провайдера для демо и локального запуска.
// Статус детерминирован по коду посылки; через Set его можно переопределить.
type FakeClient struct {
	mu        sync.Mutex
	overrides map[string]provider.TrackingResult
	missing   map[string]struct{}
	calls     map[string]int
}

func New() *FakeClient {
	return &FakeClient{
		overrides: map[string]provider.TrackingResult{},
		missing:   map[string]struct{}{},
		calls:     map[string]int{},
	}
}

var script = []provider.TrackingResult{
	{DeliveryStatus: "Nouveau colis"},
	{DeliveryStatus: "Ramassé"},
	{DeliveryStatus: "Distribution"},
	{DeliveryStatus: "En cours de livraison"},
	{DeliveryStatus: "Distribution", SecondaryStatus: "Pas de réponse"},
	{DeliveryStatus: "Livré", PaymentStatus: "PAID", PaymentStatusText: "Payé"},
	{DeliveryStatus: "Retourné"},
}

func (f *FakeClient) Set(parcelCode string, res provider.TrackingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.missing, parcelCode)
	f.overrides[parcelCode] = res
}

// SetMissing makes the parcel unknown to the provider.
func (f *FakeClient) SetMissing(parcelCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.overrides, parcelCode)
	f.missing[parcelCode] = struct{}{}
}

func (f *FakeClient) Calls(parcelCode string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[parcelCode]
}

func (f *FakeClient) FetchTracking(ctx context.Context, parcelCode string) (provider.TrackingResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.TrackingResult{}, provider.Unavailable(err, "fake provider")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[parcelCode]++

	if _, ok := f.missing[parcelCode]; ok {
		return provider.TrackingResult{}, errors.Wrapf(provider.ErrNotFound, "parcel %s", parcelCode)
	}
	if res, ok := f.overrides[parcelCode]; ok {
		return res, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(parcelCode))
	return script[h.Sum32()%uint32(len(script))], nil
}
