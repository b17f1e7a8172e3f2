package httpprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/parcels/MKS001", r.URL.Path)
		require.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "parcel_code": "MKS001",
  "delivery_status": "Distribution",
  "secondary_status": "",
  "payment_status": "NOT_PAID",
  "payment_status_text": "Non payé"
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second)
	res, err := c.FetchTracking(context.Background(), "MKS001")
	require.NoError(t, err)
	require.Equal(t, "Distribution", res.DeliveryStatus)
	require.Equal(t, "NOT_PAID", res.PaymentStatus)
	require.Equal(t, "Non payé", res.PaymentStatusText)
}

func TestClient_FetchTracking_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).FetchTracking(context.Background(), "X")
	require.Error(t, err)
	require.True(t, errors.Is(err, provider.ErrNotFound))
}

func TestClient_FetchTracking_Unavailable(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := New(srv.URL, "", time.Second).FetchTracking(context.Background(), "X")
		require.Error(t, err)
		require.True(t, errors.Is(err, provider.ErrUnavailable), "status %d", code)
		srv.Close()
	}
}

func TestClient_FetchTracking_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", 20*time.Millisecond).FetchTracking(context.Background(), "X")
	require.Error(t, err)
	require.True(t, errors.Is(err, provider.ErrUnavailable))
}
