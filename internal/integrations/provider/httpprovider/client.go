package httpprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type respBody struct {
	ParcelCode        string `json:"parcel_code"`
	DeliveryStatus    string `json:"delivery_status"`
	SecondaryStatus   string `json:"secondary_status"`
	PaymentStatus     string `json:"payment_status"`
	PaymentStatusText string `json:"payment_status_text"`
}

func (c *Client) FetchTracking(ctx context.Context, parcelCode string) (provider.TrackingResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return provider.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/parcels/%s", url.PathEscape(parcelCode))
	q := u.Query()
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return provider.TrackingResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.TrackingResult{}, provider.Unavailable(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return provider.TrackingResult{}, errors.Wrapf(provider.ErrNotFound, "parcel %s", parcelCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.TrackingResult{}, provider.Unavailable(fmt.Errorf("rate limited (429)"), "provider http")
	case resp.StatusCode/100 != 2:
		return provider.TrackingResult{}, provider.Unavailable(fmt.Errorf("http %d", resp.StatusCode), "provider http")
	}

	var rb respBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return provider.TrackingResult{}, provider.Unavailable(err, "decode")
	}

	return provider.TrackingResult{
		DeliveryStatus:    rb.DeliveryStatus,
		SecondaryStatus:   rb.SecondaryStatus,
		PaymentStatus:     rb.PaymentStatus,
		PaymentStatusText: rb.PaymentStatusText,
	}, nil
}
