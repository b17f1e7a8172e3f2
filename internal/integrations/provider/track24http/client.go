package track24http

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

// Client talks to Track24-style aggregators that answer with an event history
// instead of a current status. The latest event becomes the delivery status.
type Client struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *http.Client
}

func New(baseURL, apiKey, domain string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		domain:  domain,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type track24Event struct {
	OperationDateTime  string `json:"operationDateTime"`
	OperationAttribute string `json:"operationAttribute"`
	OperationType      string `json:"operationType"`
	OperationPlaceName string `json:"operationPlaceName"`
}

type track24Resp struct {
	Status string `json:"status"`
	Data   struct {
		Events []track24Event `json:"events"`
	} `json:"data"`
}

// Track24 пример даты: "02.07.2014 19:16:00"
const eventTimeLayout = "02.01.2006 15:04:05"

func (c *Client) FetchTracking(ctx context.Context, parcelCode string) (provider.TrackingResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return provider.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking.json.php"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	q.Set("code", parcelCode)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return provider.TrackingResult{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.TrackingResult{}, provider.Unavailable(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return provider.TrackingResult{}, provider.Unavailable(fmt.Errorf("http %d", resp.StatusCode), "track24")
	}

	var r track24Resp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return provider.TrackingResult{}, provider.Unavailable(err, "decode")
	}
	if r.Status != "ok" {
		return provider.TrackingResult{}, provider.Unavailable(fmt.Errorf("status=%s", r.Status), "track24")
	}
	last, ok := latestEvent(r.Data.Events)
	if !ok {
		return provider.TrackingResult{}, errors.Wrapf(provider.ErrNotFound, "parcel %s has no events", parcelCode)
	}

	status := last.OperationAttribute
	if status == "" {
		status = last.OperationType
	}
	return provider.TrackingResult{DeliveryStatus: status}, nil
}

// latestEvent picks the newest event; unparsable dates keep list order.
func latestEvent(events []track24Event) (track24Event, bool) {
	if len(events) == 0 {
		return track24Event{}, false
	}
	best := len(events) - 1
	var bestAt time.Time
	for i, e := range events {
		at, err := time.ParseInLocation(eventTimeLayout, e.OperationDateTime, time.UTC)
		if err != nil {
			continue
		}
		if !at.Before(bestAt) {
			best, bestAt = i, at
		}
	}
	return events[best], true
}
