package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/BearBump/ShopTrack/internal/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-Id"
)

type Payload struct {
	OrderID    string    `json:"orderId"`
	ParcelCode string    `json:"parcelCode"`
	NewStatus  string    `json:"newStatus"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action,omitempty"`
	Actor      string    `json:"actor,omitempty"`
}

type Ack struct {
	DeliveryID string
	StatusCode int
	Skipped    bool
}

type Emitter struct {
	url    string
	signer *Signer
	client *http.Client
	now    func() time.Time

	wg sync.WaitGroup
}

// NewEmitter returns an emitter posting to url. An empty url turns every
// call into a no-op.
func NewEmitter(url string, signer *Signer, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Emitter{
		url:    url,
		signer: signer,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (e *Emitter) Enabled() bool {
	return e != nil && e.url != ""
}

// Emit makes exactly one delivery attempt. Retrying is up to the caller.
func (e *Emitter) Emit(ctx context.Context, p Payload) (Ack, error) {
	if !e.Enabled() {
		return Ack{Skipped: true}, nil
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = e.now().UTC()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Ack{}, errors.Wrap(err, "marshal webhook payload")
	}

	ack := Ack{DeliveryID: uuid.NewString()}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return ack, errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, e.signer.Header(body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(p.Timestamp.Unix(), 10))
	req.Header.Set(HeaderID, ack.DeliveryID)

	started := time.Now()
	resp, err := e.client.Do(req)
	metrics.WebhookLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return ack, errors.Wrap(err, "webhook post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	ack.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return ack, errors.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	return ack, nil
}

// Go sends p in the background. The caller's cancellation does not abort
// the delivery; failures only reach the log.
func (e *Emitter) Go(ctx context.Context, p Payload) {
	if !e.Enabled() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ack, err := e.Emit(context.WithoutCancel(ctx), p)
		if err != nil {
			slog.Error("webhook delivery failed",
				"order_id", p.OrderID,
				"parcel_code", p.ParcelCode,
				"delivery_id", ack.DeliveryID,
				"error", err.Error(),
			)
			return
		}
		slog.Debug("webhook delivered", "order_id", p.OrderID, "delivery_id", ack.DeliveryID, "status", ack.StatusCode)
	}()
}

// Wait blocks until background deliveries started by Go are finished.
func (e *Emitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}
