package shopapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BearBump/ShopTrack/internal/cache/trackingcache"
	"github.com/BearBump/ShopTrack/internal/eventbus"
	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/BearBump/ShopTrack/internal/integrations/provider/fake"
	"github.com/BearBump/ShopTrack/internal/notifications"
	"github.com/BearBump/ShopTrack/internal/services/orders"
	"github.com/BearBump/ShopTrack/internal/services/poller"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakePoller struct {
	triggered int
}

func (p *fakePoller) Stats() poller.Stats { return poller.Stats{TotalCycles: 7, Concurrency: 6} }
func (p *fakePoller) Trigger()            { p.triggered++ }

type testEnv struct {
	srv    *httptest.Server
	store  *notifications.Store
	cache  *trackingcache.Cache
	poller *fakePoller
}

func newEnv(t *testing.T, checks ...ReadyCheck) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := notifications.New(nil)
	require.NoError(t, store.Load(ctx))
	bus := eventbus.New()
	bus.Subscribe(func(ctx context.Context, ev eventbus.Event) {
		_, _, _ = store.OnEvent(ctx, ev)
	})

	fc := fake.New()
	fc.Set("MKS001", provider.TrackingResult{DeliveryStatus: "Distribution", PaymentStatus: "PENDING"})
	cache := trackingcache.New(fc, nil)

	swagger := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(swagger, []byte(`{"swagger":"2.0"}`), 0o600))

	fp := &fakePoller{}
	api := New(Options{
		Notifications: store,
		Trackings:     cache,
		Orders:        orders.New(nil, bus, nil),
		Poller:        fp,
		ReadyChecks:   checks,
		SwaggerPath:   swagger,
	})
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, cache: cache, poller: fp}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func postOrder(t *testing.T, e *testEnv, id, raw string) {
	t.Helper()
	body := `{"action":"update","actor":"admin","order":{"id":"` + id + `","parcelCode":"MKS001","receiverName":"Amina","rawStatus":"` + raw + `","price":"120.50"}}`
	resp, _ := e.do(t, http.MethodPost, "/api/v1/orders/events", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestAPI_NotificationsFlow(t *testing.T) {
	e := newEnv(t)

	postOrder(t, e, "42", "Distribution")
	postOrder(t, e, "42", "Distribution")
	postOrder(t, e, "43", "Injoignable")
	postOrder(t, e, "44", "Livré")

	resp, out := e.do(t, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := out["notifications"].([]any)
	require.Len(t, list, 2)
	require.Equal(t, float64(2), out["unread"])
	first := list[0].(map[string]any)
	require.Equal(t, "43", first["orderId"])
	require.Equal(t, "ON_HOLD", first["canonicalStage"])
	require.Equal(t, "Amina", first["details"].(map[string]any)["clientName"])

	id := first["id"].(string)
	resp, _ = e.do(t, http.MethodPost, "/api/v1/notifications/"+id+"/read", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, out = e.do(t, http.MethodGet, "/api/v1/notifications?onlyInProgress=true", "")
	require.Equal(t, float64(1), out["unread"])

	resp, _ = e.do(t, http.MethodPost, "/api/v1/notifications/missing/read", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/notifications/read-all", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Zero(t, e.store.Unread())

	resp, _ = e.do(t, http.MethodDelete, "/api/v1/notifications/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, "/api/v1/notifications/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/v1/notifications", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, e.store.List(notifications.Filter{}))

	postOrder(t, e, "42", "Distribution")
	require.Len(t, e.store.List(notifications.Filter{}), 1)
}

func TestAPI_BadRequests(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/notifications?onlyInProgress=maybe", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/orders/events", "{")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := e.do(t, http.MethodPost, "/api/v1/orders/events", `{"action":"explode","order":{"id":"1"}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, out["error"], "unknown action")
}

func TestAPI_Tracking(t *testing.T) {
	e := newEnv(t)

	_, out := e.do(t, http.MethodGet, "/api/v1/trackings/MKS001", "")
	require.Equal(t, false, out["found"])

	_, err := e.cache.Refresh(context.Background(), "MKS001")
	require.NoError(t, err)

	resp, out := e.do(t, http.MethodGet, "/api/v1/trackings/MKS001", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, out["found"])
	require.Equal(t, "IN_TRANSIT", out["canonicalStage"])
	snap := out["snapshot"].(map[string]any)
	require.Equal(t, "Distribution", snap["deliveryStatus"])
}

func TestAPI_Ops(t *testing.T) {
	e := newEnv(t)

	resp, out := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", out["status"])

	resp, out = e.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(7), out["totalCycles"])

	resp, _ = e.do(t, http.MethodPost, "/trigger", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, e.poller.triggered)

	resp, _ = e.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	require.Equal(t, http.StatusOK, metrics.StatusCode)

	swagger, err := http.Get(e.srv.URL + "/swagger.json")
	require.NoError(t, err)
	defer swagger.Body.Close()
	require.Equal(t, http.StatusOK, swagger.StatusCode)
}

func TestAPI_ReadyzFails(t *testing.T) {
	e := newEnv(t, ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }})

	resp, out := e.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "connection refused", out["failed"].(map[string]any)["redis"])
}

func TestAPI_NotLoadedStore(t *testing.T) {
	api := New(Options{Notifications: notifications.New(nil), Trackings: trackingcache.New(fake.New(), nil)})
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/notifications", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
