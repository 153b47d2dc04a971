package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/require"

	"kiosque/register/internal/cache"
	"kiosque/register/internal/catalog"
	"kiosque/register/internal/connectivity"
	"kiosque/register/internal/ident"
	"kiosque/register/internal/queue"
	"kiosque/register/internal/remote/memory"
	"kiosque/register/internal/service"
)

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	rem := memory.NewSeeded()
	dir := t.TempDir()

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"), rem, cache.NoopPromotionCache{}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	q, err := queue.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ids, err := ident.NewGenerator(1)
	require.NoError(t, err)

	bus := EventBus.New()
	svc, err := service.New(service.Params{
		Remote:     rem,
		Catalog:    cat,
		Queue:      q,
		Monitor:    connectivity.NewMonitor(bus, rem.Ping),
		Bus:        bus,
		IDs:        ids,
		RegisterID: "register-1",
		Currency:   "GNF",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RefreshCatalog(context.Background()))
	svc.SetOnline(true)

	return New(svc).Handler(), rem
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthz(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	require.Equal(t, "ok", payload["status"])
	require.Equal(t, true, payload["online"])
}

func TestListProducts(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/catalog/products", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	products := payload["products"].([]any)
	require.Len(t, products, 6, "inactive products are not listed")
}

func TestAddToCartAndView(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	items := payload["items"].([]any)
	require.Len(t, items, 1)
}

func TestAddToCartValidation(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-ABSENT-01"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"unknown_field":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartStockConflict(t *testing.T) {
	h, rem := newTestAPI(t)
	rem.SetStock("PRD-RIZ-01", 5)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSetQuantityAndRemove(t *testing.T) {
	h, _ := newTestAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)

	rec := doJSON(t, h, http.MethodPut, "/api/v1/cart/items/PRD-RIZ-01", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/cart/items/PRD-RIZ-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Empty(t, payload["items"])
}

func TestApplyDiscountEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/cart/items/PRD-RIZ-01/discount", `{"percent":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/cart/items/PRD-RIZ-01/discount", `{"percent":150}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalizeEmptyCart(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sale/finalize", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFinalizeOnline(t *testing.T) {
	h, rem := newTestAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sale/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	sale := payload["sale"].(map[string]any)
	require.Equal(t, "online_committed", sale["status"])
	require.Equal(t, "ord-000001", sale["remote_ref"])
	require.Len(t, rem.Orders(), 1)
}

func TestFinalizeOfflineThenSync(t *testing.T) {
	h, rem := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPut, "/api/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/sale/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sale := decodeBody(t, rec)["sale"].(map[string]any)
	require.Equal(t, "queued", sale["status"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeBody(t, rec)["pending_count"])

	// Flipping back online drains automatically; the manual sync endpoint
	// then reports nothing left to do.
	doJSON(t, h, http.MethodPut, "/api/v1/connectivity", `{"online":true}`)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decodeBody(t, rec)["synced"])

	require.Len(t, rem.Orders(), 1)
}

func TestQuarantineAcknowledge(t *testing.T) {
	h, rem := newTestAPI(t)

	doJSON(t, h, http.MethodPut, "/api/v1/connectivity", `{"online":false}`)
	doJSON(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":"PRD-RIZ-01"}`)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/sale/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	saleID := decodeBody(t, rec)["sale"].(map[string]any)["id"].(string)

	rem.SetStock("PRD-RIZ-01", 0)
	doJSON(t, h, http.MethodPut, "/api/v1/connectivity", `{"online":true}`)
	for i := 0; i < 5; i++ {
		doJSON(t, h, http.MethodPost, "/api/v1/sync", "")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/queue/quarantine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/queue/quarantine/"+saleID+"/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/queue/quarantine/"+saleID+"/ack", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.EqualValues(t, 0, payload["pending_count"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/session", `{"cashier":"Mariam"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	opened := decodeBody(t, rec)["session"].(map[string]any)
	require.Equal(t, "Mariam", opened["cashier"])
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestAPI(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/v1/cart"},
		{http.MethodGet, "/api/v1/sale/finalize"},
		{http.MethodPost, "/api/v1/catalog/products"},
		{http.MethodGet, "/api/v1/sync"},
	} {
		rec := doJSON(t, h, tc.method, tc.path, "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
	}
}
