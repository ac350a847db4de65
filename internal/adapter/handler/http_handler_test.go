package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

var kitchen = domain.Caller{UserID: "kitchen-1", Admin: true}

func newTestServices(t *testing.T) Services {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	ledger := storage.NewMemoryLedger()
	catalog := service.NewCatalogService(store, ledger, logger)
	lifecycle := service.NewLifecycleManager(store, store, ledger, logger,
		service.WithIdempotency(storage.NewMemoryIdempotency()))

	return Services{
		Catalog:   catalog,
		Lifecycle: lifecycle,
		Payments:  service.NewPaymentService(lifecycle, store, service.DefaultMinCodeLength, logger),
		Dashboard: service.NewDashboardService(store, catalog, time.UTC),
	}
}

func addMeal(t *testing.T, svc Services, id string, price int64, units *int) {
	t.Helper()

	_, err := svc.Catalog.Create(context.Background(), kitchen, domain.MenuItem{
		ID:             id,
		Name:           "meal " + id,
		Category:       "Main Course",
		Price:          decimal.NewFromInt(price),
		MaxPerPerson:   2,
		UnitsAvailable: units,
		IsAvailable:    true,
	})
	require.NoError(t, err)
}

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPIClient(t *testing.T, svc Services) *apiClient {
	t.Helper()

	server := httptest.NewServer(NewHTTPHandler(svc, zaptest.NewLogger(t)).Routes())
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server}
}

// do sends body (raw when it is a string) and decodes the response into out when non-nil.
func (c *apiClient) do(method, path string, caller domain.Caller, body any, out any, headers ...string) int {
	c.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller.UserID != "" {
		req.Header.Set(headerUserID, caller.UserID)
	}
	if caller.Admin {
		req.Header.Set(headerKitchenAdmin, "true")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func orderBody(mealID string, quantity int) placeOrderRequest {
	return placeOrderRequest{Items: []orderLineRequest{{MealID: mealID, Quantity: quantity}}}
}

func TestHTTP_HealthCheck(t *testing.T) {
	api := newAPIClient(t, newTestServices(t))

	var body map[string]string
	code := api.do(http.MethodGet, "/health", domain.Caller{}, nil, &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHTTP_PlaceOrder(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(5))
	api := newAPIClient(t, svc)

	var order domain.Order
	code := api.do(http.MethodPost, "/api/orders", domain.Caller{UserID: "alice"}, orderBody("stew", 2), &order)

	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "alice", order.UserID)
	assert.Equal(t, domain.OrderStatusPlaced, order.Status)
	assert.True(t, decimal.NewFromInt(700).Equal(order.Total))

	var meal domain.MenuItem
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/meals/stew", domain.Caller{}, nil, &meal))
	require.NotNil(t, meal.UnitsLeft)
	assert.Equal(t, 3, *meal.UnitsLeft)
}

func TestHTTP_PlaceOrderWithoutIdentity(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(5))
	api := newAPIClient(t, svc)

	var body errorResponse
	code := api.do(http.MethodPost, "/api/orders", domain.Caller{}, orderBody("stew", 1), &body)

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", body.Error.Code)
}

func TestHTTP_OutOfStock(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(1))
	api := newAPIClient(t, svc)

	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/api/orders", domain.Caller{UserID: "alice"}, orderBody("stew", 1), nil))

	var body errorResponse
	code := api.do(http.MethodPost, "/api/orders", domain.Caller{UserID: "bob"}, orderBody("stew", 1), &body)

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "OUT_OF_STOCK", body.Error.Code)
}

func TestHTTP_LastUnitsRace(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(3))
	api := newAPIClient(t, svc)

	const users = 12
	statuses := make(chan int, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := domain.Caller{UserID: "user-" + string(rune('a'+i))}
			statuses <- api.do(http.MethodPost, "/api/orders", caller, orderBody("stew", 1), nil)
		}(i)
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for code := range statuses {
		counts[code]++
	}
	assert.Equal(t, 3, counts[http.StatusCreated])
	assert.Equal(t, users-3, counts[http.StatusConflict])
}

func TestHTTP_DuplicateIdempotencyKey(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(5))
	api := newAPIClient(t, svc)
	alice := domain.Caller{UserID: "alice"}

	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/api/orders", alice, orderBody("stew", 1), nil, headerIdempotencyKey, "k-1"))

	var body errorResponse
	code := api.do(http.MethodPost, "/api/orders", alice, orderBody("stew", 1), &body, headerIdempotencyKey, "k-1")

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DUPLICATE_REQUEST", body.Error.Code)
}

func TestHTTP_BadJSON(t *testing.T) {
	api := newAPIClient(t, newTestServices(t))

	var body errorResponse
	code := api.do(http.MethodPost, "/api/orders", domain.Caller{UserID: "alice"}, "{not json", &body)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
}

func TestHTTP_UnknownOrder(t *testing.T) {
	api := newAPIClient(t, newTestServices(t))

	var body errorResponse
	code := api.do(http.MethodGet, "/api/orders/missing", domain.Caller{UserID: "alice"}, nil, &body)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ORDER_NOT_FOUND", body.Error.Code)
}

func TestHTTP_AdminRoutes(t *testing.T) {
	api := newAPIClient(t, newTestServices(t))

	var body errorResponse
	code := api.do(http.MethodGet, "/api/admin/payments/pending", domain.Caller{UserID: "alice"}, nil, &body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)

	code = api.do(http.MethodGet, "/api/admin/payments/pending", domain.Caller{}, nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code = api.do(http.MethodGet, "/api/admin/orders?status=lost", kitchen, nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
}

func TestHTTP_MealAdministration(t *testing.T) {
	api := newAPIClient(t, newTestServices(t))

	var meal domain.MenuItem
	code := api.do(http.MethodPost, "/api/admin/meals", kitchen, map[string]any{
		"id":              "curry",
		"name":            "Vegetable Curry",
		"category":        "Main Course",
		"price":           "200",
		"max_per_person":  1,
		"units_available": 4,
	}, &meal)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, meal.IsAvailable)

	code = api.do(http.MethodPatch, "/api/admin/meals/curry", kitchen, map[string]any{"units_available": 10}, &meal)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, meal.UnitsLeft)
	assert.Equal(t, 10, *meal.UnitsLeft)

	var categories []string
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/categories", domain.Caller{}, nil, &categories))
	assert.Equal(t, []string{"Main Course"}, categories)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/admin/meals/curry", kitchen, nil, nil))

	var meals []domain.MenuItem
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/meals", domain.Caller{}, nil, &meals))
	assert.Empty(t, meals)
}

func TestHTTP_PaymentFlow(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(5))
	api := newAPIClient(t, svc)
	alice := domain.Caller{UserID: "alice"}

	var order domain.Order
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/orders", alice, orderBody("stew", 1), &order))

	var body errorResponse
	code := api.do(http.MethodPost, "/api/payments", alice, map[string]any{
		"order_id":         order.ID,
		"transaction_code": "AB1",
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_CODE", body.Error.Code)

	var payment domain.PaymentRecord
	code = api.do(http.MethodPost, "/api/payments", alice, map[string]any{
		"order_id":         order.ID,
		"transaction_code": " qk71ab2cd3 ",
	}, &payment)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "QK71AB2CD3", payment.TransactionCode)
	assert.True(t, order.Total.Equal(payment.AmountClaimed))

	var pending []domain.PendingPayment
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/admin/payments/pending", kitchen, nil, &pending))
	require.Len(t, pending, 1)
	assert.True(t, pending[0].AmountMatches)

	var verified domain.Order
	code = api.do(http.MethodPost, "/api/admin/payments/"+payment.ID+"/decision", kitchen, decisionRequest{Accept: true}, &verified)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OrderStatusVerified, verified.Status)

	var summary domain.DashboardSummary
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/admin/dashboard-stats", kitchen, nil, &summary))
	assert.Equal(t, 1, summary.OrderCount)
	assert.True(t, decimal.NewFromInt(350).Equal(summary.Revenue))
	assert.Equal(t, 0, summary.PendingPayments)

	var stats domain.CustomerStats
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/dashboard/customer-stats", alice, nil, &stats))
	assert.Equal(t, 1, stats.TotalOrders)
	assert.True(t, decimal.NewFromInt(350).Equal(stats.TotalSpent))

	var history []domain.PaymentRecord
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/orders/"+order.ID+"/payments", alice, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, domain.PaymentVerified, history[0].Outcome)
}

func TestHTTP_CancelOrder(t *testing.T) {
	svc := newTestServices(t)
	addMeal(t, svc, "stew", 350, domain.Units(2))
	api := newAPIClient(t, svc)
	alice := domain.Caller{UserID: "alice"}

	var order domain.Order
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/orders", alice, orderBody("stew", 2), &order))

	var body errorResponse
	code := api.do(http.MethodPost, "/api/orders/"+order.ID+"/cancel", domain.Caller{UserID: "bob"}, nil, &body)
	assert.Equal(t, http.StatusForbidden, code)

	var cancelled domain.Order
	code = api.do(http.MethodPost, "/api/orders/"+order.ID+"/cancel", alice, reasonRequest{Reason: "changed my mind"}, &cancelled)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OrderStatusAbandoned, cancelled.Status)

	var meal domain.MenuItem
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/meals/stew", domain.Caller{}, nil, &meal))
	require.NotNil(t, meal.UnitsLeft)
	assert.Equal(t, 2, *meal.UnitsLeft)
}
