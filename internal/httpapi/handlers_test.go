package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/health"
	"github.com/ultramarket/orderflow/internal/service/ledger"
	"github.com/ultramarket/orderflow/internal/service/order"
	"github.com/ultramarket/orderflow/internal/service/reservation"
	"github.com/ultramarket/orderflow/internal/service/settlement"
	"github.com/ultramarket/orderflow/internal/storage/memory"
)

const webhookSecret = "click-secret"

type apiEnv struct {
	server *httptest.Server
	stocks domain.StockRepository
	cache  *stubStatusCache
}

// stubStatusCache подменяет Redis в тестах и позволяет заглянуть внутрь.
type stubStatusCache struct {
	entries map[string]domain.OrderStatus
}

func newStubStatusCache() *stubStatusCache {
	return &stubStatusCache{entries: make(map[string]domain.OrderStatus)}
}

func (s *stubStatusCache) Get(_ context.Context, orderID string) (domain.OrderStatus, bool) {
	status, ok := s.entries[orderID]
	return status, ok
}

func (s *stubStatusCache) Set(_ context.Context, orderID string, status domain.OrderStatus) {
	s.entries[orderID] = status
}

func (s *stubStatusCache) Invalidate(_ context.Context, orderID string) {
	delete(s.entries, orderID)
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	orders := memory.NewOrderRepository()
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	events := memory.NewPaymentEventRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	led := ledger.NewWithoutMetrics(stocks, reservations, nil)
	manager := reservation.NewManager(led, reservations, nil)
	orderSvc := order.NewWithoutMetrics(orders, manager, outbox, timeline, nil)

	gateways := settlement.DefaultGateways(settlement.GatewaySecrets{
		settlement.GatewayClick: webhookSecret,
	})
	coordinator := settlement.NewCoordinatorWithoutMetrics(events, orderSvc, gateways, nil)

	statusCache := newStubStatusCache()
	handler := NewHandler(orderSvc, coordinator, statusCache, nil)
	healthHandler := health.NewHandler("test")

	server := httptest.NewServer(NewRouter(handler, healthHandler))
	t.Cleanup(server.Close)

	return &apiEnv{server: server, stocks: stocks, cache: statusCache}
}

func (e *apiEnv) seedStock(t *testing.T, sku string, available int64) {
	t.Helper()
	if err := e.stocks.Create(domain.StockRecord{SKU: sku, Available: available}); err != nil {
		t.Fatalf("seed stock %s: %v", sku, err)
	}
}

func (e *apiEnv) createOrder(t *testing.T) orderResponse {
	t.Helper()
	body := `{"customer_id":"cust-1","currency":"UZS","items":[{"sku":"SKU-A","qty":2,"price_minor":100000}]}`
	resp, err := http.Post(e.server.URL+"/orders", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return created
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCreateOrderEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)

	created := env.createOrder(t)
	if created.Status != domain.OrderStatusPendingPayment {
		t.Errorf("expected pending_payment, got %s", created.Status)
	}
	if created.AmountMinor != 200000 {
		t.Errorf("expected amount 200000, got %d", created.AmountMinor)
	}
}

func TestCreateOrderOutOfStock(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 1)

	body := `{"customer_id":"cust-1","currency":"UZS","items":[{"sku":"SKU-A","qty":2,"price_minor":100000}]}`
	resp, err := http.Post(env.server.URL+"/orders", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	var payload struct {
		Error string   `json:"error"`
		SKUs  []string `json:"skus"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error != "out_of_stock" {
		t.Errorf("expected out_of_stock, got %s", payload.Error)
	}
	if len(payload.SKUs) != 1 || payload.SKUs[0] != "SKU-A" {
		t.Errorf("expected skus [SKU-A], got %v", payload.SKUs)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newAPIEnv(t)

	body := `{"customer_id":"","currency":"UZS","items":[]}`
	resp, err := http.Post(env.server.URL+"/orders", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)
	created := env.createOrder(t)

	resp, err := http.Get(env.server.URL + "/orders/" + created.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	missing, err := http.Get(env.server.URL + "/orders/unknown-id")
	if err != nil {
		t.Fatalf("get missing order: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestOrderStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)
	created := env.createOrder(t)

	getStatus := func(t *testing.T, orderID string) (int, orderStatusResponse) {
		t.Helper()
		resp, err := http.Get(env.server.URL + "/orders/" + orderID + "/status")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		defer resp.Body.Close()
		var body orderStatusResponse
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode status: %v", err)
			}
		}
		return resp.StatusCode, body
	}

	// Создание заказа прогрело кэш; ответ приходит из него, не из хранилища.
	env.cache.entries[created.ID] = domain.OrderStatusConfirmed
	code, body := getStatus(t, created.ID)
	if code != http.StatusOK || body.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected cached confirmed, got %d %s", code, body.Status)
	}

	// Промах кэша уходит в хранилище и дозаписывает кэш.
	delete(env.cache.entries, created.ID)
	code, body = getStatus(t, created.ID)
	if code != http.StatusOK || body.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment from store, got %d %s", code, body.Status)
	}
	if cached, ok := env.cache.entries[created.ID]; !ok || cached != domain.OrderStatusPendingPayment {
		t.Errorf("cache not repopulated after miss: %v %v", cached, ok)
	}

	if code, _ := getStatus(t, "unknown-id"); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown order, got %d", code)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)
	created := env.createOrder(t)

	resp, err := http.Post(env.server.URL+"/orders/"+created.ID+"/cancel", "application/json",
		bytes.NewBufferString(`{"reason":"changed mind"}`))
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var cancelled orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&cancelled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if _, ok := env.cache.entries[created.ID]; ok {
		t.Error("cancel must invalidate the cached status")
	}

	// Повторная отмена терминального заказа отклоняется.
	again, err := http.Post(env.server.URL+"/orders/"+created.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", again.StatusCode)
	}
}

func TestPaymentWebhookEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)
	created := env.createOrder(t)

	payload := []byte(`{"event_id":"evt-1","order_id":"` + created.ID + `","status":"success","amount_minor":200000}`)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/payments/webhooks/click", bytes.NewReader(payload))
	req.Header.Set("X-Click-Signature", signBody(webhookSecret, payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["result"] != "applied" {
		t.Errorf("expected applied, got %s", result["result"])
	}

	// Заказ подтверждён.
	orderResp, err := http.Get(env.server.URL + "/orders/" + created.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	defer orderResp.Body.Close()
	var confirmed orderResponse
	_ = json.NewDecoder(orderResp.Body).Decode(&confirmed)
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}

	// Повторная доставка — duplicate, без повторного применения.
	req2, _ := http.NewRequest(http.MethodPost, env.server.URL+"/payments/webhooks/click", bytes.NewReader(payload))
	req2.Header.Set("X-Click-Signature", signBody(webhookSecret, payload))
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("webhook redelivery: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", resp2.StatusCode)
	}
	_ = json.NewDecoder(resp2.Body).Decode(&result)
	if result["result"] != "duplicate" {
		t.Errorf("expected duplicate, got %s", result["result"])
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	env := newAPIEnv(t)

	payload := []byte(`{"event_id":"evt-1","order_id":"order-1","status":"success"}`)
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/payments/webhooks/click", bytes.NewReader(payload))
	req.Header.Set("X-Click-Signature", signBody("wrong-secret", payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPaymentWebhookUnknownGateway(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Post(env.server.URL+"/payments/webhooks/visa", "application/json",
		bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTimelineEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedStock(t, "SKU-A", 5)
	created := env.createOrder(t)

	resp, err := http.Get(env.server.URL + "/orders/" + created.ID + "/timeline")
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Events) == 0 {
		t.Fatal("expected at least one timeline event")
	}
	if payload.Events[0].Type != "OrderCreated" {
		t.Errorf("expected OrderCreated, got %s", payload.Events[0].Type)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{"/livez", "/readyz", "/healthz"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
