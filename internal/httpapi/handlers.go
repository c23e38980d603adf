package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/cache"
	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/service/order"
	"github.com/ultramarket/orderflow/internal/service/settlement"
)

// maxWebhookBody ограничивает размер тела webhook.
const maxWebhookBody = 1 << 20

// OrderStatusCache — best-effort кэш статусов для горячего пути поллинга.
type OrderStatusCache interface {
	Get(ctx context.Context, orderID string) (domain.OrderStatus, bool)
	Set(ctx context.Context, orderID string, status domain.OrderStatus)
	Invalidate(ctx context.Context, orderID string)
}

// Handler обслуживает REST API заказов и платёжные webhooks.
type Handler struct {
	orders      *order.Service
	settlement  *settlement.Coordinator
	statusCache OrderStatusCache
	logger      *log.Entry
}

// NewHandler создаёт HTTP handler. Nil statusCache заменяется no-op кэшем.
func NewHandler(orders *order.Service, settlement *settlement.Coordinator, statusCache OrderStatusCache, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	if statusCache == nil {
		statusCache = cache.NewStatusCache(nil, nil)
	}
	return &Handler{
		orders:      orders,
		settlement:  settlement,
		statusCache: statusCache,
		logger:      logger,
	}
}

type cartLineRequest struct {
	SKU        string `json:"sku"`
	Qty        int64  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type createOrderRequest struct {
	CustomerID string            `json:"customer_id"`
	Currency   string            `json:"currency"`
	Items      []cartLineRequest `json:"items"`
}

type orderResponse struct {
	ID          string             `json:"id"`
	CustomerID  string             `json:"customer_id"`
	Status      domain.OrderStatus `json:"status"`
	Currency    string             `json:"currency"`
	AmountMinor int64              `json:"amount_minor"`
	Items       []lineItemResponse `json:"items"`
	PaymentRef  string             `json:"payment_ref,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type lineItemResponse struct {
	SKU        string `json:"sku"`
	Qty        int64  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
		Currency:    o.Currency,
		AmountMinor: o.AmountMinor,
		PaymentRef:  o.PaymentRef,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, lineItemResponse{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]string{"error": errCode, "message": message})
}

// CreateOrder превращает корзину в заказ со статусом pending_payment.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	snapshot := domain.CartSnapshot{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		TakenAt:    time.Now().UTC(),
	}
	for _, item := range req.Items {
		snapshot.Lines = append(snapshot.Lines, domain.CartLine{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	created, err := h.orders.Checkout(snapshot)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.statusCache.Set(r.Context(), created.ID, created.Status)
	writeJSON(w, http.StatusCreated, toOrderResponse(created))
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var oos *domain.OutOfStockError
	switch {
	case errors.As(err, &oos):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "out_of_stock",
			"message": "insufficient stock for requested items",
			"skus":    oos.SKUs,
		})
	case errors.Is(err, domain.ErrOutOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", "insufficient stock for requested items")
	case errors.Is(err, domain.ErrStockContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "contention", "high contention on requested items, retry later")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		h.logger.WithError(err).Error("checkout failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrCustomerRequired) ||
		errors.Is(err, domain.ErrCurrencyRequired) ||
		errors.Is(err, domain.ErrItemsRequired) ||
		errors.Is(err, domain.ErrItemQtyInvalid) ||
		errors.Is(err, domain.ErrItemPriceInvalid) ||
		errors.Is(err, domain.ErrReservationQtyInvalid) ||
		errors.Is(err, domain.ErrSKURequired)
}

// GetOrder возвращает заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	found, err := h.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		h.logger.WithError(err).WithField("order_id", orderID).Error("get order failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.statusCache.Set(r.Context(), found.ID, found.Status)
	writeJSON(w, http.StatusOK, toOrderResponse(found))
}

type orderStatusResponse struct {
	ID     string             `json:"id"`
	Status domain.OrderStatus `json:"status"`
}

// GetOrderStatus отдаёт только статус заказа — горячий путь поллинга
// витрины. Сначала кэш, при промахе — хранилище с дозаписью в кэш.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if status, ok := h.statusCache.Get(r.Context(), orderID); ok {
		writeJSON(w, http.StatusOK, orderStatusResponse{ID: orderID, Status: status})
		return
	}

	found, err := h.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		h.logger.WithError(err).WithField("order_id", orderID).Error("get order status failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.statusCache.Set(r.Context(), found.ID, found.Status)
	writeJSON(w, http.StatusOK, orderStatusResponse{ID: found.ID, Status: found.Status})
}

// GetTimeline возвращает события жизненного цикла заказа.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	events, err := h.orders.Timeline(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		h.logger.WithError(err).WithField("order_id", orderID).Error("get timeline failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	type timelineEventResponse struct {
		Type     string    `json:"type"`
		Reason   string    `json:"reason,omitempty"`
		Occurred time.Time `json:"occurred_at"`
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": resp})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by customer"
	}

	if err := h.orders.Cancel(orderID, reason); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "not_found", "order not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "invalid_transition", "order cannot be cancelled in its current status")
		default:
			h.logger.WithError(err).WithField("order_id", orderID).Error("cancel failed")
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}

	h.statusCache.Invalidate(r.Context(), orderID)
	updated, err := h.orders.Get(orderID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusCancelled)})
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(updated))
}

// ListCustomerOrders возвращает заказы клиента.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	list, err := h.orders.ListByCustomer(customerID, 100)
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", customerID).Error("list orders failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	resp := make([]orderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": resp})
}

// PaymentWebhook принимает callback платёжного шлюза. Непроверяемая
// подпись отвергается одинаковым 401 без уточнения причины; повторная
// доставка события возвращает 200 с пометкой duplicate.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	gateway, ok := h.settlement.Gateway(gatewayName)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_gateway", "unknown payment gateway")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "cannot read request body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)
	result, err := h.settlement.HandleWebhook(gatewayName, signature, body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, "unauthorized", "signature verification failed")
		case errors.Is(err, domain.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, "malformed_payload", "cannot parse webhook payload")
		default:
			// Событие сохранено и припарковано; шлюз может повторить
			// доставку, она будет дедуплицирована.
			h.logger.WithError(err).WithField("gateway", gatewayName).Error("webhook processing failed")
			writeError(w, http.StatusInternalServerError, "processing_failed", "event accepted but not applied")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}
