package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-bookshop-orders.git/internal/kafka"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Store is everything the HTTP layer needs from orders.Repo.
type Store interface {
	Checkout(ctx context.Context, userID, externalID string) (orders.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
	ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to orders.Status) (orders.Status, error)
	CancelOrder(ctx context.Context, orderID string) ([]orders.ItemQty, error)
	ListBooks(ctx context.Context) ([]orders.Book, error)
	AddCartItem(ctx context.Context, userID, bookID string, qty int) error
	GetCart(ctx context.Context, userID string) ([]orders.CartLine, error)
}

// Publisher is what this handler needs from kafkax.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Store          Store
	PlacedProducer Publisher // order.placed
	StatusProducer Publisher // order.status.changed
	CancelProducer Publisher // order.cancelled
	Redis          *redis.Client
	Service        string
}

type CheckoutReq struct {
	UserID string `json:"user_id"`
	// optional client token; replays with the same value return the
	// already-created order instead of checking out twice
	ExternalID string `json:"external_id,omitempty"`
}

type OrderResp struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	OrderDate  time.Time       `json:"order_date"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     orders.Status   `json:"status"`
	ItemCount  int             `json:"item_count"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type AddCartItemReq struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
	Qty    int    `json:"qty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}/status", h.updateOrderStatus)
	r.Delete("/orders/{id}", h.cancelOrder)
	r.Get("/books", h.listBooks)
	r.Post("/cart/items", h.addCartItem)
	r.Get("/cart/{userID}", h.getCart)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the domain error taxonomy onto HTTP. Anything not in the
// taxonomy is logged and returned as a generic 500.
func writeErr(w http.ResponseWriter, err error) {
	var (
		stockErr  *orders.InsufficientStockError
		transErr  *orders.InvalidTransitionError
		cancelErr *orders.CannotCancelError
	)
	switch {
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrUserNotFound),
		errors.Is(err, orders.ErrUserInactive),
		errors.Is(err, orders.ErrBookNotFound),
		errors.As(err, &stockErr),
		errors.As(err, &transErr),
		errors.As(err, &cancelErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func toOrderResp(o orders.Order) OrderResp {
	return OrderResp{
		ID:         o.ID,
		UserID:     o.UserID,
		OrderDate:  o.OrderDate,
		TotalPrice: o.TotalPrice,
		Status:     o.Status,
		ItemCount:  o.ItemCount,
	}
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path idempotency via Redis; the DB external_id check in the
	// store stays the source of truth
	idemKey := ""
	if req.ExternalID != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, req.ExternalID)
		if h.Redis != nil {
			if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
				if o, err := h.Store.GetOrder(ctx, id); err == nil {
					writeJSON(w, http.StatusCreated, toOrderResp(o))
					return
				}
			}
		}
	}

	o, existed, err := h.Store.Checkout(ctx, req.UserID, req.ExternalID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if idemKey != "" && h.Redis != nil {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}

	// a replayed checkout changed nothing, so nothing to cache or announce
	if !existed {
		h.cacheStatus(ctx, o.ID, o.Status)
		h.publish(h.PlacedProducer, orders.EventOrderPlaced, o.ID, r.Header.Get("X-Request-Id"),
			orders.OrderPlacedPayload{
				OrderID:    o.ID,
				UserID:     o.UserID,
				TotalPrice: o.TotalPrice,
				Items:      o.LineQuantities(),
			})
	}

	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB as fallback
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	status, err := h.Store.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := json.Marshal(map[string]any{"status": status})
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f := orders.ListFilter{UserID: r.URL.Query().Get("user_id")}
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := orders.ParseStatus(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status: " + s})
			return
		}
		f.Status = status
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Store.ListOrders(ctx, f)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := make([]OrderResp, 0, len(out))
	for _, o := range out {
		resp = append(resp, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status: " + req.Status})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	from, err := h.Store.UpdateOrderStatus(ctx, orderID, to)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(ctx, orderID, to)
	h.publish(h.StatusProducer, orders.EventOrderStatusChanged, orderID, r.Header.Get("X-Request-Id"),
		orders.OrderStatusChangedPayload{OrderID: orderID, From: from, To: to})

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	released, err := h.Store.CancelOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(ctx, orderID, orders.StatusCancelled)
	h.publish(h.CancelProducer, orders.EventOrderCancelled, orderID, r.Header.Get("X-Request-Id"),
		orders.OrderCancelledPayload{OrderID: orderID, Items: released})

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	books, err := h.Store.ListBooks(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *OrdersHandler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.BookID == "" || req.Qty < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields or qty < 1"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.AddCartItem(ctx, req.UserID, req.BookID, req.Qty); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Store.GetCart(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, status orders.Status) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	b, _ := json.Marshal(map[string]any{"status": status})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) publish(p Publisher, eventType, orderID, trace string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
