package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	checkoutapp "github.com/sunchuangxin/mall/internal/checkout/application"
	orderapp "github.com/sunchuangxin/mall/internal/order/application"
	"github.com/sunchuangxin/mall/internal/order/domain"
	"github.com/sunchuangxin/mall/pkg/metrics"
)

type Handler struct {
	log       *slog.Logger
	checkout  *checkoutapp.Service
	lifecycle *orderapp.Lifecycle
	orders    orderapp.OrderRepository
	tracer    trace.Tracer
}

func NewHandler(log *slog.Logger, checkout *checkoutapp.Service, lifecycle *orderapp.Lifecycle, orders orderapp.OrderRepository) *Handler {
	return &Handler{
		log:       log,
		checkout:  checkout,
		lifecycle: lifecycle,
		orders:    orders,
		tracer:    otel.Tracer("checkout-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/checkout", h.reserve)
	r.Post("/orders/{id}/pay", h.pay)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/timeline", h.getTimeline)
	r.Handle("/metrics", metrics.Handler())
	return r
}

type reserveReq struct {
	Owner string        `json:"owner"`
	Items []domain.Item `json:"items"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		http.Error(w, "owner required", http.StatusBadRequest)
		return
	}

	orderID, err := h.checkout.Reserve(ctx, req.Owner, req.Items)
	if err != nil {
		h.writeReserveError(w, err)
		return
	}

	// Reservation accepted; durable persistence is asynchronous.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"order_id": strconv.FormatInt(orderID, 10),
		"status":   string(domain.StatusToBePaid),
	})
}

func (h *Handler) writeReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkoutapp.ErrEmptyReservation),
		errors.Is(err, checkoutapp.ErrInvalidQuantity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, checkoutapp.ErrProductNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, checkoutapp.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checkoutapp.ErrLockTimeout):
		// Retryable: the caller may re-attempt checkout.
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("checkout failed", "err", err)
		http.Error(w, "checkout failed", http.StatusInternalServerError)
	}
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmPayment")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	switch err := h.lifecycle.Pay(ctx, id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("payment confirmation failed", "order_id", id, "err", err)
		http.Error(w, "payment confirmation failed", http.StatusInternalServerError)
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get order failed", "order_id", id, "err", err)
		http.Error(w, "get order failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(o)
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	entries, err := h.orders.GetTimeline(r.Context(), id)
	if err != nil {
		h.log.Error("get timeline failed", "order_id", id, "err", err)
		http.Error(w, "get timeline failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
