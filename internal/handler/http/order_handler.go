package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mthsnx/caffe-diem/internal/metrics"
	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/mthsnx/caffe-diem/internal/ordercode"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type OrderItemRequest struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
}

type SubmitOrderRequest struct {
	OrderCode string             `json:"orderCode" validate:"required"`
	Items     []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Total     float64            `json:"total" validate:"required,gt=0"`
}

type SubmitOrderResponse struct {
	Success   bool   `json:"success"`
	OrderID   int64  `json:"orderId"`
	OrderCode string `json:"orderCode"`
}

type OrderItemResponse struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type OrderResponse struct {
	OrderID   int64               `json:"orderId"`
	OrderCode string              `json:"orderCode"`
	Status    string              `json:"status"`
	Items     []OrderItemResponse `json:"items"`
	Total     float64             `json:"total"`
	CreatedAt time.Time           `json:"createdAt"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewOrderHandler(service order.Service, m *metrics.Metrics) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
		metrics:  m,
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/submit-order", h.handleSubmitOrder)
	router.Get("/orders/{code}", h.handleGetOrder)
}

func (h *OrderHandler) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload SubmitOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		h.metrics.OrderSubmitted("invalid")
		return
	}

	items := make([]order.Item, 0, len(requestPayload.Items))
	for _, item := range requestPayload.Items {
		items = append(items, order.Item{Name: item.Name, Price: decimal.NewFromFloat(item.Price)})
	}

	created, err := h.service.SubmitOrder(r.Context(), order.SubmitInput{
		Code:  requestPayload.OrderCode,
		Items: items,
		Total: decimal.NewFromFloat(requestPayload.Total),
	})
	if err != nil {
		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		switch {
		case errors.Is(err, order.ErrCodeCollision):
			h.metrics.OrderSubmitted("collision")
			clientMessage = "collision"
		case errors.Is(err, order.ErrValidation):
			h.metrics.OrderSubmitted("invalid")
			clientMessage = err.Error()
		default:
			h.metrics.OrderSubmitted("error")
			log.Error().Err(err).Str("order_code", requestPayload.OrderCode).Msg("handler: failed to submit order via service")
			clientMessage = "Failed to store order"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	h.metrics.OrderSubmitted("created")
	respondWithJSON(w, http.StatusCreated, SubmitOrderResponse{
		Success:   true,
		OrderID:   created.ID,
		OrderCode: created.Code,
	})
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !ordercode.Valid(code) {
		log.Warn().Str("order_code", code).Msg("handler: invalid order code in URL")
		respondWithError(w, http.StatusBadRequest, "Invalid order code")
		return
	}

	found, err := h.service.GetOrder(r.Context(), code)
	if err != nil {
		var clientMessage string
		if errors.Is(err, order.ErrOrderNotFound) {
			clientMessage = "Order not found"
		} else {
			log.Error().Err(err).Str("order_code", code).Msg("handler: failed to get order via service")
			clientMessage = "Failed to get order"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(found))
}

func toOrderResponse(o *order.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemResponse{Name: item.Name, Price: item.Price.InexactFloat64()})
	}
	return OrderResponse{
		OrderID:   o.ID,
		OrderCode: o.Code,
		Status:    o.Status.String(),
		Items:     items,
		Total:     o.Total.InexactFloat64(),
		CreatedAt: o.CreatedAt,
	}
}
