package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mthsnx/caffe-diem/internal/metrics"
	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/mthsnx/caffe-diem/internal/payment"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const maxCallbackBody = 64 << 10

type StartPaymentRequest struct {
	OrderCode string  `json:"orderCode" validate:"required"`
	Total     float64 `json:"total" validate:"required,gt=0"`
}

type StartPaymentResponse struct {
	Success  bool   `json:"success"`
	VippsURL string `json:"vippsUrl"`
}

// CallbackRequest accepts both the legacy summary shape and the eCom v2
// transactionInfo shape.
type CallbackRequest struct {
	OrderID            string              `json:"orderId"`
	TransactionID      string              `json:"transactionId"`
	TransactionSummary *TransactionSummary `json:"transactionSummary"`
	TransactionInfo    *TransactionInfo    `json:"transactionInfo"`
}

type TransactionSummary struct {
	Status string `json:"status"`
}

type TransactionInfo struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
}

func (c CallbackRequest) status() string {
	if c.TransactionInfo != nil && c.TransactionInfo.Status != "" {
		return c.TransactionInfo.Status
	}
	if c.TransactionSummary != nil {
		return c.TransactionSummary.Status
	}
	return ""
}

func (c CallbackRequest) transactionID() string {
	if c.TransactionID != "" {
		return c.TransactionID
	}
	if c.TransactionInfo != nil {
		return c.TransactionInfo.TransactionID
	}
	return ""
}

type PaymentHandler struct {
	service  payment.Service
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewPaymentHandler(service payment.Service, m *metrics.Metrics) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		validate: newValidator(),
		metrics:  m,
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/start-vipps-payment", h.handleStartPayment)
	router.Post("/vipps-callback", h.handleCallback)
	router.Post("/vipps-callback/v2/payments/{orderId}", h.handleCallback)
}

func (h *PaymentHandler) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	var requestPayload StartPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		h.metrics.PaymentInitiated("invalid")
		return
	}

	redirectURL, err := h.service.StartPayment(r.Context(), requestPayload.OrderCode, decimal.NewFromFloat(requestPayload.Total))
	if err != nil {
		log.Error().Err(err).Str("order_code", requestPayload.OrderCode).Msg("handler: failed to start payment via service")

		if errors.Is(err, payment.ErrAmountMismatch) {
			h.metrics.PaymentInitiated("invalid")
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		h.metrics.PaymentInitiated("error")
		respondWithError(w, http.StatusInternalServerError, startPaymentMessage(err))
		return
	}

	h.metrics.PaymentInitiated("ok")
	respondWithJSON(w, http.StatusOK, StartPaymentResponse{Success: true, VippsURL: redirectURL})
}

func startPaymentMessage(err error) string {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, payment.ErrNotPayable):
		return "Order can no longer be paid"
	case errors.Is(err, payment.ErrAuthFailure):
		return "Payment provider authentication failed"
	case errors.Is(err, payment.ErrProvider):
		return err.Error()
	default:
		return "Failed to start payment"
	}
}

// handleCallback always answers 200 with an empty body so the provider stops
// retrying; every failure is logged and counted instead.
func (h *PaymentHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		log.Warn().Err(err).Msg("handler: failed to read callback body")
		h.metrics.CallbackReceived("invalid")
		return
	}

	var cb CallbackRequest
	if err := json.Unmarshal(raw, &cb); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode callback body")
		h.metrics.CallbackReceived("invalid")
		return
	}

	code := strings.TrimSpace(cb.OrderID)
	if code == "" {
		code = chi.URLParam(r, "orderId")
	}
	if code == "" {
		log.Warn().Msg("handler: callback without order reference")
		h.metrics.CallbackReceived("invalid")
		return
	}

	applied, err := h.service.HandleCallback(r.Context(), payment.Callback{
		OrderCode:     code,
		TransactionID: cb.transactionID(),
		Status:        cb.status(),
		AuthToken:     r.Header.Get("Authorization"),
	})
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		log.Warn().Str("order_code", code).Msg("handler: callback for unknown order")
		h.metrics.CallbackReceived("unknown_order")
	case errors.Is(err, payment.ErrCallbackUnauthorized):
		h.metrics.CallbackReceived("unauthorized")
	case err != nil:
		log.Error().Err(err).Str("order_code", code).Msg("handler: failed to apply callback")
		h.metrics.CallbackReceived("error")
	case applied == "":
		h.metrics.CallbackReceived("ignored")
	default:
		h.metrics.CallbackReceived(applied.String())
	}
}
