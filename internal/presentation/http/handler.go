package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	appOrder "github.com/Zhima-Mochi/payment-orchestrator/internal/application/order"
	appPayment "github.com/Zhima-Mochi/payment-orchestrator/internal/application/payment"
	domainOrder "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/stripe"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerStripeSig      = "Stripe-Signature"

	maxBodyBytes = 1 << 20
)

type OrderCreator interface {
	Execute(ctx context.Context, in appOrder.CreateOrderInput) (*appOrder.CreateOrderResult, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*domainOrder.Order, error)
}

type PaymentService interface {
	RequestPayment(ctx context.Context, in appPayment.RequestPaymentInput) (*domainPayment.Intent, error)
	ProcessPayment(ctx context.Context, in appPayment.ProcessPaymentInput) (*domainPayment.Intent, error)
	CancelPayment(ctx context.Context, intentID string) (*domainPayment.Intent, error)
	GetPayment(ctx context.Context, intentID string) (*domainPayment.Intent, error)
	ReportConfirmation(ctx context.Context, providerRef string, result domainPayment.ExternalResult) error
}

type WebhookParser interface {
	Parse(payload []byte, signature string) (stripe.WebhookEvent, error)
}

type Handler struct {
	createOrder OrderCreator
	orders      OrderReader
	payments    PaymentService
	webhooks    WebhookParser
	log         observability.Logger
	tel         observability.Observability
}

// NewHandler wires the HTTP surface. webhooks may be nil when no Stripe
// signing secret is configured; the Stripe route then answers 404.
func NewHandler(
	createOrder OrderCreator,
	orders OrderReader,
	payments PaymentService,
	webhooks WebhookParser,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		createOrder: createOrder,
		orders:      orders,
		payments:    payments,
		webhooks:    webhooks,
		log:         tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:         tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.handle(mux, "POST /orders", h.handleCreateOrder)
	h.handle(mux, "GET /orders/{id}", h.handleGetOrder)
	h.handle(mux, "POST /payments", h.handleRequestPayment)
	h.handle(mux, "GET /payments/{id}", h.handleGetPayment)
	h.handle(mux, "POST /payments/{id}/process", h.handleProcessPayment)
	h.handle(mux, "POST /payments/{id}/cancel", h.handleCancelPayment)
	h.handle(mux, "POST /webhooks/confirmations", h.handleConfirmation)
	if h.webhooks != nil {
		h.handle(mux, "POST /webhooks/stripe", h.handleStripeWebhook)
	}
	h.handle(mux, "GET /health", h.handleHealth)

	return mux
}

func (h *Handler) handle(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	wrapped := ObservabilityMiddleware(
		func(r *http.Request) string { return r.Header.Get(headerRequestID) },
		h.tel,
	)(handler)
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		wrapped.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), pattern)))
	})
}

type createOrderRequest struct {
	TableRef string          `json:"table_ref"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type orderResponse struct {
	ID        string             `json:"id"`
	TableRef  string             `json:"table_ref,omitempty"`
	Total     string             `json:"total"`
	Currency  string             `json:"currency"`
	Status    domainOrder.Status `json:"status"`
	PaymentID string             `json:"payment_id,omitempty"`
	PaidAt    *time.Time         `json:"paid_at,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	res, err := h.createOrder.Execute(r.Context(), appOrder.CreateOrderInput{
		TableRef: req.TableRef,
		Total:    req.Total,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		ID:       res.OrderID,
		TableRef: req.TableRef,
		Total:    res.Total.StringFixed(2),
		Currency: res.Currency,
		Status:   res.Status,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		ID:        o.ID,
		TableRef:  o.TableRef,
		Total:     o.Total.StringFixed(2),
		Currency:  o.Currency,
		Status:    o.Status,
		PaymentID: o.PaymentID,
		PaidAt:    o.PaidAt,
	})
}

type cardRequest struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
	Last4  string `json:"last4"`
}

func (c *cardRequest) card() *domainPayment.Card {
	if c == nil {
		return nil
	}
	return &domainPayment.Card{Token: c.Token, Holder: c.Holder, Last4: c.Last4}
}

type requestPaymentRequest struct {
	OrderID   string           `json:"order_id"`
	Method    string           `json:"method"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Country   string           `json:"country,omitempty"`
	Card      *cardRequest     `json:"card,omitempty"`
	ReturnURL string           `json:"return_url,omitempty"`
}

func (h *Handler) handleRequestPayment(w http.ResponseWriter, r *http.Request) {
	var req requestPaymentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	intent, err := h.payments.RequestPayment(r.Context(), appPayment.RequestPaymentInput{
		OrderID:   req.OrderID,
		Method:    req.Method,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Country:   req.Country,
		Card:      req.Card.card(),
		ReturnURL: req.ReturnURL,
	})
	h.writeIntent(w, r, http.StatusCreated, intent, err)
}

type externalResultRequest struct {
	Outcome   string `json:"outcome"`
	Message   string `json:"message,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type processPaymentRequest struct {
	Result    *externalResultRequest `json:"result,omitempty"`
	Card      *cardRequest           `json:"card,omitempty"`
	ReturnURL string                 `json:"return_url,omitempty"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	in := appPayment.ProcessPaymentInput{
		IntentID:  r.PathValue("id"),
		Card:      req.Card.card(),
		ReturnURL: req.ReturnURL,
	}
	if req.Result != nil {
		outcome, ok := domainPayment.ParseOutcome(req.Result.Outcome)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("unknown outcome %q", req.Result.Outcome))
			return
		}
		in.Result = &domainPayment.ExternalResult{
			Outcome:   outcome,
			Message:   req.Result.Message,
			Reference: req.Result.Reference,
		}
	}

	intent, err := h.payments.ProcessPayment(r.Context(), in)
	h.writeIntent(w, r, http.StatusOK, intent, err)
}

func (h *Handler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	intent, err := h.payments.CancelPayment(r.Context(), r.PathValue("id"))
	h.writeIntent(w, r, http.StatusOK, intent, err)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	intent, err := h.payments.GetPayment(r.Context(), r.PathValue("id"))
	h.writeIntent(w, r, http.StatusOK, intent, err)
}

type confirmationRequest struct {
	ProviderRef string `json:"provider_ref"`
	Outcome     string `json:"outcome"`
	Message     string `json:"message,omitempty"`
}

// handleConfirmation accepts a provider callback. Unknown references are
// acknowledged like known ones.
func (h *Handler) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.ProviderRef == "" {
		writeError(w, http.StatusBadRequest, "validation", "provider_ref is required")
		return
	}
	err := h.payments.ReportConfirmation(r.Context(), req.ProviderRef, domainPayment.ExternalResult{
		Outcome:   domainPayment.Outcome(req.Outcome),
		Message:   req.Message,
		Reference: req.ProviderRef,
	})
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "unreadable body")
		return
	}
	evt, err := h.webhooks.Parse(payload, r.Header.Get(headerStripeSig))
	if err != nil {
		logctx.FromOr(r.Context(), h.log).Warn("stripe_webhook_rejected", observability.F("error", err))
		writeError(w, http.StatusBadRequest, "validation", "invalid webhook signature")
		return
	}
	ctx, logger := logctx.Enrich(r.Context(), h.log,
		observability.F("stripe_event_id", evt.ID),
		observability.F("stripe_event_type", evt.Type),
	)
	if !evt.Handled {
		logger.Debug("stripe_webhook_skipped")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.payments.ReportConfirmation(ctx, evt.Ref, evt.Result); err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type paymentResponse struct {
	ID             string               `json:"id"`
	OrderID        string               `json:"order_id"`
	Amount         string               `json:"amount"`
	Currency       string               `json:"currency"`
	Method         domainPayment.Method `json:"method"`
	Adapter        string               `json:"adapter"`
	Country        string               `json:"country,omitempty"`
	Status         domainPayment.Status `json:"status"`
	ProviderRef    string               `json:"provider_ref,omitempty"`
	NextAction     string               `json:"next_action,omitempty"`
	Attempts       int                  `json:"attempts"`
	MaxAttempts    int                  `json:"max_attempts"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	FailureMessage string               `json:"failure_message,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func toPaymentResponse(i *domainPayment.Intent) *paymentResponse {
	if i == nil {
		return nil
	}
	return &paymentResponse{
		ID:             i.ID,
		OrderID:        i.OrderID,
		Amount:         i.Amount.StringFixed(2),
		Currency:       i.Currency,
		Method:         i.Method,
		Adapter:        i.Adapter,
		Country:        i.Country,
		Status:         i.Status,
		ProviderRef:    i.ProviderRef,
		NextAction:     i.NextAction,
		Attempts:       i.Attempts,
		MaxAttempts:    i.MaxAttempts,
		FailureReason:  i.FailureReason,
		FailureMessage: i.FailureMessage,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// writeIntent answers with the intent; a failed operation still carries the
// intent so the client sees the recorded status.
func (h *Handler) writeIntent(w http.ResponseWriter, r *http.Request, status int, intent *domainPayment.Intent, err error) {
	if err != nil {
		h.writeDomainError(w, r, err, intent)
		return
	}
	writeJSON(w, status, toPaymentResponse(intent))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   errorBody        `json:"error"`
	Payment *paymentResponse `json:"payment,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: msg}})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, intent *domainPayment.Intent) {
	status, kind := classify(err)
	msg := domainPayment.MessageOf(err)
	if status == http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("http_internal_error", observability.F("error", err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{
		Error:   errorBody{Kind: kind, Message: msg},
		Payment: toPaymentResponse(intent),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, appOrder.ErrValidation),
		errors.Is(err, domainOrder.ErrInvalidAmount):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domainOrder.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domainOrder.ErrConflict),
		errors.Is(err, domainOrder.ErrAlreadyPaid):
		return http.StatusConflict, "conflict"
	}

	kind := domainPayment.KindOf(err)
	switch kind {
	case "validation", "unsupported_method":
		return http.StatusBadRequest, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "conflict", "invalid_transition":
		return http.StatusConflict, kind
	case "provider_rejected":
		return http.StatusPaymentRequired, kind
	case "provider_unavailable":
		return http.StatusBadGateway, kind
	case "provider_timeout", "timeout":
		return http.StatusGatewayTimeout, kind
	case "retry_exhausted":
		return http.StatusUnprocessableEntity, kind
	default:
		return http.StatusInternalServerError, "internal"
	}
}
