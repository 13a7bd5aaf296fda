package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/platform/auth"
	"github.com/peakhost/api/internal/platform/httpx"
	"github.com/peakhost/api/internal/platform/pagination"
	"github.com/peakhost/api/internal/services"
)

const (
	defaultOrderPageSize    = 20
	maxOrderPageSize        = 100
	maxOrderCreateBodySize  = 64 * 1024
	maxOrderCancelBodySize  = 4 * 1024
	maxCheckoutLinesPerCall = 50
)

type createOrderItemRequest struct {
	ProductRef   string  `json:"product_ref"`
	ProductType  string  `json:"product_type"`
	Name         string  `json:"name"`
	DomainName   *string `json:"domain_name"`
	BillingCycle string  `json:"billing_cycle"`
	Quantity     int     `json:"quantity"`
	UnitPrice    int64   `json:"unit_price"`
}

type createOrderRequest struct {
	Email          string                   `json:"email"`
	DisplayName    string                   `json:"display_name"`
	Items          []createOrderItemRequest `json:"items"`
	CouponCode     string                   `json:"coupon_code"`
	Currency       string                   `json:"currency"`
	PaymentMethod  string                   `json:"payment_method"`
	ProofRef       string                   `json:"proof_ref"`
	BillingAddress addressPayload           `json:"billing_address"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type paymentIntentPayload struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type createOrderResponse struct {
	Order               orderPayload          `json:"order"`
	Invoice             invoicePayload        `json:"invoice"`
	UserID              string                `json:"user_id"`
	GuestAccountCreated bool                  `json:"guest_account_created,omitempty"`
	Payment             *paymentIntentPayload `json:"payment,omitempty"`
}

// OrderHandlers exposes checkout and order read endpoints. Creation accepts
// both authenticated customers and guests, so the group carries optional auth.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance. The payment
// service is optional; when present, gateway checkouts return a client secret
// alongside the created order.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderCreateBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one item is required", http.StatusBadRequest))
		return
	}
	if len(req.Items) > maxCheckoutLinesPerCall {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many items in a single order", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Email:          strings.TrimSpace(req.Email),
		DisplayName:    strings.TrimSpace(req.DisplayName),
		CouponCode:     strings.TrimSpace(req.CouponCode),
		Currency:       strings.TrimSpace(req.Currency),
		PaymentMethod:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		ProofRef:       strings.TrimSpace(req.ProofRef),
		BillingAddress: req.BillingAddress.toDomain(),
	}

	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = strings.TrimSpace(identity.UID)
		if cmd.Email == "" {
			cmd.Email = strings.TrimSpace(identity.Email)
		}
	}

	cmd.Lines = make([]services.QuoteLine, 0, len(req.Items))
	for _, item := range req.Items {
		cmd.Lines = append(cmd.Lines, services.QuoteLine{
			ProductRef:   strings.TrimSpace(item.ProductRef),
			ProductType:  domain.ProductType(strings.ToLower(strings.TrimSpace(item.ProductType))),
			Name:         strings.TrimSpace(item.Name),
			DomainName:   cloneStringPointer(item.DomainName),
			BillingCycle: domain.BillingCycle(strings.ToLower(strings.TrimSpace(item.BillingCycle))),
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
		})
	}

	creation, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := createOrderResponse{
		Order:               buildOrderPayload(creation.Order),
		Invoice:             buildInvoicePayload(creation.Invoice),
		UserID:              creation.User.ID,
		GuestAccountCreated: cmd.UserID == "" && creation.User.ID != "",
	}

	if h.payments != nil && creation.Order.PaymentMethod.IsGateway() {
		intent, err := h.payments.CreateIntent(ctx, services.CreateIntentCommand{
			OrderID: creation.Order.ID,
			ActorID: creation.User.ID,
		})
		if err == nil {
			response.Payment = &paymentIntentPayload{
				IntentID:     intent.IntentID,
				ClientSecret: intent.ClientSecret,
				Amount:       intent.Amount,
				Currency:     intent.Currency,
			}
		}
		// An intent failure does not fail checkout; the client retries through
		// the payments endpoint.
	}

	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	listQuery := services.OrderListQuery{
		UserID:        strings.TrimSpace(identity.UID),
		Status:        parseStatusValues(query["status"]),
		PaymentStatus: parsePaymentStatusValues(query["payment_status"]),
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.To = &ts
	}

	pager, err := pagination.FromRequest(r, orderPageOptions())
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}
	listQuery.Pagination = services.Pagination{
		PageSize:  pager.PageSize,
		PageToken: pager.PageToken,
	}

	page, err := h.orders.ListOrders(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	query := services.GetOrderQuery{OrderID: orderID, ActorID: strings.TrimSpace(identity.UID)}
	if identity.HasRole(auth.RoleOperator) {
		// Operators read any order.
		query.ActorID = ""
	}

	order, err := h.orders.GetOrder(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func orderPageOptions() pagination.Options {
	return pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	}
}

func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is not a valid cursor", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pagination parameters are invalid", http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrQuoteInvalidInput),
		errors.Is(err, services.ErrAccountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrProofRequired):
		httpx.WriteError(ctx, w, httpx.NewError("proof_required", "manual payment methods require an uploaded proof", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code not recognised", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon is outside its validity window", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exhausted", "coupon usage limit reached", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order subtotal does not meet the coupon minimum", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		// Ownership misses read as not found so order IDs cannot be probed.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "order cannot move to the requested state", http.StatusConflict))
	case errors.Is(err, services.ErrStaleOrderState):
		httpx.WriteError(ctx, w, httpx.NewError("order_state_changed", "order changed since it was read", http.StatusConflict))
	case errors.Is(err, services.ErrOrderTerminal):
		httpx.WriteError(ctx, w, httpx.NewError("order_terminal", "order is in a terminal state", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrPricingUnavailable),
		errors.Is(err, services.ErrProvisioningFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
