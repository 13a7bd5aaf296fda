package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/peakhost/api/internal/platform/auth"
	"github.com/peakhost/api/internal/platform/httpx"
	"github.com/peakhost/api/internal/platform/pagination"
	"github.com/peakhost/api/internal/platform/storage"
	"github.com/peakhost/api/internal/services"
)

const (
	maxAdminDecisionBodySize = 8 * 1024
	proofDownloadExpiry      = 5 * time.Minute
)

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

type adminOrderResponse struct {
	Order          orderPayload `json:"order"`
	ProofURL       string       `json:"proof_url,omitempty"`
	ProofExpiresAt string       `json:"proof_expires_at,omitempty"`
}

// AdminOrderHandlers exposes the operator review queue and the manual
// payment decisions. Every route requires the operator role.
type AdminOrderHandlers struct {
	authn          *auth.Authenticator
	orders         services.OrderService
	reconciliation services.ReconciliationService
	signer         signedURLIssuer
	proofsBucket   string
}

// AdminOption customises optional admin handler behaviour.
type AdminOption func(*AdminOrderHandlers)

// WithAdminProofSigner enables signed download links for payment proofs on the
// order detail view.
func WithAdminProofSigner(signer signedURLIssuer, bucket string) AdminOption {
	return func(h *AdminOrderHandlers) {
		h.signer = signer
		h.proofsBucket = strings.TrimSpace(bucket)
	}
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, reconciliation services.ReconciliationService, opts ...AdminOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		authn:          authn,
		orders:         orders,
		reconciliation: reconciliation,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleOperator))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/approve", h.approveOrder)
	r.Post("/orders/{orderID}/reject", h.rejectOrder)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	listQuery := services.OrderListQuery{
		UserID:        strings.TrimSpace(query.Get("user_id")),
		Status:        parseStatusValues(query["status"]),
		PaymentStatus: parsePaymentStatusValues(query["payment_status"]),
	}

	// The default admin view is the manual review queue: proof-based orders
	// waiting on a decision.
	listQuery.ManualReview = true
	if raw := strings.TrimSpace(query.Get("manual_review")); raw != "" {
		manual, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "manual_review must be a boolean", http.StatusBadRequest))
			return
		}
		listQuery.ManualReview = manual
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

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	proofRef := ""
	if order.ProofRef != nil {
		proofRef = strings.TrimSpace(*order.ProofRef)
	}
	resp := adminOrderResponse{Order: buildOrderPayload(order)}
	if proofRef != "" && h.signer != nil && h.proofsBucket != "" {
		identity, _ := auth.IdentityFromContext(ctx)
		signed, err := h.signer.SignedURL(ctx, h.proofsBucket, proofRef, storage.SignedURLOptions{
			Download: &storage.DownloadOptions{
				ExpiresIn:   proofDownloadExpiry,
				Disposition: "inline",
				OwnerID:     order.UserID,
				Identity:    identity,
			},
		})
		// The order detail stays useful without a proof link, so signing
		// failures are not surfaced to the operator.
		if err == nil {
			resp.ProofURL = signed.URL
			resp.ProofExpiresAt = formatTime(signed.ExpiresAt)
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.reconciliation.ApproveOrder(ctx, services.ApproveOrderCommand{
		OrderID: orderID,
		Actor:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxAdminDecisionBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", status))
		return
	}

	var req rejectOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.reconciliation.RejectOrder(ctx, services.RejectOrderCommand{
		OrderID: orderID,
		Actor:   strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeReconciliationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeReconciliationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReconciliationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reconciliation request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrRejectReasonRequired):
		httpx.WriteError(ctx, w, httpx.NewError("reason_required", "a rejection reason is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMethodMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_mismatch", "order does not settle through manual review", http.StatusConflict))
	case errors.Is(err, services.ErrReconciliationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
	default:
		writeOrderError(ctx, w, err)
	}
}
