package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/peakhost/api/internal/platform/auth"
	"github.com/peakhost/api/internal/platform/httpx"
	"github.com/peakhost/api/internal/platform/storage"
)

const (
	maxProofRequestBody = 4 * 1024
	maxProofObjectSize  = 10 * 1024 * 1024
	proofUploadExpiry   = 15 * time.Minute

	defaultProofRateLimit  = 10
	defaultProofRateWindow = time.Minute
)

var allowedProofContentTypes = []string{
	"image/jpeg",
	"image/png",
	"application/pdf",
}

type signedURLIssuer interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

type proofUploadRequest struct {
	OrderID     string `json:"order_id,omitempty"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

type proofUploadResponse struct {
	ProofRef  string            `json:"proof_ref"`
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	ExpiresAt string            `json:"expires_at,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ProofHandlers issues signed upload URLs for manual payment proofs. Uploads
// may precede the order itself, so guests without an order ID receive a draft
// scoped object path and pass the resulting proof_ref into checkout.
type ProofHandlers struct {
	signer  signedURLIssuer
	bucket  string
	limiter rateLimiter
	newID   func() string
}

// ProofOption customises ProofHandlers construction.
type ProofOption func(*ProofHandlers)

// WithProofRateLimiter overrides the per-caller rate limiter.
func WithProofRateLimiter(limiter rateLimiter) ProofOption {
	return func(h *ProofHandlers) {
		h.limiter = limiter
	}
}

// WithProofIDGenerator overrides upload ID generation, used in tests.
func WithProofIDGenerator(gen func() string) ProofOption {
	return func(h *ProofHandlers) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// NewProofHandlers constructs handlers backed by the given signer and bucket.
func NewProofHandlers(signer signedURLIssuer, bucket string, opts ...ProofOption) *ProofHandlers {
	h := &ProofHandlers{
		signer:  signer,
		bucket:  strings.TrimSpace(bucket),
		limiter: newSimpleRateLimiter(defaultProofRateLimit, defaultProofRateWindow, nil),
		newID: func() string {
			return strings.ToLower(ulid.Make().String())
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the proof endpoints. The enclosing group carries optional
// auth, so Routes must not install middleware of its own.
func (h *ProofHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/proofs", h.issueUploadURL)
}

func (h *ProofHandlers) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.signer == nil || h.bucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("proof_storage_unavailable", "proof storage is unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(rateLimitKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many proof upload requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxProofRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", status))
		return
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var req proofUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "content_type is required", http.StatusBadRequest))
		return
	}
	if !proofContentTypeAllowed(contentType) {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_content_type", "proof must be a jpeg, png, or pdf", http.StatusBadRequest))
		return
	}
	if req.SizeBytes < 0 || req.SizeBytes > maxProofObjectSize {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("size_bytes must be between 0 and %d", maxProofObjectSize), http.StatusBadRequest))
		return
	}

	uploadID := h.newID()
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = "draft-" + uploadID
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "proof"
	}

	object, err := storage.BuildObjectPath(storage.PurposePaymentProof, storage.PathParams{
		OrderID:  orderID,
		UploadID: uploadID,
		FileName: fileName,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file_name or order_id contains invalid characters", http.StatusBadRequest))
		return
	}

	result, err := h.signer.SignedURL(ctx, h.bucket, object, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			Method:              http.MethodPut,
			ContentType:         contentType,
			AllowedContentTypes: allowedProofContentTypes,
			MaxSize:             maxProofObjectSize,
			ExpiresIn:           proofUploadExpiry,
		},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_sign_failed", "unable to issue signed upload url", http.StatusBadGateway))
		return
	}

	payload := proofUploadResponse{
		ProofRef:  object,
		UploadURL: result.URL,
		Method:    result.Method,
		Headers:   result.Headers,
	}
	if !result.ExpiresAt.IsZero() {
		payload.ExpiresAt = result.ExpiresAt.UTC().Format(time.RFC3339)
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func proofContentTypeAllowed(contentType string) bool {
	for _, allowed := range allowedProofContentTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return "uid:" + strings.TrimSpace(identity.UID)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return "ip:" + host
}
