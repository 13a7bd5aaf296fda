package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/services"
)

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// Shared JSON payload shapes --------------------------------------------------

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      cloneStringPointer(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      cloneStringPointer(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Phone:      cloneStringPointer(p.Phone),
	}
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		State:      cloneStringPointer(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneStringPointer(addr.Phone),
	}
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ProductRef   string  `json:"product_ref"`
	ProductType  string  `json:"product_type"`
	Name         string  `json:"name"`
	DomainName   *string `json:"domain_name,omitempty"`
	BillingCycle string  `json:"billing_cycle"`
	Quantity     int     `json:"quantity"`
	UnitPrice    int64   `json:"unit_price"`
	Total        int64   `json:"total"`
	Status       string  `json:"status"`
	ServiceRef   *string `json:"service_ref,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"order_number"`
	UserID         string             `json:"user_id"`
	Status         string             `json:"status"`
	PaymentStatus  string             `json:"payment_status"`
	PaymentMethod  string             `json:"payment_method"`
	GatewayRef     *string            `json:"gateway_ref,omitempty"`
	ProofRef       *string            `json:"proof_ref,omitempty"`
	CouponCode     *string            `json:"coupon_code,omitempty"`
	Totals         orderTotalsPayload `json:"totals"`
	Currency       string             `json:"currency"`
	BillingAddress addressPayload     `json:"billing_address"`
	Items          []orderItemPayload `json:"items"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
	PaidAt         string             `json:"paid_at,omitempty"`
	CancelledAt    string             `json:"cancelled_at,omitempty"`
	CancelReason   *string            `json:"cancel_reason,omitempty"`
}

type invoicePayload struct {
	ID            string             `json:"id"`
	InvoiceNumber string             `json:"invoice_number"`
	OrderID       string             `json:"order_id"`
	Status        string             `json:"status"`
	Totals        orderTotalsPayload `json:"totals"`
	Currency      string             `json:"currency"`
	DueAt         string             `json:"due_at"`
	PaidAt        string             `json:"paid_at,omitempty"`
	CreatedAt     string             `json:"created_at"`
}

func buildOrderTotalsPayload(totals domain.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductRef:   item.ProductRef,
			ProductType:  string(item.ProductType),
			Name:         item.Name,
			DomainName:   cloneStringPointer(item.DomainName),
			BillingCycle: string(item.BillingCycle),
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Status:       string(item.Status),
			ServiceRef:   cloneStringPointer(item.ServiceRef),
		})
	}

	return orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		GatewayRef:     cloneStringPointer(order.GatewayRef),
		ProofRef:       cloneStringPointer(order.ProofRef),
		CouponCode:     cloneStringPointer(order.CouponCode),
		Totals:         buildOrderTotalsPayload(order.Totals),
		Currency:       strings.ToUpper(order.Currency),
		BillingAddress: buildAddressPayload(order.BillingAddress),
		Items:          items,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		PaidAt:         formatTime(pointerTime(order.PaidAt)),
		CancelledAt:    formatTime(pointerTime(order.CancelledAt)),
		CancelReason:   cloneStringPointer(order.CancelReason),
	}
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	return invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		Status:        string(invoice.Status),
		Totals:        buildOrderTotalsPayload(invoice.Totals),
		Currency:      strings.ToUpper(invoice.Currency),
		DueAt:         formatTime(invoice.DueAt),
		PaidAt:        formatTime(pointerTime(invoice.PaidAt)),
		CreatedAt:     formatTime(invoice.CreatedAt),
	}
}

func parseTimeParam(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(value))
}

func parseStatusValues(values []string) []domain.OrderStatus {
	out := make([]domain.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, domain.OrderStatus(part))
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parsePaymentStatusValues(values []string) []domain.PaymentStatus {
	out := make([]domain.PaymentStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, domain.PaymentStatus(part))
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
