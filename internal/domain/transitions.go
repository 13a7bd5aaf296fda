package domain

// orderTransitions is the closed set of legal order status moves. Anything
// outside the table is rejected before storage is touched.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusActive, OrderStatusCancelled, OrderStatusFraud},
	OrderStatusProcessing: {OrderStatusActive, OrderStatusCompleted, OrderStatusCancelled, OrderStatusFraud},
	OrderStatusActive:     {OrderStatusCompleted, OrderStatusRefunded, OrderStatusFraud},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
	OrderStatusFraud:      {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:   {PaymentStatusPaid, PaymentStatusPartial},
	PaymentStatusPartial:  {PaymentStatusPaid},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusRefunded: {},
}

// CanTransitionOrder reports whether from may move to to in a single step.
// Identity moves are allowed so payment-only updates can reuse the pair check.
func CanTransitionOrder(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether from may move to to in a single step.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range paymentTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransitionPair validates both halves of a compare-and-swap target.
func CanTransitionPair(from, to StatusPair) bool {
	if from == to {
		return false
	}
	return CanTransitionOrder(from.Status, to.Status) && CanTransitionPayment(from.PaymentStatus, to.PaymentStatus)
}

// IsTerminalOrderStatus reports whether no further transitions exist.
func IsTerminalOrderStatus(status OrderStatus) bool {
	return len(orderTransitions[status]) == 0
}

// ValidOrderStatus reports whether the value belongs to the closed enum.
func ValidOrderStatus(status OrderStatus) bool {
	_, ok := orderTransitions[status]
	return ok
}

// ValidPaymentStatus reports whether the value belongs to the closed enum.
func ValidPaymentStatus(status PaymentStatus) bool {
	_, ok := paymentTransitions[status]
	return ok
}

// ValidPaymentMethod reports whether the value belongs to the closed enum.
func ValidPaymentMethod(method PaymentMethod) bool {
	return method.IsGateway() || method.RequiresProof()
}

// ValidProductType reports whether the value belongs to the closed enum.
func ValidProductType(t ProductType) bool {
	switch t {
	case ProductTypeHosting, ProductTypeDomain, ProductTypeSSL, ProductTypeServer:
		return true
	}
	return false
}

// ValidBillingCycle reports whether the value belongs to the closed enum.
func ValidBillingCycle(c BillingCycle) bool {
	switch c {
	case BillingCycleMonthly, BillingCycleAnnually, BillingCycleOneTime:
		return true
	}
	return false
}
