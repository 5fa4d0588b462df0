package domain

// DefaultStatusNote returns the history note recorded when an operator
// supplies no note for a transition.
func DefaultStatusNote(status OrderStatus) string {
	switch status {
	case OrderStatusConfirmed:
		return "Payment received"
	case OrderStatusPreparing:
		return "Order is being prepared"
	case OrderStatusInTransit:
		return "Order is on its way"
	case OrderStatusDelivered:
		return "Order delivered"
	case OrderStatusCancelled:
		return "Order cancelled"
	case OrderStatusRefunded:
		return "Refund issued"
	default:
		return "Status updated"
	}
}

// StatusNotificationTitle returns the push notification title for a
// customer-facing status change.
func StatusNotificationTitle(status OrderStatus) string {
	switch status {
	case OrderStatusConfirmed:
		return "Order confirmed"
	case OrderStatusPreparing:
		return "Your plants are being prepared"
	case OrderStatusInTransit:
		return "Your order is on its way"
	case OrderStatusDelivered:
		return "Your order has arrived"
	case OrderStatusCancelled:
		return "Order cancelled"
	case OrderStatusRefunded:
		return "Refund issued"
	default:
		return "Order update"
	}
}
