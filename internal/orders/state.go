package orders

import "github.com/angelmondragon/settlement-ledger/pkg/enums"

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusProcessing,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
		enums.OrderStatusFailed,
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
		enums.OrderStatusFailed,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusRefunded,
	},
}

// CanTransition reports whether the order state machine allows from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(status enums.OrderStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// itemStatusFor is the status open items follow when the order moves.
func itemStatusFor(to enums.OrderStatus) (enums.OrderItemStatus, bool) {
	switch to {
	case enums.OrderStatusShipped:
		return enums.OrderItemStatusShipped, true
	case enums.OrderStatusDelivered:
		return enums.OrderItemStatusDelivered, true
	case enums.OrderStatusCancelled, enums.OrderStatusFailed:
		return enums.OrderItemStatusCancelled, true
	case enums.OrderStatusRefunded:
		return enums.OrderItemStatusRefunded, true
	default:
		return "", false
	}
}

// timestampColumn names the column stamped on arrival at a status.
func timestampColumn(to enums.OrderStatus) string {
	switch to {
	case enums.OrderStatusProcessing:
		return "processing_at"
	case enums.OrderStatusShipped:
		return "shipped_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRefunded:
		return "refunded_at"
	case enums.OrderStatusFailed:
		return "failed_at"
	default:
		return ""
	}
}
