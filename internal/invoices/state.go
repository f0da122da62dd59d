package invoices

import "github.com/angelmondragon/settlement-ledger/pkg/enums"

var allowedTransitions = map[enums.InvoiceStatus][]enums.InvoiceStatus{
	enums.InvoiceStatusDraft: {
		enums.InvoiceStatusSent,
		enums.InvoiceStatusVoid,
	},
	enums.InvoiceStatusSent: {
		enums.InvoiceStatusPaid,
		enums.InvoiceStatusOverdue,
		enums.InvoiceStatusVoid,
	},
	enums.InvoiceStatusOverdue: {
		enums.InvoiceStatusPaid,
		enums.InvoiceStatusVoid,
	},
}

// CanTransition reports whether the invoice lifecycle allows from -> to.
func CanTransition(from, to enums.InvoiceStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sources lists every status that may move to the target.
func sources(to enums.InvoiceStatus) []enums.InvoiceStatus {
	var from []enums.InvoiceStatus
	for status := range allowedTransitions {
		if CanTransition(status, to) {
			from = append(from, status)
		}
	}
	return from
}

func timestampColumn(to enums.InvoiceStatus) string {
	switch to {
	case enums.InvoiceStatusSent:
		return "sent_at"
	case enums.InvoiceStatusPaid:
		return "paid_at"
	case enums.InvoiceStatusVoid:
		return "voided_at"
	default:
		return ""
	}
}
